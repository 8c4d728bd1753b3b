package compras

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/warp/points-engine/ledger"
)

// =============================================================================
// ACCOUNT HOLDERS
// =============================================================================

// ListHolders returns every holder sorted by id.
func (s *Service) ListHolders(ctx context.Context) ([]ledger.AccountHolder, error) {
	holders, err := s.repo.LoadHolders(ctx)
	if err != nil {
		return nil, err
	}
	return holders.List(), nil
}

// GetHolder returns one holder or a NotFoundError.
func (s *Service) GetHolder(ctx context.Context, id ledger.AccountHolderID) (ledger.AccountHolder, error) {
	holders, err := s.repo.LoadHolders(ctx)
	if err != nil {
		return ledger.AccountHolder{}, err
	}
	h, err := holders.Get(id)
	if err != nil {
		return ledger.AccountHolder{}, err
	}
	return *h, nil
}

// SaveHolder creates a holder with empty balances or renames an existing
// one. Balances only change through transactions and Adjust.
func (s *Service) SaveHolder(ctx context.Context, id ledger.AccountHolderID, name string) (res ledger.AccountHolder, err error) {
	ctx, span, start := s.startSpan(ctx, "SaveHolder", attribute.String("account_holder.id", string(id)))
	defer func() { s.finish(span, "save_holder", start, err) }()

	id = ledger.AccountHolderID(strings.TrimSpace(string(id)))
	if id == "" {
		return ledger.AccountHolder{}, &ledger.ValidationError{Field: "id", Message: "is required"}
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return ledger.AccountHolder{}, &ledger.ValidationError{Field: "name", Message: "is required"}
	}

	st, err := s.mutate(ctx, "save_holder", func(st *state) error {
		h := ledger.AccountHolder{ID: id, Name: name}
		if existing, ok := st.holders.Holders[id]; ok {
			h = *existing
			h.Name = name
		}
		st.holders.Put(h)
		st.saveHolders = true
		return nil
	})
	if err != nil {
		return ledger.AccountHolder{}, err
	}

	s.logger.Info("account holder saved", zap.String("account_holder_id", string(id)))
	return *st.holders.Holders[id], nil
}

// ReplaceHolders makes the holder list equal to in. Holders that stay keep
// their balances; new holders start empty. Dropping a holder that a
// transaction still references is a conflict.
func (s *Service) ReplaceHolders(ctx context.Context, in []ledger.AccountHolder) (res []ledger.AccountHolder, err error) {
	ctx, span, start := s.startSpan(ctx, "ReplaceHolders", attribute.Int("account_holders.count", len(in)))
	defer func() { s.finish(span, "replace_holders", start, err) }()

	wanted := make(map[ledger.AccountHolderID]string, len(in))
	for i, h := range in {
		id := ledger.AccountHolderID(strings.TrimSpace(string(h.ID)))
		if id == "" {
			return nil, &ledger.ValidationError{Field: fmt.Sprintf("holders[%d].id", i), Message: "is required"}
		}
		if _, dup := wanted[id]; dup {
			return nil, &ledger.ValidationError{Field: fmt.Sprintf("holders[%d].id", i), Message: fmt.Sprintf("duplicate id %q", id)}
		}
		name := strings.TrimSpace(h.Name)
		if name == "" {
			name = string(id)
		}
		wanted[id] = name
	}

	st, err := s.mutate(ctx, "replace_holders", func(st *state) error {
		for _, ref := range st.txs.ReferencedHolders() {
			if _, ok := wanted[ref]; !ok {
				return &ledger.ConflictError{Resource: "account_holder", ID: string(ref), Reason: "referenced by transactions"}
			}
		}

		next := ledger.NewHolderTable()
		next.Version = st.holders.Version
		next.OnClamp = st.holders.OnClamp
		for id, name := range wanted {
			h := ledger.AccountHolder{ID: id, Name: name}
			if existing, ok := st.holders.Holders[id]; ok {
				h = *existing
				h.Name = name
			}
			next.Put(h)
		}
		st.holders = next
		st.saveHolders = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("account holders replaced", zap.Int("count", len(wanted)))
	return st.holders.List(), nil
}

// DeleteHolder removes a holder no transaction references.
func (s *Service) DeleteHolder(ctx context.Context, id ledger.AccountHolderID) (err error) {
	ctx, span, start := s.startSpan(ctx, "DeleteHolder", attribute.String("account_holder.id", string(id)))
	defer func() { s.finish(span, "delete_holder", start, err) }()

	_, err = s.mutate(ctx, "delete_holder", func(st *state) error {
		if _, err := st.holders.Get(id); err != nil {
			return err
		}
		for _, ref := range st.txs.ReferencedHolders() {
			if ref == id {
				return &ledger.ConflictError{Resource: "account_holder", ID: string(id), Reason: "referenced by transactions"}
			}
		}
		delete(st.holders.Holders, id)
		st.saveHolders = true
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("account holder deleted", zap.String("account_holder_id", string(id)))
	return nil
}

// Adjust applies a manual delta to a holder's balances. It is the only
// entry point for corrections that do not come from a transaction.
func (s *Service) Adjust(ctx context.Context, id ledger.AccountHolderID, delta ledger.ProgramPoints, mode ledger.ApplyMode) (res ledger.AccountHolder, err error) {
	ctx, span, start := s.startSpan(ctx, "Adjust",
		attribute.String("account_holder.id", string(id)),
		attribute.String("apply.mode", string(mode)),
	)
	defer func() { s.finish(span, "adjust", start, err) }()

	st, err := s.mutate(ctx, "adjust", func(st *state) error {
		if err := st.holders.Apply(id, delta, mode); err != nil {
			return err
		}
		st.saveHolders = true
		return nil
	})
	if err != nil {
		return ledger.AccountHolder{}, err
	}

	s.logger.Info("account holder adjusted",
		zap.String("account_holder_id", string(id)),
		zap.String("mode", string(mode)),
	)
	return *st.holders.Holders[id], nil
}
