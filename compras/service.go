/*
Package compras implements the transaction service: the stateful protocol
that commits a transaction's point delta to its account holder exactly
once, keeps it in sync through edits, and reverses it on cancel or delete.

PURPOSE:
  The ledger package knows how to compute a delta and how to move points
  between buckets. This package decides WHICH moves an edit needs, runs
  them atomically with the transaction write, and reports the balances it
  touched.

STATE MACHINE:
  PENDING <-> CONFIRMED    status edits move the committed delta between
                           the pending and confirmed buckets
  PENDING/CONFIRMED -> CANCELLED
                           capped reversal, snapshot zeroed (terminal)
  any -> (deleted)         capped reversal unless cancelled, record removed

EDIT ALGORITHM (Upsert and Patch):
  new record:              apply delta to holder, bucket = status
  same holder, same delta, different status:
                           Move(delta, old bucket -> new bucket)
  same holder, same delta, same status:
                           no balance change
  anything else:           SplitAndApplyRevert(old holder, -old snapshot,
                           priority = old bucket), then Apply(new holder,
                           new delta, new bucket)
  The committed delta snapshot is always replaced by the new delta.

ATOMICITY:
  Every mutation holds the service's writer mutex and runs inside
  Repository.WithTx: both collections are loaded, changed in memory and
  written back with their version stamps. A failure anywhere leaves both
  documents untouched (on transactional stores) and the caller gets the
  error; partial success is never reported.

SEE ALSO:
  - ledger/balance.go: Apply, SplitAndApplyRevert, Move
  - holders.go: account holder management
*/
package compras

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/warp/points-engine/internal/observability"
	"github.com/warp/points-engine/ledger"
)

var tracer = otel.Tracer("compras")

// =============================================================================
// SERVICE
// =============================================================================

// Options configures a Service. Zero values are usable.
type Options struct {
	// Pricing overrides ledger.DefaultPricingParams when non-nil; zero
	// rates are honored.
	Pricing     *ledger.PricingParams
	MaxPageSize int

	// Commissions is told when a transaction is deleted. When nil, the
	// store is used if it implements ledger.CommissionStore.
	Commissions ledger.CommissionStore

	Logger  *zap.Logger
	Metrics *observability.Metrics
	Now     func() time.Time
}

type Service struct {
	repo        *ledger.Repository
	commissions ledger.CommissionStore
	pricing     ledger.PricingParams
	maxPageSize int
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time

	// mu serializes every ledger-mutating operation.
	mu       sync.Mutex
	backfill singleflight.Group
}

func NewService(store ledger.DocumentStore, opts Options) *Service {
	s := &Service{
		repo:        ledger.NewRepository(store),
		commissions: opts.Commissions,
		pricing:     ledger.DefaultPricingParams(),
		maxPageSize: opts.MaxPageSize,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		now:         opts.Now,
	}
	if s.commissions == nil {
		if cs, ok := store.(ledger.CommissionStore); ok {
			s.commissions = cs
		}
	}
	if opts.Pricing != nil {
		s.pricing = *opts.Pricing
	}
	if s.maxPageSize <= 0 {
		s.maxPageSize = ledger.MaxPageSize
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}

	s.repo.SetClampObserver(s.onClamp)
	if !s.repo.Transactional() {
		s.logger.Warn("document store has no transactions; writes rely on version stamps only")
	}
	return s
}

func (s *Service) onClamp(op string, holderID ledger.AccountHolderID, dropped int64) {
	s.logger.Warn("balance clamped",
		zap.String("op", op),
		zap.String("account_holder_id", string(holderID)),
		zap.Int64("dropped_points", dropped),
	)
	if s.metrics != nil {
		s.metrics.ClampObserver()(op, holderID, dropped)
	}
}

// =============================================================================
// RESULTS
// =============================================================================

// Result is returned by every transaction mutation.
type Result struct {
	Transaction ledger.Transaction
	// AccountHolders are the balances this call changed.
	AccountHolders []ledger.AccountHolder
}

// DeleteResult is returned by Delete.
type DeleteResult struct {
	DeletedID      ledger.TransactionID
	AccountHolders []ledger.AccountHolder
}

// ListResult is one page of transactions.
type ListResult struct {
	Total int
	Items []ledger.Transaction
}

// Patch holds the fields a partial update changes. Nil means unchanged.
type Patch struct {
	Cancel bool

	Date            *time.Time
	Notes           *string
	AccountHolderID *ledger.AccountHolderID
	Status          *ledger.Status
	Items           []ledger.LineItem // nil: unchanged
	Commission      *decimal.Decimal
	TargetMargin    *decimal.Decimal
	ExtraCosts      []decimal.Decimal // nil: unchanged
	Delta           *ledger.ProgramPoints
}

// Economic reports whether the patch touches anything that affects points
// or money.
func (p Patch) Economic() bool {
	return p.AccountHolderID != nil || p.Status != nil || p.Items != nil ||
		p.Commission != nil || p.TargetMargin != nil || p.ExtraCosts != nil ||
		p.Delta != nil
}

// =============================================================================
// MUTATION PLUMBING
// =============================================================================

type state struct {
	holders     *ledger.HolderTable
	txs         *ledger.TransactionTable
	saveHolders bool
	saveTxs     bool
}

// mutate runs fn under the writer mutex inside one store transaction and
// writes back whatever fn marked dirty.
func (s *Service) mutate(ctx context.Context, op string, fn func(*state) error) (*state, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st *state
	err := s.repo.WithTx(ctx, func(r *ledger.Repository) error {
		holders, err := r.LoadHolders(ctx)
		if err != nil {
			return err
		}
		txs, err := r.LoadTransactions(ctx)
		if err != nil {
			return err
		}

		st = &state{holders: holders, txs: txs}
		if err := fn(st); err != nil {
			return err
		}

		if st.saveHolders {
			if err := r.SaveHolders(ctx, st.holders); err != nil {
				return err
			}
		}
		if st.saveTxs {
			if err := r.SaveTransactions(ctx, st.txs); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	ctx, span := tracer.Start(ctx, "compras."+name)
	span.SetAttributes(attrs...)
	return ctx, span, time.Now()
}

func (s *Service) finish(span trace.Span, op string, start time.Time, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if !ledger.IsClientError(err) && !errors.Is(err, ledger.ErrConflict) {
			s.logger.Error("ledger operation failed", zap.String("op", op), zap.Error(err))
		}
	}
	span.End()
	if s.metrics != nil {
		s.metrics.ObserveOperation(op, time.Since(start), err)
		if errors.Is(err, ledger.ErrStorage) {
			s.metrics.IncrStoreError(op)
		}
	}
}

func applyMode(st ledger.Status) ledger.ApplyMode {
	if st == ledger.StatusConfirmed {
		return ledger.ApplyConfirmed
	}
	return ledger.ApplyPending
}

// =============================================================================
// UPSERT
// =============================================================================

// Upsert creates tx or replaces the stored transaction with the same id.
// explicitDelta, when non-nil, is committed instead of the computed delta.
func (s *Service) Upsert(ctx context.Context, tx ledger.Transaction, explicitDelta *ledger.ProgramPoints) (res *Result, err error) {
	if tx.ID == "" {
		tx.ID = ledger.TransactionID(uuid.NewString())
	}
	ctx, span, start := s.startSpan(ctx, "Upsert",
		attribute.String("transaction.id", string(tx.ID)),
		attribute.String("account_holder.id", string(tx.AccountHolderID)),
	)
	defer func() { s.finish(span, "upsert", start, err) }()

	if err := tx.Validate(); err != nil {
		return nil, err
	}

	st, err := s.mutate(ctx, "upsert", func(st *state) error {
		old, ok := st.txs.Records[tx.ID]
		if !ok {
			return s.applyEdit(st, nil, tx, explicitDelta)
		}
		if old.Cancelled {
			var notes *string
			if tx.Notes != "" {
				notes = &tx.Notes
			}
			s.updateDisplay(st, old, tx.Date, notes)
			return nil
		}
		return s.applyEdit(st, old, tx, explicitDelta)
	})
	if err != nil {
		return nil, err
	}

	stored := *st.txs.Records[tx.ID]
	s.logger.Info("transaction upserted",
		zap.String("transaction_id", string(stored.ID)),
		zap.String("account_holder_id", string(stored.AccountHolderID)),
		zap.String("state", string(stored.State())),
	)
	return &Result{Transaction: stored, AccountHolders: st.holders.Touched()}, nil
}

// applyEdit moves balances from the old committed state (nil for a new
// record) to next and stores next with its new snapshot.
func (s *Service) applyEdit(st *state, old *ledger.Transaction, next ledger.Transaction, explicitDelta *ledger.ProgramPoints) error {
	delta := ledger.CalculateDelta(next.Items)
	if explicitDelta != nil {
		delta = *explicitDelta
	}

	// Fail before touching anything if the target holder is unknown.
	if _, err := st.holders.Get(next.AccountHolderID); err != nil {
		return err
	}

	// An upsert without a date keeps the stored one; new records default
	// to today.
	if next.Date.IsZero() {
		if old != nil {
			next.Date = old.Date
		} else {
			next.Date = s.now().Truncate(24 * time.Hour)
		}
	}

	switch {
	case old == nil:
		if err := st.holders.Apply(next.AccountHolderID, delta, applyMode(next.Status)); err != nil {
			return err
		}
		next.CreatedAt = s.now()

	case old.AccountHolderID == next.AccountHolderID && old.CommittedDelta.Equal(delta):
		if old.Status != next.Status {
			if err := st.holders.Move(next.AccountHolderID, delta, old.Status.Bucket(), next.Status.Bucket()); err != nil {
				return err
			}
		}
		next.CreatedAt = old.CreatedAt

	default:
		if err := st.holders.SplitAndApplyRevert(old.AccountHolderID, old.CommittedDelta.Neg(), old.Status.Bucket()); err != nil {
			return err
		}
		if err := st.holders.Apply(next.AccountHolderID, delta, applyMode(next.Status)); err != nil {
			return err
		}
		next.CreatedAt = old.CreatedAt
	}

	next.CommittedDelta = delta
	next.Cancelled = false
	next.CancelledAt = nil
	next.SchemaVersion = ledger.CurrentSchemaVersion
	next.Totals = ledger.TotalsFor(next, s.pricing)
	next.UpdatedAt = s.now()

	st.txs.Put(next)
	st.saveHolders = len(st.holders.Touched()) > 0
	st.saveTxs = true
	return nil
}

// updateDisplay changes the fields a cancelled transaction still allows.
// A zero date or nil notes leaves the stored value.
func (s *Service) updateDisplay(st *state, tx *ledger.Transaction, date time.Time, notes *string) {
	if !date.IsZero() {
		tx.Date = date
	}
	if notes != nil {
		tx.Notes = *notes
	}
	tx.UpdatedAt = s.now()
	st.saveTxs = true
}

// =============================================================================
// PATCH
// =============================================================================

// Patch merges p into the stored transaction and runs the edit path.
// {Cancel: true} cancels instead.
func (s *Service) Patch(ctx context.Context, id ledger.TransactionID, p Patch) (res *Result, err error) {
	if p.Cancel {
		return s.Cancel(ctx, id)
	}

	ctx, span, start := s.startSpan(ctx, "Patch", attribute.String("transaction.id", string(id)))
	defer func() { s.finish(span, "patch", start, err) }()

	st, err := s.mutate(ctx, "patch", func(st *state) error {
		old, err := st.txs.Get(id)
		if err != nil {
			return err
		}

		if old.Cancelled {
			if p.Economic() {
				return ledger.ErrTransactionCancelled
			}
			var date time.Time
			if p.Date != nil {
				date = *p.Date
			}
			s.updateDisplay(st, old, date, p.Notes)
			return nil
		}

		next := merge(*old, p)
		if err := next.Validate(); err != nil {
			return err
		}
		return s.applyEdit(st, old, next, p.Delta)
	})
	if err != nil {
		return nil, err
	}

	stored := *st.txs.Records[id]
	s.logger.Info("transaction patched",
		zap.String("transaction_id", string(id)),
		zap.String("state", string(stored.State())),
	)
	return &Result{Transaction: stored, AccountHolders: st.holders.Touched()}, nil
}

// merge applies p to a copy of tx. A status change without new items
// carries the item statuses along.
func merge(tx ledger.Transaction, p Patch) ledger.Transaction {
	next := tx
	next.Items = append([]ledger.LineItem(nil), tx.Items...)

	if p.Date != nil {
		next.Date = *p.Date
	}
	if p.Notes != nil {
		next.Notes = *p.Notes
	}
	if p.AccountHolderID != nil {
		next.AccountHolderID = *p.AccountHolderID
	}
	if p.Items != nil {
		next.Items = append([]ledger.LineItem(nil), p.Items...)
	}
	if p.Status != nil {
		next.Status = *p.Status
		if p.Items == nil {
			for i := range next.Items {
				next.Items[i].Status = *p.Status
			}
		}
	}
	if p.Commission != nil {
		next.Commission = *p.Commission
	}
	if p.TargetMargin != nil {
		next.TargetMargin = *p.TargetMargin
	}
	if p.ExtraCosts != nil {
		next.ExtraCosts = p.ExtraCosts
	}
	return next
}

// =============================================================================
// CANCEL
// =============================================================================

// Cancel reverses the committed delta and marks the transaction cancelled.
// Cancelling twice is a no-op.
func (s *Service) Cancel(ctx context.Context, id ledger.TransactionID) (res *Result, err error) {
	ctx, span, start := s.startSpan(ctx, "Cancel", attribute.String("transaction.id", string(id)))
	defer func() { s.finish(span, "cancel", start, err) }()

	st, err := s.mutate(ctx, "cancel", func(st *state) error {
		tx, err := st.txs.Get(id)
		if err != nil {
			return err
		}
		if tx.Cancelled {
			return nil
		}

		if err := st.holders.SplitAndApplyRevert(tx.AccountHolderID, tx.CommittedDelta.Neg(), tx.Status.Bucket()); err != nil {
			return err
		}

		now := s.now()
		tx.Cancelled = true
		tx.CancelledAt = &now
		tx.CommittedDelta = ledger.ProgramPoints{}
		tx.UpdatedAt = now

		st.saveHolders = true
		st.saveTxs = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("transaction cancelled", zap.String("transaction_id", string(id)))
	return &Result{Transaction: *st.txs.Records[id], AccountHolders: st.holders.Touched()}, nil
}

// =============================================================================
// DELETE
// =============================================================================

// Delete reverses the transaction (unless cancelled) and removes it. The
// commission record is removed best-effort once the ledger write commits.
func (s *Service) Delete(ctx context.Context, id ledger.TransactionID) (res *DeleteResult, err error) {
	ctx, span, start := s.startSpan(ctx, "Delete", attribute.String("transaction.id", string(id)))
	defer func() { s.finish(span, "delete", start, err) }()

	var holderID ledger.AccountHolderID
	st, err := s.mutate(ctx, "delete", func(st *state) error {
		tx, err := st.txs.Get(id)
		if err != nil {
			return err
		}
		holderID = tx.AccountHolderID

		if !tx.Cancelled {
			if err := st.holders.SplitAndApplyRevert(tx.AccountHolderID, tx.CommittedDelta.Neg(), tx.Status.Bucket()); err != nil {
				return err
			}
			st.saveHolders = true
		}

		st.txs.Delete(id)
		st.saveTxs = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.commissions != nil {
		if cerr := s.commissions.DeleteCommission(ctx, holderID, id); cerr != nil {
			s.logger.Warn("commission cleanup failed",
				zap.String("transaction_id", string(id)),
				zap.String("account_holder_id", string(holderID)),
				zap.Error(cerr),
			)
		}
	}

	s.logger.Info("transaction deleted", zap.String("transaction_id", string(id)))
	return &DeleteResult{DeletedID: id, AccountHolders: st.holders.Touched()}, nil
}

// =============================================================================
// READS
// =============================================================================

// needsBackfill is true for records whose cached totals predate their items.
func (s *Service) needsBackfill(tx ledger.Transaction) (ledger.Totals, bool) {
	if tx.Totals.TotalPoints != 0 {
		return tx.Totals, false
	}
	totals := ledger.TotalsFor(tx, s.pricing)
	return totals, totals.TotalPoints != 0
}

// Get returns one transaction, recomputing and persisting stale totals.
func (s *Service) Get(ctx context.Context, id ledger.TransactionID) (tx ledger.Transaction, err error) {
	ctx, span, start := s.startSpan(ctx, "Get", attribute.String("transaction.id", string(id)))
	defer func() { s.finish(span, "get", start, err) }()

	txs, err := s.repo.LoadTransactions(ctx)
	if err != nil {
		return ledger.Transaction{}, err
	}
	found, err := txs.Get(id)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if _, stale := s.needsBackfill(*found); !stale {
		return *found, nil
	}

	v, err, _ := s.backfill.Do(string(id), func() (any, error) {
		return s.writeBackTotals(ctx, id)
	})
	if err != nil {
		return ledger.Transaction{}, err
	}
	return v.(ledger.Transaction), nil
}

func (s *Service) writeBackTotals(ctx context.Context, id ledger.TransactionID) (ledger.Transaction, error) {
	var out ledger.Transaction
	_, err := s.mutate(ctx, "backfill", func(st *state) error {
		tx, err := st.txs.Get(id)
		if err != nil {
			return err
		}
		if totals, stale := s.needsBackfill(*tx); stale {
			tx.Totals = totals
			st.saveTxs = true
		}
		out = *tx
		return nil
	})
	if err != nil {
		return ledger.Transaction{}, err
	}
	s.logger.Debug("totals backfilled", zap.String("transaction_id", string(id)))
	return out, nil
}

// List returns one page of matching transactions. Stale totals are filled
// in the response only.
func (s *Service) List(ctx context.Context, f ledger.Filter, page ledger.Page) (res *ListResult, err error) {
	ctx, span, start := s.startSpan(ctx, "List")
	defer func() { s.finish(span, "list", start, err) }()

	var (
		holders *ledger.HolderTable
		txs     *ledger.TransactionTable
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		holders, err = s.repo.LoadHolders(gCtx)
		return err
	})
	g.Go(func() error {
		var err error
		txs, err = s.repo.LoadTransactions(gCtx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	names := make(map[ledger.AccountHolderID]string, len(holders.Holders))
	for id, h := range holders.Holders {
		names[id] = h.Name
	}

	all := txs.All()
	for i := range all {
		if totals, stale := s.needsBackfill(all[i]); stale {
			all[i].Totals = totals
		}
	}

	total, items := ledger.Search(all, names, f, page.Normalize(s.maxPageSize))
	span.SetAttributes(attribute.Int("result.total", total))
	return &ListResult{Total: total, Items: items}, nil
}

// =============================================================================
// PREVIEW
// =============================================================================

// Preview is the what-if view of a transaction before it is saved.
type Preview struct {
	Totals          ledger.Totals
	Delta           ledger.ProgramPoints
	SuggestedMargin decimal.Decimal
	Projection      *ledger.Projection
}

// Preview computes totals and delta without committing anything. Without
// a target margin the suggested margin is used. With a holder id the
// projected all-confirmed balance is included.
func (s *Service) Preview(ctx context.Context, tx ledger.Transaction) (res *Preview, err error) {
	ctx, span, start := s.startSpan(ctx, "Preview")
	defer func() { s.finish(span, "preview", start, err) }()

	base := ledger.CalculateTotals(tx.Items, tx.Commission, tx.TargetMargin, tx.ExtraCosts, s.pricing)
	suggested := ledger.SuggestedMargin(base.CostPerThousand, s.pricing.Markup)
	if tx.TargetMargin.IsZero() && base.TotalPoints > 0 {
		base = ledger.CalculateTotals(tx.Items, tx.Commission, suggested, tx.ExtraCosts, s.pricing)
	}

	out := &Preview{
		Totals:          base,
		Delta:           ledger.CalculateDelta(tx.Items),
		SuggestedMargin: suggested,
	}

	if tx.AccountHolderID != "" {
		holders, err := s.repo.LoadHolders(ctx)
		if err != nil {
			return nil, err
		}
		h, err := holders.Get(tx.AccountHolderID)
		if err != nil {
			return nil, err
		}
		p := ledger.Project(*h, tx.Items)
		out.Projection = &p
	}
	return out, nil
}

// =============================================================================
// MIGRATION
// =============================================================================

// MigrateLegacy persists every record that was converted from the legacy
// flat shape on load, with fresh totals. It returns how many were written.
func (s *Service) MigrateLegacy(ctx context.Context) (n int, err error) {
	ctx, span, start := s.startSpan(ctx, "MigrateLegacy")
	defer func() { s.finish(span, "migrate", start, err) }()

	_, err = s.mutate(ctx, "migrate", func(st *state) error {
		n = len(st.txs.Migrated)
		if n == 0 {
			return nil
		}
		for _, id := range st.txs.Migrated {
			tx := st.txs.Records[id]
			tx.Totals = ledger.TotalsFor(*tx, s.pricing)
			tx.UpdatedAt = s.now()
		}
		st.saveTxs = true
		return nil
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("legacy transactions migrated", zap.Int("count", n))
	}
	return n, nil
}

// BackfillTotals writes fresh totals for every record whose cache is stale.
// Get does the same lazily for one record.
func (s *Service) BackfillTotals(ctx context.Context) (n int, err error) {
	ctx, span, start := s.startSpan(ctx, "BackfillTotals")
	defer func() { s.finish(span, "backfill_all", start, err) }()

	_, err = s.mutate(ctx, "backfill_all", func(st *state) error {
		for _, tx := range st.txs.Records {
			if totals, stale := s.needsBackfill(*tx); stale {
				tx.Totals = totals
				n++
			}
		}
		st.saveTxs = n > 0
		return nil
	})
	if err != nil {
		return 0, err
	}
	span.SetAttributes(attribute.Int("backfilled", n))
	return n, nil
}
