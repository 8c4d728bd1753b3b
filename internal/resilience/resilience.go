// Package resilience guards the document store: every call is bounded by
// a timeout and runs through a circuit breaker that fails fast while the
// backend keeps failing.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/warp/points-engine/ledger"
)

// Config holds resilience parameters.
type Config struct {
	Name        string
	CallTimeout time.Duration
	MaxFailures uint32        // consecutive failures before opening
	OpenTimeout time.Duration // open -> half-open

	// OnStateChange is told when the breaker opens or closes; may be nil.
	OnStateChange func(name string, open bool)
}

// NewCircuitBreaker creates a breaker that opens after MaxFailures
// consecutive failures. Domain errors (conflicts, not-found, validation)
// count as successes: the store answered.
func NewCircuitBreaker(cfg Config) *gobreaker.CircuitBreaker {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ledger.ErrConflict) ||
				errors.Is(err, ledger.ErrNotFound) ||
				errors.Is(err, ledger.ErrValidation)
		},
		OnStateChange: func(name string, _, to gobreaker.State) {
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(name, to == gobreaker.StateOpen)
			}
		},
	})
}

// =============================================================================
// GUARDED STORE
// =============================================================================

// Store wraps a DocumentStore with a timeout and a breaker.
type Store struct {
	inner   ledger.DocumentStore
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
}

// TxStore is a guarded TxDocumentStore.
type TxStore struct {
	*Store
	tx ledger.TxDocumentStore
}

// Guard wraps inner. The result implements ledger.TxDocumentStore exactly
// when inner does.
func Guard(inner ledger.DocumentStore, cfg Config) ledger.DocumentStore {
	s := &Store{inner: inner, cb: NewCircuitBreaker(cfg), timeout: cfg.CallTimeout}
	if tx, ok := inner.(ledger.TxDocumentStore); ok {
		return &TxStore{Store: s, tx: tx}
	}
	return s
}

func (s *Store) Get(ctx context.Context, key string) (ledger.Document, error) {
	res, err := s.execute(ctx, "get "+key, func(ctx context.Context) (any, error) {
		return s.inner.Get(ctx, key)
	})
	if err != nil {
		return ledger.Document{Key: key}, err
	}
	return res.(ledger.Document), nil
}

func (s *Store) Put(ctx context.Context, key string, body []byte, expectedVersion int64) (int64, error) {
	res, err := s.execute(ctx, "put "+key, func(ctx context.Context) (any, error) {
		return s.inner.Put(ctx, key, body, expectedVersion)
	})
	if err != nil {
		return 0, err
	}
	return res.(int64), nil
}

// State reports the breaker state ("closed", "open", "half-open").
func (s *Store) State() string {
	return s.cb.State().String()
}

// WithTx runs the whole transaction as one guarded call. Calls made on the
// view inside fn are not counted by the breaker again, but each one runs
// under the transaction's deadline whatever context it is given.
func (t *TxStore) WithTx(ctx context.Context, fn func(ledger.DocumentStore) error) error {
	_, err := t.execute(ctx, "transaction", func(ctx context.Context) (any, error) {
		return nil, t.tx.WithTx(ctx, func(view ledger.DocumentStore) error {
			return fn(&boundedView{inner: view, txCtx: ctx})
		})
	})
	return err
}

// boundedView ties every call on a transaction view to the transaction's
// context, so a hung read or write ends with the guarded call.
type boundedView struct {
	inner ledger.DocumentStore
	txCtx context.Context
}

func (v *boundedView) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(v.txCtx, cancel)

	deadline, ok := v.txCtx.Deadline()
	if !ok {
		return ctx, func() { stop(); cancel() }
	}
	ctx, cancelDeadline := context.WithDeadline(ctx, deadline)
	return ctx, func() {
		stop()
		cancelDeadline()
		cancel()
	}
}

func (v *boundedView) Get(ctx context.Context, key string) (ledger.Document, error) {
	ctx, cancel := v.bound(ctx)
	defer cancel()
	return v.inner.Get(ctx, key)
}

func (v *boundedView) Put(ctx context.Context, key string, body []byte, expectedVersion int64) (int64, error) {
	ctx, cancel := v.bound(ctx)
	defer cancel()
	return v.inner.Put(ctx, key, body, expectedVersion)
}

func (s *Store) execute(ctx context.Context, op string, fn func(context.Context) (any, error)) (any, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	res, err := s.cb.Execute(func() (any, error) {
		return fn(ctx)
	})
	if err == nil {
		return res, nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &ledger.StorageError{Op: op, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, &ledger.StorageError{Op: op, Err: err}
	}
	return nil, err
}
