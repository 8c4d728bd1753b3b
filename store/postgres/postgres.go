/*
Package postgres provides a PostgreSQL-backed DocumentStore.

PURPOSE:
  Same contract as store/sqlite on a server database, for deployments where
  several service instances share one ledger. Documents are rows of the
  documents table; versions are compared-and-set in SQL.

TRANSACTIONS:
  WithTx opens a REPEATABLE READ transaction. Reads inside it lock the
  document row with SELECT ... FOR UPDATE, so two instances editing the
  ledger serialize on the row instead of failing late on the version check.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - store/sqlite/sqlite.go: embedded implementation
*/
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/warp/points-engine/ledger"
)

const uniqueViolation = "23505"

type Store struct {
	pool *pgxpool.Pool
}

// New connects, pings and migrates.
func New(ctx context.Context, connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS documents (
			key        TEXT PRIMARY KEY,
			body       JSONB NOT NULL,
			version    BIGINT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS commissions (
			holder_id      TEXT NOT NULL,
			transaction_id TEXT NOT NULL,
			amount         NUMERIC NOT NULL,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (holder_id, transaction_id)
		);
	`)
	return err
}

// =============================================================================
// DOCUMENT STORE
// =============================================================================

type dbtx interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (s *Store) Get(ctx context.Context, key string) (ledger.Document, error) {
	return getDocument(ctx, s.pool, key, false)
}

func (s *Store) Put(ctx context.Context, key string, body []byte, expectedVersion int64) (int64, error) {
	return putDocument(ctx, s.pool, key, body, expectedVersion)
}

func getDocument(ctx context.Context, db dbtx, key string, lock bool) (ledger.Document, error) {
	query := "SELECT body::text, version FROM documents WHERE key = $1"
	if lock {
		query += " FOR UPDATE"
	}

	doc := ledger.Document{Key: key}
	var body string
	err := db.QueryRow(ctx, query, key).Scan(&body, &doc.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return doc, nil
	}
	if err != nil {
		return doc, fmt.Errorf("document query failed: %w", err)
	}
	doc.Body = []byte(body)
	return doc, nil
}

func putDocument(ctx context.Context, db dbtx, key string, body []byte, expectedVersion int64) (int64, error) {
	var (
		tag pgconn.CommandTag
		err error
	)
	if expectedVersion == 0 {
		tag, err = db.Exec(ctx,
			"INSERT INTO documents (key, body, version) VALUES ($1, $2::jsonb, 1)",
			key, string(body),
		)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return 0, ledger.ErrConcurrentModification
		}
	} else {
		tag, err = db.Exec(ctx,
			"UPDATE documents SET body = $2::jsonb, version = version + 1, updated_at = now() WHERE key = $1 AND version = $3",
			key, string(body), expectedVersion,
		)
	}
	if err != nil {
		return 0, fmt.Errorf("document write failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, ledger.ErrConcurrentModification
	}
	return expectedVersion + 1, nil
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

func (s *Store) WithTx(ctx context.Context, fn func(ledger.DocumentStore) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&txStore{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		var pgErr *pgconn.PgError
		// 40001: serialization failure under REPEATABLE READ.
		if errors.As(err, &pgErr) && pgErr.Code == "40001" {
			return ledger.ErrConcurrentModification
		}
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

type txStore struct {
	tx pgx.Tx
}

func (ts *txStore) Get(ctx context.Context, key string) (ledger.Document, error) {
	return getDocument(ctx, ts.tx, key, true)
}

func (ts *txStore) Put(ctx context.Context, key string, body []byte, expectedVersion int64) (int64, error) {
	return putDocument(ctx, ts.tx, key, body, expectedVersion)
}

// =============================================================================
// COMMISSIONS
// =============================================================================

func (s *Store) SaveCommission(ctx context.Context, holderID ledger.AccountHolderID, txID ledger.TransactionID, amount decimal.Decimal) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO commissions (holder_id, transaction_id, amount)
		VALUES ($1, $2, $3::numeric)
		ON CONFLICT (holder_id, transaction_id) DO UPDATE SET amount = EXCLUDED.amount
	`, string(holderID), string(txID), amount.String())
	if err != nil {
		return fmt.Errorf("commission insert failed: %w", err)
	}
	return nil
}

func (s *Store) DeleteCommission(ctx context.Context, holderID ledger.AccountHolderID, txID ledger.TransactionID) error {
	_, err := s.pool.Exec(ctx,
		"DELETE FROM commissions WHERE holder_id = $1 AND transaction_id = $2",
		string(holderID), string(txID),
	)
	if err != nil {
		return fmt.Errorf("commission delete failed: %w", err)
	}
	return nil
}

// Reset clears all data (for tests).
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "TRUNCATE documents, commissions")
	return err
}
