/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements ledger.DocumentStore, ledger.TxDocumentStore and
  ledger.CommissionStore on SQLite. The account_holders and transactions
  collections are each one row of the documents table.

INTERFACES IMPLEMENTED:
  ledger.DocumentStore:   Versioned JSON documents
  ledger.TxDocumentStore: Atomic multi-document writes
  ledger.CommissionStore: Commission records owed to account holders

VERSION STAMPS:
  Every document row carries an integer version. Put is a compare-and-set:
  - expected 0:  INSERT, fails if the row already exists
  - expected n:  UPDATE ... WHERE version = n
  A write that touches no row is ledger.ErrConcurrentModification.

KEY TABLES:
  documents:   key -> body (JSON), version
  commissions: (holder_id, transaction_id) -> amount

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single open connection, so
  in-memory databases are shared by every caller.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/points.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  repo := ledger.NewRepository(store)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
  - store/postgres: the same contract on PostgreSQL
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/points-engine/ledger"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection (used by /healthz).
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Collections, one JSON document each
	CREATE TABLE IF NOT EXISTS documents (
		key TEXT PRIMARY KEY,
		body TEXT NOT NULL,
		version INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Commission owed to an account holder for a transaction
	CREATE TABLE IF NOT EXISTS commissions (
		holder_id TEXT NOT NULL,
		transaction_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (holder_id, transaction_id)
	);

	CREATE INDEX IF NOT EXISTS idx_commissions_transaction
		ON commissions(transaction_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// DOCUMENT STORE (ledger.DocumentStore interface)
// =============================================================================

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Get returns the document stored under key.
func (s *Store) Get(ctx context.Context, key string) (ledger.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return getDocument(ctx, s.db, key)
}

// Put writes body if the stored version equals expectedVersion.
func (s *Store) Put(ctx context.Context, key string, body []byte, expectedVersion int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return putDocument(ctx, s.db, key, body, expectedVersion)
}

func getDocument(ctx context.Context, db querier, key string) (ledger.Document, error) {
	doc := ledger.Document{Key: key}
	var body string
	err := db.QueryRowContext(ctx,
		"SELECT body, version FROM documents WHERE key = ?", key,
	).Scan(&body, &doc.Version)

	if errors.Is(err, sql.ErrNoRows) {
		return doc, nil
	}
	if err != nil {
		return doc, fmt.Errorf("failed to get document %s: %w", key, err)
	}
	doc.Body = []byte(body)
	return doc, nil
}

func putDocument(ctx context.Context, db querier, key string, body []byte, expectedVersion int64) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	var (
		res sql.Result
		err error
	)
	if expectedVersion == 0 {
		res, err = db.ExecContext(ctx, `
			INSERT INTO documents (key, body, version, updated_at)
			VALUES (?, ?, 1, ?)
			ON CONFLICT(key) DO NOTHING
		`, key, string(body), now)
	} else {
		res, err = db.ExecContext(ctx, `
			UPDATE documents SET body = ?, version = version + 1, updated_at = ?
			WHERE key = ? AND version = ?
		`, string(body), now, key, expectedVersion)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to put document %s: %w", key, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to put document %s: %w", key, err)
	}
	if n == 0 {
		return 0, ledger.ErrConcurrentModification
	}
	return expectedVersion + 1, nil
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxDocumentStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.DocumentStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) Get(ctx context.Context, key string) (ledger.Document, error) {
	return getDocument(ctx, ts.tx, key)
}

func (ts *txStore) Put(ctx context.Context, key string, body []byte, expectedVersion int64) (int64, error) {
	return putDocument(ctx, ts.tx, key, body, expectedVersion)
}

// =============================================================================
// COMMISSIONS (ledger.CommissionStore interface)
// =============================================================================

// Commission is the cash owed to a holder for one transaction.
type Commission struct {
	HolderID      ledger.AccountHolderID
	TransactionID ledger.TransactionID
	Amount        decimal.Decimal
	CreatedAt     time.Time
}

// SaveCommission creates or replaces a commission record.
func (s *Store) SaveCommission(ctx context.Context, holderID ledger.AccountHolderID, txID ledger.TransactionID, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO commissions (holder_id, transaction_id, amount, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(holder_id, transaction_id) DO UPDATE SET
			amount = excluded.amount
	`, holderID, txID, amount.String(), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save commission: %w", err)
	}
	return nil
}

// DeleteCommission removes the commission for a transaction. Missing rows
// are not an error.
func (s *Store) DeleteCommission(ctx context.Context, holderID ledger.AccountHolderID, txID ledger.TransactionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"DELETE FROM commissions WHERE holder_id = ? AND transaction_id = ?",
		holderID, txID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete commission: %w", err)
	}
	return nil
}

// ListCommissions returns a holder's commissions, oldest first.
func (s *Store) ListCommissions(ctx context.Context, holderID ledger.AccountHolderID) ([]Commission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT holder_id, transaction_id, amount, created_at
		FROM commissions
		WHERE holder_id = ?
		ORDER BY created_at ASC, transaction_id ASC
	`, holderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query commissions: %w", err)
	}
	defer rows.Close()

	var out []Commission
	for rows.Next() {
		var (
			c         Commission
			amount    string
			createdAt string
		)
		if err := rows.Scan(&c.HolderID, &c.TransactionID, &amount, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan commission: %w", err)
		}
		if c.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("commission %s/%s has invalid amount %q: %w", c.HolderID, c.TransactionID, amount, err)
		}
		if c.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("commission %s/%s has invalid created_at %q: %w", c.HolderID, c.TransactionID, createdAt, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"documents", "commissions"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}
