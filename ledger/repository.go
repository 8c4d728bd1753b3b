/*
repository.go - Collections over a DocumentStore

PURPOSE:
  The ledger keeps two collections, each stored as a single JSON document:

    account_holders -> {"holders": {id: AccountHolder}}
    transactions    -> {"transactions": {id: Transaction}}

  The Repository loads them into HolderTable / TransactionTable, saves them
  back with the version they were loaded at, and classifies store failures.

ERRORS:
  Conflicts (stale version) pass through unchanged so callers can match
  ErrConcurrentModification. Everything else from the store becomes a
  StorageError.

TRANSACTIONS:
  WithTx runs fn against a repository bound to the store's transaction when
  the store implements TxDocumentStore; otherwise fn runs directly and the
  version stamps alone protect the writes.

SEE ALSO:
  - store.go: DocumentStore, TxDocumentStore
  - migrate.go: legacy records are converted while decoding
*/
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

const (
	KeyAccountHolders = "account_holders"
	KeyTransactions   = "transactions"
)

// =============================================================================
// TRANSACTION TABLE
// =============================================================================

// TransactionTable is the whole transactions collection.
type TransactionTable struct {
	Version int64
	Records map[TransactionID]*Transaction

	// Migrated lists records converted from the legacy shape on load.
	Migrated []TransactionID
}

func NewTransactionTable() *TransactionTable {
	return &TransactionTable{Records: make(map[TransactionID]*Transaction)}
}

// Get returns the transaction or a NotFoundError.
func (t *TransactionTable) Get(id TransactionID) (*Transaction, error) {
	tx, ok := t.Records[id]
	if !ok {
		return nil, &NotFoundError{Resource: "transaction", ID: string(id)}
	}
	return tx, nil
}

func (t *TransactionTable) Put(tx Transaction) {
	if t.Records == nil {
		t.Records = make(map[TransactionID]*Transaction)
	}
	t.Records[tx.ID] = &tx
}

func (t *TransactionTable) Delete(id TransactionID) {
	delete(t.Records, id)
}

// All returns every transaction, unsorted.
func (t *TransactionTable) All() []Transaction {
	out := make([]Transaction, 0, len(t.Records))
	for _, tx := range t.Records {
		out = append(out, *tx)
	}
	return out
}

// ReferencedHolders returns the holders referenced by at least one
// transaction, sorted.
func (t *TransactionTable) ReferencedHolders() []AccountHolderID {
	seen := make(map[AccountHolderID]bool)
	for _, tx := range t.Records {
		seen[tx.AccountHolderID] = true
	}
	out := make([]AccountHolderID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// =============================================================================
// REPOSITORY
// =============================================================================

type Repository struct {
	store   DocumentStore
	onClamp ClampObserver
}

func NewRepository(store DocumentStore) *Repository {
	return &Repository{store: store}
}

// SetClampObserver installs the observer on every HolderTable loaded.
func (r *Repository) SetClampObserver(fn ClampObserver) {
	r.onClamp = fn
}

// Transactional reports whether WithTx is atomic.
func (r *Repository) Transactional() bool {
	_, ok := r.store.(TxDocumentStore)
	return ok
}

// WithTx runs fn atomically when the store supports it.
func (r *Repository) WithTx(ctx context.Context, fn func(*Repository) error) error {
	txs, ok := r.store.(TxDocumentStore)
	if !ok {
		return fn(r)
	}
	err := txs.WithTx(ctx, func(view DocumentStore) error {
		return fn(&Repository{store: view, onClamp: r.onClamp})
	})
	return r.classify("transaction", err)
}

type holdersDoc struct {
	Holders map[AccountHolderID]*AccountHolder `json:"holders"`
}

type transactionsDoc struct {
	Transactions map[TransactionID]json.RawMessage `json:"transactions"`
}

func (r *Repository) LoadHolders(ctx context.Context) (*HolderTable, error) {
	doc, err := r.store.Get(ctx, KeyAccountHolders)
	if err != nil {
		return nil, r.classify("load account holders", err)
	}

	table := NewHolderTable()
	table.Version = doc.Version
	table.OnClamp = r.onClamp
	if len(doc.Body) == 0 {
		return table, nil
	}

	var body holdersDoc
	if err := json.Unmarshal(doc.Body, &body); err != nil {
		return nil, &StorageError{Op: "decode account holders", Err: err}
	}
	for id, h := range body.Holders {
		if h == nil {
			continue
		}
		h.ID = id
		table.Holders[id] = h
	}
	return table, nil
}

func (r *Repository) SaveHolders(ctx context.Context, table *HolderTable) error {
	body, err := json.Marshal(holdersDoc{Holders: table.Holders})
	if err != nil {
		return fmt.Errorf("encode account holders: %w", err)
	}
	v, err := r.store.Put(ctx, KeyAccountHolders, body, table.Version)
	if err != nil {
		return r.classify("save account holders", err)
	}
	table.Version = v
	return nil
}

func (r *Repository) LoadTransactions(ctx context.Context) (*TransactionTable, error) {
	doc, err := r.store.Get(ctx, KeyTransactions)
	if err != nil {
		return nil, r.classify("load transactions", err)
	}

	table := NewTransactionTable()
	table.Version = doc.Version
	if len(doc.Body) == 0 {
		return table, nil
	}

	var body transactionsDoc
	if err := json.Unmarshal(doc.Body, &body); err != nil {
		return nil, &StorageError{Op: "decode transactions", Err: err}
	}
	for id, raw := range body.Transactions {
		tx, migrated, err := decodeTransaction(raw)
		if err != nil {
			return nil, &StorageError{Op: "decode transaction " + string(id), Err: err}
		}
		tx.ID = id
		table.Records[id] = tx
		if migrated {
			table.Migrated = append(table.Migrated, id)
		}
	}
	sort.Slice(table.Migrated, func(i, j int) bool { return table.Migrated[i] < table.Migrated[j] })
	return table, nil
}

func (r *Repository) SaveTransactions(ctx context.Context, table *TransactionTable) error {
	out := struct {
		Transactions map[TransactionID]*Transaction `json:"transactions"`
	}{Transactions: table.Records}

	body, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode transactions: %w", err)
	}
	v, err := r.store.Put(ctx, KeyTransactions, body, table.Version)
	if err != nil {
		return r.classify("save transactions", err)
	}
	table.Version = v
	table.Migrated = nil
	return nil
}

// classify keeps domain errors intact and wraps everything else.
func (r *Repository) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrValidation) || errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
