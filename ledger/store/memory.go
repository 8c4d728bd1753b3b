// Package store provides DocumentStore implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/warp/points-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	documents   map[string]ledger.Document
	commissions map[commissionKey]decimal.Decimal
}

type commissionKey struct {
	HolderID ledger.AccountHolderID
	TxID     ledger.TransactionID
}

func NewMemory() *Memory {
	return &Memory{
		documents:   make(map[string]ledger.Document),
		commissions: make(map[commissionKey]decimal.Decimal),
	}
}

func (m *Memory) Get(_ context.Context, key string) (ledger.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(key), nil
}

// Put writes body if the stored version still equals expectedVersion.
func (m *Memory) Put(_ context.Context, key string, body []byte, expectedVersion int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putLocked(key, body, expectedVersion)
}

func (m *Memory) getLocked(key string) ledger.Document {
	doc, ok := m.documents[key]
	if !ok {
		return ledger.Document{Key: key}
	}
	doc.Body = append([]byte(nil), doc.Body...)
	return doc
}

func (m *Memory) putLocked(key string, body []byte, expectedVersion int64) (int64, error) {
	current := m.documents[key].Version
	if current != expectedVersion {
		return 0, ledger.ErrConcurrentModification
	}
	next := current + 1
	m.documents[key] = ledger.Document{
		Key:     key,
		Body:    append([]byte(nil), body...),
		Version: next,
	}
	return next, nil
}

// Keys lists stored document keys.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.documents))
	for k := range m.documents {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Reset drops every document and commission.
func (m *Memory) Reset(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents = make(map[string]ledger.Document)
	m.commissions = make(map[commissionKey]decimal.Decimal)
	return nil
}

// =============================================================================
// COMMISSIONS
// =============================================================================

// SaveCommission records the commission owed to a holder for a transaction.
func (m *Memory) SaveCommission(_ context.Context, holderID ledger.AccountHolderID, txID ledger.TransactionID, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commissions[commissionKey{holderID, txID}] = amount
	return nil
}

// DeleteCommission removes the record; a missing record is not an error.
func (m *Memory) DeleteCommission(_ context.Context, holderID ledger.AccountHolderID, txID ledger.TransactionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.commissions, commissionKey{holderID, txID})
	return nil
}

func (m *Memory) HasCommission(holderID ledger.AccountHolderID, txID ledger.TransactionID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.commissions[commissionKey{holderID, txID}]
	return ok
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(ledger.DocumentStore) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := make(map[string]ledger.Document, len(tm.documents))
	for k, v := range tm.documents {
		snapshot[k] = v
	}

	if err := fn(&txMemoryView{parent: tm}); err != nil {
		tm.documents = snapshot
		return err
	}
	return nil
}

type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) Get(_ context.Context, key string) (ledger.Document, error) {
	return tv.parent.getLocked(key), nil
}

func (tv *txMemoryView) Put(_ context.Context, key string, body []byte, expectedVersion int64) (int64, error) {
	return tv.parent.putLocked(key, body, expectedVersion)
}
