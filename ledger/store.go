package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE INTERFACES
// =============================================================================

// Document is one stored JSON document with its version stamp.
// A missing document has Version 0 and a nil Body.
type Document struct {
	Key     string
	Body    []byte
	Version int64
}

// DocumentStore persists whole JSON documents under string keys.
//
// Put succeeds only if the stored version still equals expectedVersion
// (0 meaning "must not exist yet") and returns the new version. A mismatch
// is ErrConcurrentModification.
type DocumentStore interface {
	Get(ctx context.Context, key string) (Document, error)
	Put(ctx context.Context, key string, body []byte, expectedVersion int64) (int64, error)
}

// TxDocumentStore is a DocumentStore that can run several reads and writes
// atomically. The store passed to fn is only valid inside fn.
type TxDocumentStore interface {
	DocumentStore
	WithTx(ctx context.Context, fn func(DocumentStore) error) error
}

// CommissionStore removes the commission record tied to a transaction.
// Optional collaborator of the transaction service.
type CommissionStore interface {
	DeleteCommission(ctx context.Context, holderID AccountHolderID, txID TransactionID) error
}

// CommissionLedger can also record commissions (demo data, imports).
type CommissionLedger interface {
	CommissionStore
	SaveCommission(ctx context.Context, holderID AccountHolderID, txID TransactionID, amount decimal.Decimal) error
}
