/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Transaction payloads
  reuse factory.TransactionJSON so the form, the scenarios and the API
  share one schema.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Transactions:
    TransactionDTO, TransactionListResponse, UpsertResponse,
    PatchTransactionRequest, DeleteResponse, PreviewResponse

  Account holders:
    AccountHolderDTO, SaveHolderRequest, AdjustmentRequest

  Scenarios:
    ScenarioDTO

SEE ALSO:
  - handlers.go: Uses these types
  - factory/transaction.go: TransactionJSON
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/points-engine/factory"
	"github.com/warp/points-engine/ledger"
)

// =============================================================================
// TRANSACTIONS
// =============================================================================

// TransactionDTO is a stored transaction as returned by the API.
type TransactionDTO struct {
	factory.TransactionJSON

	State          ledger.State         `json:"state"`
	Kinds          []ledger.ItemKind    `json:"kinds"`
	Cancelled      bool                 `json:"cancelled"`
	CancelledAt    string               `json:"cancelled_at,omitempty"`
	CommittedDelta ledger.ProgramPoints `json:"committed_delta"`
	Totals         ledger.Totals        `json:"totals"`
	CreatedAt      string               `json:"created_at,omitempty"`
	UpdatedAt      string               `json:"updated_at,omitempty"`
}

// TransactionListResponse is one page of transactions.
type TransactionListResponse struct {
	Total int              `json:"total"`
	Items []TransactionDTO `json:"items"`
}

// UpsertResponse is returned by POST /api/transactions.
type UpsertResponse struct {
	ID             string             `json:"id"`
	AccountHolders []AccountHolderDTO `json:"account_holders"`
	Transaction    TransactionDTO     `json:"transaction"`
}

// PatchTransactionRequest carries the fields to change. Absent fields are
// left alone; {"cancel": true} cancels the transaction.
type PatchTransactionRequest struct {
	Cancel          bool                    `json:"cancel,omitempty"`
	Date            *string                 `json:"date,omitempty"`
	Notes           *string                 `json:"notes,omitempty"`
	AccountHolderID *string                 `json:"account_holder_id,omitempty"`
	Status          *string                 `json:"status,omitempty"`
	Items           *[]factory.LineItemJSON `json:"items,omitempty"`
	Commission      *decimal.Decimal        `json:"commission,omitempty"`
	TargetMargin    *decimal.Decimal        `json:"target_margin,omitempty"`
	ExtraCosts      *[]decimal.Decimal      `json:"extra_costs,omitempty"`
	Delta           *ledger.ProgramPoints   `json:"delta,omitempty"`
}

// DeleteResponse is returned by DELETE /api/transactions/{id}.
type DeleteResponse struct {
	DeletedID      string             `json:"deleted_id"`
	AccountHolders []AccountHolderDTO `json:"account_holders"`
}

// PreviewResponse is the what-if view of an unsaved transaction.
type PreviewResponse struct {
	Totals          ledger.Totals        `json:"totals"`
	Delta           ledger.ProgramPoints `json:"delta"`
	SuggestedMargin decimal.Decimal      `json:"suggested_margin"`
	Projection      *ledger.Projection   `json:"projection,omitempty"`
}

// =============================================================================
// ACCOUNT HOLDERS
// =============================================================================

// AccountHolderDTO is a holder with its balances.
type AccountHolderDTO struct {
	ID        string               `json:"id"`
	Name      string               `json:"name"`
	Confirmed ledger.ProgramPoints `json:"confirmed"`
	Pending   ledger.ProgramPoints `json:"pending"`
	Total     ledger.ProgramPoints `json:"total"`
	UpdatedAt string               `json:"updated_at,omitempty"`
}

// SaveHolderRequest creates or renames one holder.
type SaveHolderRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AdjustmentRequest is a manual balance correction.
type AdjustmentRequest struct {
	Delta ledger.ProgramPoints `json:"delta"`
	Mode  string               `json:"mode"`
}

// =============================================================================
// SCENARIOS AND ERRORS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	dto := TransactionDTO{
		TransactionJSON: factory.ToJSON(tx),
		State:           tx.State(),
		Kinds:           tx.Kinds(),
		Cancelled:       tx.Cancelled,
		CommittedDelta:  tx.CommittedDelta,
		Totals:          tx.Totals,
		CreatedAt:       formatTime(tx.CreatedAt),
		UpdatedAt:       formatTime(tx.UpdatedAt),
	}
	if dto.Items == nil {
		dto.Items = []factory.LineItemJSON{}
	}
	if dto.Kinds == nil {
		dto.Kinds = []ledger.ItemKind{}
	}
	if tx.CancelledAt != nil {
		dto.CancelledAt = formatTime(*tx.CancelledAt)
	}
	return dto
}

func toHolderDTO(h ledger.AccountHolder) AccountHolderDTO {
	return AccountHolderDTO{
		ID:        string(h.ID),
		Name:      h.Name,
		Confirmed: h.Confirmed,
		Pending:   h.Pending,
		Total:     h.Confirmed.Plus(h.Pending),
		UpdatedAt: formatTime(h.UpdatedAt),
	}
}

func toHolderDTOs(holders []ledger.AccountHolder) []AccountHolderDTO {
	out := make([]AccountHolderDTO, len(holders))
	for i, h := range holders {
		out[i] = toHolderDTO(h)
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
