/*
Package factory provides JSON to Go transaction conversion.

PURPOSE:
  Converts transaction payloads (as sent by the purchase form, the API or
  the demo scenarios) into ledger.Transaction values. Parsing normalizes
  program names, applies defaults and validates the result, so the service
  only ever sees well-formed transactions.

JSON SCHEMA:
  {
    "id": "optional, generated when absent",
    "date": "2025-03-10",
    "account_holder_id": "ana",
    "status": "pending",
    "commission": "150.00",
    "target_margin": "21.50",
    "extra_costs": ["12.90"],
    "notes": "free text",
    "items": [
      {"kind": "purchase", "program": "latam", "points": 90000,
       "cost": "1500", "bonus_percent": "80"},
      {"kind": "transfer", "source_program": "livelo", "program": "smiles",
       "transfer_mode": "points-plus-cash", "points_spent": 90000,
       "points_arriving": 130000, "cost": "300", "bonus_percent": "70"},
      {"kind": "membership", "program": "esfera", "points": 10000, "cost": "45"}
    ],
    "delta": {"latam": 0, "smiles": 0, "livelo": 0, "esfera": 0}
  }

DEFAULTS:
  - id:            new UUID
  - date:          today (UTC)
  - status:        pending
  - item status:   the transaction status
  - transfer_mode: points-only
  - money fields:  0

EXPLICIT DELTA:
  "delta" is optional. When present it is committed verbatim instead of the
  computed delta (imports that already know their effect).

SEE ALSO:
  - ledger/types.go: Transaction, LineItem
  - api/scenarios.go: demo payloads
*/
package factory

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/points-engine/ledger"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// TransactionJSON is the JSON representation of a transaction.
type TransactionJSON struct {
	ID              string                `json:"id,omitempty"`
	Date            string                `json:"date,omitempty"`
	AccountHolderID string                `json:"account_holder_id"`
	Status          string                `json:"status,omitempty"`
	Items           []LineItemJSON        `json:"items"`
	Commission      *decimal.Decimal      `json:"commission,omitempty"`
	TargetMargin    *decimal.Decimal      `json:"target_margin,omitempty"`
	ExtraCosts      []decimal.Decimal     `json:"extra_costs,omitempty"`
	Notes           string                `json:"notes,omitempty"`
	Delta           *ledger.ProgramPoints `json:"delta,omitempty"`
}

// LineItemJSON is the JSON representation of a line item.
type LineItemJSON struct {
	Kind           string           `json:"kind"`
	Status         string           `json:"status,omitempty"`
	Program        string           `json:"program"`
	SourceProgram  string           `json:"source_program,omitempty"`
	TransferMode   string           `json:"transfer_mode,omitempty"`
	Points         int64            `json:"points,omitempty"`
	PointsSpent    int64            `json:"points_spent,omitempty"`
	PointsArriving int64            `json:"points_arriving,omitempty"`
	Cost           *decimal.Decimal `json:"cost,omitempty"`
	BonusPercent   *decimal.Decimal `json:"bonus_percent,omitempty"`
}

// Parsed is a validated transaction plus its optional explicit delta.
type Parsed struct {
	Transaction ledger.Transaction
	Delta       *ledger.ProgramPoints
}

// =============================================================================
// TRANSACTION FACTORY
// =============================================================================

// TransactionFactory converts JSON payloads to ledger transactions.
type TransactionFactory struct {
	newID func() string
}

// NewTransactionFactory creates a factory that generates UUID ids.
func NewTransactionFactory() *TransactionFactory {
	return &TransactionFactory{newID: uuid.NewString}
}

// ParseTransaction parses a JSON string.
func (f *TransactionFactory) ParseTransaction(data []byte) (*Parsed, error) {
	var tj TransactionJSON
	if err := json.Unmarshal(data, &tj); err != nil {
		return nil, &ledger.ValidationError{Field: "body", Message: fmt.Sprintf("invalid JSON: %v", err)}
	}
	return f.FromJSON(tj)
}

// FromJSON converts an already decoded payload.
func (f *TransactionFactory) FromJSON(tj TransactionJSON) (*Parsed, error) {
	return f.build(tj, true)
}

// ParseDraft parses a payload that may not name an account holder yet, as
// sent by the purchase form while it is being filled in.
func (f *TransactionFactory) ParseDraft(data []byte) (*Parsed, error) {
	var tj TransactionJSON
	if err := json.Unmarshal(data, &tj); err != nil {
		return nil, &ledger.ValidationError{Field: "body", Message: fmt.Sprintf("invalid JSON: %v", err)}
	}
	return f.build(tj, false)
}

func (f *TransactionFactory) build(tj TransactionJSON, requireHolder bool) (*Parsed, error) {
	status := ledger.StatusPending
	if tj.Status != "" {
		s, err := ParseStatus(tj.Status)
		if err != nil {
			return nil, err
		}
		status = s
	}

	// Absent dates stay zero: the service keeps the stored date on edits
	// and uses today for new records.
	var date time.Time
	if tj.Date != "" {
		d, err := ParseDate(tj.Date)
		if err != nil {
			return nil, err
		}
		date = d
	}

	items, err := ParseItems(tj.Items, status)
	if err != nil {
		return nil, err
	}

	id := strings.TrimSpace(tj.ID)
	if id == "" {
		id = f.newID()
	}

	tx := ledger.Transaction{
		ID:              ledger.TransactionID(id),
		Date:            date,
		AccountHolderID: ledger.AccountHolderID(strings.TrimSpace(tj.AccountHolderID)),
		Items:           items,
		Status:          status,
		Commission:      orZero(tj.Commission),
		TargetMargin:    orZero(tj.TargetMargin),
		ExtraCosts:      tj.ExtraCosts,
		Notes:           tj.Notes,
		SchemaVersion:   ledger.CurrentSchemaVersion,
	}
	for i, c := range tx.ExtraCosts {
		if c.IsNegative() {
			return nil, &ledger.ValidationError{Field: fmt.Sprintf("extra_costs[%d]", i), Message: "cannot be negative"}
		}
	}
	check := tx
	if !requireHolder && check.AccountHolderID == "" {
		check.AccountHolderID = "draft"
	}
	if err := check.Validate(); err != nil {
		return nil, err
	}

	return &Parsed{Transaction: tx, Delta: tj.Delta}, nil
}

// ParseItems converts item payloads. Items without a status inherit
// defaultStatus.
func ParseItems(in []LineItemJSON, defaultStatus ledger.Status) ([]ledger.LineItem, error) {
	items := make([]ledger.LineItem, 0, len(in))
	for i, ij := range in {
		item, err := parseItem(ij, defaultStatus)
		if err != nil {
			var ve *ledger.ValidationError
			if errors.As(err, &ve) {
				ve.Field = fmt.Sprintf("items[%d].%s", i, strings.TrimPrefix(ve.Field, "items."))
				return nil, ve
			}
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func parseItem(ij LineItemJSON, defaultStatus ledger.Status) (ledger.LineItem, error) {
	kind := ledger.ItemKind(strings.ToLower(strings.TrimSpace(ij.Kind)))
	if !kind.Valid() {
		return ledger.LineItem{}, &ledger.ValidationError{Field: "kind", Message: fmt.Sprintf("unknown item kind %q", ij.Kind)}
	}

	status := defaultStatus
	if ij.Status != "" {
		s, err := ParseStatus(ij.Status)
		if err != nil {
			return ledger.LineItem{}, err
		}
		status = s
	}

	program, err := ledger.ParseProgram(ij.Program)
	if err != nil {
		return ledger.LineItem{}, err
	}

	item := ledger.LineItem{
		Kind:         kind,
		Status:       status,
		Program:      program,
		Cost:         orZero(ij.Cost),
		BonusPercent: orZero(ij.BonusPercent),
	}

	switch kind {
	case ledger.KindMembership, ledger.KindPurchase:
		item.Points = ij.Points
	case ledger.KindTransfer:
		source, err := ledger.ParseProgram(ij.SourceProgram)
		if err != nil {
			return ledger.LineItem{}, &ledger.ValidationError{Field: "source_program", Message: fmt.Sprintf("unknown program %q", ij.SourceProgram)}
		}
		item.SourceProgram = source
		item.TransferMode = ledger.TransferPointsOnly
		if ij.TransferMode != "" {
			item.TransferMode = ledger.TransferMode(strings.ToLower(strings.TrimSpace(ij.TransferMode)))
		}
		item.PointsSpent = ij.PointsSpent
		item.PointsArriving = ij.PointsArriving
	}

	if err := item.Validate(); err != nil {
		return ledger.LineItem{}, err
	}
	return item, nil
}

// ParseStatus accepts "pending" and "confirmed" in any case.
func ParseStatus(s string) (ledger.Status, error) {
	st := ledger.Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", &ledger.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", s)}
	}
	return st, nil
}

// ParseDate accepts YYYY-MM-DD or RFC3339.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, &ledger.ValidationError{Field: "date", Message: fmt.Sprintf("invalid date %q (use YYYY-MM-DD)", s)}
}

// ToJSON renders a transaction back into its payload form.
func ToJSON(tx ledger.Transaction) TransactionJSON {
	tj := TransactionJSON{
		ID:              string(tx.ID),
		Date:            tx.Date.Format("2006-01-02"),
		AccountHolderID: string(tx.AccountHolderID),
		Status:          string(tx.Status),
		Commission:      &tx.Commission,
		TargetMargin:    &tx.TargetMargin,
		ExtraCosts:      tx.ExtraCosts,
		Notes:           tx.Notes,
	}
	for _, it := range tx.Items {
		cost, bonus := it.Cost, it.BonusPercent
		tj.Items = append(tj.Items, LineItemJSON{
			Kind:           string(it.Kind),
			Status:         string(it.Status),
			Program:        string(it.Program),
			SourceProgram:  string(it.SourceProgram),
			TransferMode:   string(it.TransferMode),
			Points:         it.Points,
			PointsSpent:    it.PointsSpent,
			PointsArriving: it.PointsArriving,
			Cost:           &cost,
			BonusPercent:   &bonus,
		})
	}
	return tj
}

func orZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}
