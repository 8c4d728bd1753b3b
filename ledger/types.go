/*
Package ledger provides the points ledger and transaction engine core.

PURPOSE:
  This package holds the domain types and the pure algorithms of the
  loyalty-points business: how many points and how much cost a transaction
  (compra) produces, which signed point delta it causes per program, and how
  that delta is committed to or reversed from an account holder's (cedente)
  confirmed and pending buckets without ever going negative.

KEY CONCEPTS IN THIS FILE (types.go):
  - Program: one of the four loyalty programs (two CIA, two club)
  - ProgramPoints: one signed counter per program (deltas and buckets)
  - LineItem: membership credit, direct purchase or cross-program transfer
  - Transaction: a compra with its items and committed delta snapshot
  - AccountHolder: a cedente with confirmed/pending buckets

DESIGN PRINCIPLES:
  1. Exact undo: reversals use the committed delta snapshot, never a
     recomputation from the (possibly edited) items
  2. Non-negativity: no bucket counter is ever persisted below zero
  3. Precision: money uses decimal.Decimal, points are integers

SEE ALSO:
  - totals.go: Totals Calculator
  - delta.go: Delta Calculator
  - balance.go: Balance Ledger (apply, capped reversal, move)
  - repository.go: Collections over a DocumentStore
*/
package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PROGRAMS
// =============================================================================

// Program identifies a loyalty program.
type Program string

const (
	ProgramLatam  Program = "latam"  // CIA
	ProgramSmiles Program = "smiles" // CIA
	ProgramLivelo Program = "livelo" // club
	ProgramEsfera Program = "esfera" // club
)

// Programs lists every program in a stable order.
var Programs = []Program{ProgramLatam, ProgramSmiles, ProgramLivelo, ProgramEsfera}

// IsCIA reports whether points in p are directly redeemable for flights.
func (p Program) IsCIA() bool {
	return p == ProgramLatam || p == ProgramSmiles
}

// IsClub reports whether p is a transferable-points club.
func (p Program) IsClub() bool {
	return p == ProgramLivelo || p == ProgramEsfera
}

func (p Program) Valid() bool {
	return p.IsCIA() || p.IsClub()
}

// ParseProgram normalizes a program name. Unknown names are a ValidationError.
func ParseProgram(s string) (Program, error) {
	p := Program(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", &ValidationError{Field: "program", Message: fmt.Sprintf("unknown program %q", s)}
	}
	return p, nil
}

// =============================================================================
// PROGRAM POINTS - One signed counter per program
// =============================================================================

// ProgramPoints holds one signed integer per program. It is used both for
// transaction deltas and for the confirmed/pending buckets of a holder.
type ProgramPoints struct {
	Latam  int64 `json:"latam"`
	Smiles int64 `json:"smiles"`
	Livelo int64 `json:"livelo"`
	Esfera int64 `json:"esfera"`
}

func (pp *ProgramPoints) field(p Program) *int64 {
	switch p {
	case ProgramLatam:
		return &pp.Latam
	case ProgramSmiles:
		return &pp.Smiles
	case ProgramLivelo:
		return &pp.Livelo
	case ProgramEsfera:
		return &pp.Esfera
	}
	return nil
}

// Of returns the counter for p (0 for unknown programs).
func (pp ProgramPoints) Of(p Program) int64 {
	if f := pp.field(p); f != nil {
		return *f
	}
	return 0
}

// Set overwrites the counter for p.
func (pp *ProgramPoints) Set(p Program, n int64) {
	if f := pp.field(p); f != nil {
		*f = n
	}
}

// Add adds n to the counter for p.
func (pp *ProgramPoints) Add(p Program, n int64) {
	if f := pp.field(p); f != nil {
		*f += n
	}
}

func (pp ProgramPoints) Plus(o ProgramPoints) ProgramPoints {
	return ProgramPoints{
		Latam:  pp.Latam + o.Latam,
		Smiles: pp.Smiles + o.Smiles,
		Livelo: pp.Livelo + o.Livelo,
		Esfera: pp.Esfera + o.Esfera,
	}
}

func (pp ProgramPoints) Neg() ProgramPoints {
	return ProgramPoints{Latam: -pp.Latam, Smiles: -pp.Smiles, Livelo: -pp.Livelo, Esfera: -pp.Esfera}
}

func (pp ProgramPoints) IsZero() bool { return pp == ProgramPoints{} }

func (pp ProgramPoints) Equal(o ProgramPoints) bool { return pp == o }

// Sum returns the total across all programs.
func (pp ProgramPoints) Sum() int64 {
	return pp.Latam + pp.Smiles + pp.Livelo + pp.Esfera
}

// clamped returns a copy with every negative counter raised to zero and the
// number of points that were dropped doing so.
func (pp ProgramPoints) clamped() (ProgramPoints, int64) {
	var dropped int64
	out := pp
	for _, p := range Programs {
		if v := out.Of(p); v < 0 {
			dropped += -v
			out.Set(p, 0)
		}
	}
	return out, dropped
}

// =============================================================================
// STATUS AND ITEM KINDS
// =============================================================================

// Status is the confirmation state of a transaction or a line item.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
)

func (s Status) Valid() bool { return s == StatusPending || s == StatusConfirmed }

// Bucket returns the balance bucket a committed effect lives in for s.
func (s Status) Bucket() Bucket {
	if s == StatusConfirmed {
		return BucketConfirmed
	}
	return BucketPending
}

// ItemKind discriminates the LineItem union.
type ItemKind string

const (
	KindMembership ItemKind = "membership" // club/CIA membership credit
	KindPurchase   ItemKind = "purchase"   // direct points purchase
	KindTransfer   ItemKind = "transfer"   // club -> CIA transfer
)

func (k ItemKind) Valid() bool {
	return k == KindMembership || k == KindPurchase || k == KindTransfer
}

// TransferMode describes how a transfer was paid.
type TransferMode string

const (
	TransferPointsOnly     TransferMode = "points-only"
	TransferPointsPlusCash TransferMode = "points-plus-cash"
)

// =============================================================================
// LINE ITEM
// =============================================================================

// LineItem is one entry of a transaction. Which fields apply depends on Kind:
//
//	membership: Program, Points, Cost
//	purchase:   Program, Points, Cost, BonusPercent
//	transfer:   SourceProgram, Program (destination), TransferMode,
//	            PointsSpent, PointsArriving, Cost (cash paid), BonusPercent
type LineItem struct {
	Kind           ItemKind        `json:"kind"`
	Status         Status          `json:"status"`
	Program        Program         `json:"program"`
	SourceProgram  Program         `json:"source_program,omitempty"`
	TransferMode   TransferMode    `json:"transfer_mode,omitempty"`
	Points         int64           `json:"points,omitempty"`
	PointsSpent    int64           `json:"points_spent,omitempty"`
	PointsArriving int64           `json:"points_arriving,omitempty"`
	Cost           decimal.Decimal `json:"cost"`
	BonusPercent   decimal.Decimal `json:"bonus_percent"`
}

// arrivingBeforeBonus applies the points-only default.
func (li LineItem) arrivingBeforeBonus() int64 {
	if li.PointsArriving == 0 && li.TransferMode != TransferPointsPlusCash {
		return li.PointsSpent
	}
	return li.PointsArriving
}

// Validate checks the shape of the item for its kind.
func (li LineItem) Validate() error {
	if !li.Kind.Valid() {
		return &ValidationError{Field: "items.kind", Message: fmt.Sprintf("unknown item kind %q", li.Kind)}
	}
	if !li.Status.Valid() {
		return &ValidationError{Field: "items.status", Message: fmt.Sprintf("unknown status %q", li.Status)}
	}
	if !li.Program.Valid() {
		return &ValidationError{Field: "items.program", Message: fmt.Sprintf("unknown program %q", li.Program)}
	}
	if li.Cost.IsNegative() {
		return &ValidationError{Field: "items.cost", Message: "cost cannot be negative"}
	}
	if li.BonusPercent.IsNegative() {
		return &ValidationError{Field: "items.bonus_percent", Message: "bonus cannot be negative"}
	}
	switch li.Kind {
	case KindMembership, KindPurchase:
		if li.Points < 0 {
			return &ValidationError{Field: "items.points", Message: "points cannot be negative"}
		}
	case KindTransfer:
		if !li.SourceProgram.IsClub() {
			return &ValidationError{Field: "items.source_program", Message: "transfer source must be a club program"}
		}
		if !li.Program.IsCIA() {
			return &ValidationError{Field: "items.program", Message: "transfer destination must be a CIA program"}
		}
		if li.TransferMode != TransferPointsOnly && li.TransferMode != TransferPointsPlusCash {
			return &ValidationError{Field: "items.transfer_mode", Message: fmt.Sprintf("unknown transfer mode %q", li.TransferMode)}
		}
		if li.PointsSpent < 0 || li.PointsArriving < 0 {
			return &ValidationError{Field: "items.points_spent", Message: "points cannot be negative"}
		}
	}
	return nil
}

// =============================================================================
// TRANSACTION (compra)
// =============================================================================

type TransactionID string
type AccountHolderID string

// CurrentSchemaVersion is the itemized record shape. Older records carry
// flat fields and are migrated on read (see migrate.go).
const CurrentSchemaVersion = 2

// Transaction is a purchase/transfer transaction.
type Transaction struct {
	ID              TransactionID     `json:"id"`
	Date            time.Time         `json:"date"`
	AccountHolderID AccountHolderID   `json:"account_holder_id"`
	Items           []LineItem        `json:"items"`
	Status          Status            `json:"status"`
	Cancelled       bool              `json:"cancelled"`
	CancelledAt     *time.Time        `json:"cancelled_at,omitempty"`
	Commission      decimal.Decimal   `json:"commission"`
	TargetMargin    decimal.Decimal   `json:"target_margin"`
	ExtraCosts      []decimal.Decimal `json:"extra_costs,omitempty"`
	Notes           string            `json:"notes,omitempty"`

	// CommittedDelta is exactly what was last applied to the holder's
	// balance on behalf of this transaction. Reversals use it verbatim.
	CommittedDelta ProgramPoints `json:"committed_delta"`

	// Totals is a cache of CalculateTotals; see Service.Get for backfill.
	Totals Totals `json:"totals"`

	SchemaVersion int       `json:"schema_version"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// State is the externally visible state machine position.
type State string

const (
	StatePending   State = "PENDING"
	StateConfirmed State = "CONFIRMED"
	StateCancelled State = "CANCELLED"
)

func (t Transaction) State() State {
	switch {
	case t.Cancelled:
		return StateCancelled
	case t.Status == StatusConfirmed:
		return StateConfirmed
	default:
		return StatePending
	}
}

// Kinds returns the distinct item kinds in item order.
func (t Transaction) Kinds() []ItemKind {
	var kinds []ItemKind
	seen := make(map[ItemKind]bool)
	for _, it := range t.Items {
		if !seen[it.Kind] {
			seen[it.Kind] = true
			kinds = append(kinds, it.Kind)
		}
	}
	return kinds
}

// Validate checks the economic fields of the transaction.
func (t Transaction) Validate() error {
	if t.AccountHolderID == "" {
		return &ValidationError{Field: "account_holder_id", Message: "required"}
	}
	if !t.Status.Valid() {
		return &ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", t.Status)}
	}
	if t.Commission.IsNegative() {
		return &ValidationError{Field: "commission", Message: "cannot be negative"}
	}
	if t.TargetMargin.IsNegative() {
		return &ValidationError{Field: "target_margin", Message: "cannot be negative"}
	}
	for _, it := range t.Items {
		if err := it.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// ACCOUNT HOLDER (cedente)
// =============================================================================

// AccountHolder owns a confirmed and a pending bucket per program.
// Both buckets are never negative once persisted.
type AccountHolder struct {
	ID        AccountHolderID `json:"id"`
	Name      string          `json:"name"`
	Confirmed ProgramPoints   `json:"confirmed"`
	Pending   ProgramPoints   `json:"pending"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Bucket returns the counters of b.
func (h AccountHolder) Bucket(b Bucket) ProgramPoints {
	if b == BucketConfirmed {
		return h.Confirmed
	}
	return h.Pending
}

func (h *AccountHolder) bucketRef(b Bucket) *ProgramPoints {
	if b == BucketConfirmed {
		return &h.Confirmed
	}
	return &h.Pending
}
