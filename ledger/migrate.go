/*
migrate.go - Legacy record migration

PURPOSE:
  Early transactions were stored flat: one record described a single
  movement with Portuguese field names. The itemized shape (schema_version
  2) replaced it. Flat records are converted here exactly once, when the
  transactions document is decoded; nothing downstream ever sees the old
  shape.

LEGACY FIELDS:
  tipo             clube | compra | transferencia  (membership/purchase/transfer)
  programa         target program
  origem           source club of a transfer
  pontos           points (spent, for a transfer)
  pontos_recebidos arriving points of a transfer
  valor            cash cost
  bonus            bonus percent
  modo             pontos | pontos+dinheiro         (transfer mode)

SEE ALSO:
  - repository.go: calls decodeTransaction for every stored record
  - compras/service.go: MigrateLegacy persists the converted records
*/
package ledger

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type legacyRecord struct {
	ID              TransactionID   `json:"id"`
	Date            time.Time       `json:"date"`
	AccountHolderID AccountHolderID `json:"account_holder_id"`
	Status          string          `json:"status"`
	Cancelled       bool            `json:"cancelled"`
	CancelledAt     *time.Time      `json:"cancelled_at,omitempty"`
	Commission      decimal.Decimal `json:"commission"`
	TargetMargin    decimal.Decimal `json:"target_margin"`
	Notes           string          `json:"notes"`
	CommittedDelta  *ProgramPoints  `json:"committed_delta"`
	CreatedAt       time.Time       `json:"created_at"`

	Tipo            string          `json:"tipo"`
	Programa        string          `json:"programa"`
	Origem          string          `json:"origem"`
	Pontos          int64           `json:"pontos"`
	PontosRecebidos int64           `json:"pontos_recebidos"`
	Valor           decimal.Decimal `json:"valor"`
	Bonus           decimal.Decimal `json:"bonus"`
	Modo            string          `json:"modo"`
}

var legacyKinds = map[string]ItemKind{
	"clube":         KindMembership,
	"membership":    KindMembership,
	"compra":        KindPurchase,
	"purchase":      KindPurchase,
	"transferencia": KindTransfer,
	"transferência": KindTransfer,
	"transfer":      KindTransfer,
}

var legacyStatuses = map[string]Status{
	"":           StatusPending,
	"pendente":   StatusPending,
	"pending":    StatusPending,
	"confirmado": StatusConfirmed,
	"confirmed":  StatusConfirmed,
}

// decodeTransaction reads one stored record in either shape. The bool
// reports whether the record was converted from the legacy shape.
func decodeTransaction(raw json.RawMessage) (*Transaction, bool, error) {
	var header struct {
		SchemaVersion int `json:"schema_version"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, false, err
	}

	if header.SchemaVersion >= CurrentSchemaVersion {
		var tx Transaction
		if err := json.Unmarshal(raw, &tx); err != nil {
			return nil, false, err
		}
		return &tx, false, nil
	}

	var old legacyRecord
	if err := json.Unmarshal(raw, &old); err != nil {
		return nil, false, err
	}
	tx, err := migrateLegacy(old)
	if err != nil {
		return nil, false, err
	}
	return tx, true, nil
}

func migrateLegacy(old legacyRecord) (*Transaction, error) {
	kind, ok := legacyKinds[strings.ToLower(strings.TrimSpace(old.Tipo))]
	if !ok {
		return nil, fmt.Errorf("legacy record %s: unknown tipo %q", old.ID, old.Tipo)
	}
	status, ok := legacyStatuses[strings.ToLower(strings.TrimSpace(old.Status))]
	if !ok {
		return nil, fmt.Errorf("legacy record %s: unknown status %q", old.ID, old.Status)
	}
	program, err := ParseProgram(old.Programa)
	if err != nil {
		return nil, fmt.Errorf("legacy record %s: %w", old.ID, err)
	}

	item := LineItem{
		Kind:         kind,
		Status:       status,
		Program:      program,
		Cost:         old.Valor,
		BonusPercent: old.Bonus,
	}
	switch kind {
	case KindMembership, KindPurchase:
		item.Points = old.Pontos
	case KindTransfer:
		source, err := ParseProgram(old.Origem)
		if err != nil {
			return nil, fmt.Errorf("legacy record %s: %w", old.ID, err)
		}
		item.SourceProgram = source
		item.PointsSpent = old.Pontos
		item.PointsArriving = old.PontosRecebidos
		item.TransferMode = TransferPointsOnly
		if m := strings.ToLower(strings.TrimSpace(old.Modo)); m == "pontos+dinheiro" || m == string(TransferPointsPlusCash) {
			item.TransferMode = TransferPointsPlusCash
		}
	}

	tx := &Transaction{
		ID:              old.ID,
		Date:            old.Date,
		AccountHolderID: old.AccountHolderID,
		Items:           []LineItem{item},
		Status:          status,
		Cancelled:       old.Cancelled,
		CancelledAt:     old.CancelledAt,
		Commission:      old.Commission,
		TargetMargin:    old.TargetMargin,
		Notes:           old.Notes,
		SchemaVersion:   CurrentSchemaVersion,
		CreatedAt:       old.CreatedAt,
		UpdatedAt:       old.CreatedAt,
	}

	// Flat records predate the snapshot. Their effect was the computed delta.
	switch {
	case old.CommittedDelta != nil:
		tx.CommittedDelta = *old.CommittedDelta
	case !old.Cancelled:
		tx.CommittedDelta = CalculateDelta(tx.Items)
	}
	return tx, nil
}
