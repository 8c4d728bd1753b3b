/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
	Provides pre-built scenarios that populate the store with realistic
	account holders and transactions. Every transaction goes through the
	transaction service, so balances are exactly what the ledger would
	produce for the same sequence of form submissions.

AVAILABLE SCENARIOS:

	club-transfer:      Livelo club membership, then a bonus transfer to Smiles
	bonus-purchase:     Pending LATAM purchase with an 80% bonus and commission
	cancelled-history:  Confirmed purchases, one of them cancelled
	legacy-import:      Flat legacy records migrated on load

HOW SCENARIOS WORK:
 1. Reset the store (clear all documents and commissions)
 2. Create account holders with opening balances
 3. Parse transaction payloads via the factory
 4. Upsert them through the service (commissions recorded alongside)
 5. Optionally cancel or confirm some of them

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "club-transfer"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler dependencies
  - factory/transaction.go: payload schema
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/warp/points-engine/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	load func(ctx context.Context, h *Handler) error
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "club-transfer",
			Name:        "Club and Transfer",
			Description: "Livelo club membership followed by a 70% bonus transfer to Smiles",
		},
		load: loadClubTransferScenario,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "bonus-purchase",
			Name:        "Bonus Purchase",
			Description: "Pending LATAM purchase with an 80% bonus and a seller commission",
		},
		load: loadBonusPurchaseScenario,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "cancelled-history",
			Name:        "Cancelled History",
			Description: "Two confirmed Smiles purchases, one of them cancelled",
		},
		load: loadCancelledHistoryScenario,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "legacy-import",
			Name:        "Legacy Import",
			Description: "Flat pre-itemized records converted and persisted on load",
		},
		load: loadLegacyImportScenario,
	},
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// =============================================================================
// SCENARIO HANDLERS
// =============================================================================

// ListScenarios returns all available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	out := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		out[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, out)
}

// GetCurrentScenario returns the last scenario loaded, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, map[string]any{"scenario": nil})
		return
	}
	s, _ := findScenario(current)
	writeJSON(w, http.StatusOK, map[string]any{"scenario": s.ScenarioDTO})
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		h.handleServiceError(w, err)
		return
	}

	s, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}
	if h.Resetter == nil {
		writeError(w, http.StatusConflict, "Scenarios are disabled for this store", nil)
		return
	}

	if err := h.loadScenario(r.Context(), s); err != nil {
		h.handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": s.ID})
}

func (h *Handler) loadScenario(ctx context.Context, s scenario) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Resetter.Reset(ctx); err != nil {
		return &ledger.StorageError{Op: "reset", Err: err}
	}
	h.currentScenario = ""

	if err := s.load(ctx, h); err != nil {
		return fmt.Errorf("load scenario %s: %w", s.ID, err)
	}
	h.currentScenario = s.ID
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func loadClubTransferScenario(ctx context.Context, h *Handler) error {
	if err := h.seedHolder(ctx, "ana", "Ana Lima", ledger.ProgramPoints{Livelo: 25000}); err != nil {
		return err
	}

	if err := h.createTransactionFromJSON(ctx, `{
		"id": "club-livelo-2025-01", "date": "2025-01-05", "account_holder_id": "ana",
		"status": "confirmed",
		"items": [{"kind": "membership", "program": "livelo", "points": 10000, "cost": "44.90"}],
		"notes": "Clube Livelo 10k"
	}`, false); err != nil {
		return err
	}

	return h.createTransactionFromJSON(ctx, `{
		"id": "transfer-livelo-smiles-01", "date": "2025-01-20", "account_holder_id": "ana",
		"status": "confirmed", "commission": "80", "target_margin": "17.50",
		"items": [{"kind": "transfer", "source_program": "livelo", "program": "smiles",
		           "points_spent": 35000, "bonus_percent": "70", "cost": "0"}]
	}`, false)
}

func loadBonusPurchaseScenario(ctx context.Context, h *Handler) error {
	if err := h.seedHolder(ctx, "bia", "Beatriz Souza", ledger.ProgramPoints{}); err != nil {
		return err
	}

	return h.createTransactionFromJSON(ctx, `{
		"id": "latam-bonus-purchase", "date": "2025-03-10", "account_holder_id": "bia",
		"status": "pending", "commission": "150.00", "target_margin": "21.50",
		"extra_costs": ["12.90"],
		"items": [{"kind": "purchase", "program": "latam", "points": 90000,
		           "cost": "3000", "bonus_percent": "80"}]
	}`, true)
}

func loadCancelledHistoryScenario(ctx context.Context, h *Handler) error {
	if err := h.seedHolder(ctx, "caio", "Caio Ramos", ledger.ProgramPoints{Smiles: 5000}); err != nil {
		return err
	}

	for _, payload := range []string{
		`{"id": "smiles-feb", "date": "2025-02-02", "account_holder_id": "caio", "status": "confirmed",
		  "items": [{"kind": "purchase", "program": "smiles", "points": 40000, "cost": "720", "bonus_percent": "0"}]}`,
		`{"id": "smiles-mar", "date": "2025-03-02", "account_holder_id": "caio", "status": "confirmed",
		  "items": [{"kind": "purchase", "program": "smiles", "points": 20000, "cost": "380", "bonus_percent": "0"}]}`,
	} {
		if err := h.createTransactionFromJSON(ctx, payload, false); err != nil {
			return err
		}
	}

	_, err := h.Service.Cancel(ctx, "smiles-mar")
	return err
}

// loadLegacyImportScenario writes flat records straight into the store, as
// an old deployment would have left them, and migrates them.
func loadLegacyImportScenario(ctx context.Context, h *Handler) error {
	if err := h.seedHolder(ctx, "davi", "Davi Prado", ledger.ProgramPoints{Esfera: 60000}); err != nil {
		return err
	}

	writer, ok := h.Resetter.(ledger.DocumentStore)
	if !ok {
		return fmt.Errorf("store cannot accept raw documents")
	}
	legacy := `{"transactions": {
		"legado-1": {"id": "legado-1", "date": "2024-11-03T00:00:00Z", "account_holder_id": "davi",
			"status": "confirmado", "tipo": "transferencia", "programa": "latam", "origem": "esfera",
			"pontos": 50000, "bonus": "100", "valor": "0",
			"committed_delta": {"latam": 100000, "smiles": 0, "livelo": 0, "esfera": -50000}},
		"legado-2": {"id": "legado-2", "date": "2024-10-01T00:00:00Z", "account_holder_id": "davi",
			"status": "confirmado", "tipo": "clube", "programa": "esfera", "pontos": 5000, "valor": "39.90"}
	}}`
	doc, err := writer.Get(ctx, ledger.KeyTransactions)
	if err != nil {
		return err
	}
	if _, err := writer.Put(ctx, ledger.KeyTransactions, []byte(legacy), doc.Version); err != nil {
		return err
	}

	n, err := h.Service.MigrateLegacy(ctx)
	if err != nil {
		return err
	}
	h.Logger.Info("legacy scenario migrated", zap.Int("records", n))
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) seedHolder(ctx context.Context, id, name string, opening ledger.ProgramPoints) error {
	if _, err := h.Service.SaveHolder(ctx, ledger.AccountHolderID(id), name); err != nil {
		return err
	}
	if opening.IsZero() {
		return nil
	}
	_, err := h.Service.Adjust(ctx, ledger.AccountHolderID(id), opening, ledger.ApplyConfirmed)
	return err
}

// createTransactionFromJSON parses and upserts one payload. With
// withCommission the transaction's commission is also recorded in the
// commission ledger, when one is configured.
func (h *Handler) createTransactionFromJSON(ctx context.Context, payload string, withCommission bool) error {
	parsed, err := h.Factory.ParseTransaction([]byte(payload))
	if err != nil {
		return err
	}

	res, err := h.Service.Upsert(ctx, parsed.Transaction, parsed.Delta)
	if err != nil {
		return err
	}

	if withCommission && h.Commissions != nil {
		return h.Commissions.SaveCommission(ctx, res.Transaction.AccountHolderID, res.Transaction.ID, res.Transaction.Commission)
	}
	return nil
}
