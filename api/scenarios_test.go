/*
scenarios_test.go - Tests for demo scenarios

PURPOSE:
	Tests that each scenario leaves the expected state behind:
	- Account holders are created with opening balances
	- Transactions go through the service
	- Balances match what the ledger produces for the same submissions

These double as integration tests across the memory and SQLite stores.
*/
package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/warp/points-engine/compras"
	"github.com/warp/points-engine/ledger"
	"github.com/warp/points-engine/ledger/store"
	"github.com/warp/points-engine/store/sqlite"
)

type scenarioStore interface {
	ledger.DocumentStore
	Resetter
}

func setupScenarioHandlers(t *testing.T) map[string]*Handler {
	t.Helper()
	logger := zaptest.NewLogger(t)

	lite, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { lite.Close() })

	out := map[string]*Handler{}
	for name, s := range map[string]scenarioStore{"memory": store.NewTxMemory(), "sqlite": lite} {
		h := NewHandler(compras.NewService(s, compras.Options{Logger: logger}), logger)
		h.Resetter = s
		if cl, ok := s.(ledger.CommissionLedger); ok {
			h.Commissions = cl
		}
		out[name] = h
	}
	return out
}

func loadByID(t *testing.T, h *Handler, id string) {
	t.Helper()
	s, ok := findScenario(id)
	require.True(t, ok, id)
	require.NoError(t, h.loadScenario(context.Background(), s))
}

func TestScenario_ClubTransfer(t *testing.T) {
	for name, h := range setupScenarioHandlers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			// WHEN: loading the scenario
			loadByID(t, h, "club-transfer")

			// THEN: the club credit and the transfer leave Livelo empty and Smiles inflated
			holder, err := h.Service.GetHolder(ctx, "ana")
			require.NoError(t, err)
			assert.Equal(t, ledger.ProgramPoints{Smiles: 59500}, holder.Confirmed)
			assert.True(t, holder.Pending.IsZero())

			tx, err := h.Service.Get(ctx, "transfer-livelo-smiles-01")
			require.NoError(t, err)
			assert.Equal(t, ledger.ProgramPoints{Livelo: -35000, Smiles: 59500}, tx.CommittedDelta)
		})
	}
}

func TestScenario_BonusPurchase(t *testing.T) {
	for name, h := range setupScenarioHandlers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			loadByID(t, h, "bonus-purchase")

			holder, err := h.Service.GetHolder(ctx, "bia")
			require.NoError(t, err)
			assert.Equal(t, ledger.ProgramPoints{Latam: 162000}, holder.Pending)
			assert.True(t, holder.Confirmed.IsZero())

			tx, err := h.Service.Get(ctx, "latam-bonus-purchase")
			require.NoError(t, err)
			assert.Equal(t, ledger.StatePending, tx.State())
			assert.Equal(t, int64(162000), tx.Totals.TotalPoints)
		})
	}
}

func TestScenario_BonusPurchaseRecordsCommission(t *testing.T) {
	mem := store.NewTxMemory()
	h := NewHandler(compras.NewService(mem, compras.Options{}), zaptest.NewLogger(t))
	h.Resetter = mem
	h.Commissions = mem

	loadByID(t, h, "bonus-purchase")
	assert.True(t, mem.HasCommission("bia", "latam-bonus-purchase"))

	// Deleting the transaction removes the commission too
	_, err := h.Service.Delete(context.Background(), "latam-bonus-purchase")
	require.NoError(t, err)
	assert.False(t, mem.HasCommission("bia", "latam-bonus-purchase"))
}

func TestScenario_CancelledHistory(t *testing.T) {
	for name, h := range setupScenarioHandlers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			loadByID(t, h, "cancelled-history")

			// THEN: only the February purchase counts
			holder, err := h.Service.GetHolder(ctx, "caio")
			require.NoError(t, err)
			assert.Equal(t, ledger.ProgramPoints{Smiles: 45000}, holder.Confirmed)

			tx, err := h.Service.Get(ctx, "smiles-mar")
			require.NoError(t, err)
			assert.Equal(t, ledger.StateCancelled, tx.State())
			assert.NotNil(t, tx.CancelledAt)
		})
	}
}

func TestScenario_LegacyImport(t *testing.T) {
	for name, h := range setupScenarioHandlers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			loadByID(t, h, "legacy-import")

			// THEN: the flat records are itemized and persisted
			tx, err := h.Service.Get(ctx, "legado-1")
			require.NoError(t, err)
			require.Len(t, tx.Items, 1)
			assert.Equal(t, ledger.KindTransfer, tx.Items[0].Kind)
			assert.Equal(t, ledger.ProgramEsfera, tx.Items[0].SourceProgram)
			assert.Equal(t, ledger.ProgramPoints{Latam: 100000, Esfera: -50000}, tx.CommittedDelta)

			n, err := h.Service.MigrateLegacy(ctx)
			require.NoError(t, err)
			assert.Zero(t, n, "records were already written back")

			// Migration never touches balances
			holder, err := h.Service.GetHolder(ctx, "davi")
			require.NoError(t, err)
			assert.Equal(t, ledger.ProgramPoints{Esfera: 60000}, holder.Confirmed)
		})
	}
}

func TestScenario_LoadResetsPreviousState(t *testing.T) {
	h := setupScenarioHandlers(t)["memory"]
	ctx := context.Background()

	loadByID(t, h, "club-transfer")
	loadByID(t, h, "bonus-purchase")

	holders, err := h.Service.ListHolders(ctx)
	require.NoError(t, err)
	require.Len(t, holders, 1)
	assert.Equal(t, ledger.AccountHolderID("bia"), holders[0].ID)

	_, err = h.Service.Get(ctx, "club-livelo-2025-01")
	assert.True(t, ledger.IsNotFound(err))
}

func TestScenarioEndpoints(t *testing.T) {
	a := newTestAPI(t)

	t.Run("list", func(t *testing.T) {
		list := decodeBody[[]ScenarioDTO](t, a.do(t, http.MethodGet, "/api/scenarios", ""))
		assert.Len(t, list, len(scenarios))
	})

	t.Run("no current scenario", func(t *testing.T) {
		rec := a.do(t, http.MethodGet, "/api/scenarios/current", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"scenario": null}`, rec.Body.String())
	})

	t.Run("unknown scenario", func(t *testing.T) {
		rec := a.do(t, http.MethodPost, "/api/scenarios/load", `{"scenario_id": "nope"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("load and report current", func(t *testing.T) {
		rec := a.do(t, http.MethodPost, "/api/scenarios/load", `{"scenario_id": "cancelled-history"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		current := decodeBody[map[string]ScenarioDTO](t, a.do(t, http.MethodGet, "/api/scenarios/current", ""))
		assert.Equal(t, "cancelled-history", current["scenario"].ID)
	})

	t.Run("disabled without a resetter", func(t *testing.T) {
		a.handler.Resetter = nil
		rec := a.do(t, http.MethodPost, "/api/scenarios/load", `{"scenario_id": "club-transfer"}`)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}
