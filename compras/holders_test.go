package compras_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/points-engine/ledger"
	"github.com/warp/points-engine/ledger/store"
)

func TestSaveHolder_RenameKeepsBalances(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, store.NewTxMemory())
	f.seedHolder(t, "ana", ledger.ProgramPoints{Smiles: 700}, ledger.ProgramPoints{Latam: 30})

	h, err := f.svc.SaveHolder(ctx, "ana", "Ana Lima")
	require.NoError(t, err)

	assert.Equal(t, "Ana Lima", h.Name)
	assert.Equal(t, ledger.ProgramPoints{Smiles: 700}, h.Confirmed)
	assert.Equal(t, ledger.ProgramPoints{Latam: 30}, h.Pending)
}

func TestSaveHolder_RequiresIDAndName(t *testing.T) {
	f := newFixture(t, store.NewTxMemory())

	_, err := f.svc.SaveHolder(context.Background(), " ", "x")
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = f.svc.SaveHolder(context.Background(), "ana", "")
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestReplaceHolders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, store.NewTxMemory())
	f.seedHolder(t, "ana", ledger.ProgramPoints{Latam: 10}, ledger.ProgramPoints{})
	f.seedHolder(t, "bia", ledger.ProgramPoints{}, ledger.ProgramPoints{})
	_, err := f.svc.Upsert(ctx, purchaseTx("tx-1", "ana", ledger.StatusPending, 1000, "0"), nil)
	require.NoError(t, err)

	t.Run("refuses to drop a referenced holder", func(t *testing.T) {
		_, err := f.svc.ReplaceHolders(ctx, []ledger.AccountHolder{{ID: "bia", Name: "Bia"}})

		var ce *ledger.ConflictError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "ana", ce.ID)

		list, err := f.svc.ListHolders(ctx)
		require.NoError(t, err)
		assert.Len(t, list, 2)
	})

	t.Run("drops unreferenced and adds new holders", func(t *testing.T) {
		list, err := f.svc.ReplaceHolders(ctx, []ledger.AccountHolder{
			{ID: "ana", Name: "Ana", Confirmed: ledger.ProgramPoints{Latam: 999999}},
			{ID: "caio", Name: "Caio"},
		})
		require.NoError(t, err)

		require.Len(t, list, 2)
		assert.Equal(t, ledger.AccountHolderID("ana"), list[0].ID)
		assert.Equal(t, ledger.ProgramPoints{Latam: 10}, list[0].Confirmed, "balances are not replaced")
		assert.Equal(t, ledger.AccountHolderID("caio"), list[1].ID)
		assert.True(t, list[1].Confirmed.IsZero())
	})

	t.Run("rejects duplicates", func(t *testing.T) {
		_, err := f.svc.ReplaceHolders(ctx, []ledger.AccountHolder{{ID: "x"}, {ID: "x"}})
		assert.ErrorIs(t, err, ledger.ErrValidation)
	})
}

func TestDeleteHolder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, store.NewTxMemory())
	f.seedHolder(t, "ana", ledger.ProgramPoints{}, ledger.ProgramPoints{})
	f.seedHolder(t, "bia", ledger.ProgramPoints{}, ledger.ProgramPoints{})
	_, err := f.svc.Upsert(ctx, purchaseTx("tx-1", "ana", ledger.StatusPending, 1000, "0"), nil)
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.DeleteHolder(ctx, "ana"), ledger.ErrConflict)
	assert.ErrorIs(t, f.svc.DeleteHolder(ctx, "ghost"), ledger.ErrNotFound)
	require.NoError(t, f.svc.DeleteHolder(ctx, "bia"))

	_, err = f.svc.GetHolder(ctx, "bia")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestAdjust(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, store.NewTxMemory())
	f.seedHolder(t, "ana", ledger.ProgramPoints{}, ledger.ProgramPoints{Esfera: 400})

	// WHEN: pending points are promoted
	h, err := f.svc.Adjust(ctx, "ana", ledger.ProgramPoints{Esfera: 400}, ledger.ApplyPendingToConfirmed)
	require.NoError(t, err)

	// THEN: they moved buckets
	assert.Equal(t, ledger.ProgramPoints{Esfera: 400}, h.Confirmed)
	assert.True(t, h.Pending.IsZero())

	_, err = f.svc.Adjust(ctx, "ana", ledger.ProgramPoints{}, ledger.ApplyMode("sideways"))
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = f.svc.Adjust(ctx, "ghost", ledger.ProgramPoints{Latam: 1}, ledger.ApplyConfirmed)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}
