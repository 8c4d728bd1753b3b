package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/points-engine/ledger"
)

type clampLog struct {
	ops     []string
	dropped int64
}

func (c *clampLog) observe(op string, _ ledger.AccountHolderID, dropped int64) {
	c.ops = append(c.ops, op)
	c.dropped += dropped
}

func tableWith(holders ...ledger.AccountHolder) (*ledger.HolderTable, *clampLog) {
	log := &clampLog{}
	t := ledger.NewHolderTable()
	t.OnClamp = log.observe
	for _, h := range holders {
		t.Put(h)
	}
	return t, log
}

func holder(id string, confirmed, pending ledger.ProgramPoints) ledger.AccountHolder {
	return ledger.AccountHolder{ID: ledger.AccountHolderID(id), Name: id, Confirmed: confirmed, Pending: pending}
}

// =============================================================================
// APPLY
// =============================================================================

func TestApply_Modes(t *testing.T) {
	tests := []struct {
		name          string
		mode          ledger.ApplyMode
		wantConfirmed ledger.ProgramPoints
		wantPending   ledger.ProgramPoints
	}{
		{"confirmed", ledger.ApplyConfirmed, ledger.ProgramPoints{Latam: 1500}, ledger.ProgramPoints{Latam: 2000}},
		{"pending", ledger.ApplyPending, ledger.ProgramPoints{Latam: 1000}, ledger.ProgramPoints{Latam: 2500}},
		{"pendingToConfirmed", ledger.ApplyPendingToConfirmed, ledger.ProgramPoints{Latam: 1500}, ledger.ProgramPoints{Latam: 1500}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, _ := tableWith(holder("ana", ledger.ProgramPoints{Latam: 1000}, ledger.ProgramPoints{Latam: 2000}))

			require.NoError(t, table.Apply("ana", ledger.ProgramPoints{Latam: 500}, tt.mode))

			h, err := table.Get("ana")
			require.NoError(t, err)
			assert.Equal(t, tt.wantConfirmed, h.Confirmed)
			assert.Equal(t, tt.wantPending, h.Pending)
		})
	}
}

func TestApply_ClampsAtZeroAndReports(t *testing.T) {
	// GIVEN: 10 confirmed latam points
	table, log := tableWith(holder("ana", ledger.ProgramPoints{Latam: 10}, ledger.ProgramPoints{}))

	// WHEN: 50 points are taken
	require.NoError(t, table.Apply("ana", ledger.ProgramPoints{Latam: -50}, ledger.ApplyConfirmed))

	// THEN: the bucket stops at zero and the loss is reported
	h, _ := table.Get("ana")
	assert.Equal(t, int64(0), h.Confirmed.Latam)
	assert.Equal(t, int64(40), log.dropped)
	assert.Equal(t, []string{"apply"}, log.ops)
}

func TestApply_UnknownHolder(t *testing.T) {
	table, _ := tableWith()
	err := table.Apply("nobody", ledger.ProgramPoints{Latam: 1}, ledger.ApplyConfirmed)
	assert.True(t, ledger.IsNotFound(err))
}

func TestApply_UnknownMode(t *testing.T) {
	table, _ := tableWith(holder("ana", ledger.ProgramPoints{}, ledger.ProgramPoints{}))
	err := table.Apply("ana", ledger.ProgramPoints{Latam: 1}, "sideways")
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

// =============================================================================
// CAPPED REVERSAL
// =============================================================================

func TestSplitAndApplyRevert_CapsAtAvailable(t *testing.T) {
	// GIVEN: 500 confirmed and 100 pending latam points
	table, log := tableWith(holder("ana", ledger.ProgramPoints{Latam: 500}, ledger.ProgramPoints{Latam: 100}))

	// WHEN: 700 points are reverted, confirmed first
	require.NoError(t, table.SplitAndApplyRevert("ana", ledger.ProgramPoints{Latam: -700}, ledger.BucketConfirmed))

	// THEN: both buckets drain to zero and the missing 100 are dropped
	h, _ := table.Get("ana")
	assert.Equal(t, int64(0), h.Confirmed.Latam)
	assert.Equal(t, int64(0), h.Pending.Latam)
	assert.Equal(t, int64(100), log.dropped)
}

func TestSplitAndApplyRevert_PriorityBucketFirst(t *testing.T) {
	table, _ := tableWith(holder("ana", ledger.ProgramPoints{Smiles: 500}, ledger.ProgramPoints{Smiles: 300}))

	require.NoError(t, table.SplitAndApplyRevert("ana", ledger.ProgramPoints{Smiles: -400}, ledger.BucketPending))

	h, _ := table.Get("ana")
	assert.Equal(t, int64(400), h.Confirmed.Smiles, "remainder spills to confirmed")
	assert.Equal(t, int64(0), h.Pending.Smiles)
}

func TestSplitAndApplyRevert_PositiveGoesToPriority(t *testing.T) {
	// Reverting a transfer gives the spent club points back.
	table, _ := tableWith(holder("ana", ledger.ProgramPoints{Smiles: 221000}, ledger.ProgramPoints{}))

	inverse := ledger.ProgramPoints{Smiles: 221000, Livelo: -90000}.Neg()
	require.NoError(t, table.SplitAndApplyRevert("ana", inverse, ledger.BucketConfirmed))

	h, _ := table.Get("ana")
	assert.Equal(t, ledger.ProgramPoints{Livelo: 90000}, h.Confirmed)
}

// =============================================================================
// CAPPED MOVE
// =============================================================================

func TestMove_ConservesTotal(t *testing.T) {
	// GIVEN: a pending purchase of 300 latam points already applied
	table, _ := tableWith(holder("ana", ledger.ProgramPoints{Latam: 100}, ledger.ProgramPoints{Latam: 1000}))
	delta := ledger.ProgramPoints{Latam: 300}

	// WHEN: it is confirmed and then set back to pending
	require.NoError(t, table.Move("ana", delta, ledger.BucketPending, ledger.BucketConfirmed))
	h, _ := table.Get("ana")
	assert.Equal(t, int64(400), h.Confirmed.Latam)
	assert.Equal(t, int64(700), h.Pending.Latam)

	require.NoError(t, table.Move("ana", delta, ledger.BucketConfirmed, ledger.BucketPending))

	// THEN: the holder is back where it started
	h, _ = table.Get("ana")
	assert.Equal(t, int64(100), h.Confirmed.Latam)
	assert.Equal(t, int64(1000), h.Pending.Latam)
}

func TestMove_NegativeComponentsMoveBack(t *testing.T) {
	// A confirmed transfer debited livelo; moving it to pending moves the
	// debit too, so livelo points flow from pending back to confirmed.
	table, _ := tableWith(holder("ana", ledger.ProgramPoints{Smiles: 221000, Livelo: 10000}, ledger.ProgramPoints{Livelo: 5000}))
	delta := ledger.ProgramPoints{Smiles: 221000, Livelo: -90000}

	require.NoError(t, table.Move("ana", delta, ledger.BucketConfirmed, ledger.BucketPending))

	h, _ := table.Get("ana")
	assert.Equal(t, ledger.ProgramPoints{Livelo: 15000}, h.Confirmed)
	assert.Equal(t, ledger.ProgramPoints{Smiles: 221000}, h.Pending)
	assert.Equal(t, int64(236000), h.Confirmed.Sum()+h.Pending.Sum())
}

func TestMove_CappedBySource(t *testing.T) {
	table, log := tableWith(holder("ana", ledger.ProgramPoints{}, ledger.ProgramPoints{Esfera: 50}))

	require.NoError(t, table.Move("ana", ledger.ProgramPoints{Esfera: 100}, ledger.BucketPending, ledger.BucketConfirmed))

	h, _ := table.Get("ana")
	assert.Equal(t, int64(50), h.Confirmed.Esfera)
	assert.Equal(t, int64(0), h.Pending.Esfera)
	assert.Equal(t, int64(50), log.dropped)
}

func TestMove_SameBucketRejected(t *testing.T) {
	table, _ := tableWith(holder("ana", ledger.ProgramPoints{}, ledger.ProgramPoints{}))
	err := table.Move("ana", ledger.ProgramPoints{Latam: 1}, ledger.BucketPending, ledger.BucketPending)
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestHolderTable_TouchedTracksModifiedHolders(t *testing.T) {
	table, _ := tableWith(
		holder("ana", ledger.ProgramPoints{Latam: 10}, ledger.ProgramPoints{}),
		holder("bia", ledger.ProgramPoints{}, ledger.ProgramPoints{}),
	)
	assert.Len(t, table.Touched(), 2)
	assert.Equal(t, ledger.AccountHolderID("ana"), table.List()[0].ID)
}
