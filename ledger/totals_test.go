package ledger_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/points-engine/ledger"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func purchase(p ledger.Program, points int64, bonus string, status ledger.Status) ledger.LineItem {
	return ledger.LineItem{
		Kind:         ledger.KindPurchase,
		Status:       status,
		Program:      p,
		Points:       points,
		Cost:         decimal.Zero,
		BonusPercent: dec(bonus),
	}
}

func membership(p ledger.Program, points int64, status ledger.Status) ledger.LineItem {
	return ledger.LineItem{Kind: ledger.KindMembership, Status: status, Program: p, Points: points}
}

func transfer(from, to ledger.Program, spent, arriving int64, mode ledger.TransferMode, bonus string) ledger.LineItem {
	return ledger.LineItem{
		Kind:           ledger.KindTransfer,
		Status:         ledger.StatusConfirmed,
		SourceProgram:  from,
		Program:        to,
		TransferMode:   mode,
		PointsSpent:    spent,
		PointsArriving: arriving,
		BonusPercent:   dec(bonus),
	}
}

// =============================================================================
// TOTALS CALCULATOR
// =============================================================================

func TestTotals_PurchaseWithBonus(t *testing.T) {
	// GIVEN: a purchase of 90000 latam points at 80% bonus costing 3000
	item := purchase(ledger.ProgramLatam, 90000, "80", ledger.StatusConfirmed)
	item.Cost = dec("3000")

	// WHEN: totals are computed with a target margin of 20 per thousand
	tot := ledger.CalculateTotals([]ledger.LineItem{item}, decimal.Zero, dec("20"), nil, ledger.DefaultPricingParams())

	// THEN: the bonus inflates the points and the money follows the formulas
	assert.Equal(t, int64(162000), tot.TotalPoints)
	assert.Equal(t, int64(162000), tot.ConfirmedPoints)
	assert.Equal(t, int64(0), tot.PendingPoints)
	assert.True(t, dec("3000").Equal(tot.BaseCost), "base cost %s", tot.BaseCost)
	assert.True(t, dec("32.4").Equal(tot.VendorFee), "vendor fee %s", tot.VendorFee)
	assert.True(t, dec("3032.4").Equal(tot.TotalCost), "total cost %s", tot.TotalCost)
	assert.Equal(t, "18.72", tot.CostPerThousand.StringFixed(2))
	assert.True(t, dec("207.6").Equal(tot.Profit), "profit %s", tot.Profit)
}

func TestTotals_TransferWithBonus(t *testing.T) {
	// GIVEN: 90000 livelo points spent, 130000 arriving at smiles, 70% bonus
	item := transfer(ledger.ProgramLivelo, ledger.ProgramSmiles, 90000, 130000, ledger.TransferPointsPlusCash, "70")

	tot := ledger.CalculateTotals([]ledger.LineItem{item}, decimal.Zero, decimal.Zero, nil, ledger.DefaultPricingParams())

	// THEN: 221000 points count toward the total
	assert.Equal(t, int64(221000), tot.TotalPoints)
}

func TestTotals_ClubMembershipExcludedFromTotal(t *testing.T) {
	items := []ledger.LineItem{
		membership(ledger.ProgramLivelo, 10000, ledger.StatusConfirmed),
		membership(ledger.ProgramSmiles, 2000, ledger.StatusPending),
	}

	tot := ledger.CalculateTotals(items, dec("50"), dec("20"), []decimal.Decimal{dec("10")}, ledger.DefaultPricingParams())

	assert.Equal(t, int64(2000), tot.TotalPoints, "club membership credit must not count")
	assert.Equal(t, int64(0), tot.ConfirmedPoints)
	assert.Equal(t, int64(2000), tot.PendingPoints)
	assert.True(t, dec("50").Equal(tot.BaseCost))
	// 0.01 x (2 x 20) = 0.4
	assert.True(t, dec("60.4").Equal(tot.TotalCost), "total cost %s", tot.TotalCost)
}

func TestTotals_ZeroPointsHasZeroRatios(t *testing.T) {
	tot := ledger.CalculateTotals(nil, dec("100"), dec("20"), nil, ledger.DefaultPricingParams())

	assert.Equal(t, int64(0), tot.TotalPoints)
	assert.True(t, tot.CostPerThousand.IsZero())
	assert.True(t, tot.Profit.IsZero())
	assert.True(t, dec("100").Equal(tot.TotalCost))
}

func TestTotals_BonusRoundsHalfAwayFromZero(t *testing.T) {
	// 3 x 1.5 = 4.5 -> 5
	item := purchase(ledger.ProgramLatam, 3, "50", ledger.StatusConfirmed)
	assert.Equal(t, int64(5), item.Contribution())
}

func TestSuggestedMargin(t *testing.T) {
	got := ledger.SuggestedMargin(dec("18.72"), ledger.DefaultMarkup)
	assert.True(t, dec("20.22").Equal(got))
}

// =============================================================================
// DELTA CALCULATOR
// =============================================================================

func TestDelta_PurchaseCreditsItsProgram(t *testing.T) {
	d := ledger.CalculateDelta([]ledger.LineItem{purchase(ledger.ProgramLatam, 90000, "80", ledger.StatusPending)})
	assert.Equal(t, ledger.ProgramPoints{Latam: 162000}, d)
}

func TestDelta_TransferDebitsSourceAndCreditsDestination(t *testing.T) {
	d := ledger.CalculateDelta([]ledger.LineItem{
		transfer(ledger.ProgramLivelo, ledger.ProgramSmiles, 90000, 130000, ledger.TransferPointsPlusCash, "70"),
	})
	assert.Equal(t, ledger.ProgramPoints{Smiles: 221000, Livelo: -90000}, d)
}

func TestDelta_PointsOnlyTransferDefaultsArrivingToSpent(t *testing.T) {
	d := ledger.CalculateDelta([]ledger.LineItem{
		transfer(ledger.ProgramEsfera, ledger.ProgramLatam, 10000, 0, ledger.TransferPointsOnly, "100"),
	})
	assert.Equal(t, ledger.ProgramPoints{Latam: 20000, Esfera: -10000}, d)
}

func TestDelta_ClubMembershipStillMovesPoints(t *testing.T) {
	d := ledger.CalculateDelta([]ledger.LineItem{membership(ledger.ProgramEsfera, 10000, ledger.StatusConfirmed)})
	assert.Equal(t, ledger.ProgramPoints{Esfera: 10000}, d)
}

// =============================================================================
// PROJECTION
// =============================================================================

func TestProject_ClampsAndReportsShortfall(t *testing.T) {
	h := ledger.AccountHolder{
		ID:        "ana",
		Confirmed: ledger.ProgramPoints{Livelo: 50000},
		Pending:   ledger.ProgramPoints{Livelo: 10000},
	}
	items := []ledger.LineItem{
		transfer(ledger.ProgramLivelo, ledger.ProgramSmiles, 90000, 90000, ledger.TransferPointsOnly, "0"),
	}

	p := ledger.Project(h, items)

	require.Equal(t, ledger.ProgramPoints{Smiles: 90000, Livelo: -90000}, p.Delta)
	assert.Equal(t, ledger.ProgramPoints{Smiles: 90000}, p.Projected)
	assert.Equal(t, ledger.ProgramPoints{Livelo: 30000}, p.Shortfall)
	assert.Equal(t, h.Confirmed, p.Confirmed, "projection must not mutate the holder")
}
