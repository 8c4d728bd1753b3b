/*
totals.go - Totals Calculator

PURPOSE:
  Turns a list of line items plus a cash commission, a target margin and
  flat extra costs into the aggregate figures the business prices with:
  points, cost, cost per thousand points (milheiro) and profit.

CIA-COUNTED CONTRIBUTION:
  membership: points if the program is CIA, otherwise 0
  purchase:   points x (1 + bonus/100) if CIA, otherwise raw points
  transfer:   arriving x (1 + bonus/100), always (destination is CIA)

FORMULAS:
  BaseCost        = sum(item cost) + commission
  VendorFee       = VendorFeeRate x (TotalPoints/1000 x TargetMargin)
  TotalCost       = BaseCost + VendorFee + sum(extra costs)
  CostPerThousand = TotalCost / (TotalPoints/1000)      (0 if no points)
  Profit          = TotalPoints/1000 x TargetMargin - TotalCost (0 if no points)

SEE ALSO:
  - delta.go: per-program movement of the same items
*/
package ledger

import "github.com/shopspring/decimal"

// =============================================================================
// PARAMETERS
// =============================================================================

var (
	// DefaultVendorFeeRate models the sales staff commission (1%).
	DefaultVendorFeeRate = decimal.RequireFromString("0.01")

	// DefaultMarkup is added to the cost per thousand to suggest a margin.
	DefaultMarkup = decimal.RequireFromString("1.50")

	thousand = decimal.NewFromInt(1000)
	hundred  = decimal.NewFromInt(100)
)

// PricingParams are the business constants of the calculator.
type PricingParams struct {
	VendorFeeRate decimal.Decimal
	Markup        decimal.Decimal
}

func DefaultPricingParams() PricingParams {
	return PricingParams{VendorFeeRate: DefaultVendorFeeRate, Markup: DefaultMarkup}
}

// =============================================================================
// TOTALS
// =============================================================================

// Totals is the output of CalculateTotals. It is cached on the transaction.
type Totals struct {
	TotalPoints     int64           `json:"total_points"`
	ConfirmedPoints int64           `json:"confirmed_points"`
	PendingPoints   int64           `json:"pending_points"`
	BaseCost        decimal.Decimal `json:"base_cost"`
	VendorFee       decimal.Decimal `json:"vendor_fee"`
	TotalCost       decimal.Decimal `json:"total_cost"`
	CostPerThousand decimal.Decimal `json:"cost_per_thousand"`
	Profit          decimal.Decimal `json:"profit"`
}

// inflate applies a bonus percentage, rounding half away from zero.
func inflate(points int64, bonusPercent decimal.Decimal) int64 {
	factor := decimal.NewFromInt(1).Add(bonusPercent.Div(hundred))
	return decimal.NewFromInt(points).Mul(factor).Round(0).IntPart()
}

// ArrivingPoints is what a transfer item delivers to its destination.
func (li LineItem) ArrivingPoints() int64 {
	return inflate(li.arrivingBeforeBonus(), li.BonusPercent)
}

// Contribution returns the points the item adds to a transaction's CIA total.
func (li LineItem) Contribution() int64 {
	switch li.Kind {
	case KindMembership:
		if li.Program.IsCIA() {
			return li.Points
		}
		return 0
	case KindPurchase:
		if li.Program.IsCIA() {
			return inflate(li.Points, li.BonusPercent)
		}
		return li.Points
	case KindTransfer:
		return li.ArrivingPoints()
	}
	return 0
}

// CalculateTotals computes the aggregate figures for items.
func CalculateTotals(items []LineItem, commission, targetMargin decimal.Decimal, extraCosts []decimal.Decimal, params PricingParams) Totals {
	var t Totals

	baseCost := commission
	for _, it := range items {
		c := it.Contribution()
		t.TotalPoints += c
		if it.Status == StatusConfirmed {
			t.ConfirmedPoints += c
		} else {
			t.PendingPoints += c
		}
		baseCost = baseCost.Add(it.Cost)
	}

	thousands := decimal.NewFromInt(t.TotalPoints).Div(thousand)
	pointsValue := thousands.Mul(targetMargin)

	t.BaseCost = baseCost
	t.VendorFee = params.VendorFeeRate.Mul(pointsValue)
	t.TotalCost = baseCost.Add(t.VendorFee)
	for _, extra := range extraCosts {
		t.TotalCost = t.TotalCost.Add(extra)
	}

	if t.TotalPoints == 0 {
		t.CostPerThousand = decimal.Zero
		t.Profit = decimal.Zero
		return t
	}
	t.CostPerThousand = t.TotalCost.Div(thousands)
	t.Profit = pointsValue.Sub(t.TotalCost)
	return t
}

// TotalsFor computes the totals of a stored transaction.
func TotalsFor(tx Transaction, params PricingParams) Totals {
	return CalculateTotals(tx.Items, tx.Commission, tx.TargetMargin, tx.ExtraCosts, params)
}

// SuggestedMargin is the UI suggestion used when no target margin is given.
func SuggestedMargin(costPerThousand, markup decimal.Decimal) decimal.Decimal {
	return costPerThousand.Add(markup)
}
