package ledger

// =============================================================================
// PROJECTION - What-if view of a holder after a transaction
// =============================================================================

// Projection shows what a set of items would do to a holder if every item
// were confirmed. Nothing is committed.
type Projection struct {
	AccountHolderID AccountHolderID `json:"account_holder_id"`
	Confirmed       ProgramPoints   `json:"confirmed"`
	Pending         ProgramPoints   `json:"pending"`
	Delta           ProgramPoints   `json:"delta"`
	Projected       ProgramPoints   `json:"projected"`

	// Shortfall is what the clamp hid: points the holder does not have.
	Shortfall ProgramPoints `json:"shortfall"`
}

// Project computes confirmed + pending + delta per program, clamped at 0.
func Project(h AccountHolder, items []LineItem) Projection {
	delta := ProjectedDelta(items)
	raw := h.Confirmed.Plus(h.Pending).Plus(delta)
	projected, _ := raw.clamped()

	var shortfall ProgramPoints
	for _, p := range Programs {
		if v := raw.Of(p); v < 0 {
			shortfall.Set(p, -v)
		}
	}

	return Projection{
		AccountHolderID: h.ID,
		Confirmed:       h.Confirmed,
		Pending:         h.Pending,
		Delta:           delta,
		Projected:       projected,
		Shortfall:       shortfall,
	}
}
