package ledger

// =============================================================================
// DELTA CALCULATOR
// =============================================================================

// CalculateDelta returns the signed per-program point movement of items.
//
// Membership and purchase items add their contribution to their own
// program, except that club membership credits add their raw points: they
// move real points into the club even though they are excluded from the
// CIA total. Transfers take PointsSpent out of the source club and add the
// bonus-inflated arriving points to the destination.
func CalculateDelta(items []LineItem) ProgramPoints {
	var d ProgramPoints
	for _, it := range items {
		switch it.Kind {
		case KindMembership:
			d.Add(it.Program, it.Points)
		case KindPurchase:
			d.Add(it.Program, it.Contribution())
		case KindTransfer:
			d.Add(it.SourceProgram, -it.PointsSpent)
			d.Add(it.Program, it.ArrivingPoints())
		}
	}
	return d
}

// ProjectedDelta recomputes the delta from an all-confirmed view of items.
func ProjectedDelta(items []LineItem) ProgramPoints {
	confirmed := make([]LineItem, len(items))
	for i, it := range items {
		it.Status = StatusConfirmed
		confirmed[i] = it
	}
	return CalculateDelta(confirmed)
}
