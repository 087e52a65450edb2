package domain

// InventoryPosition is the net quantity held at one venue for one
// instrument. Positions are mutated only by the reconciliation ledger upon
// confirmed fills and read by the risk gate for exposure checks.
type InventoryPosition struct {
	VenueID    string
	Instrument Instrument
	Quantity   float64 // positive long, negative short
}

// PositionKey builds the ledger's map key for a (venue, instrument) cell.
func PositionKey(venueID string, inst Instrument) string {
	return venueID + "|" + string(inst)
}
