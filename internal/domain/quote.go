package domain

import "time"

// VenueQuote is the latest top-of-book state for one (venue, instrument).
// Sequence is monotonically increasing per venue stream; the market state
// store drops any quote whose sequence does not advance.
type VenueQuote struct {
	VenueID    string
	Instrument Instrument
	BidPrice   float64
	BidSize    float64
	AskPrice   float64
	AskSize    float64
	ObservedAt time.Time
	Sequence   uint64
}

// HasBid reports whether the quote carries a usable bid side.
func (q VenueQuote) HasBid() bool { return q.BidPrice > 0 && q.BidSize > 0 }

// HasAsk reports whether the quote carries a usable ask side.
func (q VenueQuote) HasAsk() bool { return q.AskPrice > 0 && q.AskSize > 0 }
