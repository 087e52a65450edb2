package domain

import "time"

// Opportunity is a detected cross-venue spread: buy at BuyVenue's ask, sell
// at SellVenue's bid. Opportunities are ephemeral -- they are recomputed on
// every detection cycle and must not be acted on past ExpiresAt, since
// detection-to-execution latency invalidates stale quotes.
type Opportunity struct {
	ID             string
	Instrument     Instrument
	BuyVenue       string
	SellVenue      string
	BuyPrice       float64 // best ask on BuyVenue
	SellPrice      float64 // best bid on SellVenue
	Size           float64 // executable size, already capped
	GrossSpreadUSD float64 // (SellPrice - BuyPrice) * Size
	EstFeeUSD      float64 // modeled venue fees for both legs
	EstSlippageUSD float64
	ExpectedPnLUSD float64 // gross net of fees and slippage
	DetectedAt     time.Time
	ExpiresAt      time.Time
}

// Expired reports whether the opportunity must no longer be acted on.
func (o Opportunity) Expired(now time.Time) bool {
	return !o.ExpiresAt.IsZero() && now.After(o.ExpiresAt)
}

// PairKey returns a deterministic identifier for the venue pair, used as the
// final tie-break when two pairs produce identical expected PnL.
func (o Opportunity) PairKey() string {
	return o.BuyVenue + ">" + o.SellVenue
}
