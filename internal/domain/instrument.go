// Package domain defines the core data model for the arbitrage engine:
// instruments, venue quotes, opportunities, orders, execution attempts, and
// the abstract venue/ledger contracts the engine is polymorphic over.
package domain

// Instrument is the canonical symbol for a tradable pair, e.g. "BTC-USDT".
// Instruments are immutable identifiers; all cross-venue matching is done on
// the canonical symbol, so venue adapters must normalize their native symbols
// before quotes reach the core.
type Instrument string

// String returns the canonical symbol.
func (i Instrument) String() string { return string(i) }
