// Package detector evaluates cross-venue spreads from the market state store
// and emits opportunities that clear the profitability threshold.
package detector

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/arbcore/internal/domain"
	"github.com/alanyoungcy/arbcore/internal/marketstate"
)

// Config holds the tunable parameters for opportunity detection.
type Config struct {
	MinProfitUSD    float64
	MaxPositionSize float64
	SlippageBps     float64            // modeled slippage across both legs
	VenueFeeBps     map[string]float64 // taker fee per venue, in bps
	VenueLatency    map[string]int     // latency rank per venue, lower is faster
	Debounce        time.Duration
	Expiry          time.Duration
}

// Detector is a single-threaded decision loop: it drains change
// notifications from the store, coalesces them over the debounce window, and
// re-evaluates each dirty instrument exactly once per cycle. Running
// detection on one goroutine keeps it deterministic and avoids racing
// itself.
type Detector struct {
	store  *marketstate.Store
	cfg    Config
	out    chan<- domain.Opportunity
	logger *slog.Logger
}

// New creates a Detector that emits accepted opportunities to out.
func New(store *marketstate.Store, cfg Config, out chan<- domain.Opportunity, logger *slog.Logger) *Detector {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 50 * time.Millisecond
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = 1500 * time.Millisecond
	}
	return &Detector{
		store:  store,
		cfg:    cfg,
		out:    out,
		logger: logger.With(slog.String("component", "detector")),
	}
}

// Run blocks until ctx is cancelled. Instruments touched by store updates
// are collected into a dirty set and evaluated once per debounce tick, so a
// burst of micro-updates costs one evaluation.
func (d *Detector) Run(ctx context.Context) error {
	d.logger.Info("detector started",
		slog.Float64("min_profit_usd", d.cfg.MinProfitUSD),
		slog.Duration("debounce", d.cfg.Debounce),
	)
	defer d.logger.Info("detector stopped")

	dirty := make(map[domain.Instrument]struct{})
	tick := time.NewTicker(d.cfg.Debounce)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case inst, ok := <-d.store.Updates():
			if !ok {
				return nil
			}
			dirty[inst] = struct{}{}

		case <-tick.C:
			for inst := range dirty {
				delete(dirty, inst)
				opp, ok := d.Evaluate(inst, time.Now().UTC())
				if !ok {
					continue
				}
				select {
				case d.out <- opp:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

// Evaluate scans all venue pairs for the instrument and returns the single
// best opportunity clearing the minimum profit threshold. Tie-break when two
// pairs produce the same expected PnL: the lower combined venue latency rank
// wins, then the lexically smaller pair key, so detection is reproducible.
func (d *Detector) Evaluate(inst domain.Instrument, now time.Time) (domain.Opportunity, bool) {
	snap := d.store.Snapshot(inst)
	if len(snap) < 2 {
		return domain.Opportunity{}, false
	}

	var best domain.Opportunity
	found := false
	for buyVenue, buyQ := range snap {
		if !buyQ.HasAsk() {
			continue
		}
		for sellVenue, sellQ := range snap {
			if sellVenue == buyVenue || !sellQ.HasBid() {
				continue
			}
			if sellQ.BidPrice <= buyQ.AskPrice {
				continue
			}
			opp, ok := d.price(inst, buyVenue, sellVenue, buyQ, sellQ, now)
			if !ok {
				continue
			}
			if !found || d.better(opp, best) {
				best = opp
				found = true
			}
		}
	}
	if !found {
		return domain.Opportunity{}, false
	}

	d.logger.Debug("opportunity detected",
		slog.String("instrument", string(inst)),
		slog.String("buy_venue", best.BuyVenue),
		slog.String("sell_venue", best.SellVenue),
		slog.Float64("expected_pnl_usd", best.ExpectedPnLUSD),
	)
	return best, true
}

// price builds a candidate opportunity for one venue pair and verifies it
// nets out above the profit threshold after modeled fees and slippage.
func (d *Detector) price(
	inst domain.Instrument,
	buyVenue, sellVenue string,
	buyQ, sellQ domain.VenueQuote,
	now time.Time,
) (domain.Opportunity, bool) {
	size := buyQ.AskSize
	if sellQ.BidSize < size {
		size = sellQ.BidSize
	}
	if d.cfg.MaxPositionSize > 0 && size > d.cfg.MaxPositionSize {
		size = d.cfg.MaxPositionSize
	}
	if size <= 0 {
		return domain.Opportunity{}, false
	}

	gross := (sellQ.BidPrice - buyQ.AskPrice) * size
	fees := (d.cfg.VenueFeeBps[buyVenue]*buyQ.AskPrice + d.cfg.VenueFeeBps[sellVenue]*sellQ.BidPrice) * size / 10_000
	mid := (buyQ.AskPrice + sellQ.BidPrice) / 2
	slippage := d.cfg.SlippageBps * mid * size / 10_000

	net := gross - fees - slippage
	if net <= d.cfg.MinProfitUSD {
		return domain.Opportunity{}, false
	}

	return domain.Opportunity{
		ID:             uuid.New().String(),
		Instrument:     inst,
		BuyVenue:       buyVenue,
		SellVenue:      sellVenue,
		BuyPrice:       buyQ.AskPrice,
		SellPrice:      sellQ.BidPrice,
		Size:           size,
		GrossSpreadUSD: gross,
		EstFeeUSD:      fees,
		EstSlippageUSD: slippage,
		ExpectedPnLUSD: net,
		DetectedAt:     now,
		ExpiresAt:      now.Add(d.cfg.Expiry),
	}, true
}

// better reports whether a should replace b as the instrument's best pair.
func (d *Detector) better(a, b domain.Opportunity) bool {
	if a.ExpectedPnLUSD != b.ExpectedPnLUSD {
		return a.ExpectedPnLUSD > b.ExpectedPnLUSD
	}
	la := d.cfg.VenueLatency[a.BuyVenue] + d.cfg.VenueLatency[a.SellVenue]
	lb := d.cfg.VenueLatency[b.BuyVenue] + d.cfg.VenueLatency[b.SellVenue]
	if la != lb {
		return la < lb
	}
	return a.PairKey() < b.PairKey()
}
