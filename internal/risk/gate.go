// Package risk gates detected opportunities before execution: exclusivity
// lease per instrument, expiry, exposure limits, and a global cooldown.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/arbcore/internal/domain"
)

// Config holds the tunable parameters for the risk gate.
type Config struct {
	// MaxVenueExposure caps the absolute post-trade quantity per
	// (venue, instrument).
	MaxVenueExposure float64
	// MaxInstrumentExposure caps the summed absolute post-trade quantity
	// across both venues of the attempt.
	MaxInstrumentExposure float64
	// Cooldown is the minimum interval between admitted executions,
	// globally. It prevents runaway repeated execution on a noisy signal.
	Cooldown time.Duration
	// LeaseTTL bounds how long an instrument stays blocked if a release is
	// lost to a crash; it should comfortably exceed the attempt timeout.
	LeaseTTL time.Duration
}

// InventoryView is the read side of the reconciliation ledger's inventory.
type InventoryView interface {
	Position(venueID string, inst domain.Instrument) float64
}

// Gate admits or rejects opportunities. Admission atomically acquires the
// instrument's exclusivity lease; the returned release function must be
// invoked exactly once when the resulting attempt reaches a terminal state.
type Gate struct {
	leases  domain.LeaseManager
	inv     InventoryView
	limiter *rate.Limiter
	cfg     Config
	logger  *slog.Logger
}

// NewGate creates a Gate with all required dependencies.
func NewGate(leases domain.LeaseManager, inv InventoryView, cfg Config, logger *slog.Logger) *Gate {
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 30 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.Cooldown > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.Cooldown), 1)
	}
	return &Gate{
		leases:  leases,
		inv:     inv,
		limiter: limiter,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "risk_gate")),
	}
}

// Admit validates an opportunity. On acceptance it returns the lease release
// function; on rejection it returns a sentinel error and leaves no lease
// held.
//
// Checks, in order:
//  1. Instrument not already under an active attempt (lease).
//  2. Opportunity not expired.
//  3. Post-trade inventory within per-venue and per-instrument limits.
//  4. Global cooldown.
func (g *Gate) Admit(ctx context.Context, opp domain.Opportunity) (func(), error) {
	release, err := g.leases.Acquire(ctx, string(opp.Instrument), g.cfg.LeaseTTL)
	if err != nil {
		return nil, fmt.Errorf("risk: admit %s: %w", opp.Instrument, err)
	}

	if opp.Expired(time.Now().UTC()) {
		release()
		return nil, fmt.Errorf("risk: admit %s: %w", opp.Instrument, domain.ErrOpportunityExpired)
	}

	if err := g.checkExposure(opp); err != nil {
		release()
		return nil, err
	}

	if !g.limiter.Allow() {
		release()
		return nil, fmt.Errorf("risk: admit %s: %w", opp.Instrument, domain.ErrCooldown)
	}

	g.logger.InfoContext(ctx, "opportunity admitted",
		slog.String("opp_id", opp.ID),
		slog.String("instrument", string(opp.Instrument)),
		slog.String("buy_venue", opp.BuyVenue),
		slog.String("sell_venue", opp.SellVenue),
		slog.Float64("size", opp.Size),
		slog.Float64("expected_pnl_usd", opp.ExpectedPnLUSD),
	)
	return release, nil
}

func (g *Gate) checkExposure(opp domain.Opportunity) error {
	buyPos := g.inv.Position(opp.BuyVenue, opp.Instrument) + opp.Size
	sellPos := g.inv.Position(opp.SellVenue, opp.Instrument) - opp.Size

	if g.cfg.MaxVenueExposure > 0 {
		if math.Abs(buyPos) > g.cfg.MaxVenueExposure || math.Abs(sellPos) > g.cfg.MaxVenueExposure {
			return fmt.Errorf("risk: venue exposure %.4f/%.4f over limit %.4f: %w",
				buyPos, sellPos, g.cfg.MaxVenueExposure, domain.ErrExposureLimit)
		}
	}
	if g.cfg.MaxInstrumentExposure > 0 {
		gross := math.Abs(buyPos) + math.Abs(sellPos)
		if gross > g.cfg.MaxInstrumentExposure {
			return fmt.Errorf("risk: instrument exposure %.4f over limit %.4f: %w",
				gross, g.cfg.MaxInstrumentExposure, domain.ErrExposureLimit)
		}
	}
	return nil
}
