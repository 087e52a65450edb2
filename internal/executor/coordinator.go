// Package executor drives the execution state machine for admitted
// opportunities: it places correlated orders on two venues, tracks fills,
// and resolves every attempt to a terminal outcome, unwinding one-sided
// exposure when a leg fails.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbcore/internal/domain"
	"github.com/alanyoungcy/arbcore/internal/ledger"
)

// Config holds the tunable parameters for execution.
type Config struct {
	// AttemptTimeout bounds AwaitingFills; past it, non-terminal legs get a
	// best-effort cancel and the attempt settles on whatever is known.
	AttemptTimeout time.Duration
	// UnwindTimeout bounds the unwind order's fill wait.
	UnwindTimeout time.Duration
	// FillToleranceBps is the allowed size mismatch between the two legs,
	// in bps of the opportunity size, before exposure must be unwound.
	FillToleranceBps float64
	// SequentialLegs submits the buy leg before the sell leg, for venues
	// that require inventory before selling. Off by default: both legs are
	// submitted concurrently to minimize latency skew.
	SequentialLegs bool
	// VenueFeeBps models fees for venues that do not report them per fill.
	VenueFeeBps map[string]float64
}

// Coordinator owns execution attempts. Attempts for different instruments
// run fully in parallel; within one attempt the legs' fill-tracking is
// joined before settling.
type Coordinator struct {
	executors map[string]domain.VenueExecutor
	ledger    *ledger.Ledger
	router    *fillRouter
	cfg       Config
	logger    *slog.Logger
}

// New creates a Coordinator over the given venue executors, keyed by venue ID.
func New(executors map[string]domain.VenueExecutor, led *ledger.Ledger, cfg Config, logger *slog.Logger) *Coordinator {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 5 * time.Second
	}
	if cfg.UnwindTimeout <= 0 {
		cfg.UnwindTimeout = 5 * time.Second
	}
	if cfg.FillToleranceBps <= 0 {
		cfg.FillToleranceBps = 50
	}
	return &Coordinator{
		executors: executors,
		ledger:    led,
		router:    newFillRouter(),
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "execution_coordinator")),
	}
}

// Run starts one router goroutine per venue update stream and blocks until
// ctx is cancelled. It must be running before Execute is called.
func (c *Coordinator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, ex := range c.executors {
		updates := ex.Updates()
		g.Go(func() error {
			return c.router.run(ctx, updates)
		})
	}
	return g.Wait()
}

// Execute drives one admitted opportunity through the full state machine.
// release is the risk gate's lease release; it is called on every terminal
// path except an escalated failure, where the lease is deliberately kept so
// the instrument stays blocked until the attempt is resolved.
func (c *Coordinator) Execute(ctx context.Context, opp domain.Opportunity, release func()) (domain.ExecutionAttempt, error) {
	att := &domain.ExecutionAttempt{
		ID:          uuid.New().String(),
		Opportunity: opp,
		StartedAt:   time.Now().UTC(),
	}
	log := c.logger.With(
		slog.String("attempt_id", att.ID),
		slog.String("instrument", string(opp.Instrument)),
	)

	// Planning: build the two correlated legs.
	if err := c.ledger.Transition(ctx, att, domain.AttemptStatePlanning, map[string]any{
		"opp_id":     opp.ID,
		"buy_venue":  opp.BuyVenue,
		"sell_venue": opp.SellVenue,
		"size":       opp.Size,
	}); err != nil {
		release()
		return *att, err
	}
	now := time.Now().UTC()
	att.Orders = []domain.Order{
		{
			ID:         uuid.New().String(),
			VenueID:    opp.BuyVenue,
			Instrument: opp.Instrument,
			Side:       domain.OrderSideBuy,
			PriceTicks: domain.ToTicks(opp.BuyPrice),
			SizeUnits:  domain.ToTicks(opp.Size),
			Status:     domain.OrderStatusPending,
			CreatedAt:  now,
		},
		{
			ID:         uuid.New().String(),
			VenueID:    opp.SellVenue,
			Instrument: opp.Instrument,
			Side:       domain.OrderSideSell,
			PriceTicks: domain.ToTicks(opp.SellPrice),
			SizeUnits:  domain.ToTicks(opp.Size),
			Status:     domain.OrderStatusPending,
			CreatedAt:  now,
		},
	}

	// Register waiters before placing so no fill notification is missed.
	buyCh := c.router.register(att.BuyLeg().ID)
	sellCh := c.router.register(att.SellLeg().ID)
	defer c.router.unregister(att.BuyLeg().ID)
	defer c.router.unregister(att.SellLeg().ID)

	// Placing.
	if err := c.ledger.Transition(ctx, att, domain.AttemptStatePlacing, map[string]any{
		"buy_order_id":  att.BuyLeg().ID,
		"sell_order_id": att.SellLeg().ID,
		"sequential":    c.cfg.SequentialLegs,
	}); err != nil {
		release()
		return *att, err
	}
	c.placeLegs(ctx, att, log)

	// From here the venues may hold live orders. Ledger writes and settlement
	// must land even when the run context is cancelled mid-attempt; only the
	// fill wait itself stays cancellable.
	sctx := context.WithoutCancel(ctx)

	// AwaitingFills: join both legs before settling.
	if err := c.ledger.Transition(sctx, att, domain.AttemptStateAwaitingFills, legStatuses(att)); err != nil {
		release()
		return *att, err
	}
	unresponsive := c.awaitFills(ctx, att, buyCh, sellCh, log)

	// Confirmed fills mutate inventory before settling decides the outcome.
	for _, o := range att.Orders {
		c.ledger.ApplyFill(o.VenueID, o.Instrument, o.Side, o.FilledSize)
	}

	detail := legStatuses(att)
	if len(unresponsive) > 0 {
		detail["unresponsive_venues"] = unresponsive
	}
	if err := c.ledger.Transition(sctx, att, domain.AttemptStateSettling, detail); err != nil {
		release()
		return *att, err
	}

	if err := c.settle(sctx, att, unresponsive, log); err != nil {
		release()
		return *att, err
	}

	if att.Outcome.Escalated {
		// The lease stays held: the instrument is blocked until recovery or
		// an operator resolves the attempt. This must be loud.
		log.Error("attempt requires manual intervention, lease kept",
			slog.String("state", string(att.State)),
			slog.String("detail", att.Outcome.Detail),
		)
	} else {
		release()
	}
	return *att, nil
}

// placeLegs submits both orders, concurrently unless SequentialLegs is set.
// A placement error or an unaccepted ack marks that leg rejected; the state
// machine continues so the other leg is still tracked and settled.
func (c *Coordinator) placeLegs(ctx context.Context, att *domain.ExecutionAttempt, log *slog.Logger) {
	legs := []*domain.Order{att.BuyLeg(), att.SellLeg()}
	if c.cfg.SequentialLegs {
		for _, o := range legs {
			c.placeOne(ctx, o, log)
		}
		return
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, o := range legs {
		g.Go(func() error {
			c.placeOne(ctx, o, log)
			return nil
		})
	}
	_ = g.Wait()
}

func (c *Coordinator) placeOne(ctx context.Context, o *domain.Order, log *slog.Logger) {
	ex, ok := c.executors[o.VenueID]
	if !ok {
		o.Status = domain.OrderStatusRejected
		log.Error("no executor for venue", slog.String("venue", o.VenueID))
		return
	}
	ack, err := ex.Place(ctx, *o)
	o.UpdatedAt = time.Now().UTC()
	if err != nil {
		o.Status = domain.OrderStatusRejected
		log.Warn("leg placement failed",
			slog.String("order_id", o.ID),
			slog.String("venue", o.VenueID),
			slog.String("error", err.Error()),
		)
		return
	}
	if !ack.Accepted {
		o.Status = domain.OrderStatusRejected
		log.Warn("leg rejected by venue",
			slog.String("order_id", o.ID),
			slog.String("venue", o.VenueID),
			slog.String("message", ack.Message),
		)
		return
	}
	o.Status = domain.OrderStatusAcknowledged
}

// awaitFills suspends until both legs report a terminal status or the
// attempt timeout elapses. On timeout it issues best-effort cancels and one
// status query per pending leg; venues that still report nothing terminal
// are returned as unresponsive.
func (c *Coordinator) awaitFills(
	ctx context.Context,
	att *domain.ExecutionAttempt,
	buyCh, sellCh <-chan domain.OrderUpdate,
	log *slog.Logger,
) (unresponsive []string) {
	timer := time.NewTimer(c.cfg.AttemptTimeout)
	defer timer.Stop()

	pending := func() int {
		n := 0
		for _, o := range att.Orders[:2] {
			if !o.Status.Terminal() {
				n++
			}
		}
		return n
	}

	for pending() > 0 {
		select {
		case u := <-buyCh:
			att.BuyLeg().Apply(u)
		case u := <-sellCh:
			att.SellLeg().Apply(u)
		case <-timer.C:
			return c.cancelPending(ctx, att, log)
		case <-ctx.Done():
			return c.cancelPending(ctx, att, log)
		}
	}
	return nil
}

// cancelPending is the timeout path: cancel, then re-query, never assume.
func (c *Coordinator) cancelPending(ctx context.Context, att *domain.ExecutionAttempt, log *slog.Logger) []string {
	// The attempt context may already be cancelled; cancels and status
	// queries still need to run, bounded independently.
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	var unresponsive []string
	for i := range att.Orders[:2] {
		o := &att.Orders[i]
		if o.Status.Terminal() {
			continue
		}
		ex, ok := c.executors[o.VenueID]
		if !ok {
			unresponsive = append(unresponsive, o.VenueID)
			continue
		}
		if _, err := ex.Cancel(opCtx, o.ID); err != nil {
			log.Warn("cancel failed",
				slog.String("order_id", o.ID),
				slog.String("venue", o.VenueID),
				slog.String("error", err.Error()),
			)
		}
		u, err := ex.Status(opCtx, o.ID)
		if err != nil {
			unresponsive = append(unresponsive, o.VenueID)
			continue
		}
		o.Apply(u)
		if !o.Status.Terminal() {
			// Neither filled nor acknowledged the cancel: flag for manual
			// reconciliation rather than assuming anything.
			unresponsive = append(unresponsive, o.VenueID)
		}
	}
	return unresponsive
}

// settle decides the terminal outcome for an attempt in the settling state,
// placing an unwind order when only one side of the book was taken. It
// performs the terminal transition and records the outcome.
func (c *Coordinator) settle(ctx context.Context, att *domain.ExecutionAttempt, unresponsive []string, log *slog.Logger) error {
	buy, sell := att.BuyLeg(), att.SellLeg()

	if len(unresponsive) > 0 {
		return c.finalize(ctx, att, domain.AttemptStateFailed, &domain.AttemptOutcome{
			RealizedPnLUSD: c.realizedPnL(att),
			Escalated:      true,
			Detail:         fmt.Sprintf("venue unresponsive: %v", unresponsive),
		})
	}

	diff := buy.FilledSize - sell.FilledSize
	tolerance := att.Opportunity.Size * c.cfg.FillToleranceBps / 10_000

	switch {
	case buy.FilledSize == 0 && sell.FilledSize == 0:
		// Nothing at risk; not an operational failure worth escalation.
		return c.finalize(ctx, att, domain.AttemptStateFailed, &domain.AttemptOutcome{
			Detail: "aborted: no leg filled",
		})

	case buy.FilledSize > 0 && sell.FilledSize > 0 && math.Abs(diff) <= tolerance:
		return c.finalize(ctx, att, domain.AttemptStateCompleted, &domain.AttemptOutcome{
			RealizedPnLUSD: c.realizedPnL(att),
		})

	default:
		return c.unwind(ctx, att, diff, log)
	}
}

// unwind market-closes the one-sided exposure left by a partial execution.
// diff > 0 means net long on the buy venue; diff < 0 net short on the sell
// venue.
func (c *Coordinator) unwind(ctx context.Context, att *domain.ExecutionAttempt, diff float64, log *slog.Logger) error {
	var (
		venue string
		side  domain.OrderSide
		size  = math.Abs(diff)
		ref   *domain.Order
	)
	if diff > 0 {
		ref = att.BuyLeg()
		venue = ref.VenueID
		side = domain.OrderSideSell
	} else {
		ref = att.SellLeg()
		venue = ref.VenueID
		side = domain.OrderSideBuy
	}

	log.Warn("one-sided exposure, unwinding",
		slog.String("venue", venue),
		slog.String("side", string(side)),
		slog.Float64("size", size),
	)

	uo := domain.Order{
		ID:         uuid.New().String(),
		VenueID:    venue,
		Instrument: att.Opportunity.Instrument,
		Side:       side,
		// Priced at the filled leg's reference price; the venue adapter
		// treats unwind orders as marketable.
		PriceTicks: domain.ToTicks(ref.FillPrice),
		SizeUnits:  domain.ToTicks(size),
		Status:     domain.OrderStatusPending,
		Unwind:     true,
		CreatedAt:  time.Now().UTC(),
	}

	ex, ok := c.executors[venue]
	if !ok {
		att.Orders = append(att.Orders, uo)
		return c.finalize(ctx, att, domain.AttemptStateFailed, &domain.AttemptOutcome{
			RealizedPnLUSD: c.realizedPnL(att),
			Escalated:      true,
			Detail:         fmt.Sprintf("unwind impossible: %v: %s", domain.ErrNoExecutor, venue),
		})
	}

	ch := c.router.register(uo.ID)
	defer c.router.unregister(uo.ID)

	// Unwinds must run even when the parent context is already cancelled
	// (graceful drain): exposure may not be abandoned mid-settlement.
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.UnwindTimeout)
	defer cancel()

	ack, err := ex.Place(opCtx, uo)
	if err != nil || !ack.Accepted {
		uo.Status = domain.OrderStatusRejected
		att.Orders = append(att.Orders, uo)
		return c.finalize(ctx, att, domain.AttemptStateFailed, &domain.AttemptOutcome{
			RealizedPnLUSD: c.realizedPnL(att),
			Escalated:      true,
			Detail:         "unwind placement failed",
		})
	}
	uo.Status = domain.OrderStatusAcknowledged

	timer := time.NewTimer(c.cfg.UnwindTimeout)
	defer timer.Stop()
	for !uo.Status.Terminal() {
		select {
		case u := <-ch:
			uo.Apply(u)
		case <-timer.C:
			if u, err := ex.Status(opCtx, uo.ID); err == nil {
				uo.Apply(u)
			}
			if !uo.Status.Terminal() {
				uo.Status = domain.OrderStatusCancelled
				_, _ = ex.Cancel(opCtx, uo.ID)
			}
		}
		if uo.Status.Terminal() {
			break
		}
	}

	c.ledger.ApplyFill(uo.VenueID, uo.Instrument, uo.Side, uo.FilledSize)
	att.Orders = append(att.Orders, uo)

	remaining := math.Abs(diff) - uo.FilledSize
	if uo.Status == domain.OrderStatusFilled || remaining <= 1e-9 {
		return c.finalize(ctx, att, domain.AttemptStatePartiallyUnwound, &domain.AttemptOutcome{
			RealizedPnLUSD: c.realizedPnL(att),
			UnwoundSize:    uo.FilledSize,
			Detail:         "one leg failed, exposure unwound",
		})
	}
	return c.finalize(ctx, att, domain.AttemptStateFailed, &domain.AttemptOutcome{
		RealizedPnLUSD: c.realizedPnL(att),
		UnwoundSize:    uo.FilledSize,
		Escalated:      true,
		Detail:         fmt.Sprintf("%v: %.6f still exposed on %s", domain.ErrUnwindFailed, remaining, venue),
	})
}

// finalize performs the terminal transition and records the outcome.
func (c *Coordinator) finalize(ctx context.Context, att *domain.ExecutionAttempt, state domain.AttemptState, outcome *domain.AttemptOutcome) error {
	att.Outcome = outcome
	detail := legStatuses(att)
	detail["realized_pnl_usd"] = outcome.RealizedPnLUSD
	detail["escalated"] = outcome.Escalated
	if outcome.Detail != "" {
		detail["detail"] = outcome.Detail
	}
	if err := c.ledger.Transition(ctx, att, state, detail); err != nil {
		return err
	}
	return c.ledger.RecordOutcome(ctx, *att)
}

// realizedPnL is sell proceeds minus buy cost across all filled orders,
// including unwind legs, net of fees. Venue-reported fees win; modeled
// per-venue bps cover venues that report none.
func (c *Coordinator) realizedPnL(att *domain.ExecutionAttempt) float64 {
	var pnl float64
	for _, o := range att.Orders {
		if o.FilledSize <= 0 {
			continue
		}
		notional := o.FillPrice * o.FilledSize
		if o.Side == domain.OrderSideSell {
			pnl += notional
		} else {
			pnl -= notional
		}
		fee := o.FeeUSD
		if fee == 0 {
			fee = c.cfg.VenueFeeBps[o.VenueID] * notional / 10_000
		}
		pnl -= fee
	}
	return pnl
}

func legStatuses(att *domain.ExecutionAttempt) map[string]any {
	out := make(map[string]any, len(att.Orders))
	for _, o := range att.Orders {
		key := string(o.Side)
		if o.Unwind {
			key = "unwind_" + key
		}
		out[key+"_status"] = string(o.Status)
		out[key+"_filled"] = o.FilledSize
	}
	return out
}
