package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/arbcore/internal/domain"
)

// Recover drives every non-terminal attempt left by a crash to a terminal
// state. It re-queries venue order status instead of trusting the persisted
// snapshot and never re-submits the original legs; the only orders it may
// place are unwinds for exposure the re-query confirms.
func (c *Coordinator) Recover(ctx context.Context) error {
	attempts, err := c.ledger.NonTerminal(ctx)
	if err != nil {
		return fmt.Errorf("executor: recover: %w", err)
	}
	if len(attempts) == 0 {
		c.logger.Info("recovery: no interrupted attempts")
		return nil
	}
	c.logger.Warn("recovery: resolving interrupted attempts", slog.Int("count", len(attempts)))

	for i := range attempts {
		if err := c.recoverOne(ctx, &attempts[i]); err != nil {
			return fmt.Errorf("executor: recover attempt %s: %w", attempts[i].ID, err)
		}
	}
	return nil
}

func (c *Coordinator) recoverOne(ctx context.Context, att *domain.ExecutionAttempt) error {
	log := c.logger.With(
		slog.String("attempt_id", att.ID),
		slog.String("state", string(att.State)),
		slog.String("instrument", string(att.Opportunity.Instrument)),
	)
	log.Info("recovering attempt")

	// Crash before any order was built: nothing was ever at risk.
	if len(att.Orders) == 0 {
		if err := c.stepTo(ctx, att, domain.AttemptStateFailed, map[string]any{
			"recovered": true,
		}); err != nil {
			return err
		}
		att.Outcome = &domain.AttemptOutcome{Detail: "recovered: nothing placed"}
		return c.ledger.RecordOutcome(ctx, *att)
	}

	// Re-query each leg. The persisted fill snapshot is a lower bound; the
	// venue is the source of truth for what actually executed.
	var unresponsive []string
	for i := range att.Orders {
		o := &att.Orders[i]
		before := o.FilledSize
		ex, ok := c.executors[o.VenueID]
		if !ok {
			unresponsive = append(unresponsive, o.VenueID)
			continue
		}
		u, err := ex.Status(ctx, o.ID)
		if err != nil {
			log.Warn("status re-query failed",
				slog.String("order_id", o.ID),
				slog.String("venue", o.VenueID),
				slog.String("error", err.Error()),
			)
			unresponsive = append(unresponsive, o.VenueID)
			continue
		}
		o.Apply(u)
		if !o.Status.Terminal() {
			// Still resting on the book after a crash: cancel it so
			// settlement works over a fixed fill picture.
			if _, err := ex.Cancel(ctx, o.ID); err == nil {
				if u, err := ex.Status(ctx, o.ID); err == nil {
					o.Apply(u)
				}
			}
			if !o.Status.Terminal() {
				unresponsive = append(unresponsive, o.VenueID)
			}
		}
		if delta := o.FilledSize - before; delta > 0 {
			c.ledger.ApplyFill(o.VenueID, o.Instrument, o.Side, delta)
		}
		o.UpdatedAt = time.Now().UTC()
	}

	// Walk the remaining intermediate states so the ledger records a
	// complete, contiguous transition history for the attempt.
	if err := c.stepTo(ctx, att, domain.AttemptStateSettling, map[string]any{
		"recovered": true,
	}); err != nil {
		return err
	}
	return c.settle(ctx, att, unresponsive, log)
}

// stepTo advances the attempt one forward transition at a time until it
// reaches target. Failed is reachable directly from any non-terminal state.
func (c *Coordinator) stepTo(ctx context.Context, att *domain.ExecutionAttempt, target domain.AttemptState, detail map[string]any) error {
	if target == domain.AttemptStateFailed {
		return c.ledger.Transition(ctx, att, target, detail)
	}
	order := []domain.AttemptState{
		domain.AttemptStatePlanning,
		domain.AttemptStatePlacing,
		domain.AttemptStateAwaitingFills,
		domain.AttemptStateSettling,
	}
	for _, s := range order {
		if !domain.CanTransition(att.State, s) {
			continue
		}
		if err := c.ledger.Transition(ctx, att, s, detail); err != nil {
			return err
		}
		if s == target {
			return nil
		}
	}
	if att.State != target {
		return fmt.Errorf("executor: cannot step %s to %s", att.State, target)
	}
	return nil
}
