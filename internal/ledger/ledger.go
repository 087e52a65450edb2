// Package ledger is the reconciliation ledger: an append-only record of
// every attempt state transition and final trade outcome. It is the source
// of truth for inventory and for the external accounting sink.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/arbcore/internal/domain"
)

// Channel and stream names for outward event emission.
const (
	EventChannel = "ledger.events"
	EventStream  = "ledger.stream"
)

// Ledger appends transitions to durable storage, publishes them outward, and
// maintains the in-memory inventory view read by the risk gate. Inventory is
// mutated only here, on confirmed fills.
type Ledger struct {
	store  domain.LedgerStore
	bus    domain.EventBus
	logger *slog.Logger

	mu        sync.Mutex
	positions map[string]float64 // PositionKey -> net quantity
	stats     Stats
	recent    []OutcomeSummary // ring of last recentOutcomes outcomes
}

const recentOutcomes = 100

// New creates a Ledger on top of the given store and event bus.
func New(store domain.LedgerStore, bus domain.EventBus, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:     store,
		bus:       bus,
		logger:    logger.With(slog.String("component", "ledger")),
		positions: make(map[string]float64),
	}
}

// Transition validates, durably records, and publishes a state change, then
// applies it to the attempt. The entry is written before the caller acts on
// the new state, so a crash mid-attempt is replayable.
func (l *Ledger) Transition(ctx context.Context, att *domain.ExecutionAttempt, to domain.AttemptState, detail map[string]any) error {
	from := att.State
	if !domain.CanTransition(from, to) {
		return fmt.Errorf("ledger: illegal transition %s -> %s for attempt %s", from, to, att.ID)
	}

	entry := domain.LedgerEntry{
		AttemptID:  att.ID,
		Instrument: att.Opportunity.Instrument,
		FromState:  from,
		ToState:    to,
		Detail:     detail,
		Timestamp:  time.Now().UTC(),
	}
	if err := l.store.AppendEntry(ctx, entry); err != nil {
		return fmt.Errorf("ledger: append entry: %w", err)
	}

	att.State = to
	if to.Terminal() {
		now := time.Now().UTC()
		att.CompletedAt = &now
	}
	if err := l.store.SaveAttempt(ctx, *att); err != nil {
		return fmt.Errorf("ledger: save attempt: %w", err)
	}

	l.publish(ctx, entry)
	return nil
}

// ApplyFill mutates inventory for a confirmed fill: buys add quantity at the
// venue, sells subtract it.
func (l *Ledger) ApplyFill(venueID string, inst domain.Instrument, side domain.OrderSide, qty float64) {
	if qty <= 0 {
		return
	}
	delta := qty
	if side == domain.OrderSideSell {
		delta = -qty
	}
	key := domain.PositionKey(venueID, inst)

	l.mu.Lock()
	l.positions[key] += delta
	pos := l.positions[key]
	l.mu.Unlock()

	l.logger.Debug("inventory updated",
		slog.String("venue", venueID),
		slog.String("instrument", string(inst)),
		slog.Float64("delta", delta),
		slog.Float64("position", pos),
	)
}

// Position returns the net quantity for one (venue, instrument). It
// implements the risk gate's InventoryView.
func (l *Ledger) Position(venueID string, inst domain.Instrument) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.positions[domain.PositionKey(venueID, inst)]
}

// Positions returns all non-zero inventory positions.
func (l *Ledger) Positions() []domain.InventoryPosition {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.InventoryPosition, 0, len(l.positions))
	for key, qty := range l.positions {
		if qty == 0 {
			continue
		}
		venue, inst := splitPositionKey(key)
		out = append(out, domain.InventoryPosition{VenueID: venue, Instrument: inst, Quantity: qty})
	}
	return out
}

// RecordOutcome finalizes a terminal attempt: persists the snapshot, updates
// rolling stats, and publishes the outcome outward.
func (l *Ledger) RecordOutcome(ctx context.Context, att domain.ExecutionAttempt) error {
	if !att.State.Terminal() || att.Outcome == nil {
		return fmt.Errorf("ledger: record outcome: attempt %s is not terminal", att.ID)
	}
	if err := l.store.SaveAttempt(ctx, att); err != nil {
		return fmt.Errorf("ledger: record outcome: %w", err)
	}

	l.mu.Lock()
	l.stats.apply(att)
	l.recent = append(l.recent, summarize(att))
	if len(l.recent) > recentOutcomes {
		l.recent = l.recent[len(l.recent)-recentOutcomes:]
	}
	l.mu.Unlock()

	payload, err := json.Marshal(outcomeEvent(att))
	if err == nil {
		if err := l.bus.StreamAppend(ctx, EventStream, payload); err != nil {
			l.logger.Warn("outcome stream append failed", slog.String("error", err.Error()))
		}
		if err := l.bus.Publish(ctx, EventChannel, payload); err != nil {
			l.logger.Warn("outcome publish failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

// Rebuild reconstructs inventory from the stored attempt history. It is run
// once on startup, before the recovery pass.
func (l *Ledger) Rebuild(ctx context.Context) error {
	atts, err := l.store.RecentAttempts(ctx, 0)
	if err != nil {
		return fmt.Errorf("ledger: rebuild: %w", err)
	}

	l.mu.Lock()
	l.positions = make(map[string]float64)
	l.stats = Stats{}
	l.recent = nil
	l.mu.Unlock()

	// RecentAttempts is newest-first; replay oldest-first.
	for i := len(atts) - 1; i >= 0; i-- {
		att := atts[i]
		for _, o := range att.Orders {
			l.ApplyFill(o.VenueID, o.Instrument, o.Side, o.FilledSize)
		}
		if att.State.Terminal() && att.Outcome != nil {
			l.mu.Lock()
			l.stats.apply(att)
			l.recent = append(l.recent, summarize(att))
			if len(l.recent) > recentOutcomes {
				l.recent = l.recent[len(l.recent)-recentOutcomes:]
			}
			l.mu.Unlock()
		}
	}
	l.logger.Info("ledger rebuilt",
		slog.Int("attempts", len(atts)),
		slog.Int("positions", len(l.Positions())),
	)
	return nil
}

// NonTerminal returns attempts left non-terminal by a crash.
func (l *Ledger) NonTerminal(ctx context.Context) ([]domain.ExecutionAttempt, error) {
	return l.store.NonTerminalAttempts(ctx)
}

// RecentAttempts proxies the store for the status server.
func (l *Ledger) RecentAttempts(ctx context.Context, limit int) ([]domain.ExecutionAttempt, error) {
	return l.store.RecentAttempts(ctx, limit)
}

// Stats returns a copy of the rolling trade statistics.
func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// RecentOutcomes returns the last recorded outcomes, oldest first.
func (l *Ledger) RecentOutcomes() []OutcomeSummary {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]OutcomeSummary, len(l.recent))
	copy(out, l.recent)
	return out
}

func (l *Ledger) publish(ctx context.Context, entry domain.LedgerEntry) {
	payload, err := json.Marshal(transitionEvent(entry))
	if err != nil {
		return
	}
	if err := l.bus.StreamAppend(ctx, EventStream, payload); err != nil {
		l.logger.Warn("transition stream append failed", slog.String("error", err.Error()))
	}
	if err := l.bus.Publish(ctx, EventChannel, payload); err != nil {
		l.logger.Warn("transition publish failed", slog.String("error", err.Error()))
	}
}

func splitPositionKey(key string) (string, domain.Instrument) {
	for i := 0; i < len(key); i++ {
		if key[i] == '|' {
			return key[:i], domain.Instrument(key[i+1:])
		}
	}
	return key, ""
}

// transitionEvent is the JSON shape emitted for each state transition.
func transitionEvent(e domain.LedgerEntry) map[string]any {
	return map[string]any{
		"event":      "transition",
		"attempt_id": e.AttemptID,
		"instrument": string(e.Instrument),
		"from_state": string(e.FromState),
		"to_state":   string(e.ToState),
		"detail":     e.Detail,
		"timestamp":  e.Timestamp.Format(time.RFC3339Nano),
	}
}

// outcomeEvent is the JSON shape emitted for each finalized attempt.
func outcomeEvent(att domain.ExecutionAttempt) map[string]any {
	return map[string]any{
		"event":            "outcome",
		"attempt_id":       att.ID,
		"instrument":       string(att.Opportunity.Instrument),
		"state":            string(att.State),
		"realized_pnl_usd": att.Outcome.RealizedPnLUSD,
		"unwound_size":     att.Outcome.UnwoundSize,
		"escalated":        att.Outcome.Escalated,
		"detail":           att.Outcome.Detail,
	}
}
