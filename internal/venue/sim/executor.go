package sim

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/arbcore/internal/domain"
)

// ExecutorConfig scripts the behavior of a simulated venue executor.
type ExecutorConfig struct {
	// FillDelay is how long after acceptance a fill is reported.
	FillDelay time.Duration
	// FillRatio is the fraction of requested size that fills, in [0, 1].
	// 1 means full fills.
	FillRatio float64
	// RejectPlacements rejects every placement.
	RejectPlacements bool
	// Silent accepts orders and then never reports a fill, simulating an
	// unresponsive venue.
	Silent bool
	// FeeBps is charged on filled notional and reported on the fill.
	FeeBps float64
}

// Executor is an in-process venue executor that fills per its config.
// Unwind orders always fill in full regardless of FillRatio, matching a
// marketable close against a live book.
type Executor struct {
	venueID string
	cfg     ExecutorConfig
	updates chan domain.OrderUpdate

	mu     sync.Mutex
	orders map[string]domain.Order
	last   map[string]domain.OrderUpdate
}

// NewExecutor creates a simulated executor for one venue.
func NewExecutor(venueID string, cfg ExecutorConfig) *Executor {
	if cfg.FillRatio <= 0 && !cfg.RejectPlacements && !cfg.Silent {
		cfg.FillRatio = 1
	}
	return &Executor{
		venueID: venueID,
		cfg:     cfg,
		updates: make(chan domain.OrderUpdate, 256),
		orders:  make(map[string]domain.Order),
		last:    make(map[string]domain.OrderUpdate),
	}
}

var _ domain.VenueExecutor = (*Executor)(nil)

func (e *Executor) VenueID() string { return e.venueID }

// Place accepts or rejects per the script; accepted orders fill
// asynchronously after FillDelay.
func (e *Executor) Place(_ context.Context, o domain.Order) (domain.OrderAck, error) {
	if e.cfg.RejectPlacements {
		return domain.OrderAck{OrderID: o.ID, Accepted: false, Message: "rejected by venue"}, nil
	}

	e.mu.Lock()
	e.orders[o.ID] = o
	e.last[o.ID] = domain.OrderUpdate{
		OrderID:   o.ID,
		Status:    domain.OrderStatusAcknowledged,
		Timestamp: time.Now().UTC(),
	}
	e.mu.Unlock()

	if e.cfg.Silent {
		return domain.OrderAck{OrderID: o.ID, Accepted: true}, nil
	}

	ratio := e.cfg.FillRatio
	if o.Unwind {
		ratio = 1
	}
	go e.fill(o, ratio)
	return domain.OrderAck{OrderID: o.ID, Accepted: true}, nil
}

func (e *Executor) fill(o domain.Order, ratio float64) {
	if e.cfg.FillDelay > 0 {
		time.Sleep(e.cfg.FillDelay)
	}

	filled := o.Size() * ratio
	status := domain.OrderStatusFilled
	if ratio < 1 {
		status = domain.OrderStatusPartiallyFilled
	}
	u := domain.OrderUpdate{
		OrderID:    o.ID,
		Status:     status,
		FilledSize: filled,
		FillPrice:  o.Price(),
		FeeUSD:     e.cfg.FeeBps * o.Price() * filled / 10_000,
		Timestamp:  time.Now().UTC(),
	}

	e.mu.Lock()
	// A cancel that won the race freezes the order; the fill is dropped.
	if prev, ok := e.last[o.ID]; ok && prev.Status.Terminal() {
		e.mu.Unlock()
		return
	}
	e.last[o.ID] = u
	e.mu.Unlock()

	e.updates <- u
}

// Cancel marks a non-terminal order cancelled. Repeated cancels are no-ops.
func (e *Executor) Cancel(_ context.Context, orderID string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev, ok := e.last[orderID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if prev.Status.Terminal() {
		return false, nil
	}
	e.last[orderID] = domain.OrderUpdate{
		OrderID:    orderID,
		Status:     domain.OrderStatusCancelled,
		FilledSize: prev.FilledSize,
		FillPrice:  prev.FillPrice,
		Timestamp:  time.Now().UTC(),
	}
	return true, nil
}

// Status returns the last known update for an order.
func (e *Executor) Status(_ context.Context, orderID string) (domain.OrderUpdate, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	u, ok := e.last[orderID]
	if !ok {
		return domain.OrderUpdate{}, domain.ErrNotFound
	}
	return u, nil
}

// Updates returns the executor's notification stream.
func (e *Executor) Updates() <-chan domain.OrderUpdate {
	return e.updates
}
