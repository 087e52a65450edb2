package executor

import (
	"context"
	"sync"

	"github.com/alanyoungcy/arbcore/internal/domain"
)

// fillRouter fans venue order-update streams out to the attempt that owns
// each order. Coordinator goroutines register a waiter per order ID before
// placing, so no update can be missed between placement and the wait.
type fillRouter struct {
	mu      sync.Mutex
	waiters map[string]chan domain.OrderUpdate
}

func newFillRouter() *fillRouter {
	return &fillRouter{waiters: make(map[string]chan domain.OrderUpdate)}
}

// run drains one venue's update stream until ctx is cancelled or the stream
// closes. One run goroutine exists per venue executor.
func (r *fillRouter) run(ctx context.Context, updates <-chan domain.OrderUpdate) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			r.deliver(u)
		}
	}
}

// register creates the waiter channel for an order. The channel is buffered
// so a venue's burst of updates never blocks the router goroutine.
func (r *fillRouter) register(orderID string) <-chan domain.OrderUpdate {
	ch := make(chan domain.OrderUpdate, 16)
	r.mu.Lock()
	r.waiters[orderID] = ch
	r.mu.Unlock()
	return ch
}

func (r *fillRouter) unregister(orderID string) {
	r.mu.Lock()
	delete(r.waiters, orderID)
	r.mu.Unlock()
}

func (r *fillRouter) deliver(u domain.OrderUpdate) {
	r.mu.Lock()
	ch, ok := r.waiters[u.OrderID]
	r.mu.Unlock()
	if !ok {
		// Update for an order nobody waits on (late fill after settle);
		// recovery re-queries venue status, so dropping here is safe.
		return
	}
	select {
	case ch <- u:
	default:
	}
}
