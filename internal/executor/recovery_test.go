package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbcore/internal/domain"
)

// seedAttempt persists an interrupted attempt as a crash would have left
// it: non-terminal state, legs placed but not resolved.
func seedAttempt(t *testing.T, h *harness, state domain.AttemptState, orders []domain.Order) domain.ExecutionAttempt {
	t.Helper()
	att := domain.ExecutionAttempt{
		ID:          "att-crashed",
		Opportunity: testOpportunity(),
		Orders:      orders,
		State:       state,
		StartedAt:   time.Now().UTC().Add(-time.Minute),
	}
	require.NoError(t, h.store.SaveAttempt(context.Background(), att))
	return att
}

func crashedLegs() []domain.Order {
	now := time.Now().UTC().Add(-time.Minute)
	return []domain.Order{
		{
			ID: "ord-buy", VenueID: "alpha", Instrument: "BTC-USD",
			Side: domain.OrderSideBuy, PriceTicks: domain.ToTicks(100), SizeUnits: domain.ToTicks(2),
			Status: domain.OrderStatusAcknowledged, CreatedAt: now,
		},
		{
			ID: "ord-sell", VenueID: "beta", Instrument: "BTC-USD",
			Side: domain.OrderSideSell, PriceTicks: domain.ToTicks(101), SizeUnits: domain.ToTicks(2),
			Status: domain.OrderStatusAcknowledged, CreatedAt: now,
		},
	}
}

func TestRecoverCompletesFilledAttempt(t *testing.T) {
	h := newHarness(t, Config{AttemptTimeout: 2 * time.Second})
	seedAttempt(t, h, domain.AttemptStateAwaitingFills, crashedLegs())

	// The venue knows both legs filled while we were down.
	h.buy.record(domain.OrderUpdate{
		OrderID: "ord-buy", Status: domain.OrderStatusFilled,
		FilledSize: 2.0, FillPrice: 100.0,
	})
	h.sell.record(domain.OrderUpdate{
		OrderID: "ord-sell", Status: domain.OrderStatusFilled,
		FilledSize: 2.0, FillPrice: 101.0,
	})

	require.NoError(t, h.coord.Recover(context.Background()))

	got, err := h.store.Attempt(context.Background(), "att-crashed")
	require.NoError(t, err)
	require.Equal(t, domain.AttemptStateCompleted, got.State)
	require.NotNil(t, got.Outcome)
	require.InDelta(t, 2.0, got.Outcome.RealizedPnLUSD, 1e-9)

	// Recovery re-queries; it never re-submits the original legs.
	require.Empty(t, h.buy.placedOrders())
	require.Empty(t, h.sell.placedOrders())

	// Inventory rebuilt from the venue-confirmed fills.
	require.InDelta(t, 2.0, h.led.Position("alpha", "BTC-USD"), 1e-9)
	require.InDelta(t, -2.0, h.led.Position("beta", "BTC-USD"), 1e-9)
}

func TestRecoverNothingPlaced(t *testing.T) {
	h := newHarness(t, Config{AttemptTimeout: 2 * time.Second})
	seedAttempt(t, h, domain.AttemptStatePlanning, nil)

	require.NoError(t, h.coord.Recover(context.Background()))

	got, err := h.store.Attempt(context.Background(), "att-crashed")
	require.NoError(t, err)
	require.Equal(t, domain.AttemptStateFailed, got.State)
	require.NotNil(t, got.Outcome)
	require.False(t, got.Outcome.Escalated)
	require.Equal(t, "recovered: nothing placed", got.Outcome.Detail)
}

func TestRecoverOneSidedFillUnwinds(t *testing.T) {
	h := newHarness(t, Config{AttemptTimeout: 2 * time.Second, UnwindTimeout: 2 * time.Second})
	seedAttempt(t, h, domain.AttemptStateAwaitingFills, crashedLegs())

	h.buy.record(domain.OrderUpdate{
		OrderID: "ord-buy", Status: domain.OrderStatusFilled,
		FilledSize: 2.0, FillPrice: 100.0,
	})
	h.sell.record(domain.OrderUpdate{
		OrderID: "ord-sell", Status: domain.OrderStatusRejected,
	})

	require.NoError(t, h.coord.Recover(context.Background()))

	got, err := h.store.Attempt(context.Background(), "att-crashed")
	require.NoError(t, err)
	require.Equal(t, domain.AttemptStatePartiallyUnwound, got.State)
	require.NotNil(t, got.Outcome)
	require.InDelta(t, 2.0, got.Outcome.UnwoundSize, 1e-9)

	// The only placement during recovery is the unwind on the long venue.
	placed := h.buy.placedOrders()
	require.Len(t, placed, 1)
	require.True(t, placed[0].Unwind)
	require.Equal(t, domain.OrderSideSell, placed[0].Side)
	require.Empty(t, h.sell.placedOrders())

	require.InDelta(t, 0, h.led.Position("alpha", "BTC-USD"), 1e-9)
}

func TestRecoverNoAttemptsIsNoop(t *testing.T) {
	h := newHarness(t, Config{AttemptTimeout: 2 * time.Second})
	require.NoError(t, h.coord.Recover(context.Background()))
}

func TestRecoverStillRestingLegGetsCancelled(t *testing.T) {
	h := newHarness(t, Config{AttemptTimeout: 2 * time.Second})
	seedAttempt(t, h, domain.AttemptStatePlacing, crashedLegs())

	h.buy.record(domain.OrderUpdate{
		OrderID: "ord-buy", Status: domain.OrderStatusCancelled,
	})
	// Sell leg still acknowledged and resting; Cancel flips nothing in the
	// fake's status map, so the venue counts as unresponsive and the
	// attempt escalates.
	h.sell.record(domain.OrderUpdate{
		OrderID: "ord-sell", Status: domain.OrderStatusAcknowledged,
	})

	require.NoError(t, h.coord.Recover(context.Background()))

	require.Contains(t, h.sell.cancelled, "ord-sell")
	got, err := h.store.Attempt(context.Background(), "att-crashed")
	require.NoError(t, err)
	require.Equal(t, domain.AttemptStateFailed, got.State)
	require.True(t, got.Outcome.Escalated)
}
