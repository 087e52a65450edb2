package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCanTransitionForwardOnly(t *testing.T) {
	forward := []AttemptState{
		AttemptStatePlanning,
		AttemptStatePlacing,
		AttemptStateAwaitingFills,
		AttemptStateSettling,
		AttemptStateCompleted,
	}
	from := AttemptStateNone
	for _, to := range forward {
		require.True(t, CanTransition(from, to), "%s -> %s should be legal", from, to)
		require.False(t, CanTransition(to, from), "%s -> %s must not be legal", to, from)
		from = to
	}
}

func TestCanTransitionTerminalIsFinal(t *testing.T) {
	for _, s := range []AttemptState{AttemptStateCompleted, AttemptStatePartiallyUnwound, AttemptStateFailed} {
		require.True(t, s.Terminal())
		for _, to := range []AttemptState{AttemptStatePlanning, AttemptStateSettling, AttemptStateFailed} {
			require.False(t, CanTransition(s, to), "terminal %s must not transition to %s", s, to)
		}
	}
}

func TestCanTransitionFailedFromAnyNonTerminal(t *testing.T) {
	for _, from := range []AttemptState{AttemptStatePlanning, AttemptStatePlacing, AttemptStateAwaitingFills, AttemptStateSettling} {
		require.True(t, CanTransition(from, AttemptStateFailed))
	}
	// Completed and partially unwound only settle from settling.
	require.False(t, CanTransition(AttemptStateAwaitingFills, AttemptStateCompleted))
	require.True(t, CanTransition(AttemptStateSettling, AttemptStatePartiallyUnwound))
}

func TestOrderApplyNeverRegressesTerminal(t *testing.T) {
	o := Order{ID: "o1", Status: OrderStatusAcknowledged}
	o.Apply(OrderUpdate{OrderID: "o1", Status: OrderStatusFilled, FilledSize: 2, FillPrice: 101.5, Timestamp: time.Now()})
	require.Equal(t, OrderStatusFilled, o.Status)
	require.Equal(t, 2.0, o.FilledSize)

	o.Apply(OrderUpdate{OrderID: "o1", Status: OrderStatusCancelled, Timestamp: time.Now()})
	require.Equal(t, OrderStatusFilled, o.Status, "terminal status must not regress")
}

func TestOrderApplyIgnoresLateAcknowledgement(t *testing.T) {
	o := Order{ID: "o1", Status: OrderStatusAcknowledged}
	o.Apply(OrderUpdate{OrderID: "o1", Status: OrderStatusPartiallyFilled, FilledSize: 1, FillPrice: 100.5, Timestamp: time.Now()})
	require.Equal(t, OrderStatusPartiallyFilled, o.Status)

	// Venues can deliver the acknowledgement after the first fill report.
	o.Apply(OrderUpdate{OrderID: "o1", Status: OrderStatusAcknowledged, Timestamp: time.Now()})
	require.Equal(t, OrderStatusPartiallyFilled, o.Status, "non-terminal status must not regress")
	require.Equal(t, 1.0, o.FilledSize)
}

func TestToTicksRoundTrip(t *testing.T) {
	require.Equal(t, int64(101_500_000), ToTicks(101.5))
	o := Order{PriceTicks: ToTicks(0.333333), SizeUnits: ToTicks(12.5)}
	require.InDelta(t, 0.333333, o.Price(), 1e-9)
	require.Equal(t, 12.5, o.Size())
}
