package domain

import "time"

// AttemptState is a stage in the execution state machine. Attempts move
// strictly forward; an attempt never re-enters a prior state.
type AttemptState string

const (
	AttemptStateNone          AttemptState = ""
	AttemptStatePlanning      AttemptState = "planning"
	AttemptStatePlacing       AttemptState = "placing"
	AttemptStateAwaitingFills AttemptState = "awaiting_fills"
	AttemptStateSettling      AttemptState = "settling"

	// Terminal states.
	AttemptStateCompleted        AttemptState = "completed"
	AttemptStatePartiallyUnwound AttemptState = "partially_unwound"
	AttemptStateFailed           AttemptState = "failed"
)

// stateRank orders the state machine so forward-only transitions can be
// validated cheaply.
var stateRank = map[AttemptState]int{
	AttemptStateNone:             0,
	AttemptStatePlanning:         1,
	AttemptStatePlacing:          2,
	AttemptStateAwaitingFills:    3,
	AttemptStateSettling:         4,
	AttemptStateCompleted:        5,
	AttemptStatePartiallyUnwound: 5,
	AttemptStateFailed:           5,
}

// Terminal reports whether the state is final.
func (s AttemptState) Terminal() bool {
	switch s {
	case AttemptStateCompleted, AttemptStatePartiallyUnwound, AttemptStateFailed:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from one state to another is legal.
// Only strictly forward transitions are allowed, and the three terminal
// states are reachable only from settling (failed is additionally reachable
// from any non-terminal state so recovery can park a broken attempt).
func CanTransition(from, to AttemptState) bool {
	fr, ok := stateRank[from]
	if !ok {
		return false
	}
	tr, ok := stateRank[to]
	if !ok {
		return false
	}
	if from.Terminal() || tr <= fr {
		return false
	}
	if to == AttemptStateFailed {
		return true
	}
	if to == AttemptStateCompleted || to == AttemptStatePartiallyUnwound {
		return from == AttemptStateSettling
	}
	return tr == fr+1
}

// AttemptOutcome summarizes a terminal attempt for the ledger and stats.
type AttemptOutcome struct {
	RealizedPnLUSD float64
	UnwoundSize    float64
	Escalated      bool // true when the attempt requires manual intervention
	Detail         string
}

// ExecutionAttempt groups the correlated orders placed for one admitted
// opportunity. It is the unit of atomicity for reconciliation: either both
// legs settle acceptably or the attempt is unwound.
type ExecutionAttempt struct {
	ID          string
	Opportunity Opportunity
	Orders      []Order // buy leg first, sell leg second; unwind legs appended
	State       AttemptState
	Outcome     *AttemptOutcome
	StartedAt   time.Time
	CompletedAt *time.Time
}

// BuyLeg returns a pointer to the buy leg, or nil before planning.
func (a *ExecutionAttempt) BuyLeg() *Order {
	return a.leg(0)
}

// SellLeg returns a pointer to the sell leg, or nil before planning.
func (a *ExecutionAttempt) SellLeg() *Order {
	return a.leg(1)
}

func (a *ExecutionAttempt) leg(i int) *Order {
	if len(a.Orders) <= i {
		return nil
	}
	return &a.Orders[i]
}

// OrderByID returns a pointer to the order with the given ID, or nil.
func (a *ExecutionAttempt) OrderByID(id string) *Order {
	for i := range a.Orders {
		if a.Orders[i].ID == id {
			return &a.Orders[i]
		}
	}
	return nil
}
