package ledger

import (
	"time"

	"github.com/alanyoungcy/arbcore/internal/domain"
)

// Stats is the rolling summary of finalized attempts, in the spirit of the
// bot's console totals: attempts, profitable count, total and best PnL.
type Stats struct {
	TotalAttempts    int64   `json:"total_attempts"`
	Completed        int64   `json:"completed"`
	PartiallyUnwound int64   `json:"partially_unwound"`
	Failed           int64   `json:"failed"`
	Profitable       int64   `json:"profitable"`
	TotalPnLUSD      float64 `json:"total_pnl_usd"`
	BestPnLUSD       float64 `json:"best_pnl_usd"`
}

func (s *Stats) apply(att domain.ExecutionAttempt) {
	s.TotalAttempts++
	switch att.State {
	case domain.AttemptStateCompleted:
		s.Completed++
	case domain.AttemptStatePartiallyUnwound:
		s.PartiallyUnwound++
	case domain.AttemptStateFailed:
		s.Failed++
	}
	pnl := att.Outcome.RealizedPnLUSD
	s.TotalPnLUSD += pnl
	if pnl > 0 {
		s.Profitable++
	}
	if pnl > s.BestPnLUSD {
		s.BestPnLUSD = pnl
	}
}

// OutcomeSummary is one row of the recent-outcome ring buffer.
type OutcomeSummary struct {
	AttemptID      string     `json:"attempt_id"`
	Instrument     string     `json:"instrument"`
	BuyVenue       string     `json:"buy_venue"`
	SellVenue      string     `json:"sell_venue"`
	State          string     `json:"state"`
	RealizedPnLUSD float64    `json:"realized_pnl_usd"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

func summarize(att domain.ExecutionAttempt) OutcomeSummary {
	return OutcomeSummary{
		AttemptID:      att.ID,
		Instrument:     string(att.Opportunity.Instrument),
		BuyVenue:       att.Opportunity.BuyVenue,
		SellVenue:      att.Opportunity.SellVenue,
		State:          string(att.State),
		RealizedPnLUSD: att.Outcome.RealizedPnLUSD,
		CompletedAt:    att.CompletedAt,
	}
}
