// Package sim provides in-process venue adapters: a scripted quote feed and
// a configurable executor. They back the paper trading mode and the
// integration tests; no network is involved.
package sim

import (
	"context"
	"time"

	"github.com/alanyoungcy/arbcore/internal/domain"
)

// Feed replays a scripted sequence of quotes at a fixed interval.
type Feed struct {
	venueID  string
	quotes   []domain.VenueQuote
	interval time.Duration
}

// NewFeed creates a Feed that emits the given quotes in order, one per
// interval. Sequence numbers and venue IDs are stamped on emit so scripts
// only need prices and sizes.
func NewFeed(venueID string, quotes []domain.VenueQuote, interval time.Duration) *Feed {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Feed{venueID: venueID, quotes: quotes, interval: interval}
}

var _ domain.VenueFeed = (*Feed)(nil)

func (f *Feed) VenueID() string { return f.venueID }

// Subscribe replays the script, then keeps repeating the final quote with
// advancing sequence numbers so the book never goes stale.
func (f *Feed) Subscribe(ctx context.Context, instruments []domain.Instrument) (<-chan domain.VenueQuote, error) {
	wanted := make(map[domain.Instrument]bool, len(instruments))
	for _, inst := range instruments {
		wanted[inst] = true
	}

	out := make(chan domain.VenueQuote)
	go func() {
		defer close(out)
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()

		var seq uint64
		i := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			if len(f.quotes) == 0 {
				continue
			}
			q := f.quotes[i]
			if i < len(f.quotes)-1 {
				i++
			}
			if len(wanted) > 0 && !wanted[q.Instrument] {
				continue
			}
			seq++
			q.VenueID = f.venueID
			q.Sequence = seq
			q.ObservedAt = time.Now().UTC()
			select {
			case out <- q:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
