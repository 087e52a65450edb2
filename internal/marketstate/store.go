// Package marketstate holds the latest known top-of-book quote per
// (venue, instrument) and publishes change notifications to the detector.
package marketstate

import (
	"log/slog"
	"sync"

	"github.com/alanyoungcy/arbcore/internal/domain"
)

// Store is the engine's only shared-mutable market structure. Each
// instrument has its own book guarded by its own mutex, so feeds for
// different instruments never contend and a snapshot is always taken in one
// critical section.
type Store struct {
	mu    sync.RWMutex
	books map[domain.Instrument]*book

	updates chan domain.Instrument
	logger  *slog.Logger
}

type book struct {
	mu     sync.Mutex
	quotes map[string]domain.VenueQuote // venueID -> latest quote
}

// New creates an empty Store.
func New(logger *slog.Logger) *Store {
	return &Store{
		books: make(map[domain.Instrument]*book),
		// Buffered and coalescing: a dropped notification is harmless
		// because the detector re-reads the full snapshot on every cycle.
		updates: make(chan domain.Instrument, 256),
		logger:  logger.With(slog.String("component", "market_state")),
	}
}

// Update applies a quote if its sequence advances the stored one for the
// same (venue, instrument) and reports whether it was applied. Out-of-order
// quotes are dropped, never applied.
func (s *Store) Update(q domain.VenueQuote) bool {
	b := s.book(q.Instrument)

	b.mu.Lock()
	prev, ok := b.quotes[q.VenueID]
	if ok && q.Sequence <= prev.Sequence {
		b.mu.Unlock()
		s.logger.Debug("stale quote dropped",
			slog.String("venue", q.VenueID),
			slog.String("instrument", string(q.Instrument)),
			slog.Uint64("sequence", q.Sequence),
			slog.Uint64("stored", prev.Sequence),
		)
		return false
	}
	b.quotes[q.VenueID] = q
	b.mu.Unlock()

	s.notify(q.Instrument)
	return true
}

// Snapshot returns a consistent point-in-time copy of all venue quotes for
// an instrument. The copy is taken under the instrument's lock, so a reader
// never observes a half-updated set.
func (s *Store) Snapshot(inst domain.Instrument) map[string]domain.VenueQuote {
	s.mu.RLock()
	b, ok := s.books[inst]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]domain.VenueQuote, len(b.quotes))
	for v, q := range b.quotes {
		out[v] = q
	}
	return out
}

// Instruments returns all instruments with at least one stored quote.
func (s *Store) Instruments() []domain.Instrument {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Instrument, 0, len(s.books))
	for inst := range s.books {
		out = append(out, inst)
	}
	return out
}

// Updates returns the change notification channel. One value is emitted per
// applied update unless the channel is full, in which case the notification
// is coalesced into the ones already queued.
func (s *Store) Updates() <-chan domain.Instrument {
	return s.updates
}

func (s *Store) book(inst domain.Instrument) *book {
	s.mu.RLock()
	b, ok := s.books[inst]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok = s.books[inst]; ok {
		return b
	}
	b = &book{quotes: make(map[string]domain.VenueQuote)}
	s.books[inst] = b
	return b
}

// notify must never block a feed-ingestion goroutine.
func (s *Store) notify(inst domain.Instrument) {
	select {
	case s.updates <- inst:
	default:
	}
}
