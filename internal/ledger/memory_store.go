package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/arbcore/internal/domain"
)

// MemoryStore is the in-process domain.LedgerStore used in monitor and paper
// modes and in tests. Entries and attempt snapshots are held in memory only;
// production deployments use the Postgres store.
type MemoryStore struct {
	mu       sync.Mutex
	entries  []domain.LedgerEntry
	attempts map[string]domain.ExecutionAttempt
	order    []string // attempt IDs in first-seen order
	nextID   int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{attempts: make(map[string]domain.ExecutionAttempt)}
}

// AppendEntry records a transition entry.
func (m *MemoryStore) AppendEntry(_ context.Context, e domain.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	e.ID = m.nextID
	m.entries = append(m.entries, e)
	return nil
}

// SaveAttempt upserts an attempt snapshot.
func (m *MemoryStore) SaveAttempt(_ context.Context, att domain.ExecutionAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, seen := m.attempts[att.ID]; !seen {
		m.order = append(m.order, att.ID)
	}
	// Deep-copy orders so the caller's slice stays isolated.
	cp := att
	cp.Orders = append([]domain.Order(nil), att.Orders...)
	if att.Outcome != nil {
		o := *att.Outcome
		cp.Outcome = &o
	}
	m.attempts[att.ID] = cp
	return nil
}

// Attempt returns one attempt snapshot by ID.
func (m *MemoryStore) Attempt(_ context.Context, id string) (domain.ExecutionAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	att, ok := m.attempts[id]
	if !ok {
		return domain.ExecutionAttempt{}, domain.ErrNotFound
	}
	return att, nil
}

// NonTerminalAttempts returns attempts whose snapshot state is not terminal.
func (m *MemoryStore) NonTerminalAttempts(_ context.Context) ([]domain.ExecutionAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ExecutionAttempt
	for _, id := range m.order {
		if att := m.attempts[id]; !att.State.Terminal() {
			out = append(out, att)
		}
	}
	return out, nil
}

// EntriesByAttempt returns all entries for one attempt, oldest first.
func (m *MemoryStore) EntriesByAttempt(_ context.Context, attemptID string) ([]domain.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.LedgerEntry
	for _, e := range m.entries {
		if e.AttemptID == attemptID {
			out = append(out, e)
		}
	}
	return out, nil
}

// RecentAttempts returns attempts newest-first; limit <= 0 returns all.
func (m *MemoryStore) RecentAttempts(_ context.Context, limit int) ([]domain.ExecutionAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ExecutionAttempt, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		out = append(out, m.attempts[m.order[i]])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// EntriesBefore returns entries older than the cutoff, oldest first.
func (m *MemoryStore) EntriesBefore(_ context.Context, before time.Time) ([]domain.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.LedgerEntry
	for _, e := range m.entries {
		if e.Timestamp.Before(before) {
			out = append(out, e)
		}
	}
	return out, nil
}

var _ domain.LedgerStore = (*MemoryStore)(nil)

// NopBus is an EventBus that discards everything, for modes without Redis.
type NopBus struct{}

// Publish discards the payload.
func (NopBus) Publish(context.Context, string, []byte) error { return nil }

// StreamAppend discards the payload.
func (NopBus) StreamAppend(context.Context, string, []byte) error { return nil }

var _ domain.EventBus = NopBus{}
