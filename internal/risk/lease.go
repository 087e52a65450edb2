package risk

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/arbcore/internal/domain"
)

// MemoryLeases implements domain.LeaseManager with an in-process map. It is
// the default when no Redis is configured (single-process deployments,
// paper trading, tests). Expired leases are reclaimed lazily on the next
// Acquire for the same key.
type MemoryLeases struct {
	mu   sync.Mutex
	held map[string]memoryLease
}

type memoryLease struct {
	token     string
	expiresAt time.Time
}

// NewMemoryLeases creates an empty lease table.
func NewMemoryLeases() *MemoryLeases {
	return &MemoryLeases{held: make(map[string]memoryLease)}
}

// Acquire takes the lease for key, or returns domain.ErrLeaseHeld when a
// live lease exists. The returned release function is idempotent and only
// ever releases its own lease: a lease that expired and was re-acquired by
// another holder is left untouched.
func (m *MemoryLeases) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	now := time.Now()

	m.mu.Lock()
	if l, ok := m.held[key]; ok && now.Before(l.expiresAt) {
		m.mu.Unlock()
		return nil, domain.ErrLeaseHeld
	}
	m.held[key] = memoryLease{token: token, expiresAt: now.Add(ttl)}
	m.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if l, ok := m.held[key]; ok && l.token == token {
				delete(m.held, key)
			}
		})
	}
	return release, nil
}

// Held reports whether a live lease exists for key.
func (m *MemoryLeases) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.held[key]
	return ok && time.Now().Before(l.expiresAt)
}

var _ domain.LeaseManager = (*MemoryLeases)(nil)
