package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/arbcore/internal/domain"
)

// releaseLua deletes a lease key only if its value matches the caller's
// token, so a holder whose lease already expired cannot release a
// successor's lease.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// Leases implements domain.LeaseManager using Redis SETNX with a TTL and a
// Lua-based conditional release. Because the lease lives in Redis it also
// serializes execution across multiple bot processes sharing the same
// instance.
type Leases struct {
	rdb       *redis.Client
	releaseSc *redis.Script
}

// NewLeases creates a lease manager backed by the given Client.
func NewLeases(c *Client) *Leases {
	return &Leases{
		rdb:       c.rdb,
		releaseSc: redis.NewScript(releaseLua),
	}
}

var _ domain.LeaseManager = (*Leases)(nil)

func leaseKey(key string) string {
	return "lease:" + key
}

// Acquire takes the execution lease for key with the given TTL. On success
// it returns a release function safe to call more than once. It returns
// domain.ErrLeaseHeld when another attempt holds the lease.
func (l *Leases) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	lk := leaseKey(key)

	ok, err := l.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLeaseHeld
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			// The release must go through even when the attempt's context is
			// already cancelled.
			relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = l.releaseSc.Run(relCtx, l.rdb, []string{lk}, token).Err()
		})
	}
	return release, nil
}
