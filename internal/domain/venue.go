package domain

import (
	"context"
	"time"
)

// VenueFeed produces a lazy, infinite stream of quotes for subscribed
// instruments. Sequence numbers are monotonically increasing per stream;
// reconnect and backoff on transport failure are the adapter's
// responsibility and are visible to the core only as a gap in sequence
// numbers.
type VenueFeed interface {
	VenueID() string
	// Subscribe starts the feed and returns a channel of quotes. The channel
	// is closed when ctx is cancelled or the feed terminates.
	Subscribe(ctx context.Context, instruments []Instrument) (<-chan VenueQuote, error)
}

// VenueExecutor is the abstract order API for one venue. Place is
// synchronous acceptance; fills arrive asynchronously on Updates. Cancel
// must be idempotent on repeated calls.
type VenueExecutor interface {
	VenueID() string
	Place(ctx context.Context, o Order) (OrderAck, error)
	Cancel(ctx context.Context, orderID string) (bool, error)
	Status(ctx context.Context, orderID string) (OrderUpdate, error)
	// Updates returns the venue's asynchronous order notification stream.
	// The same channel is returned on every call.
	Updates() <-chan OrderUpdate
}

// LeaseManager hands out exclusivity leases. The risk gate takes a lease on
// an instrument for the duration of an execution attempt; this is the sole
// serialization point preventing concurrent double-execution.
type LeaseManager interface {
	// Acquire obtains the lease for key with the given TTL. On success it
	// returns a release function that is safe to call more than once. It
	// returns ErrLeaseHeld when the lease is already taken.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
