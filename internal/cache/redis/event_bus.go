package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/arbcore/internal/domain"
)

// streamMaxLen caps the ledger stream; MAXLEN ~ trims lazily on append.
const streamMaxLen = 10_000

// EventBus implements domain.EventBus. Publish is fire-and-forget pub/sub
// for live observers; StreamAppend lands ordered events on a Redis stream
// that the accounting archiver drains.
type EventBus struct {
	rdb *redis.Client
}

// NewEventBus creates an EventBus backed by the given Client.
func NewEventBus(c *Client) *EventBus {
	return &EventBus{rdb: c.rdb}
}

var _ domain.EventBus = (*EventBus)(nil)

// Publish sends payload to all current subscribers of channel. A payload
// nobody receives is not an error.
func (b *EventBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// StreamAppend appends payload to stream with approximate trimming.
func (b *EventBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{"payload": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: xadd %s: %w", stream, err)
	}
	return nil
}

// Subscribe returns a pub/sub subscription for the given channels. The
// caller owns closing it.
func (b *EventBus) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return b.rdb.Subscribe(ctx, channels...)
}
