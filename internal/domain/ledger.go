package domain

import (
	"context"
	"time"
)

// LedgerEntry records one attempt state transition. Entries are append-only
// and are written before the transition is acted on, so a crash mid-attempt
// is recoverable by replaying the ledger.
type LedgerEntry struct {
	ID         int64 // assigned by the store; 0 until persisted
	AttemptID  string
	Instrument Instrument
	FromState  AttemptState
	ToState    AttemptState
	Detail     map[string]any
	Timestamp  time.Time
}

// LedgerStore persists ledger entries and attempt snapshots. Implementations
// must make AppendEntry durable before returning.
type LedgerStore interface {
	AppendEntry(ctx context.Context, e LedgerEntry) error
	// SaveAttempt upserts the current snapshot of an attempt, including its
	// orders and outcome.
	SaveAttempt(ctx context.Context, att ExecutionAttempt) error
	Attempt(ctx context.Context, id string) (ExecutionAttempt, error)
	// NonTerminalAttempts returns attempts whose last recorded state is not
	// terminal, i.e. attempts interrupted by a crash.
	NonTerminalAttempts(ctx context.Context) ([]ExecutionAttempt, error)
	EntriesByAttempt(ctx context.Context, attemptID string) ([]LedgerEntry, error)
	// RecentAttempts returns the most recent attempts, newest first.
	// limit <= 0 returns all.
	RecentAttempts(ctx context.Context, limit int) ([]ExecutionAttempt, error)
	// EntriesBefore returns entries older than the cutoff, for archival.
	EntriesBefore(ctx context.Context, before time.Time) ([]LedgerEntry, error)
}

// EventBus publishes ledger events outward for metrics/logging collaborators.
// Publish is fire-and-forget pub/sub; StreamAppend is durable and ordered,
// intended for the external accounting sink.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}
