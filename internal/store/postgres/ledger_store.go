package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbcore/internal/domain"
)

// LedgerStore implements domain.LedgerStore using PostgreSQL. Attempt
// snapshots are stored as jsonb; transitions go to an append-only
// ledger_entries table.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a LedgerStore over the given pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

var _ domain.LedgerStore = (*LedgerStore)(nil)

// AppendEntry inserts a ledger entry. The insert commits before return, so
// the entry is durable before the transition it records is acted on.
func (s *LedgerStore) AppendEntry(ctx context.Context, e domain.LedgerEntry) error {
	var detail []byte
	if e.Detail != nil {
		b, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("postgres: marshal entry detail: %w", err)
		}
		detail = b
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ledger_entries (attempt_id, instrument, from_state, to_state, detail, ts)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.AttemptID, string(e.Instrument), string(e.FromState), string(e.ToState), detail, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert ledger_entry: %w", err)
	}
	return nil
}

// SaveAttempt upserts the full attempt snapshot.
func (s *LedgerStore) SaveAttempt(ctx context.Context, att domain.ExecutionAttempt) error {
	body, completedAt, err := attemptRow(att)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO execution_attempts (id, instrument, state, attempt, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			attempt = EXCLUDED.attempt,
			completed_at = EXCLUDED.completed_at`,
		att.ID, string(att.Opportunity.Instrument), string(att.State), body, att.StartedAt, completedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert attempt %s: %w", att.ID, err)
	}
	return nil
}

// Attempt returns one attempt snapshot by ID.
func (s *LedgerStore) Attempt(ctx context.Context, id string) (domain.ExecutionAttempt, error) {
	var body []byte
	err := s.pool.QueryRow(ctx,
		`SELECT attempt FROM execution_attempts WHERE id = $1`, id,
	).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ExecutionAttempt{}, domain.ErrNotFound
		}
		return domain.ExecutionAttempt{}, fmt.Errorf("postgres: get attempt %s: %w", id, err)
	}
	var att domain.ExecutionAttempt
	if err := json.Unmarshal(body, &att); err != nil {
		return domain.ExecutionAttempt{}, fmt.Errorf("postgres: unmarshal attempt %s: %w", id, err)
	}
	return att, nil
}

// NonTerminalAttempts returns attempts interrupted before reaching a
// terminal state, oldest first.
func (s *LedgerStore) NonTerminalAttempts(ctx context.Context) ([]domain.ExecutionAttempt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT attempt FROM execution_attempts
		WHERE state NOT IN ($1, $2, $3)
		ORDER BY started_at`,
		string(domain.AttemptStateCompleted),
		string(domain.AttemptStatePartiallyUnwound),
		string(domain.AttemptStateFailed),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list non-terminal attempts: %w", err)
	}
	defer rows.Close()
	return scanAttempts(rows)
}

// RecentAttempts returns attempts newest first; limit <= 0 returns all.
func (s *LedgerStore) RecentAttempts(ctx context.Context, limit int) ([]domain.ExecutionAttempt, error) {
	q := `SELECT attempt FROM execution_attempts ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent attempts: %w", err)
	}
	defer rows.Close()
	return scanAttempts(rows)
}

// EntriesByAttempt returns the transition history for one attempt in
// append order.
func (s *LedgerStore) EntriesByAttempt(ctx context.Context, attemptID string) ([]domain.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, attempt_id, instrument, from_state, to_state, detail, ts
		FROM ledger_entries WHERE attempt_id = $1 ORDER BY id`,
		attemptID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list entries for %s: %w", attemptID, err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// EntriesBefore returns entries older than the cutoff, for archival.
func (s *LedgerStore) EntriesBefore(ctx context.Context, before time.Time) ([]domain.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, attempt_id, instrument, from_state, to_state, detail, ts
		FROM ledger_entries WHERE ts < $1 ORDER BY id`,
		before,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list entries before %s: %w", before, err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// attemptRow maps an attempt to its stored columns. CompletedAt stays
// NULL until the attempt is terminal.
func attemptRow(att domain.ExecutionAttempt) ([]byte, *time.Time, error) {
	body, err := json.Marshal(att)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: marshal attempt: %w", err)
	}
	return body, att.CompletedAt, nil
}

func scanAttempts(rows pgx.Rows) ([]domain.ExecutionAttempt, error) {
	var out []domain.ExecutionAttempt
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("postgres: scan attempt: %w", err)
		}
		var att domain.ExecutionAttempt
		if err := json.Unmarshal(body, &att); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal attempt: %w", err)
		}
		out = append(out, att)
	}
	return out, rows.Err()
}

func scanEntries(rows pgx.Rows) ([]domain.LedgerEntry, error) {
	var out []domain.LedgerEntry
	for rows.Next() {
		var (
			e          domain.LedgerEntry
			inst       string
			from, to   string
			detail     []byte
		)
		if err := rows.Scan(&e.ID, &e.AttemptID, &inst, &from, &to, &detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan entry: %w", err)
		}
		e.Instrument = domain.Instrument(inst)
		e.FromState = domain.AttemptState(from)
		e.ToState = domain.AttemptState(to)
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal entry detail: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
