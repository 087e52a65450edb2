package s3blob

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbcore/internal/domain"
	"github.com/alanyoungcy/arbcore/internal/ledger"
)

type captureWriter struct {
	paths  []string
	bodies [][]byte
}

func (c *captureWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	c.paths = append(c.paths, path)
	c.bodies = append(c.bodies, b)
	return nil
}

func TestArchiveEntries(t *testing.T) {
	store := ledger.NewMemoryStore()
	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, ts := range []time.Time{
		cutoff.Add(-48 * time.Hour),
		cutoff.Add(-time.Hour),
		cutoff.Add(time.Hour), // too new, stays out of the archive
	} {
		require.NoError(t, store.AppendEntry(context.Background(), domain.LedgerEntry{
			AttemptID:  "att-1",
			Instrument: "BTC-USD",
			FromState:  domain.AttemptStateNone,
			ToState:    domain.AttemptStatePlanning,
			Detail:     map[string]any{"n": i},
			Timestamp:  ts,
		}))
	}

	w := &captureWriter{}
	arch := NewArchiver(w, store)

	n, err := arch.ArchiveEntries(context.Background(), cutoff)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	require.Equal(t, []string{"archive/ledger_entries/2026-03.jsonl"}, w.paths)
	lines := bytes.Split(bytes.TrimSpace(w.bodies[0]), []byte("\n"))
	require.Len(t, lines, 2)
	require.True(t, strings.Contains(string(lines[0]), "att-1"))
}

func TestArchiveEntriesEmpty(t *testing.T) {
	w := &captureWriter{}
	arch := NewArchiver(w, ledger.NewMemoryStore())

	n, err := arch.ArchiveEntries(context.Background(), time.Now())
	require.NoError(t, err)
	require.Zero(t, n)
	require.Empty(t, w.paths, "no upload for an empty batch")
}

func TestArchiveAttemptsOnlyTerminal(t *testing.T) {
	store := ledger.NewMemoryStore()
	cutoff := time.Now().UTC()

	done := domain.ExecutionAttempt{
		ID:        "att-done",
		State:     domain.AttemptStateCompleted,
		StartedAt: cutoff.Add(-time.Hour),
	}
	running := domain.ExecutionAttempt{
		ID:        "att-running",
		State:     domain.AttemptStateAwaitingFills,
		StartedAt: cutoff.Add(-time.Hour),
	}
	require.NoError(t, store.SaveAttempt(context.Background(), done))
	require.NoError(t, store.SaveAttempt(context.Background(), running))

	w := &captureWriter{}
	arch := NewArchiver(w, store)

	n, err := arch.ArchiveAttempts(context.Background(), cutoff)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	require.True(t, strings.Contains(string(w.bodies[0]), "att-done"))
	require.False(t, strings.Contains(string(w.bodies[0]), "att-running"))
}
