package postgres

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbcore/internal/domain"
)

func TestAttemptRowNonTerminalHasNullCompletedAt(t *testing.T) {
	att := domain.ExecutionAttempt{
		ID:        "att-1",
		State:     domain.AttemptStatePlacing,
		StartedAt: time.Now(),
	}

	body, completedAt, err := attemptRow(att)
	require.NoError(t, err)
	require.Nil(t, completedAt)

	var round domain.ExecutionAttempt
	require.NoError(t, json.Unmarshal(body, &round))
	require.Equal(t, att.ID, round.ID)
	require.Equal(t, domain.AttemptStatePlacing, round.State)
}

func TestAttemptRowTerminalKeepsCompletedAt(t *testing.T) {
	done := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	att := domain.ExecutionAttempt{
		ID:          "att-2",
		State:       domain.AttemptStateCompleted,
		StartedAt:   done.Add(-time.Second),
		CompletedAt: &done,
	}

	_, completedAt, err := attemptRow(att)
	require.NoError(t, err)
	require.NotNil(t, completedAt)
	require.True(t, completedAt.Equal(done))
}
