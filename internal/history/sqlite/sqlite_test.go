package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/affinity/internal/history"
)

func event(id, profile, status string, at time.Time) history.Event {
	return history.Event{
		ID:         id,
		OccurredAt: at,
		Profile:    profile,
		Path:       "/opt/" + profile,
		PID:        4242,
		Name:       profile,
		Status:     status,
		Attempts:   2,
		Respawns:   1,
		Cores:      "0,2",
		Priority:   "high",
		Duration:   1500 * time.Millisecond,
	}
}

func TestSinkRoundTrip(t *testing.T) {
	sink, err := New("sqlite://" + filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer func() { require.NoError(t, sink.Close()) }()

	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, sink.Send(ctx, event("a", "game", "applied", base)))
	failed := event("b", "render", "abandoned", base.Add(time.Minute))
	failed.ErrKind, failed.Error = "process_not_found", "process 4242 is gone"
	require.NoError(t, sink.Send(ctx, failed))

	got, err := sink.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "b", got[0].ID, "newest first")
	assert.Equal(t, "process_not_found", got[0].ErrKind)
	assert.Equal(t, "process 4242 is gone", got[0].Error)
	assert.True(t, base.Add(time.Minute).Equal(got[0].OccurredAt))

	assert.Equal(t, "a", got[1].ID)
	assert.Empty(t, got[1].ErrKind)
	assert.Equal(t, "0,2", got[1].Cores)
	assert.Equal(t, 1500*time.Millisecond, got[1].Duration)
	assert.Equal(t, 1, got[1].Respawns)
}

func TestRecentLimit(t *testing.T) {
	sink, err := New(":memory:")
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	now := time.Now().UTC()
	for i, id := range []string{"1", "2", "3"} {
		require.NoError(t, sink.Send(ctx, event(id, "game", "applied", now.Add(time.Duration(i)*time.Second))))
	}

	got, err := sink.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "3", got[0].ID)
	assert.Equal(t, "2", got[1].ID)

	all, err := sink.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSchemaIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	first, err := New(path)
	require.NoError(t, err)
	require.NoError(t, first.Send(context.Background(), event("x", "game", "applied", time.Now())))
	require.NoError(t, first.Close())

	second, err := New(path)
	require.NoError(t, err)
	defer func() { _ = second.Close() }()
	got, err := second.Recent(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestNewRejectsEmptyDSN(t *testing.T) {
	_, err := New("  ")
	assert.Error(t, err)
}
