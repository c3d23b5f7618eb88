package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	before := time.Now()
	e := NewEvent(ActionSubmit)
	after := time.Now()

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, ActionSubmit, e.Action)
	assert.True(t, e.Success)
	assert.False(t, e.Timestamp.Before(before))
	assert.False(t, e.Timestamp.After(after))
}

func TestNewEvent_UniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		id := NewEvent(ActionSubmit).ID
		require.False(t, seen[id], "duplicate event id %s", id)
		seen[id] = true
	}
}

func TestEventBuilders(t *testing.T) {
	e := NewEvent(ActionComplete).
		WithSession("sess-1", "alice").
		WithOperation("op-1", "SELECT 1", "FINISHED").
		WithResult(false, "boom", 42)

	assert.Equal(t, "sess-1", e.SessionID)
	assert.Equal(t, "alice", e.User)
	assert.Equal(t, "op-1", e.OperationID)
	assert.Equal(t, "SELECT 1", e.Statement)
	assert.Equal(t, "FINISHED", e.State)
	assert.False(t, e.Success)
	assert.Equal(t, "boom", e.ErrorMessage)
	assert.Equal(t, int64(42), e.DurationMS)
}

func TestNoopLogger(t *testing.T) {
	var l Logger = NoopLogger{}
	ctx := context.Background()

	require.NoError(t, l.Log(ctx, Event{}))
	events, err := l.Query(ctx, QueryFilter{SessionID: "any"})
	require.NoError(t, err)
	assert.Empty(t, events)
	require.NoError(t, l.Close())
}
