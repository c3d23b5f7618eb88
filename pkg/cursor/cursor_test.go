package cursor

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/sqlgate/pkg/engine"
)

// fakeStream serves rows in fixed-size batches and counts pulls so tests
// can assert that backward scrolling never touches the stream again.
type fakeStream struct {
	rows      []engine.Row
	batchSize int
	pos       int
	pulls     int
	err       error
	closed    bool
}

func (s *fakeStream) Next(_ context.Context) ([]engine.Row, error) {
	s.pulls++
	if s.err != nil {
		return nil, s.err
	}
	if s.pos >= len(s.rows) {
		return nil, io.EOF
	}
	end := s.pos + s.batchSize
	if end > len(s.rows) {
		end = len(s.rows)
	}
	batch := s.rows[s.pos:end]
	s.pos = end
	return batch, nil
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

func newTestCursor(total, batchSize int) (*Cursor, *fakeStream) {
	rows := make([]engine.Row, total)
	for i := range rows {
		rows[i] = engine.Row{i}
	}
	stream := &fakeStream{rows: rows, batchSize: batchSize}
	c := New(&engine.Result{
		Schema: &engine.Schema{Columns: []engine.Column{{Name: "n", Type: "INTEGER"}}},
		Rows:   stream,
	})
	return c, stream
}

func TestFetch_ScrollSequence(t *testing.T) {
	c, stream := newTestCursor(10, 3)
	ctx := context.Background()

	steps := []struct {
		orientation Orientation
		maxRows     int
		wantStart   int
		wantEnd     int
	}{
		{Next, 5, 0, 5},
		{Next, 2, 5, 7},
		{Prior, 3, 2, 5},
		{Prior, 3, 0, 3},
		{Prior, 4, 0, 4},
		{Next, 10, 4, 10},
		{Next, 5, 10, 10},
		{Prior, 1, 9, 10},
		{First, 3, 0, 3},
		{Next, 1000, 3, 10},
	}

	for i, step := range steps {
		w, err := c.Fetch(ctx, step.orientation, step.maxRows)
		require.NoError(t, err, "step %d: %s %d", i, step.orientation, step.maxRows)
		assert.Equal(t, step.wantStart, w.StartOffset,
			"step %d: %s %d start", i, step.orientation, step.maxRows)
		assert.Equal(t, step.wantEnd, w.StartOffset+len(w.Rows),
			"step %d: %s %d end", i, step.orientation, step.maxRows)

		// Row identity: the window must hold exactly the rows at those offsets.
		for j, row := range w.Rows {
			assert.Equal(t, step.wantStart+j, row[0], "step %d row %d", i, j)
		}
	}

	// One pull per batch plus the EOF pull. Backward scrolling replays the
	// buffer and never re-executes.
	assert.Equal(t, 5, stream.pulls)
}

func TestFetch_PriorReplaysBuffer(t *testing.T) {
	c, stream := newTestCursor(9, 3)
	ctx := context.Background()

	_, err := c.Fetch(ctx, Next, 6)
	require.NoError(t, err)
	pullsAfterForward := stream.pulls

	for range 5 {
		_, err = c.Fetch(ctx, Prior, 2)
		require.NoError(t, err)
	}
	assert.Equal(t, pullsAfterForward, stream.pulls, "PRIOR within the buffer must not pull")
}

func TestFetch_LazyMaterialization(t *testing.T) {
	c, stream := newTestCursor(100, 10)

	w, err := c.Fetch(context.Background(), First, 5)
	require.NoError(t, err)
	assert.Len(t, w.Rows, 5)
	assert.Equal(t, 1, stream.pulls, "a small window must not drain the stream")

	total, known := c.TotalRows()
	assert.Equal(t, 10, total)
	assert.False(t, known)
}

func TestFetch_NextAtEndOfStream(t *testing.T) {
	c, _ := newTestCursor(4, 4)
	ctx := context.Background()

	w, err := c.Fetch(ctx, Next, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, w.StartOffset)
	assert.Len(t, w.Rows, 4)

	// Repeated NEXT pins to the stable empty window [total, total).
	for range 3 {
		w, err = c.Fetch(ctx, Next, 10)
		require.NoError(t, err)
		assert.Equal(t, 4, w.StartOffset)
		assert.Empty(t, w.Rows)
	}

	// Still scrollable afterward.
	w, err = c.Fetch(ctx, Prior, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, w.StartOffset)
	assert.Len(t, w.Rows, 2)
}

func TestFetch_PriorClampsAtStart(t *testing.T) {
	c, _ := newTestCursor(10, 10)
	ctx := context.Background()

	_, err := c.Fetch(ctx, Next, 2)
	require.NoError(t, err)

	w, err := c.Fetch(ctx, Prior, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, w.StartOffset)
	assert.Len(t, w.Rows, 10, "PRIOR materializes forward from the clamped start")
}

func TestFetch_PriorBeforeAnyFetch(t *testing.T) {
	c, _ := newTestCursor(6, 3)

	w, err := c.Fetch(context.Background(), Prior, 4)
	require.NoError(t, err)
	assert.Equal(t, 0, w.StartOffset)
	assert.Len(t, w.Rows, 4)
}

func TestFetch_EmptyResult(t *testing.T) {
	c, _ := newTestCursor(0, 3)
	ctx := context.Background()

	for _, orientation := range []Orientation{First, Next, Prior} {
		w, err := c.Fetch(ctx, orientation, 5)
		require.NoError(t, err)
		assert.Equal(t, 0, w.StartOffset)
		assert.Empty(t, w.Rows)
	}

	total, known := c.TotalRows()
	assert.Equal(t, 0, total)
	assert.True(t, known)
}

func TestFetch_InvalidArguments(t *testing.T) {
	c, _ := newTestCursor(5, 5)
	ctx := context.Background()

	_, err := c.Fetch(ctx, Next, 0)
	assert.Error(t, err)
	_, err = c.Fetch(ctx, Next, -1)
	assert.Error(t, err)
	_, err = c.Fetch(ctx, Orientation("SIDEWAYS"), 5)
	assert.Error(t, err)
}

func TestFetch_StreamError(t *testing.T) {
	boom := errors.New("worker lost")
	stream := &fakeStream{err: boom}
	c := New(&engine.Result{Schema: &engine.Schema{}, Rows: stream})

	_, err := c.Fetch(context.Background(), Next, 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestParseOrientation(t *testing.T) {
	for _, s := range []string{"FIRST", "NEXT", "PRIOR"} {
		o, err := ParseOrientation(s)
		require.NoError(t, err)
		assert.Equal(t, Orientation(s), o)
	}

	_, err := ParseOrientation("next")
	assert.Error(t, err)
	_, err = ParseOrientation("")
	assert.Error(t, err)
}

func TestClose(t *testing.T) {
	c, stream := newTestCursor(10, 5)
	ctx := context.Background()

	_, err := c.Fetch(ctx, Next, 5)
	require.NoError(t, err)

	require.NoError(t, c.Close())
	assert.True(t, stream.closed)
	require.NoError(t, c.Close(), "close is idempotent")

	// A closed cursor still serves what it materialized.
	w, err := c.Fetch(ctx, First, 3)
	require.NoError(t, err)
	assert.Len(t, w.Rows, 3)
}

func TestLastWindow(t *testing.T) {
	c, _ := newTestCursor(8, 4)

	start, end := c.LastWindow()
	assert.Equal(t, 0, start)
	assert.Equal(t, 0, end)

	_, err := c.Fetch(context.Background(), Next, 3)
	require.NoError(t, err)
	start, end = c.LastWindow()
	assert.Equal(t, 0, start)
	assert.Equal(t, 3, end)
}
