// Package cursor provides a scrollable result cursor over a lazily
// materialized row stream. Rows pulled from the engine are retained for
// replay, so backward scrolling never re-executes the query.
package cursor

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/txn2/sqlgate/pkg/engine"
)

// Orientation is the direction/anchor of a scrollable fetch request.
type Orientation string

const (
	// First fetches from the absolute start of the result.
	First Orientation = "FIRST"

	// Next fetches forward from the end of the previous fetch.
	Next Orientation = "NEXT"

	// Prior fetches backward from the start of the previous fetch.
	Prior Orientation = "PRIOR"
)

// ParseOrientation maps a string to an Orientation.
func ParseOrientation(s string) (Orientation, error) {
	switch Orientation(s) {
	case First, Next, Prior:
		return Orientation(s), nil
	default:
		return "", fmt.Errorf("invalid fetch orientation: %q", s)
	}
}

// Window is one page of results returned by a fetch.
type Window struct {
	// StartOffset is the zero-based row offset of the first row.
	StartOffset int

	// Rows holds the rows in [StartOffset, StartOffset+len(Rows)).
	Rows []engine.Row
}

// Cursor wraps a row stream with a scrollable fetch protocol. The
// materialized buffer only grows; no row is ever evicted. A Cursor is
// owned by one operation: concurrent fetches on a single cursor are
// serialized, and independent cursors never interfere.
type Cursor struct {
	mu     sync.Mutex
	schema *engine.Schema
	stream engine.RowStream

	buf        []engine.Row
	totalKnown bool

	lastStart int
	lastEnd   int
}

// New creates a cursor over a completed execution's result.
func New(result *engine.Result) *Cursor {
	return &Cursor{
		schema: result.Schema,
		stream: result.Rows,
	}
}

// Schema returns the result schema.
func (c *Cursor) Schema() *engine.Schema {
	return c.schema
}

// Fetch returns the window selected by the orientation relative to the
// previous fetch. maxRows must be positive.
//
//	FIRST: [0, min(maxRows, total))
//	NEXT:  [lastEnd, lastEnd+maxRows) clamped at the total once known
//	PRIOR: [max(0, lastStart-maxRows), start+maxRows) clamped likewise
//
// At end of stream NEXT degenerates to the stable empty window
// [total, total); that is a terminal condition, not an error.
func (c *Cursor) Fetch(ctx context.Context, orientation Orientation, maxRows int) (Window, error) {
	if maxRows <= 0 {
		return Window{}, fmt.Errorf("maxRows must be positive, got %d", maxRows)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var newStart int
	switch orientation {
	case First:
		newStart = 0
	case Next:
		newStart = c.lastEnd
	case Prior:
		newStart = c.lastStart - maxRows
		if newStart < 0 {
			newStart = 0
		}
	default:
		return Window{}, fmt.Errorf("invalid fetch orientation: %q", orientation)
	}

	newEnd, err := c.materializeUpTo(ctx, newStart+maxRows)
	if err != nil {
		return Window{}, err
	}
	if newEnd < newStart {
		// NEXT past the end of stream: pin to the stable empty window.
		newEnd = newStart
	}

	c.lastStart, c.lastEnd = newStart, newEnd
	return Window{
		StartOffset: newStart,
		Rows:        c.buf[newStart:newEnd],
	}, nil
}

// materializeUpTo pulls rows from the stream until the buffer holds k rows
// or the stream is exhausted, returning min(k, total materialized).
// Callers hold c.mu.
func (c *Cursor) materializeUpTo(ctx context.Context, k int) (int, error) {
	for !c.totalKnown && len(c.buf) < k {
		if c.stream == nil {
			break
		}
		batch, err := c.stream.Next(ctx)
		if err == io.EOF {
			c.totalKnown = true
			break
		}
		if err != nil {
			return 0, fmt.Errorf("pulling rows: %w", err)
		}
		c.buf = append(c.buf, batch...)
	}
	if k > len(c.buf) {
		return len(c.buf), nil
	}
	return k, nil
}

// TotalRows returns the number of rows known to exist so far and whether
// that count is final.
func (c *Cursor) TotalRows() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf), c.totalKnown
}

// LastWindow returns the half-open row range of the most recent fetch.
func (c *Cursor) LastWindow() (start, end int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastStart, c.lastEnd
}

// Close releases the underlying stream. The materialized buffer is
// dropped with the cursor itself.
func (c *Cursor) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return nil
	}
	err := c.stream.Close()
	c.stream = nil
	if err != nil {
		return fmt.Errorf("closing row stream: %w", err)
	}
	return nil
}
