package engine

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// defaultMemoryBatchSize is the batch size used when none is configured.
const defaultMemoryBatchSize = 64

// ResultSet is a fully materialized result registered with a MemoryEngine.
type ResultSet struct {
	Schema Schema
	Rows   []Row
}

// MemoryEngine serves canned result sets keyed by statement text. It backs
// local mode and tests; unknown statements fail. Statement lookup is
// case-insensitive on leading/trailing whitespace-trimmed text.
type MemoryEngine struct {
	mu        sync.RWMutex
	results   map[string]ResultSet
	batchSize int

	// BatchDelay inserts a pause before each batch, giving tests a window
	// to exercise cancellation between batches.
	BatchDelay time.Duration
}

// NewMemoryEngine creates an empty in-memory engine.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		results:   make(map[string]ResultSet),
		batchSize: defaultMemoryBatchSize,
	}
}

// SetBatchSize overrides the number of rows per stream batch.
func (e *MemoryEngine) SetBatchSize(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n > 0 {
		e.batchSize = n
	}
}

// Register associates a statement with a canned result set.
func (e *MemoryEngine) Register(statement string, rs ResultSet) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results[normalize(statement)] = rs
}

// Name returns the engine name.
func (*MemoryEngine) Name() string {
	return "memory"
}

// Execute looks up the canned result for a statement.
func (e *MemoryEngine) Execute(ctx context.Context, statement string, _ ExecOptions) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.RLock()
	rs, ok := e.results[normalize(statement)]
	batch := e.batchSize
	delay := e.BatchDelay
	e.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown statement: %s", statement)
	}

	schema := rs.Schema
	return &Result{
		Schema: &schema,
		Rows: &memoryStream{
			rows:  rs.Rows,
			batch: batch,
			delay: delay,
		},
	}, nil
}

// Ping always succeeds.
func (*MemoryEngine) Ping(_ context.Context) error {
	return nil
}

// Close releases nothing.
func (*MemoryEngine) Close() error {
	return nil
}

// memoryStream serves a slice of rows in batches.
type memoryStream struct {
	mu    sync.Mutex
	rows  []Row
	pos   int
	batch int
	delay time.Duration

	// Pulls counts Next calls that returned rows, exposed for tests that
	// assert replay never re-executes.
	pulls int
}

// Next returns the next batch or io.EOF.
func (s *memoryStream) Next(ctx context.Context) ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if s.pos >= len(s.rows) {
		return nil, io.EOF
	}

	end := s.pos + s.batch
	if end > len(s.rows) {
		end = len(s.rows)
	}
	out := s.rows[s.pos:end]
	s.pos = end
	s.pulls++
	return out, nil
}

// Pulls reports how many batches have been served.
func (s *memoryStream) Pulls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pulls
}

// Close is a no-op.
func (*memoryStream) Close() error {
	return nil
}

// normalize canonicalizes statement text for lookup.
func normalize(statement string) string {
	return strings.ToLower(strings.TrimSpace(statement))
}

// Verify interface compliance.
var _ Engine = (*MemoryEngine)(nil)
