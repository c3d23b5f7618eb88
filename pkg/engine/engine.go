// Package engine provides abstractions for query execution backends.
// An Engine turns statement text plus an effective configuration into a
// schema and a lazily-producible row stream. Trino implements this; the
// in-memory engine serves tests and local mode.
package engine

import "context"

// Row is a single result row.
type Row []any

// Column describes one column of a result schema.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Schema describes the fixed shape of a result set.
type Schema struct {
	Columns []Column `json:"columns"`
}

// RowStream produces result rows in batches. Next returns io.EOF once the
// underlying computation is exhausted, and observes context cancellation
// between batches; implementations need no other preemption point.
type RowStream interface {
	// Next returns the next batch of rows, or io.EOF at end of stream.
	Next(ctx context.Context) ([]Row, error)

	// Close releases the stream. Safe to call more than once.
	Close() error
}

// ExecOptions carries the per-operation execution context resolved by the
// session layer at submission time.
type ExecOptions struct {
	// Config is the effective configuration snapshot.
	Config map[string]string

	// Database is the session's current database/schema pointer.
	Database string

	// TempViews maps temporary view names to their defining statements.
	TempViews map[string]string

	// TempFunctions maps temporary function names to their definitions.
	TempFunctions map[string]string
}

// Result couples the schema of a statement's output with its row stream.
type Result struct {
	Schema *Schema
	Rows   RowStream
}

// Engine executes SQL statements. Execute fails synchronously for
// planning-time errors; runtime failures surface through the row stream.
type Engine interface {
	// Name returns the engine name.
	Name() string

	// Execute runs a statement and returns its result. The context governs
	// the whole execution: cancelling it must stop row production at the
	// next batch boundary.
	Execute(ctx context.Context, statement string, opts ExecOptions) (*Result, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}
