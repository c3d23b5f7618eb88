// Package trino provides a Trino implementation of the query engine.
package trino

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	"github.com/trinodb/trino-go-client/trino"

	"github.com/txn2/sqlgate/pkg/engine"
)

const (
	// defaultBatchSize is the number of rows pulled per stream batch.
	defaultBatchSize = 1000

	// defaultTimeout is the default per-statement timeout.
	defaultTimeout = 120 * time.Second

	// defaultSSLPort is the default port when SSL is enabled.
	defaultSSLPort = 443

	// defaultPlainPort is the default port when SSL is disabled.
	defaultPlainPort = 8080

	// clientSource identifies sqlgate in Trino's query log.
	clientSource = "sqlgate"
)

// Config holds Trino engine configuration.
type Config struct {
	Host      string        `yaml:"host"`
	Port      int           `yaml:"port"`
	User      string        `yaml:"user"`
	Password  string        `yaml:"password"`
	Catalog   string        `yaml:"catalog"`
	Schema    string        `yaml:"schema"`
	SSL       bool          `yaml:"ssl"`
	Timeout   time.Duration `yaml:"timeout"`
	BatchSize int           `yaml:"batch_size"`
}

// Engine implements engine.Engine against a Trino coordinator using the
// trino database/sql driver.
type Engine struct {
	cfg Config
	db  *sql.DB
}

// New creates a Trino engine from the configuration.
func New(cfg Config) (*Engine, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("trino host is required")
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("trino user is required")
	}
	cfg = applyDefaults(cfg)

	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("trino", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening trino connection: %w", err)
	}

	return &Engine{cfg: cfg, db: db}, nil
}

// applyDefaults applies default values to the configuration.
func applyDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		if cfg.SSL {
			cfg.Port = defaultSSLPort
		} else {
			cfg.Port = defaultPlainPort
		}
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = defaultBatchSize
	}
	return cfg
}

// buildDSN formats a driver DSN from the configuration.
func buildDSN(cfg Config) (string, error) {
	scheme := "http"
	if cfg.SSL {
		scheme = "https"
	}

	serverURI := fmt.Sprintf("%s://%s@%s:%d", scheme, cfg.User, cfg.Host, cfg.Port)
	if cfg.Password != "" {
		serverURI = fmt.Sprintf("%s://%s:%s@%s:%d", scheme, cfg.User, cfg.Password, cfg.Host, cfg.Port)
	}

	dc := trino.Config{
		ServerURI: serverURI,
		Source:    clientSource,
		Catalog:   cfg.Catalog,
		Schema:    cfg.Schema,
	}

	dsn, err := dc.FormatDSN()
	if err != nil {
		return "", fmt.Errorf("formatting trino DSN: %w", err)
	}
	return dsn, nil
}

// Name returns the engine name.
func (*Engine) Name() string {
	return "trino"
}

// Execute runs a statement against Trino. Temporary views are resolved by
// the session layer before submission; the statement arrives ready to run.
func (e *Engine) Execute(ctx context.Context, statement string, _ engine.ExecOptions) (*engine.Result, error) {
	execCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)

	rows, err := e.db.QueryContext(execCtx, statement) //nolint:sqlclosecheck // closed by rowStream.Close
	if err != nil {
		cancel()
		return nil, fmt.Errorf("executing statement: %w", err)
	}

	result, err := wrapRows(rows, e.cfg.BatchSize, cancel)
	if err != nil {
		cancel()
		return nil, err
	}
	return result, nil
}

// wrapRows adapts sql.Rows into an engine.Result.
func wrapRows(rows *sql.Rows, batchSize int, cancel context.CancelFunc) (*engine.Result, error) {
	cols, err := rows.ColumnTypes()
	if err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("reading result schema: %w", err)
	}

	schema := &engine.Schema{Columns: make([]engine.Column, 0, len(cols))}
	for _, c := range cols {
		schema.Columns = append(schema.Columns, engine.Column{
			Name: c.Name(),
			Type: c.DatabaseTypeName(),
		})
	}

	return &engine.Result{
		Schema: schema,
		Rows: &rowStream{
			rows:   rows,
			width:  len(cols),
			batch:  batchSize,
			cancel: cancel,
		},
	}, nil
}

// Ping verifies the coordinator is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	if err := e.db.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging trino: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (e *Engine) Close() error {
	if err := e.db.Close(); err != nil {
		return fmt.Errorf("closing trino connection: %w", err)
	}
	return nil
}

// rowStream adapts sql.Rows scanning into batched pulls.
type rowStream struct {
	rows   *sql.Rows
	width  int
	batch  int
	cancel context.CancelFunc
	closed bool
}

// Next scans up to one batch of rows. Cancellation is observed between
// batches via the context carried by the underlying sql.Rows.
func (s *rowStream) Next(ctx context.Context) ([]engine.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]engine.Row, 0, s.batch)
	for len(out) < s.batch && s.rows.Next() {
		values := make([]any, s.width)
		ptrs := make([]any, s.width)
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := s.rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		out = append(out, engine.Row(values))
	}

	if len(out) == 0 {
		if err := s.rows.Err(); err != nil {
			return nil, fmt.Errorf("iterating rows: %w", err)
		}
		return nil, io.EOF
	}
	return out, nil
}

// Close releases the underlying rows and any statement timeout.
func (s *rowStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.rows.Close()
	if s.cancel != nil {
		s.cancel()
	}
	if err != nil {
		return fmt.Errorf("closing rows: %w", err)
	}
	return nil
}

// Verify interface compliance.
var _ engine.Engine = (*Engine)(nil)
