// Package postgres provides PostgreSQL storage for gateway audit logs.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/txn2/sqlgate/pkg/audit"
)

const (
	defaultRetentionDays = 90
	defaultQueryCapacity = 100
	maxQueryCapacity     = 10000
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// auditColumns lists columns returned by audit SELECT queries.
var auditColumns = []string{
	"id", "timestamp", "action", "session_id", "operation_id",
	"username", "statement", "state", "success", "error_message",
	"duration_ms",
}

// Store implements audit.Logger using PostgreSQL.
type Store struct {
	db            *sql.DB
	retentionDays int
	cancel        context.CancelFunc
	done          chan struct{}
}

// Config configures the PostgreSQL audit store.
type Config struct {
	RetentionDays int
}

// New creates a new PostgreSQL audit store.
func New(db *sql.DB, cfg Config) *Store {
	if cfg.RetentionDays == 0 {
		cfg.RetentionDays = defaultRetentionDays
	}
	return &Store{
		db:            db,
		retentionDays: cfg.RetentionDays,
	}
}

// Log records an audit event.
func (s *Store) Log(ctx context.Context, event audit.Event) error {
	query, args, err := psq.Insert("gateway_audit").
		Columns(auditColumns...).
		Values(
			event.ID,
			event.Timestamp,
			string(event.Action),
			event.SessionID,
			event.OperationID,
			event.User,
			event.Statement,
			event.State,
			event.Success,
			event.ErrorMessage,
			event.DurationMS,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("building audit insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting audit log: %w", err)
	}
	return nil
}

// applyAuditFilter adds filter conditions to a SELECT builder.
func applyAuditFilter(qb sq.SelectBuilder, filter audit.QueryFilter) sq.SelectBuilder {
	if filter.StartTime != nil {
		qb = qb.Where(sq.GtOrEq{"timestamp": *filter.StartTime})
	}
	if filter.EndTime != nil {
		qb = qb.Where(sq.LtOrEq{"timestamp": *filter.EndTime})
	}
	if filter.SessionID != "" {
		qb = qb.Where(sq.Eq{"session_id": filter.SessionID})
	}
	if filter.OperationID != "" {
		qb = qb.Where(sq.Eq{"operation_id": filter.OperationID})
	}
	if filter.User != "" {
		qb = qb.Where(sq.Eq{"username": filter.User})
	}
	if filter.Action != "" {
		qb = qb.Where(sq.Eq{"action": string(filter.Action)})
	}
	if filter.Success != nil {
		qb = qb.Where(sq.Eq{"success": *filter.Success})
	}
	return qb
}

// Query retrieves audit events matching the filter, newest first.
func (s *Store) Query(ctx context.Context, filter audit.QueryFilter) ([]audit.Event, error) {
	qb := applyAuditFilter(psq.Select(auditColumns...).From("gateway_audit"), filter)
	qb = qb.OrderBy("timestamp DESC")
	if filter.Limit > 0 {
		qb = qb.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		qb = qb.Offset(uint64(filter.Offset))
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building audit query: %w", err)
	}

	return s.executeQuery(ctx, query, args, filter.Limit)
}

func (s *Store) executeQuery(ctx context.Context, query string, args []any, limit int) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	allocCap := defaultQueryCapacity
	if limit > 0 && limit <= maxQueryCapacity {
		allocCap = limit
	}
	events := make([]audit.Event, 0, allocCap)

	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit log rows: %w", err)
	}

	return events, nil
}

func scanEvent(rows *sql.Rows) (audit.Event, error) {
	var event audit.Event
	var action string

	err := rows.Scan(
		&event.ID,
		&event.Timestamp,
		&action,
		&event.SessionID,
		&event.OperationID,
		&event.User,
		&event.Statement,
		&event.State,
		&event.Success,
		&event.ErrorMessage,
		&event.DurationMS,
	)
	if err != nil {
		return event, fmt.Errorf("scanning audit log row: %w", err)
	}

	event.Action = audit.Action(action)
	return event, nil
}

// Cleanup removes audit logs older than the retention period.
func (s *Store) Cleanup(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	query := `DELETE FROM gateway_audit WHERE timestamp < $1`
	if _, err := s.db.ExecContext(ctx, query, cutoff); err != nil {
		return fmt.Errorf("cleaning up audit logs: %w", err)
	}
	return nil
}

// StartCleanupRoutine starts a background goroutine that periodically
// deletes old audit logs. The goroutine is stopped when Close is called.
func (s *Store) StartCleanupRoutine(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = s.Cleanup(ctx)
			}
		}
	}()
}

// Close cancels the cleanup goroutine and waits for it to exit.
// It is safe to call Close even if StartCleanupRoutine was never called.
func (s *Store) Close() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	return nil
}

// Verify interface compliance.
var _ audit.Logger = (*Store)(nil)
