// Package audit provides audit logging of session and operation lifecycle
// events in the gateway.
package audit

import (
	"context"
	"time"
)

// Logger defines the interface for audit logging.
type Logger interface {
	// Log records an audit event.
	Log(ctx context.Context, event Event) error

	// Query retrieves audit events matching the filter.
	Query(ctx context.Context, filter QueryFilter) ([]Event, error)

	// Close releases resources.
	Close() error
}

// Event represents an auditable gateway event: a session opening or
// closing, or an operation reaching a lifecycle milestone.
type Event struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Action       Action    `json:"action"`
	SessionID    string    `json:"session_id"`
	OperationID  string    `json:"operation_id,omitempty"`
	User         string    `json:"user,omitempty"`
	Statement    string    `json:"statement,omitempty"`
	State        string    `json:"state,omitempty"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
	DurationMS   int64     `json:"duration_ms"`
}

// QueryFilter defines criteria for querying audit events.
type QueryFilter struct {
	StartTime   *time.Time
	EndTime     *time.Time
	SessionID   string
	OperationID string
	User        string
	Action      Action
	Success     *bool
	Limit       int
	Offset      int
}

// Config configures audit logging.
type Config struct {
	Enabled       bool
	RetentionDays int
}

// NoopLogger discards events; used when no audit DSN is configured.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(_ context.Context, _ Event) error {
	return nil
}

// Query returns no events.
func (NoopLogger) Query(_ context.Context, _ QueryFilter) ([]Event, error) {
	return []Event{}, nil
}

// Close does nothing.
func (NoopLogger) Close() error {
	return nil
}

// Verify interface compliance.
var _ Logger = NoopLogger{}
