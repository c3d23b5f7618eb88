package audit

import (
	"crypto/rand"
	"encoding/base64"
	"time"
)

// Action categorizes audit events.
type Action string

const (
	// ActionSessionOpen records a session (or handle) opening.
	ActionSessionOpen Action = "session_open"

	// ActionSessionClose records a session (or handle) closing.
	ActionSessionClose Action = "session_close"

	// ActionSubmit records a statement submission.
	ActionSubmit Action = "operation_submit"

	// ActionCancel records an operation cancellation.
	ActionCancel Action = "operation_cancel"

	// ActionComplete records an operation reaching a terminal state.
	ActionComplete Action = "operation_complete"

	// ActionClose records an operation close.
	ActionClose Action = "operation_close"
)

// idLength is the number of random bytes in a generated event ID.
const idLength = 16

// NewEvent creates a new audit event for an action.
func NewEvent(action Action) *Event {
	return &Event{
		ID:        generateEventID(),
		Timestamp: time.Now(),
		Action:    action,
		Success:   true,
	}
}

// WithSession adds session information to the event.
func (e *Event) WithSession(sessionID, user string) *Event {
	e.SessionID = sessionID
	e.User = user
	return e
}

// WithOperation adds operation information to the event.
func (e *Event) WithOperation(operationID, statement, state string) *Event {
	e.OperationID = operationID
	e.Statement = statement
	e.State = state
	return e
}

// WithResult adds outcome information to the event.
func (e *Event) WithResult(success bool, errorMsg string, durationMS int64) *Event {
	e.Success = success
	e.ErrorMessage = errorMsg
	e.DurationMS = durationMS
	return e
}

// generateEventID generates a unique event ID.
func generateEventID() string {
	bytes := make([]byte, idLength)
	_, _ = rand.Read(bytes)
	return base64.RawURLEncoding.EncodeToString(bytes)
}
