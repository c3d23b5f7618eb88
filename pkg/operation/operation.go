// Package operation owns the lifecycle of statement executions: scheduling,
// state transitions, cancellation, and the association between a finished
// operation and its result cursor.
package operation

import (
	"errors"
	"fmt"
	"sync"

	"github.com/txn2/sqlgate/pkg/cursor"
)

// State is the lifecycle state of an operation.
type State string

const (
	// StateInitialized is the state at creation, before execution starts.
	StateInitialized State = "INITIALIZED"

	// StateRunning means the engine call is in flight.
	StateRunning State = "RUNNING"

	// StateFinished means execution completed and a cursor is attached.
	StateFinished State = "FINISHED"

	// StateError means execution failed; the failure is captured.
	StateError State = "ERROR"

	// StateCanceled means the operation was cancelled while running.
	StateCanceled State = "CANCELED"

	// StateClosed is terminal and reachable from any state.
	StateClosed State = "CLOSED"
)

// Terminal reports whether the state is a terminal execution state.
func (s State) Terminal() bool {
	switch s {
	case StateFinished, StateError, StateCanceled, StateClosed:
		return true
	default:
		return false
	}
}

// ErrCancelled is surfaced to any caller awaiting the result of a
// cancelled operation.
var ErrCancelled = errors.New("operation was cancelled")

// ErrStateConflict marks a truly conflicting transition, such as fetching
// from a closed operation.
var ErrStateConflict = errors.New("operation state conflict")

// ErrInvalidHandle is returned for unknown or already-closed handles.
var ErrInvalidHandle = errors.New("invalid operation handle")

// Operation is a single statement execution. All state access goes through
// the Manager or through the accessor methods; the zero value is not usable.
type Operation struct {
	id        string
	sessionID string
	statement string
	config    map[string]string

	mu     sync.Mutex
	state  State
	err    error
	cursor *cursor.Cursor
	cancel func()

	// done is closed when the operation reaches a terminal state, waking
	// fetch callers blocked on a still-running async execution.
	done chan struct{}
}

// ID returns the operation handle.
func (o *Operation) ID() string {
	return o.id
}

// SessionID returns the owning session's id.
func (o *Operation) SessionID() string {
	return o.sessionID
}

// Statement returns the submitted statement text.
func (o *Operation) Statement() string {
	return o.statement
}

// Config returns the effective configuration snapshot captured at
// submission time.
func (o *Operation) Config() map[string]string {
	return o.config
}

// State returns the current state without blocking.
func (o *Operation) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Err returns the captured failure, if any.
func (o *Operation) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// Done returns a channel closed once the operation reaches a terminal
// state.
func (o *Operation) Done() <-chan struct{} {
	return o.done
}

// finish records successful completion. It is a no-op unless the
// operation is still RUNNING: cancellation always wins the race with
// normal completion.
func (o *Operation) finish(c *cursor.Cursor) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateRunning {
		return false
	}
	o.state = StateFinished
	o.cursor = c
	close(o.done)
	return true
}

// fail records an execution failure, subject to the same race rule as
// finish.
func (o *Operation) fail(err error) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateRunning {
		return false
	}
	o.state = StateError
	o.err = fmt.Errorf("engine failure: %w", err)
	close(o.done)
	return true
}

// markCancelled moves a RUNNING operation to CANCELED. Returns false when
// the state made cancellation a no-op.
func (o *Operation) markCancelled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateRunning {
		return false
	}
	o.state = StateCanceled
	o.err = ErrCancelled
	if o.cancel != nil {
		o.cancel()
	}
	close(o.done)
	return true
}

// markClosed transitions to CLOSED from any state, detaching the cursor
// for release by the caller. Idempotent.
func (o *Operation) markClosed() *cursor.Cursor {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state == StateClosed {
		return nil
	}
	prev := o.state
	o.state = StateClosed
	if o.cancel != nil {
		o.cancel()
	}
	c := o.cursor
	o.cursor = nil
	if prev == StateRunning || prev == StateInitialized {
		close(o.done)
	}
	return c
}
