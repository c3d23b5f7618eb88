package operation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/txn2/sqlgate/pkg/cursor"
	"github.com/txn2/sqlgate/pkg/engine"
)

// SubmitRequest carries everything the manager needs to start an
// execution. The session layer resolves the effective configuration and
// namespaces before submission.
type SubmitRequest struct {
	SessionID string
	Statement string
	Async     bool
	Options   engine.ExecOptions
}

// Manager tracks every live operation on the server. Handles are unique
// across the server and never reused.
type Manager struct {
	engine engine.Engine

	mu  sync.RWMutex
	ops map[string]*Operation
}

// NewManager creates a manager executing against the given engine.
func NewManager(eng engine.Engine) *Manager {
	return &Manager{
		engine: eng,
		ops:    make(map[string]*Operation),
	}
}

// Submit creates an operation for the statement and starts execution.
// With Async false the call blocks until the engine completes or fails,
// landing in FINISHED or ERROR before returning; engine failures also
// propagate as the returned error. With Async true the call returns the
// operation while it is still RUNNING.
func (m *Manager) Submit(req SubmitRequest) (*Operation, error) {
	op := &Operation{
		id:        uuid.NewString(),
		sessionID: req.SessionID,
		statement: req.Statement,
		config:    req.Options.Config,
		state:     StateInitialized,
		done:      make(chan struct{}),
	}

	// Execution is detached from the submitting call's context: an async
	// operation outlives the RPC that started it. Cancellation flows
	// through op.cancel.
	execCtx, cancel := context.WithCancel(context.Background())
	op.cancel = cancel

	// The transition to RUNNING happens before the handle is published.
	// A Close or CloseSession arriving right after publication then
	// always observes RUNNING and lands CLOSED through markClosed; the
	// state can never move backwards out of CLOSED.
	op.state = StateRunning

	m.mu.Lock()
	m.ops[op.id] = op
	m.mu.Unlock()

	slog.Debug("operation submitted",
		"operation_id", op.id,
		"session_id", req.SessionID,
		"async", req.Async)

	if req.Async {
		go m.execute(execCtx, op, req)
		return op, nil
	}

	m.execute(execCtx, op, req)
	if err := op.Err(); err != nil {
		return op, err
	}
	return op, nil
}

// execute runs the engine call and lands the operation in a terminal
// state. Cancellation wins any race: if the operation is no longer
// RUNNING when the engine returns, the produced result is discarded.
func (m *Manager) execute(ctx context.Context, op *Operation, req SubmitRequest) {
	result, err := m.engine.Execute(ctx, req.Statement, req.Options)
	if err != nil {
		if !op.fail(err) {
			slog.Debug("engine result discarded after cancellation", "operation_id", op.id)
		}
		return
	}

	c := cursor.New(result)
	if !op.finish(c) {
		// Lost the race with cancel or close; the cursor is never
		// observable, release its stream now.
		_ = c.Close()
		slog.Debug("engine result discarded after cancellation", "operation_id", op.id)
	}
}

// Get returns a live operation by handle.
func (m *Manager) Get(handle string) (*Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	op, ok := m.ops[handle]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidHandle, handle)
	}
	return op, nil
}

// StatusInfo is the observable status of an operation.
type StatusInfo struct {
	State State
	Err   error
}

// Status returns the operation's state and captured failure without
// blocking.
func (m *Manager) Status(handle string) (StatusInfo, error) {
	op, err := m.Get(handle)
	if err != nil {
		return StatusInfo{}, err
	}

	op.mu.Lock()
	defer op.mu.Unlock()
	return StatusInfo{State: op.state, Err: op.err}, nil
}

// Cancel cancels a RUNNING operation. Cancelling an operation in any
// other state is a no-op, including operations that already ran to
// completion synchronously.
func (m *Manager) Cancel(handle string) error {
	op, err := m.Get(handle)
	if err != nil {
		return err
	}

	if op.markCancelled() {
		slog.Info("operation cancelled", "operation_id", handle)
	}
	return nil
}

// Page is one fetched result window together with the cursor totals
// observed at fetch time.
type Page struct {
	Window     cursor.Window
	Schema     *engine.Schema
	TotalRows  int
	TotalKnown bool
}

// Fetch serves a result page. It waits for a still-running asynchronous
// operation to reach a terminal state, then fails with the captured error
// for CANCELED/ERROR operations, ErrStateConflict for CLOSED ones, and
// otherwise delegates to the cursor. The cursor reference is captured
// under the operation lock, so a concurrent Close cannot detach it
// mid-fetch.
func (m *Manager) Fetch(ctx context.Context, handle string, orientation cursor.Orientation, maxRows int) (*Page, error) {
	op, err := m.Get(handle)
	if err != nil {
		return nil, err
	}

	select {
	case <-op.Done():
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	op.mu.Lock()
	state := op.state
	opErr := op.err
	c := op.cursor
	op.mu.Unlock()

	switch state {
	case StateFinished:
		window, err := c.Fetch(ctx, orientation, maxRows)
		if err != nil {
			return nil, err
		}
		total, known := c.TotalRows()
		return &Page{
			Window:     window,
			Schema:     c.Schema(),
			TotalRows:  total,
			TotalKnown: known,
		}, nil
	case StateCanceled:
		return nil, ErrCancelled
	case StateError:
		return nil, opErr
	case StateClosed:
		return nil, fmt.Errorf("%w: fetch from closed operation %s", ErrStateConflict, handle)
	default:
		return nil, fmt.Errorf("%w: fetch from %s operation %s", ErrStateConflict, state, handle)
	}
}

// Close transitions the operation to CLOSED, releases its cursor, signals
// cancellation of any still-running engine task, and forgets the handle.
// Idempotent: closing an unknown handle is a no-op.
func (m *Manager) Close(handle string) error {
	m.mu.Lock()
	op, ok := m.ops[handle]
	delete(m.ops, handle)
	m.mu.Unlock()

	if !ok {
		return nil
	}

	if c := op.markClosed(); c != nil {
		if err := c.Close(); err != nil {
			slog.Warn("closing result cursor", "operation_id", handle, "error", err)
		}
	}
	slog.Debug("operation closed", "operation_id", handle)
	return nil
}

// CloseSession force-closes every operation owned by a session and
// returns the count closed.
func (m *Manager) CloseSession(sessionID string) int {
	m.mu.Lock()
	var handles []string
	for id, op := range m.ops {
		if op.sessionID == sessionID {
			handles = append(handles, id)
		}
	}
	m.mu.Unlock()

	for _, h := range handles {
		_ = m.Close(h)
	}
	return len(handles)
}

// Count returns the number of live operations.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ops)
}
