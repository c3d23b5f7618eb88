// Package gateway wires the session registry, operation manager, and
// result cursors into the service surface exposed to clients: open/close
// session, execute/cancel/close statement, scrollable fetch, and server
// introspection. The wire encoding is the transport's concern.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/txn2/sqlgate/pkg/audit"
	"github.com/txn2/sqlgate/pkg/auth"
	"github.com/txn2/sqlgate/pkg/config"
	"github.com/txn2/sqlgate/pkg/cursor"
	"github.com/txn2/sqlgate/pkg/engine"
	"github.com/txn2/sqlgate/pkg/operation"
	"github.com/txn2/sqlgate/pkg/session"
)

// ResultSetKind selects what FetchResults returns.
type ResultSetKind string

const (
	// KindRows fetches query output through the scrollable cursor.
	KindRows ResultSetKind = "rows"

	// KindLog fetches the session's operation log stream.
	KindLog ResultSetKind = "log"
)

// Service is the gateway core. It is safe for concurrent use by many
// client connections.
type Service struct {
	cfg      *config.Config
	version  string
	engine   engine.Engine
	registry *session.Registry
	manager  *operation.Manager
	auth     *auth.Chain
	audit    audit.Logger
}

// Options configures a Service.
type Options struct {
	Config  *config.Config
	Version string
	Engine  engine.Engine
	Auth    *auth.Chain
	Audit   audit.Logger
}

// New assembles a gateway service.
func New(opts Options) (*Service, error) {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("gateway requires an engine")
	}
	if opts.Audit == nil {
		opts.Audit = audit.NoopLogger{}
	}
	if opts.Auth == nil {
		opts.Auth = auth.NewChain(true)
	}

	registry, err := session.NewRegistry(opts.Config)
	if err != nil {
		return nil, fmt.Errorf("creating session registry: %w", err)
	}

	return &Service{
		cfg:      opts.Config,
		version:  opts.Version,
		engine:   opts.Engine,
		registry: registry,
		manager:  operation.NewManager(opts.Engine),
		auth:     opts.Auth,
		audit:    opts.Audit,
	}, nil
}

// Registry exposes the session registry, chiefly for the serving layer
// and tests.
func (s *Service) Registry() *session.Registry {
	return s.registry
}

// OpenSession authenticates the caller and allocates a session (or, in
// single-session mode, attaches a handle to the shared session).
func (s *Service) OpenSession(ctx context.Context, user string, properties map[string]string) (string, error) {
	info, err := s.auth.Authenticate(user, properties)
	if err != nil {
		return "", err
	}

	props := sessionProperties(properties)
	handle, err := s.registry.Open(info.User, props)
	if err != nil {
		return "", err
	}

	s.logAudit(ctx, audit.NewEvent(audit.ActionSessionOpen).WithSession(handle, info.User))
	return handle, nil
}

// sessionProperties strips credential properties before they reach the
// session overlay.
func sessionProperties(properties map[string]string) map[string]string {
	props := make(map[string]string, len(properties))
	for k, v := range properties {
		if k == auth.PropAPIKey || k == auth.PropToken {
			continue
		}
		props[k] = v
	}
	return props
}

// CloseSession closes a session handle. In multi-session mode all owned
// operations are force-closed and scoped resources released; in
// single-session mode only the handle detaches.
func (s *Service) CloseSession(ctx context.Context, handle string) error {
	sess, err := s.registry.Get(handle)
	if err != nil {
		return err
	}
	user := sess.User()

	if err := s.registry.Close(handle, func(sessionID string) {
		s.manager.CloseSession(sessionID)
	}); err != nil {
		return err
	}

	s.logAudit(ctx, audit.NewEvent(audit.ActionSessionClose).WithSession(handle, user))
	return nil
}

// ExecuteStatement submits a statement for the session. The overlay patch
// applies to this statement only; patching a static key fails with
// ErrImmutableConfig. With runAsync true (and async execution enabled for
// the session) the returned handle refers to a still-RUNNING operation;
// otherwise the call blocks and engine failures propagate synchronously,
// with the failed operation's handle still returned for inspection.
func (s *Service) ExecuteStatement(ctx context.Context, handle, text string, overlayPatch map[string]string, runAsync bool) (string, error) {
	sess, err := s.registry.Get(handle)
	if err != nil {
		return "", err
	}

	snapshot := sess.Overlay().Snapshot()
	static := config.StaticKeys(s.cfg)
	for k, v := range overlayPatch {
		if _, isStatic := static[k]; isStatic {
			return "", fmt.Errorf("%w: %s", config.ErrImmutableConfig, k)
		}
		snapshot[k] = v
	}

	async := runAsync && sess.Overlay().GetBool(config.KeyAsyncExec, true)
	views, functions := sess.NamespaceSnapshot()

	started := time.Now()
	op, submitErr := s.manager.Submit(operation.SubmitRequest{
		SessionID: sess.ID(),
		Statement: text,
		Async:     async,
		Options: engine.ExecOptions{
			Config:        snapshot,
			Database:      sess.CurrentDatabase(),
			TempViews:     views,
			TempFunctions: functions,
		},
	})

	if err := sess.Artifacts().LogOperation(fmt.Sprintf("%s submit %s async=%t",
		time.Now().UTC().Format(time.RFC3339), op.ID(), async)); err != nil {
		slog.Debug("writing operation log", "session_id", sess.ID(), "error", err)
	}

	_ = s.registry.TrackOperation(handle, op.ID())

	event := audit.NewEvent(audit.ActionSubmit).
		WithSession(sess.ID(), sess.User()).
		WithOperation(op.ID(), text, string(op.State())).
		WithResult(submitErr == nil, errMessage(submitErr), time.Since(started).Milliseconds())
	s.logAudit(ctx, event)

	go s.auditCompletion(op, sess.User(), started)

	if submitErr != nil {
		return op.ID(), submitErr
	}
	return op.ID(), nil
}

// auditCompletion records an operation reaching a terminal state. It runs
// detached from the submitting request, which an async operation outlives.
func (s *Service) auditCompletion(op *operation.Operation, user string, started time.Time) {
	<-op.Done()

	state := op.State()
	opErr := op.Err()
	s.logAudit(context.Background(), audit.NewEvent(audit.ActionComplete).
		WithSession(op.SessionID(), user).
		WithOperation(op.ID(), "", string(state)).
		WithResult(opErr == nil, errMessage(opErr), time.Since(started).Milliseconds()))
}

// GetOperationStatus returns the operation's state and any captured
// failure. It never blocks.
func (s *Service) GetOperationStatus(handle string) (operation.StatusInfo, error) {
	return s.manager.Status(handle)
}

// CancelOperation cancels a RUNNING operation; in any other state it is a
// no-op.
func (s *Service) CancelOperation(ctx context.Context, handle string) error {
	op, err := s.manager.Get(handle)
	if err != nil {
		return err
	}

	if err := s.manager.Cancel(handle); err != nil {
		return err
	}

	s.logAudit(ctx, audit.NewEvent(audit.ActionCancel).
		WithSession(op.SessionID(), "").
		WithOperation(handle, "", string(op.State())))
	return nil
}

// CloseOperation closes an operation from any state. Idempotent.
func (s *Service) CloseOperation(ctx context.Context, handle string) error {
	op, err := s.manager.Get(handle)
	if err != nil {
		// Closing an unknown handle is a no-op per the state machine.
		return nil
	}
	sessionID := op.SessionID()

	if err := s.manager.Close(handle); err != nil {
		return err
	}

	s.logAudit(ctx, audit.NewEvent(audit.ActionClose).
		WithSession(sessionID, "").
		WithOperation(handle, "", string(operation.StateClosed)))
	return nil
}

// RowWindow is one page of fetched results.
type RowWindow struct {
	StartOffset int            `json:"start_offset"`
	RowCount    int            `json:"row_count"`
	Rows        []engine.Row   `json:"rows"`
	Schema      *engine.Schema `json:"schema,omitempty"`
	TotalKnown  bool           `json:"total_known"`
	TotalRows   int            `json:"total_rows"`
}

// FetchResults serves a result page from an operation's cursor (kind
// "rows") or from the owning session's operation log (kind "log").
func (s *Service) FetchResults(ctx context.Context, handle string, orientation cursor.Orientation, maxRows int, kind ResultSetKind) (*RowWindow, error) {
	if kind == KindLog {
		return s.fetchLog(handle, maxRows)
	}

	page, err := s.manager.Fetch(ctx, handle, orientation, maxRows)
	if err != nil {
		return nil, err
	}

	return &RowWindow{
		StartOffset: page.Window.StartOffset,
		RowCount:    len(page.Window.Rows),
		Rows:        page.Window.Rows,
		Schema:      page.Schema,
		TotalKnown:  page.TotalKnown,
		TotalRows:   page.TotalRows,
	}, nil
}

// fetchLog serves lines from the owning session's operation log stream.
// Log fetches always read forward from the start.
func (s *Service) fetchLog(handle string, maxRows int) (*RowWindow, error) {
	if maxRows <= 0 {
		return nil, fmt.Errorf("maxRows must be positive, got %d", maxRows)
	}

	op, err := s.manager.Get(handle)
	if err != nil {
		return nil, err
	}

	sess, err := s.findSession(op.SessionID())
	if err != nil {
		return nil, err
	}

	lines, err := sess.Artifacts().ReadLog()
	if err != nil {
		return nil, err
	}
	if len(lines) > maxRows {
		lines = lines[:maxRows]
	}

	rows := make([]engine.Row, 0, len(lines))
	for _, line := range lines {
		rows = append(rows, engine.Row{line})
	}

	return &RowWindow{
		RowCount:   len(rows),
		Rows:       rows,
		Schema:     &engine.Schema{Columns: []engine.Column{{Name: "log", Type: "VARCHAR"}}},
		TotalKnown: true,
		TotalRows:  len(rows),
	}, nil
}

// findSession resolves a session by id rather than handle.
func (s *Service) findSession(sessionID string) (*session.Session, error) {
	sess, err := s.registry.GetByID(sessionID)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// SetConfig mutates a session-scoped configuration key.
func (s *Service) SetConfig(handle, key, value string) error {
	sess, err := s.registry.Get(handle)
	if err != nil {
		return err
	}
	return sess.Overlay().Set(key, value)
}

// ListConfig lists the session's effective configuration.
func (s *Service) ListConfig(handle string, includeDefaults bool) ([]config.Entry, error) {
	sess, err := s.registry.Get(handle)
	if err != nil {
		return nil, err
	}
	return sess.Overlay().ListAll(includeDefaults), nil
}

// QueryAudit lists recorded audit events matching the filter, most
// recent first.
func (s *Service) QueryAudit(ctx context.Context, filter audit.QueryFilter) ([]audit.Event, error) {
	return s.audit.Query(ctx, filter)
}

// Shutdown force-closes every session and releases the engine and audit
// logger.
func (s *Service) Shutdown() {
	s.registry.Shutdown(func(sessionID string) {
		s.manager.CloseSession(sessionID)
	})
	if err := s.engine.Close(); err != nil {
		slog.Warn("closing engine", "error", err)
	}
	if err := s.audit.Close(); err != nil {
		slog.Warn("closing audit logger", "error", err)
	}
}

// logAudit records an event, logging failures instead of failing the
// request.
func (s *Service) logAudit(ctx context.Context, event *audit.Event) {
	if err := s.audit.Log(ctx, *event); err != nil {
		slog.Warn("writing audit event", "action", event.Action, "error", err)
	}
}

// errMessage renders an error for audit capture.
func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimSpace(err.Error())
}
