package session

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/txn2/sqlgate/pkg/config"
)

// Registry owns session identity and lifecycle. In multi-session mode
// every open allocates an isolated Session; in single-session mode all
// handles alias one shared Session injected at construction time, and the
// shared state persists until server shutdown.
type Registry struct {
	cfg      *config.Config
	static   map[string]string
	mode     string
	scratch  string
	database string

	mu       sync.Mutex
	sessions map[string]*Session // handle -> session
	shared   *Session            // single-session mode singleton
}

// NewRegistry creates a registry for the configured session mode. In
// single-session mode the shared session is allocated eagerly so every
// handle routes through the same instance.
func NewRegistry(cfg *config.Config) (*Registry, error) {
	r := &Registry{
		cfg:      cfg,
		static:   config.StaticKeys(cfg),
		mode:     cfg.Server.SessionMode,
		scratch:  cfg.Server.ScratchDir,
		database: cfg.Defaults[config.KeyDefaultDatabase],
		sessions: make(map[string]*Session),
	}

	if r.mode == config.ModeSingle {
		shared, err := r.newSession("", nil)
		if err != nil {
			return nil, fmt.Errorf("allocating shared session: %w", err)
		}
		r.shared = shared
	}
	return r, nil
}

// Mode returns the registry's session mode.
func (r *Registry) Mode() string {
	return r.mode
}

// newSession allocates a Session with its own overlay and artifacts.
func (r *Registry) newSession(user string, properties map[string]string) (*Session, error) {
	overlay, err := config.NewOverlay(r.static, r.cfg.Defaults, properties)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	artifacts, err := newArtifacts(r.scratch, id)
	if err != nil {
		return nil, fmt.Errorf("allocating session resources: %w", err)
	}

	return &Session{
		id:              id,
		user:            user,
		overlay:         overlay,
		currentDatabase: r.database,
		tempViews:       make(map[string]string),
		tempFunctions:   make(map[string]string),
		operations:      make(map[string]struct{}),
		artifacts:       artifacts,
	}, nil
}

// Open allocates a session (or attaches to the shared one) and returns
// its handle. In single-session mode supplied properties still apply: the
// shared overlay absorbs them, visible to every handle.
func (r *Registry) Open(user string, properties map[string]string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.mode == config.ModeSingle {
		for k, v := range properties {
			if err := r.shared.overlay.Set(k, v); err != nil {
				return "", fmt.Errorf("applying session property %q: %w", k, err)
			}
		}
		handle := uuid.NewString()
		r.sessions[handle] = r.shared
		slog.Info("session handle attached", "handle", handle, "session_id", r.shared.id, "user", user)
		return handle, nil
	}

	sess, err := r.newSession(user, properties)
	if err != nil {
		return "", err
	}
	handle := sess.id
	r.sessions[handle] = sess
	slog.Info("session opened", "session_id", sess.id, "user", user)
	return handle, nil
}

// Get resolves a handle to its session, failing with ErrInvalidHandle for
// unknown or closed handles.
func (r *Registry) Get(handle string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[handle]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidHandle, handle)
	}
	return sess, nil
}

// GetByID resolves a session by its identity rather than a handle.
func (r *Registry) GetByID(sessionID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.shared != nil && r.shared.id == sessionID {
		return r.shared, nil
	}
	for _, sess := range r.sessions {
		if sess.id == sessionID {
			return sess, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrInvalidHandle, sessionID)
}

// Close closes a session handle. In multi-session mode the closer
// callback force-closes the session's operations before scoped resources
// are released; release is exactly-once. In single-session mode only the
// handle detaches and the shared session persists.
func (r *Registry) Close(handle string, closeOps func(sessionID string)) error {
	r.mu.Lock()
	sess, ok := r.sessions[handle]
	if ok {
		delete(r.sessions, handle)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidHandle, handle)
	}

	if r.mode == config.ModeSingle {
		slog.Info("session handle detached", "handle", handle, "session_id", sess.id)
		return nil
	}

	if closeOps != nil {
		closeOps(sess.id)
	}
	if err := sess.artifacts.Release(); err != nil {
		slog.Warn("releasing session artifacts", "session_id", sess.id, "error", err)
	}
	slog.Info("session closed", "session_id", sess.id)
	return nil
}

// Shutdown closes every session, releasing the shared session's
// resources as well.
func (r *Registry) Shutdown(closeOps func(sessionID string)) {
	r.mu.Lock()
	sessions := make(map[string]*Session, len(r.sessions))
	for h, s := range r.sessions {
		sessions[h] = s
	}
	r.sessions = make(map[string]*Session)
	shared := r.shared
	r.mu.Unlock()

	released := make(map[string]bool)
	for _, sess := range sessions {
		if released[sess.id] {
			continue
		}
		released[sess.id] = true
		if closeOps != nil {
			closeOps(sess.id)
		}
		_ = sess.artifacts.Release()
	}

	if shared != nil && !released[shared.id] {
		if closeOps != nil {
			closeOps(shared.id)
		}
		_ = shared.artifacts.Release()
	}
}

// Count returns the number of open handles.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// TrackOperation records an operation against the session owning the
// handle.
func (r *Registry) TrackOperation(handle, operationID string) error {
	sess, err := r.Get(handle)
	if err != nil {
		return err
	}
	sess.trackOperation(operationID)
	return nil
}

// ForgetOperation removes a closed operation from its session.
func (r *Registry) ForgetOperation(handle, operationID string) {
	sess, err := r.Get(handle)
	if err != nil {
		return
	}
	sess.forgetOperation(operationID)
}
