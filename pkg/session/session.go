// Package session provides session identity and isolation for the sqlgate
// server: per-session configuration overlays, temporary-object namespaces,
// the current-database pointer, live operation tracking, and session-scoped
// filesystem artifacts. The Registry arbitrates single- vs multi-session
// sharing.
package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/txn2/sqlgate/pkg/config"
)

// ErrInvalidHandle is returned for unknown or already-closed session
// handles.
var ErrInvalidHandle = errors.New("invalid session handle")

// Session holds all state scoped to one logical client session. In
// single-session mode one instance is shared by every handle.
type Session struct {
	id   string
	user string

	overlay *config.Overlay

	mu              sync.RWMutex
	currentDatabase string
	tempViews       map[string]string
	tempFunctions   map[string]string
	operations      map[string]struct{}
	artifacts       *Artifacts
}

// ID returns the session's unique identity.
func (s *Session) ID() string {
	return s.id
}

// User returns the owning user.
func (s *Session) User() string {
	return s.user
}

// Overlay returns the session's configuration overlay. In single-session
// mode the overlay is shared across all handles.
func (s *Session) Overlay() *config.Overlay {
	return s.overlay
}

// CurrentDatabase returns the session's current-database pointer.
func (s *Session) CurrentDatabase() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentDatabase
}

// SetCurrentDatabase repoints the session's current database.
func (s *Session) SetCurrentDatabase(db string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentDatabase = db
}

// RegisterTempView adds or replaces a temporary view definition.
func (s *Session) RegisterTempView(name, definition string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tempViews[name] = definition
}

// LookupTempView resolves a temporary view definition.
func (s *Session) LookupTempView(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.tempViews[name]
	return def, ok
}

// DropTempView removes a temporary view. Dropping an unknown view fails.
func (s *Session) DropTempView(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tempViews[name]; !ok {
		return fmt.Errorf("temporary view not found: %s", name)
	}
	delete(s.tempViews, name)
	return nil
}

// TempViews returns the view names sorted for deterministic listings.
func (s *Session) TempViews() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.tempViews))
	for name := range s.tempViews {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterTempFunction adds or replaces a temporary function registration.
func (s *Session) RegisterTempFunction(name, definition string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tempFunctions[name] = definition
}

// LookupTempFunction resolves a temporary function definition.
func (s *Session) LookupTempFunction(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.tempFunctions[name]
	return def, ok
}

// DropTempFunction removes a temporary function registration.
func (s *Session) DropTempFunction(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tempFunctions[name]; !ok {
		return fmt.Errorf("temporary function not found: %s", name)
	}
	delete(s.tempFunctions, name)
	return nil
}

// trackOperation records an operation id owned by this session.
func (s *Session) trackOperation(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.operations[id] = struct{}{}
}

// forgetOperation removes a closed operation id.
func (s *Session) forgetOperation(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.operations, id)
}

// Operations returns the ids of currently open operations.
func (s *Session) Operations() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.operations))
	for id := range s.operations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Artifacts returns the session's filesystem artifacts.
func (s *Session) Artifacts() *Artifacts {
	return s.artifacts
}

// NamespaceSnapshot copies the temp-object namespace for handoff to the
// engine at submission time.
func (s *Session) NamespaceSnapshot() (views, functions map[string]string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	views = make(map[string]string, len(s.tempViews))
	for k, v := range s.tempViews {
		views[k] = v
	}
	functions = make(map[string]string, len(s.tempFunctions))
	for k, v := range s.tempFunctions {
		functions[k] = v
	}
	return views, functions
}
