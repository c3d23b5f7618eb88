package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Artifact file suffixes. Every artifact name is prefixed by the session
// id so that cleanup can be verified by listing.
const (
	// oplogSuffix names the per-session operation log stream.
	oplogSuffix = ".oplog"

	// spillSuffix names the per-session spill/pipe artifact used for
	// out-of-band diagnostics and large-value streaming.
	spillSuffix = ".spill"
)

// Artifacts owns the session-scoped filesystem resources. Release is
// idempotent: resources are removed exactly once.
type Artifacts struct {
	dir       string
	sessionID string

	mu       sync.Mutex
	oplog    *os.File
	spill    *os.File
	released bool
}

// newArtifacts allocates the operation log and spill artifacts for a
// session. Failure is fatal to the open-session call that requested them.
func newArtifacts(dir, sessionID string) (*Artifacts, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating scratch directory: %w", err)
	}

	oplogPath := filepath.Join(dir, sessionID+oplogSuffix)
	oplog, err := os.OpenFile(oplogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) // #nosec G304 -- path derived from generated id
	if err != nil {
		return nil, fmt.Errorf("creating operation log: %w", err)
	}

	spillPath := filepath.Join(dir, sessionID+spillSuffix)
	spill, err := os.OpenFile(spillPath, os.O_CREATE|os.O_RDWR, 0o600) // #nosec G304 -- path derived from generated id
	if err != nil {
		_ = oplog.Close()
		_ = os.Remove(oplogPath)
		return nil, fmt.Errorf("creating spill artifact: %w", err)
	}

	return &Artifacts{
		dir:       dir,
		sessionID: sessionID,
		oplog:     oplog,
		spill:     spill,
	}, nil
}

// LogOperation appends a line to the session's operation log stream.
func (a *Artifacts) LogOperation(line string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.released {
		return fmt.Errorf("artifacts already released for session %s", a.sessionID)
	}
	if _, err := fmt.Fprintln(a.oplog, line); err != nil {
		return fmt.Errorf("writing operation log: %w", err)
	}
	return nil
}

// ReadLog returns the lines written to the operation log so far.
func (a *Artifacts) ReadLog() ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.released {
		return nil, fmt.Errorf("artifacts already released for session %s", a.sessionID)
	}

	path := filepath.Join(a.dir, a.sessionID+oplogSuffix)
	data, err := os.ReadFile(path) // #nosec G304 -- path derived from generated id
	if err != nil {
		return nil, fmt.Errorf("reading operation log: %w", err)
	}

	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

// SpillPath returns the path of the spill artifact.
func (a *Artifacts) SpillPath() string {
	return filepath.Join(a.dir, a.sessionID+spillSuffix)
}

// Release closes and removes the session's artifacts. A second release is
// a no-op.
func (a *Artifacts) Release() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.released {
		return nil
	}
	a.released = true

	var errs []error
	if err := a.oplog.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing operation log: %w", err))
	}
	if err := a.spill.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing spill artifact: %w", err))
	}
	for _, suffix := range []string{oplogSuffix, spillSuffix} {
		path := filepath.Join(a.dir, a.sessionID+suffix)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("removing %s: %w", path, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("releasing session artifacts: %v", errs)
	}
	return nil
}

// ListArtifacts returns the names of artifacts in dir belonging to the
// given session, identified by the session-id name prefix. Used to verify
// cleanup.
func ListArtifacts(dir, sessionID string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing scratch directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), sessionID) {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
