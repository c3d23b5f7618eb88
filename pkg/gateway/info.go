package gateway

import (
	"fmt"
	"strconv"
)

// InfoKind selects a GetInfo introspection value.
type InfoKind string

const (
	// InfoServerName is the advertised server name.
	InfoServerName InfoKind = "server_name"

	// InfoServerVersion is the server version.
	InfoServerVersion InfoKind = "server_version"

	// InfoEngineName names the query engine backend.
	InfoEngineName InfoKind = "engine_name"

	// InfoSessionMode is the deployment session mode.
	InfoSessionMode InfoKind = "session_mode"

	// InfoActiveSessions is the number of open session handles.
	InfoActiveSessions InfoKind = "active_sessions"

	// InfoActiveOperations is the number of live operations.
	InfoActiveOperations InfoKind = "active_operations"
)

// GetInfo returns server identity and state introspection values. The
// session handle must be valid; the values themselves are server-wide.
func (s *Service) GetInfo(handle string, kind InfoKind) (string, error) {
	if _, err := s.registry.Get(handle); err != nil {
		return "", err
	}

	switch kind {
	case InfoServerName:
		return s.cfg.Server.Name, nil
	case InfoServerVersion:
		return s.version, nil
	case InfoEngineName:
		return s.engine.Name(), nil
	case InfoSessionMode:
		return s.registry.Mode(), nil
	case InfoActiveSessions:
		return strconv.Itoa(s.registry.Count()), nil
	case InfoActiveOperations:
		return strconv.Itoa(s.manager.Count()), nil
	default:
		return "", fmt.Errorf("unknown info kind: %q", kind)
	}
}
