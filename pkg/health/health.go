// Package health provides readiness state tracking and HTTP health check handlers.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// State constants for the readiness state machine.
const (
	stateStarting int32 = iota
	stateReady
	stateDraining
)

// Probe checks reachability of a downstream dependency, typically the
// query engine. It should return quickly; callers bound it with a context.
type Probe func(ctx context.Context) error

// Checker tracks the readiness state of the gateway.
// It is safe for concurrent use.
type Checker struct {
	state atomic.Int32
	probe Probe
}

// NewChecker creates a Checker in the Starting state.
func NewChecker() *Checker {
	return &Checker{}
}

// SetProbe attaches a downstream probe consulted by ReadinessHandler.
// A nil probe means readiness depends only on the state machine.
func (c *Checker) SetProbe(p Probe) {
	c.probe = p
}

// SetReady transitions to the Ready state.
func (c *Checker) SetReady() {
	c.state.Store(stateReady)
}

// SetDraining transitions to the Draining state.
func (c *Checker) SetDraining() {
	c.state.Store(stateDraining)
}

// IsReady returns true when the state is Ready.
func (c *Checker) IsReady() bool {
	return c.state.Load() == stateReady
}

// State returns the current state as a human-readable string.
func (c *Checker) State() string {
	switch c.state.Load() {
	case stateReady:
		return "ready"
	case stateDraining:
		return "draining"
	default:
		return "starting"
	}
}

// healthResponse is the JSON body returned by health endpoints.
type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// LivenessHandler returns an http.HandlerFunc that always responds 200 OK.
// Use this for K8s livenessProbe (/healthz).
func (*Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	}
}

// ReadinessHandler returns an http.HandlerFunc that responds 200 when ready
// and 503 when starting, draining, or the engine probe fails.
// Use this for K8s readinessProbe (/readyz).
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !c.IsReady() {
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: c.State()})
			return
		}
		if c.probe != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()
			if err := c.probe(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "engine unreachable", Error: err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: c.State()})
	}
}

func writeJSON(w http.ResponseWriter, code int, v healthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
