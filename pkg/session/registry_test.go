package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/sqlgate/pkg/config"
)

func testConfig(t *testing.T, mode string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.SessionMode = mode
	cfg.Server.ScratchDir = t.TempDir()
	cfg.Defaults[config.KeyDefaultDatabase] = "analytics"
	return cfg
}

func TestOpen_MultiMode_Isolation(t *testing.T) {
	r, err := NewRegistry(testConfig(t, config.ModeMulti))
	require.NoError(t, err)

	h1, err := r.Open("alice", map[string]string{"fetch.format": "json"})
	require.NoError(t, err)
	h2, err := r.Open("bob", nil)
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)

	s1, err := r.Get(h1)
	require.NoError(t, err)
	s2, err := r.Get(h2)
	require.NoError(t, err)
	assert.NotEqual(t, s1.ID(), s2.ID())
	assert.Equal(t, "alice", s1.User())

	// Overlay writes stay private to the session that made them.
	v, ok := s1.Overlay().Get("fetch.format")
	require.True(t, ok)
	assert.Equal(t, "json", v)
	_, ok = s2.Overlay().Get("fetch.format")
	assert.False(t, ok)

	require.NoError(t, s1.Overlay().Set("custom.key", "one"))
	_, ok = s2.Overlay().Get("custom.key")
	assert.False(t, ok)

	// Temp namespaces are isolated too.
	s1.RegisterTempView("v", "SELECT 1")
	_, ok = s2.LookupTempView("v")
	assert.False(t, ok)

	// Both sessions see the same process defaults.
	assert.Equal(t, "analytics", s1.CurrentDatabase())
	assert.Equal(t, "analytics", s2.CurrentDatabase())
}

func TestOpen_SingleMode_SharedSession(t *testing.T) {
	r, err := NewRegistry(testConfig(t, config.ModeSingle))
	require.NoError(t, err)

	h1, err := r.Open("alice", nil)
	require.NoError(t, err)
	h2, err := r.Open("bob", nil)
	require.NoError(t, err)
	require.NotEqual(t, h1, h2, "handles stay distinct even when they alias one session")

	s1, err := r.Get(h1)
	require.NoError(t, err)
	s2, err := r.Get(h2)
	require.NoError(t, err)
	assert.Equal(t, s1.ID(), s2.ID())

	// State set through one handle is visible through the other.
	require.NoError(t, s1.Overlay().Set("custom.key", "shared"))
	v, ok := s2.Overlay().Get("custom.key")
	require.True(t, ok)
	assert.Equal(t, "shared", v)

	s1.RegisterTempView("v", "SELECT 1")
	def, ok := s2.LookupTempView("v")
	require.True(t, ok)
	assert.Equal(t, "SELECT 1", def)

	s1.SetCurrentDatabase("warehouse")
	assert.Equal(t, "warehouse", s2.CurrentDatabase())
}

func TestOpen_SingleMode_PropertiesReachSharedOverlay(t *testing.T) {
	r, err := NewRegistry(testConfig(t, config.ModeSingle))
	require.NoError(t, err)

	h1, err := r.Open("alice", map[string]string{"fetch.format": "csv"})
	require.NoError(t, err)

	s1, err := r.Get(h1)
	require.NoError(t, err)
	v, ok := s1.Overlay().Get("fetch.format")
	require.True(t, ok)
	assert.Equal(t, "csv", v)
}

func TestOpen_StaticPropertyRejected(t *testing.T) {
	for _, mode := range []string{config.ModeMulti, config.ModeSingle} {
		t.Run(mode, func(t *testing.T) {
			r, err := NewRegistry(testConfig(t, mode))
			require.NoError(t, err)

			_, err = r.Open("alice", map[string]string{config.KeySessionMode: "single"})
			require.Error(t, err)
			assert.ErrorIs(t, err, config.ErrImmutableConfig)
		})
	}
}

func TestGet_InvalidHandle(t *testing.T) {
	r, err := NewRegistry(testConfig(t, config.ModeMulti))
	require.NoError(t, err)

	_, err = r.Get("no-such-handle")
	assert.ErrorIs(t, err, ErrInvalidHandle)
}

func TestClose_MultiMode_ReleasesResources(t *testing.T) {
	cfg := testConfig(t, config.ModeMulti)
	r, err := NewRegistry(cfg)
	require.NoError(t, err)

	h, err := r.Open("alice", nil)
	require.NoError(t, err)
	sess, err := r.Get(h)
	require.NoError(t, err)

	names, err := ListArtifacts(cfg.Server.ScratchDir, sess.ID())
	require.NoError(t, err)
	assert.Len(t, names, 2, "open session owns an oplog and a spill artifact")

	var closedSessions []string
	require.NoError(t, r.Close(h, func(sessionID string) {
		closedSessions = append(closedSessions, sessionID)
	}))
	assert.Equal(t, []string{sess.ID()}, closedSessions)

	names, err = ListArtifacts(cfg.Server.ScratchDir, sess.ID())
	require.NoError(t, err)
	assert.Empty(t, names, "all session-prefixed artifacts removed on close")

	_, err = r.Get(h)
	assert.ErrorIs(t, err, ErrInvalidHandle)
	err = r.Close(h, nil)
	assert.ErrorIs(t, err, ErrInvalidHandle)
}

func TestClose_SingleMode_DetachesHandleOnly(t *testing.T) {
	cfg := testConfig(t, config.ModeSingle)
	r, err := NewRegistry(cfg)
	require.NoError(t, err)

	h1, err := r.Open("alice", nil)
	require.NoError(t, err)
	h2, err := r.Open("bob", nil)
	require.NoError(t, err)

	s1, err := r.Get(h1)
	require.NoError(t, err)
	s1.RegisterTempView("v", "SELECT 1")

	closeOpsCalled := false
	require.NoError(t, r.Close(h1, func(string) { closeOpsCalled = true }))
	assert.False(t, closeOpsCalled, "shared session operations survive a handle close")

	_, err = r.Get(h1)
	assert.ErrorIs(t, err, ErrInvalidHandle)

	// The shared session and its state persist for remaining handles.
	s2, err := r.Get(h2)
	require.NoError(t, err)
	_, ok := s2.LookupTempView("v")
	assert.True(t, ok)

	names, err := ListArtifacts(cfg.Server.ScratchDir, s2.ID())
	require.NoError(t, err)
	assert.Len(t, names, 2)
}

func TestShutdown(t *testing.T) {
	t.Run("multi", func(t *testing.T) {
		cfg := testConfig(t, config.ModeMulti)
		r, err := NewRegistry(cfg)
		require.NoError(t, err)

		h1, err := r.Open("alice", nil)
		require.NoError(t, err)
		h2, err := r.Open("bob", nil)
		require.NoError(t, err)
		s1, _ := r.Get(h1)
		s2, _ := r.Get(h2)

		var closed []string
		r.Shutdown(func(sessionID string) { closed = append(closed, sessionID) })
		assert.ElementsMatch(t, []string{s1.ID(), s2.ID()}, closed)
		assert.Equal(t, 0, r.Count())

		for _, id := range []string{s1.ID(), s2.ID()} {
			names, err := ListArtifacts(cfg.Server.ScratchDir, id)
			require.NoError(t, err)
			assert.Empty(t, names)
		}
	})

	t.Run("single releases the shared session once", func(t *testing.T) {
		cfg := testConfig(t, config.ModeSingle)
		r, err := NewRegistry(cfg)
		require.NoError(t, err)

		h1, err := r.Open("alice", nil)
		require.NoError(t, err)
		_, err = r.Open("bob", nil)
		require.NoError(t, err)
		shared, _ := r.Get(h1)

		var closed []string
		r.Shutdown(func(sessionID string) { closed = append(closed, sessionID) })
		assert.Equal(t, []string{shared.ID()}, closed)

		names, err := ListArtifacts(cfg.Server.ScratchDir, shared.ID())
		require.NoError(t, err)
		assert.Empty(t, names)
	})
}

func TestTrackOperation(t *testing.T) {
	r, err := NewRegistry(testConfig(t, config.ModeMulti))
	require.NoError(t, err)

	h, err := r.Open("alice", nil)
	require.NoError(t, err)
	sess, err := r.Get(h)
	require.NoError(t, err)

	require.NoError(t, r.TrackOperation(h, "op-b"))
	require.NoError(t, r.TrackOperation(h, "op-a"))
	assert.Equal(t, []string{"op-a", "op-b"}, sess.Operations())

	r.ForgetOperation(h, "op-a")
	assert.Equal(t, []string{"op-b"}, sess.Operations())

	assert.ErrorIs(t, r.TrackOperation("nope", "op"), ErrInvalidHandle)
	r.ForgetOperation("nope", "op") // no-op
}

func TestSession_TempNamespaces(t *testing.T) {
	r, err := NewRegistry(testConfig(t, config.ModeMulti))
	require.NoError(t, err)
	h, err := r.Open("alice", nil)
	require.NoError(t, err)
	sess, err := r.Get(h)
	require.NoError(t, err)

	sess.RegisterTempView("b_view", "SELECT 2")
	sess.RegisterTempView("a_view", "SELECT 1")
	assert.Equal(t, []string{"a_view", "b_view"}, sess.TempViews())

	require.NoError(t, sess.DropTempView("a_view"))
	assert.Error(t, sess.DropTempView("a_view"))

	sess.RegisterTempFunction("f", "x -> x + 1")
	def, ok := sess.LookupTempFunction("f")
	require.True(t, ok)
	assert.Equal(t, "x -> x + 1", def)
	require.NoError(t, sess.DropTempFunction("f"))
	assert.Error(t, sess.DropTempFunction("f"))

	views, functions := sess.NamespaceSnapshot()
	assert.Equal(t, map[string]string{"b_view": "SELECT 2"}, views)
	assert.Empty(t, functions)

	// The snapshot is a copy, not a live reference.
	views["b_view"] = "mutated"
	def, _ = sess.LookupTempView("b_view")
	assert.Equal(t, "SELECT 2", def)
}
