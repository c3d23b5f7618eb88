package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOverlay(t *testing.T) *Overlay {
	t.Helper()
	o, err := NewOverlay(
		map[string]string{KeySessionMode: "multi", KeyServerName: "sqlgate"},
		map[string]string{KeyAsyncExec: "true", "fetch.format": "json"},
		nil,
	)
	require.NoError(t, err)
	return o
}

func TestOverlay_Resolution(t *testing.T) {
	o := newTestOverlay(t)

	// Static tier is readable.
	v, ok := o.Get(KeySessionMode)
	require.True(t, ok)
	assert.Equal(t, "multi", v)

	// Defaults resolve until overridden.
	v, ok = o.Get("fetch.format")
	require.True(t, ok)
	assert.Equal(t, "json", v)

	require.NoError(t, o.Set("fetch.format", "csv"))
	v, _ = o.Get("fetch.format")
	assert.Equal(t, "csv", v)

	// Unset restores the default.
	require.NoError(t, o.Unset("fetch.format"))
	v, _ = o.Get("fetch.format")
	assert.Equal(t, "json", v)

	_, ok = o.Get("missing")
	assert.False(t, ok)
}

func TestOverlay_StaticKeysImmutable(t *testing.T) {
	o := newTestOverlay(t)

	err := o.Set(KeySessionMode, "single")
	require.ErrorIs(t, err, ErrImmutableConfig)

	// The failed mutation left the effective value untouched.
	v, _ := o.Get(KeySessionMode)
	assert.Equal(t, "multi", v)

	err = o.Unset(KeySessionMode)
	require.ErrorIs(t, err, ErrImmutableConfig)
	v, _ = o.Get(KeySessionMode)
	assert.Equal(t, "multi", v)
}

func TestNewOverlay_RejectsStaticProperty(t *testing.T) {
	_, err := NewOverlay(
		map[string]string{KeySessionMode: "multi"},
		nil,
		map[string]string{KeySessionMode: "single"},
	)
	assert.ErrorIs(t, err, ErrImmutableConfig)
}

func TestOverlay_ListAll(t *testing.T) {
	o := newTestOverlay(t)
	require.NoError(t, o.Set("zeta.key", "z"))
	require.NoError(t, o.Set("alpha.key", "a"))

	// Session tier only.
	entries := o.ListAll(false)
	require.Len(t, entries, 2)
	assert.Equal(t, Entry{Key: "alpha.key", Value: "a"}, entries[0])
	assert.Equal(t, Entry{Key: "zeta.key", Value: "z"}, entries[1])

	// Full effective configuration, sorted, session overriding defaults.
	require.NoError(t, o.Set("fetch.format", "csv"))
	entries = o.ListAll(true)
	byKey := map[string]string{}
	var keys []string
	for _, e := range entries {
		byKey[e.Key] = e.Value
		keys = append(keys, e.Key)
	}
	assert.IsIncreasing(t, keys)
	assert.Equal(t, "csv", byKey["fetch.format"])
	assert.Equal(t, "multi", byKey[KeySessionMode])
	assert.Equal(t, "true", byKey[KeyAsyncExec])

	// Listings are deterministic.
	assert.Equal(t, entries, o.ListAll(true))
}

func TestOverlay_Snapshot(t *testing.T) {
	o := newTestOverlay(t)
	require.NoError(t, o.Set("custom.key", "v1"))

	snap := o.Snapshot()
	assert.Equal(t, "v1", snap["custom.key"])
	assert.Equal(t, "multi", snap[KeySessionMode])

	// Later mutations do not leak into the captured snapshot.
	require.NoError(t, o.Set("custom.key", "v2"))
	assert.Equal(t, "v1", snap["custom.key"])
}

func TestOverlay_GetBool(t *testing.T) {
	o := newTestOverlay(t)

	assert.True(t, o.GetBool(KeyAsyncExec, false))
	assert.True(t, o.GetBool("missing", true))
	assert.False(t, o.GetBool("missing", false))

	require.NoError(t, o.Set(KeyAsyncExec, "false"))
	assert.False(t, o.GetBool(KeyAsyncExec, true))

	require.NoError(t, o.Set(KeyAsyncExec, "garbage"))
	assert.True(t, o.GetBool(KeyAsyncExec, true))
}
