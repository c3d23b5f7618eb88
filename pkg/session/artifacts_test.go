package session

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArtifacts_Lifecycle(t *testing.T) {
	dir := t.TempDir()

	a, err := newArtifacts(dir, "sess-1")
	require.NoError(t, err)

	names, err := ListArtifacts(dir, "sess-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"sess-1.oplog", "sess-1.spill"}, names)

	require.NoError(t, a.LogOperation("op-1 submitted"))
	require.NoError(t, a.LogOperation("op-1 finished"))

	lines, err := a.ReadLog()
	require.NoError(t, err)
	assert.Equal(t, []string{"op-1 submitted", "op-1 finished"}, lines)

	_, err = os.Stat(a.SpillPath())
	require.NoError(t, err)

	require.NoError(t, a.Release())
	names, err = ListArtifacts(dir, "sess-1")
	require.NoError(t, err)
	assert.Empty(t, names)

	// Released artifacts reject further use but tolerate another release.
	assert.Error(t, a.LogOperation("late"))
	_, err = a.ReadLog()
	assert.Error(t, err)
	require.NoError(t, a.Release())
}

func TestArtifacts_PrefixScopesListing(t *testing.T) {
	dir := t.TempDir()

	a, err := newArtifacts(dir, "sess-a")
	require.NoError(t, err)
	b, err := newArtifacts(dir, "sess-b")
	require.NoError(t, err)

	require.NoError(t, a.Release())

	names, err := ListArtifacts(dir, "sess-a")
	require.NoError(t, err)
	assert.Empty(t, names, "releasing one session must not touch another's artifacts")

	names, err = ListArtifacts(dir, "sess-b")
	require.NoError(t, err)
	assert.Len(t, names, 2)
	require.NoError(t, b.Release())
}

func TestArtifacts_EmptyLog(t *testing.T) {
	a, err := newArtifacts(t.TempDir(), "sess-1")
	require.NoError(t, err)
	defer func() { _ = a.Release() }()

	lines, err := a.ReadLog()
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestArtifacts_CreatesScratchDir(t *testing.T) {
	dir := t.TempDir() + "/nested/scratch"

	a, err := newArtifacts(dir, "sess-1")
	require.NoError(t, err)
	defer func() { _ = a.Release() }()

	names, err := ListArtifacts(dir, "sess-1")
	require.NoError(t, err)
	assert.Len(t, names, 2)
}
