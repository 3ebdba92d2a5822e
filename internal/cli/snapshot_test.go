package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kiln/internal/ir"
)

func TestSnapshot_ShowAndList(t *testing.T) {
	checkpoint := filepath.Join(t.TempDir(), "ckpt")
	_, err := execute(t, "run", "--simple", "demo", "--checkpoint", checkpoint)
	require.NoError(t, err)

	out, err := execute(t, "--format", "json", "snapshot", "list", checkpoint)
	require.NoError(t, err)
	var list SnapshotList
	decodeData(t, out, &list)
	require.Len(t, list.Snapshots, 1)

	out, err = execute(t, "--format", "json", "snapshot", "show", checkpoint)
	require.NoError(t, err)
	var view SnapshotView
	decodeData(t, out, &view)
	assert.Equal(t, list.Snapshots[0], view.Path)
	assert.Equal(t, ir.SnapshotVersion, view.Snapshot.Version)
	require.Len(t, view.Snapshot.Nodes, 3)
	for _, n := range view.Snapshot.Nodes {
		assert.True(t, ir.IsHash(n.CacheKey))
	}

	out, err = execute(t, "snapshot", "show", list.Snapshots[0])
	require.NoError(t, err)
	assert.Contains(t, out, "analyze")
	assert.Contains(t, out, "persist")
}

func TestSnapshot_ListEmptyDir(t *testing.T) {
	out, err := execute(t, "--format", "json", "snapshot", "list", t.TempDir())
	require.NoError(t, err)
	var list SnapshotList
	decodeData(t, out, &list)
	assert.Empty(t, list.Snapshots)
}

func TestSnapshot_ShowErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := execute(t, "snapshot", "show", filepath.Join(dir, "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, "snapshot", "show", dir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	bad := filepath.Join(dir, "snapshot-1.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o644))
	_, err = execute(t, "snapshot", "show", bad)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
