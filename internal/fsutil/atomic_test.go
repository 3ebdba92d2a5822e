package fsutil

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.json")

	require.NoError(t, WriteFileAtomic(path, []byte("one"), 0o644))
	require.NoError(t, WriteFileAtomic(path, []byte("two"), 0o644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
	assert.Equal(t, []string{"out.json"}, listNames(t, filepath.Dir(path)), "no temp files left behind")
}

func TestWriteFileNewRefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.json")

	require.NoError(t, WriteFileNew(path, []byte("first"), 0o644))

	err := WriteFileNew(path, []byte("second"), 0o644)
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrExist))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))
	assert.Equal(t, []string{"snapshot.json"}, listNames(t, dir))
}

func TestCopyToTempDiscard(t *testing.T) {
	dir := t.TempDir()

	tmp, n, err := CopyToTemp(dir, "obj.*", strings.NewReader("abc"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	tmp.Discard()

	assert.Empty(t, listNames(t, dir))
}
