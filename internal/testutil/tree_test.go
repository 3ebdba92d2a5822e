package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteTree_CreatesNestedFiles(t *testing.T) {
	root := t.TempDir()
	WriteTree(t, root, map[string]string{
		"a/b/c.txt": "hello",
		"top.txt":   "",
	})

	data, err := os.ReadFile(filepath.Join(root, "a", "b", "c.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	info, err := os.Stat(filepath.Join(root, "top.txt"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size())
}

func TestCodeDrop_BinaryIsFourBytes(t *testing.T) {
	root := CodeDrop(t, t.TempDir())

	info, err := os.Stat(filepath.Join(root, "bin", "tool.bin"))
	require.NoError(t, err)
	assert.Equal(t, int64(4), info.Size())

	head, err := os.ReadFile(filepath.Join(root, ".git", "HEAD"))
	require.NoError(t, err)
	assert.Equal(t, "ref: refs/heads/main", string(head))
}
