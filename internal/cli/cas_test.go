package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kiln/internal/cas"
	"github.com/roach88/kiln/internal/ir"
)

func TestCASPutGetStat(t *testing.T) {
	dir := t.TempDir()
	casRoot := filepath.Join(dir, "cas")
	src := filepath.Join(dir, "hello.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello\n"), 0o644))
	want := ir.HashBytes([]byte("hello\n"))

	out, err := execute(t, "--cas", casRoot, "cas", "put", src)
	require.NoError(t, err)
	assert.Equal(t, want+"  "+src+"\n", out)

	out, err = execute(t, "--cas", casRoot, "cas", "get", want)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out)

	dst := filepath.Join(dir, "copy.txt")
	_, err = execute(t, "--cas", casRoot, "cas", "get", want, "-o", dst)
	require.NoError(t, err)
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))

	out, err = execute(t, "--cas", casRoot, "--format", "json", "cas", "stat", want)
	require.NoError(t, err)
	var st StatResult
	decodeData(t, out, &st)
	assert.Equal(t, want, st.Hash)
	assert.Equal(t, int64(6), st.Size)
}

func TestCASPut_JSONKeepsArgumentOrder(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	require.NoError(t, os.WriteFile(a, []byte("zzz"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("aaa"), 0o644))

	out, err := execute(t, "--cas", filepath.Join(dir, "cas"), "--format", "json", "cas", "put", a, b)
	require.NoError(t, err)

	var result PutResult
	decodeData(t, out, &result)
	require.Len(t, result.Hashes, 2)
	assert.Equal(t, a, result.Hashes[0].Source)
	assert.Equal(t, ir.HashBytes([]byte("aaa")), result.Hashes[1].Hash)
}

func TestCASGet_Missing(t *testing.T) {
	casRoot := filepath.Join(t.TempDir(), "cas")

	_, err := execute(t, "--cas", casRoot, "cas", "get", strings.Repeat("0", 64))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Equal(t, ErrCodeNotFound, errorCode(err))

	_, err = execute(t, "--cas", casRoot, "cas", "stat", "not-a-hash")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCASVerify_DetectsTampering(t *testing.T) {
	casRoot := filepath.Join(t.TempDir(), "cas")
	store, err := cas.New(casRoot)
	require.NoError(t, err)
	good, err := store.PutBytes([]byte("good"))
	require.NoError(t, err)
	bad, err := store.PutBytes([]byte("bad"))
	require.NoError(t, err)

	out, err := execute(t, "--cas", casRoot, "cas", "verify")
	require.NoError(t, err)
	assert.Contains(t, out, "2 objects checked, 0 corrupt")

	path := store.Path(bad)
	require.NoError(t, os.Chmod(path, 0o644))
	require.NoError(t, os.WriteFile(path, []byte("tampered"), 0o644))

	out, err = execute(t, "--cas", casRoot, "cas", "verify")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "CORRUPT "+bad)
	assert.NotContains(t, out, "CORRUPT "+good)

	_, err = execute(t, "--cas", casRoot, "cas", "verify", good)
	require.NoError(t, err)
}
