package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

// writePlan writes a plan file under dir and returns its path.
func writePlan(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const yamlPlan = `name: etl
checkpoint: out
retries: 1
backoff: 10ms
nodes:
  - name: scan
    kind: analyze
    inputs:
      source: input.txt
  - name: choose
    kind: decide
    lane: deep
    metadata:
      threshold: 3
  - name: save
    kind: persist
edges:
  - {from: scan, to: choose}
  - {from: choose, to: save}
`

const cuePlan = `package plan

name:       "etl"
checkpoint: "out"
backoff:    "10ms"
nodes: [
	{name: "scan", kind: "analyze"},
	{name: "check", kind: "verify", lane: "deep"},
]
edges: [{from: "scan", to: "check"}]
`

const cyclicPlan = `name: loop
checkpoint: out
retries: 3
backoff: 1ms
nodes:
  - {name: a, kind: analyze}
  - {name: b, kind: decide}
edges:
  - {from: a, to: b}
  - {from: b, to: a}
`
