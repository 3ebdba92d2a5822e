package cli

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kiln/internal/ir"
	"github.com/roach88/kiln/internal/orchestrator"
)

func TestLoadPlan_YAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "input.txt"), []byte("abc"), 0o644))
	path := writePlan(t, dir, "plan.yaml", yamlPlan)

	plan, err := LoadPlan(path)
	require.NoError(t, err)

	assert.Equal(t, "etl", plan.Name)
	assert.Equal(t, filepath.Join(dir, "out"), plan.Checkpoint)
	assert.Equal(t, 1, plan.Retries)
	assert.Equal(t, 10*time.Millisecond, plan.Backoff)
	assert.Equal(t, 3, plan.Graph.Len())
	assert.Equal(t, 2, plan.Graph.EdgeCount())

	nodes := plan.Graph.Nodes()
	scan, choose := nodes[0], nodes[1]
	assert.Equal(t, ir.KindAnalyze, scan.Kind)
	require.Contains(t, scan.Inputs, "source")
	// sha256("abc")
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", scan.Inputs["source"].Hash)

	assert.Equal(t, ir.LaneDeep, choose.Lane)
	assert.Equal(t, 3, choose.Metadata["threshold"])
}

func TestLoadPlan_CUE(t *testing.T) {
	dir := t.TempDir()
	path := writePlan(t, dir, "plan.cue", cuePlan)

	plan, err := LoadPlan(path)
	require.NoError(t, err)

	assert.Equal(t, "etl", plan.Name)
	assert.Equal(t, orchestrator.DefaultRetries, plan.Retries)
	assert.Equal(t, 10*time.Millisecond, plan.Backoff)
	require.Equal(t, 2, plan.Graph.Len())
	assert.Equal(t, ir.KindVerify, plan.Graph.Nodes()[1].Kind)
	assert.Equal(t, ir.LaneDeep, plan.Graph.Nodes()[1].Lane)
}

func TestLoadPlan_JSON(t *testing.T) {
	dir := t.TempDir()
	path := writePlan(t, dir, "plan.json", `{
  "name": "j",
  "checkpoint": "/abs/out",
  "retries": 0,
  "nodes": [{"name": "only", "kind": "transform"}]
}`)

	plan, err := LoadPlan(path)
	require.NoError(t, err)
	assert.Equal(t, "/abs/out", plan.Checkpoint)
	assert.Equal(t, 0, plan.Retries)
	assert.Equal(t, orchestrator.DefaultBackoff, plan.Backoff)
}

func TestLoadPlan_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		code    string
		msg     string
	}{
		{
			name:    "unsupported extension",
			file:    "plan.toml",
			content: "name = 'x'",
			code:    ErrCodeInvalidPlan,
			msg:     "unsupported",
		},
		{
			name:    "bad kind",
			file:    "plan.yaml",
			content: "name: x\ncheckpoint: out\nnodes:\n  - {name: a, kind: explode}\n",
			code:    ErrCodeInvalidPlan,
			msg:     "Kind",
		},
		{
			name:    "no nodes",
			file:    "plan.yaml",
			content: "name: x\ncheckpoint: out\n",
			code:    ErrCodeInvalidPlan,
			msg:     "Nodes",
		},
		{
			name:    "unknown field",
			file:    "plan.yaml",
			content: "name: x\ncheckpoint: out\nextra: 1\nnodes:\n  - {name: a, kind: analyze}\n",
			code:    ErrCodeInvalidPlan,
			msg:     "extra",
		},
		{
			name:    "unknown edge",
			file:    "plan.yaml",
			content: "name: x\ncheckpoint: out\nnodes:\n  - {name: a, kind: analyze}\nedges:\n  - {from: a, to: ghost}\n",
			code:    ErrCodeInvalidPlan,
			msg:     "ghost",
		},
		{
			name:    "duplicate node",
			file:    "plan.yaml",
			content: "name: x\ncheckpoint: out\nnodes:\n  - {name: a, kind: analyze}\n  - {name: a, kind: decide}\n",
			code:    ErrCodeInvalidPlan,
			msg:     "duplicate",
		},
		{
			name:    "bad backoff",
			file:    "plan.yaml",
			content: "name: x\ncheckpoint: out\nbackoff: soon\nnodes:\n  - {name: a, kind: analyze}\n",
			code:    ErrCodeInvalidPlan,
			msg:     "backoff",
		},
		{
			name:    "missing input",
			file:    "plan.yaml",
			content: "name: x\ncheckpoint: out\nnodes:\n  - name: a\n    kind: analyze\n    inputs: {src: nope.txt}\n",
			code:    ErrCodeNotFound,
			msg:     "nope.txt",
		},
		{
			name:    "input name shadows dependency output",
			file:    "plan.yaml",
			content: "name: x\ncheckpoint: out\nnodes:\n  - name: a\n    kind: analyze\n    inputs: {\"scan/stdout\": plan.yaml}\n",
			code:    ErrCodeInvalidPlan,
			msg:     "reserved input name",
		},
		{
			name:    "incomplete cue",
			file:    "plan.cue",
			content: "name: string\ncheckpoint: \"out\"\nnodes: [{name: \"a\", kind: \"analyze\"}]\n",
			code:    ErrCodeInvalidPlan,
			msg:     "concrete",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writePlan(t, t.TempDir(), tt.file, tt.content)
			_, err := LoadPlan(path)
			require.Error(t, err)

			var loadErr *LoadError
			require.True(t, errors.As(err, &loadErr), "want *LoadError, got %T: %v", err, err)
			assert.Equal(t, tt.code, loadErr.Code)
			assert.Contains(t, loadErr.Error(), tt.msg)
		})
	}
}

func TestLoadPlan_CUESyntaxErrorHasPosition(t *testing.T) {
	path := writePlan(t, t.TempDir(), "plan.cue", "name: \"x\"\nnodes: [\n")
	_, err := LoadPlan(path)

	var loadErr *LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.True(t, loadErr.Pos.IsValid())
	assert.Contains(t, loadErr.Error(), "plan.cue")
}

func TestLoadPlan_MissingFile(t *testing.T) {
	_, err := LoadPlan(filepath.Join(t.TempDir(), "nope.yaml"))
	var loadErr *LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, ErrCodeNotFound, loadErr.Code)
}

func TestLoadPlan_CycleLoadsButDoesNotSort(t *testing.T) {
	path := writePlan(t, t.TempDir(), "plan.yaml", cyclicPlan)
	plan, err := LoadPlan(path)
	require.NoError(t, err)

	_, err = plan.Graph.TopoOrder()
	assert.Error(t, err)
}
