package harness

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixtureScenariosPass(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := Run(context.Background(), scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors:\n%s", strings.Join(result.Errors, "\n"))
		})
	}
}

func TestRunWithGolden_FlakyPersist(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/flaky_persist.yaml")
	require.NoError(t, err)
	require.NoError(t, RunWithGolden(t, scenario))
}

func TestRun_TraceAndCalls(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/retries_exhausted.yaml")
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	var to []string
	for i, ev := range result.Trace {
		assert.Equal(t, int64(i+1), ev.Seq)
		assert.Equal(t, "doomed", ev.Job)
		to = append(to, ev.To)
	}
	assert.Equal(t, []string{"queued", "running", "retrying", "running", "failed"}, to)

	last := result.Trace[len(result.Trace)-1]
	assert.Contains(t, last.Error, "upstream unavailable (call 2)")
	assert.Equal(t, map[string]int{"doomed/analyze": 2}, result.Calls)
}

func TestRun_ReportsFailedAssertions(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: wrong
description: "every expectation is off by one"
jobs:
  - name: demo
assertions:
  - {type: final_state, job: demo, state: failed}
  - {type: final_state, job: demo, state: succeeded, attempts: 2}
  - {type: event_order, job: demo, states: [queued, succeeded]}
  - {type: event_count, job: demo, state: running, count: 2}
  - {type: stage_calls, job: demo, node: decide, count: 0}
  - {type: cache_hits, job: demo, count: 3}
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 6)

	assert.Contains(t, result.Errors[0], "Assertion failed: final_state (job demo)")
	assert.Contains(t, result.Errors[0], "Expected: state failed")
	assert.Contains(t, result.Errors[0], "Actual: state succeeded")
	assert.Contains(t, result.Errors[1], "Actual: 1 attempts")
	assert.Contains(t, result.Errors[2], "Actual: queued -> running -> succeeded")
	assert.Contains(t, result.Errors[3], "Actual: 1 transitions")
	assert.Contains(t, result.Errors[4], "Actual: 1 calls")
	assert.Contains(t, result.Errors[5], "Actual: 0 cache hits")
}

func TestRun_FailedJobHasNoSnapshot(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: no_snapshot
description: "a failed job records no snapshot"
jobs:
  - {name: demo, retries: 0}
faults:
  - {job: demo, node: persist}
assertions:
  - {type: cache_hits, job: demo, count: 0}
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "no snapshot recorded")
}

func TestParseScenario_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing name",
			yaml:    "description: d\njobs: [{name: a}]\nassertions: [{type: cache_hits, job: a}]\n",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			yaml:    "name: n\njobs: [{name: a}]\nassertions: [{type: cache_hits, job: a}]\n",
			wantErr: "description is required",
		},
		{
			name:    "no jobs",
			yaml:    "name: n\ndescription: d\nassertions: [{type: cache_hits, job: a}]\n",
			wantErr: "jobs list is required",
		},
		{
			name:    "no assertions",
			yaml:    "name: n\ndescription: d\njobs: [{name: a}]\n",
			wantErr: "assertions list is required",
		},
		{
			name:    "unknown field",
			yaml:    "name: n\ndescription: d\njob: []\n",
			wantErr: "failed to parse YAML",
		},
		{
			name:    "duplicate job",
			yaml:    "name: n\ndescription: d\njobs: [{name: a}, {name: a}]\nassertions: [{type: cache_hits, job: a}]\n",
			wantErr: `duplicate job name "a"`,
		},
		{
			name:    "bad kind",
			yaml:    "name: n\ndescription: d\njobs: [{name: a, nodes: [{name: x, kind: build}]}]\nassertions: [{type: cache_hits, job: a}]\n",
			wantErr: "unknown node kind",
		},
		{
			name:    "dangling edge",
			yaml:    "name: n\ndescription: d\njobs: [{name: a, nodes: [{name: x, kind: analyze}], edges: [{from: x, to: y}]}]\nassertions: [{type: cache_hits, job: a}]\n",
			wantErr: "references an unknown node",
		},
		{
			name:    "fault on unknown node",
			yaml:    "name: n\ndescription: d\njobs: [{name: a}]\nfaults: [{job: a, node: scan}]\nassertions: [{type: cache_hits, job: a}]\n",
			wantErr: `job "a" has no node "scan"`,
		},
		{
			name:    "assertion on unknown job",
			yaml:    "name: n\ndescription: d\njobs: [{name: a}]\nassertions: [{type: cache_hits, job: b}]\n",
			wantErr: `unknown job "b"`,
		},
		{
			name:    "unknown state",
			yaml:    "name: n\ndescription: d\njobs: [{name: a}]\nassertions: [{type: final_state, job: a, state: done}]\n",
			wantErr: `unknown state "done"`,
		},
		{
			name:    "unknown assertion type",
			yaml:    "name: n\ndescription: d\njobs: [{name: a}]\nassertions: [{type: trace_contains, job: a}]\n",
			wantErr: `unknown assertion type "trace_contains"`,
		},
		{
			name:    "negative retries",
			yaml:    "name: n\ndescription: d\njobs: [{name: a, retries: -1}]\nassertions: [{type: cache_hits, job: a}]\n",
			wantErr: "retries must be non-negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestAssertionErrorFormat(t *testing.T) {
	err := &AssertionError{
		Type:     AssertEventOrder,
		Job:      "etl",
		Expected: "queued -> succeeded",
		Actual:   "queued -> running",
		Trace: []TraceEvent{
			{Seq: 1, Job: "etl", To: "queued"},
			{Seq: 2, Job: "etl", From: "queued", To: "running", Error: "boom"},
		},
	}
	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: event_order (job etl)")
	assert.Contains(t, msg, "[1]  -> queued (attempt 0)")
	assert.Contains(t, msg, "[2] queued -> running (attempt 0): boom")
}
