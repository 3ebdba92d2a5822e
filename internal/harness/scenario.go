package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/kiln/internal/ir"
	"github.com/roach88/kiln/internal/orchestrator"
)

// Scenario defines one harness run.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Jobs are enqueued in order and drained in the same order.
	Jobs []JobSpec `yaml:"jobs"`

	// Faults make selected stages fail.
	Faults []Fault `yaml:"faults,omitempty"`

	// Assertions validate the trace, the ledger and the stage calls.
	Assertions []Assertion `yaml:"assertions"`
}

// JobSpec describes one job. A job without nodes is the canonical
// Analyze -> Decide -> Persist job.
type JobSpec struct {
	Name    string     `yaml:"name"`
	Retries *int       `yaml:"retries,omitempty"`
	Skip    bool       `yaml:"skip,omitempty"`
	Nodes   []NodeSpec `yaml:"nodes,omitempty"`
	Edges   []EdgeSpec `yaml:"edges,omitempty"`
}

// NodeSpec is one node of a job.
type NodeSpec struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`
	Lane string `yaml:"lane,omitempty"`
}

// EdgeSpec makes To depend on From.
type EdgeSpec struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// Fault makes the stage of one node fail.
type Fault struct {
	Job  string `yaml:"job"`
	Node string `yaml:"node"`

	// Times is how many calls fail before the stage recovers.
	// Zero fails every call.
	Times int `yaml:"times,omitempty"`

	// Message is the stage error text. Defaults to "injected fault".
	Message string `yaml:"message,omitempty"`
}

func (f Fault) message() string {
	if f.Message == "" {
		return "injected fault"
	}
	return f.Message
}

// Assertion validates one aspect of the run.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Job names the job the assertion is about. Required for every type.
	Job string `yaml:"job"`

	// Node is the node name (stage_calls).
	Node string `yaml:"node,omitempty"`

	// State is the expected state (final_state, event_count).
	State string `yaml:"state,omitempty"`

	// States is the expected transition sequence (event_order).
	States []string `yaml:"states,omitempty"`

	// Attempts is the expected attempt count (final_state). Zero skips the check.
	Attempts int `yaml:"attempts,omitempty"`

	// Count is the expected number (event_count, stage_calls, cache_hits).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertFinalState = "final_state"
	AssertEventOrder = "event_order"
	AssertEventCount = "event_count"
	AssertStageCalls = "stage_calls"
	AssertCacheHits  = "cache_hits"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so that typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and that every
// reference resolves.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Jobs) == 0 {
		return fmt.Errorf("jobs list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	jobs := make(map[string]JobSpec, len(s.Jobs))
	for i, job := range s.Jobs {
		if job.Name == "" {
			return fmt.Errorf("jobs[%d]: name is required", i)
		}
		if _, dup := jobs[job.Name]; dup {
			return fmt.Errorf("jobs[%d]: duplicate job name %q", i, job.Name)
		}
		if job.Retries != nil && *job.Retries < 0 {
			return fmt.Errorf("jobs[%d]: retries must be non-negative", i)
		}
		if err := validateNodes(i, job); err != nil {
			return err
		}
		jobs[job.Name] = job
	}

	for i, f := range s.Faults {
		job, ok := jobs[f.Job]
		if !ok {
			return fmt.Errorf("faults[%d]: unknown job %q", i, f.Job)
		}
		if !slices.Contains(job.nodeNames(), f.Node) {
			return fmt.Errorf("faults[%d]: job %q has no node %q", i, f.Job, f.Node)
		}
		if f.Times < 0 {
			return fmt.Errorf("faults[%d]: times must be non-negative", i)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a, jobs); err != nil {
			return err
		}
	}
	return nil
}

func validateNodes(index int, job JobSpec) error {
	names := make(map[string]bool, len(job.Nodes))
	for j, n := range job.Nodes {
		if n.Name == "" {
			return fmt.Errorf("jobs[%d].nodes[%d]: name is required", index, j)
		}
		if names[n.Name] {
			return fmt.Errorf("jobs[%d].nodes[%d]: duplicate node name %q", index, j, n.Name)
		}
		if _, err := ir.ParseNodeKind(n.Kind); err != nil {
			return fmt.Errorf("jobs[%d].nodes[%d]: %w", index, j, err)
		}
		if _, err := ir.ParseLane(n.Lane); err != nil {
			return fmt.Errorf("jobs[%d].nodes[%d]: %w", index, j, err)
		}
		names[n.Name] = true
	}
	for j, e := range job.Edges {
		if !names[e.From] || !names[e.To] {
			return fmt.Errorf("jobs[%d].edges[%d]: edge %s -> %s references an unknown node", index, j, e.From, e.To)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a Assertion, jobs map[string]JobSpec) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	job, ok := jobs[a.Job]
	if !ok {
		return fmt.Errorf("assertions[%d]: unknown job %q", index, a.Job)
	}

	switch a.Type {
	case AssertFinalState, AssertEventCount:
		if !validState(a.State) {
			return fmt.Errorf("assertions[%d]: unknown state %q for %s", index, a.State, a.Type)
		}
	case AssertEventOrder:
		if len(a.States) == 0 {
			return fmt.Errorf("assertions[%d]: states list is required for event_order", index)
		}
		for _, st := range a.States {
			if !validState(st) {
				return fmt.Errorf("assertions[%d]: unknown state %q", index, st)
			}
		}
	case AssertStageCalls:
		if !slices.Contains(job.nodeNames(), a.Node) {
			return fmt.Errorf("assertions[%d]: job %q has no node %q", index, a.Job, a.Node)
		}
	case AssertCacheHits:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	if a.Count < 0 || a.Attempts < 0 {
		return fmt.Errorf("assertions[%d]: counts must be non-negative", index)
	}
	return nil
}

func validState(s string) bool {
	switch orchestrator.JobState(s) {
	case orchestrator.StateQueued, orchestrator.StateRunning, orchestrator.StateRetrying,
		orchestrator.StateSucceeded, orchestrator.StateFailed, orchestrator.StateSkipped:
		return true
	}
	return false
}

// nodeNames lists the job's node names, including the implicit ones of
// the canonical job.
func (j JobSpec) nodeNames() []string {
	if len(j.Nodes) == 0 {
		return []string{"analyze", "decide", "persist"}
	}
	names := make([]string, len(j.Nodes))
	for i, n := range j.Nodes {
		names[i] = n.Name
	}
	return names
}
