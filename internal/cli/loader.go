package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/roach88/kiln/internal/graph"
	"github.com/roach88/kiln/internal/ir"
	"github.com/roach88/kiln/internal/orchestrator"
)

// PlanFile is the on-disk description of a job.
//
// Checkpoint and input paths are resolved relative to the plan file.
type PlanFile struct {
	Name       string     `json:"name" yaml:"name" validate:"required,max=128"`
	Checkpoint string     `json:"checkpoint" yaml:"checkpoint" validate:"required"`
	Retries    *int       `json:"retries,omitempty" yaml:"retries" validate:"omitempty,gte=0,lte=100"`
	Backoff    string     `json:"backoff,omitempty" yaml:"backoff"`
	Nodes      []NodeSpec `json:"nodes" yaml:"nodes" validate:"required,min=1,dive"`
	Edges      []EdgeSpec `json:"edges,omitempty" yaml:"edges" validate:"dive"`
}

// NodeSpec describes one node. Inputs maps input names to files.
type NodeSpec struct {
	Name     string            `json:"name" yaml:"name" validate:"required"`
	Kind     string            `json:"kind" yaml:"kind" validate:"required,oneof=analyze decide transform verify persist"`
	Lane     string            `json:"lane,omitempty" yaml:"lane" validate:"omitempty,oneof=fast deep"`
	Metadata map[string]any    `json:"metadata,omitempty" yaml:"metadata"`
	Inputs   map[string]string `json:"inputs,omitempty" yaml:"inputs" validate:"dive,keys,required,endkeys,required"`
}

// EdgeSpec makes To depend on From, by node name.
type EdgeSpec struct {
	From string `json:"from" yaml:"from" validate:"required"`
	To   string `json:"to" yaml:"to" validate:"required"`
}

// LoadError reports a plan file that cannot be used.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

var planValidate = validator.New()

// LoadPlan reads a plan file (.cue, .yaml, .yml or .json) and builds the
// job it describes.
func LoadPlan(path string) (orchestrator.JobPlan, error) {
	pf, err := ReadPlanFile(path)
	if err != nil {
		return orchestrator.JobPlan{}, err
	}
	return pf.JobPlan(filepath.Dir(path))
}

// ReadPlanFile parses and validates a plan file without building it.
func ReadPlanFile(path string) (*PlanFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("plan file not found: %s", path)}
		}
		return nil, &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("read plan file: %v", err)}
	}

	var pf PlanFile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".cue":
		if err := decodeCUE(path, data, &pf); err != nil {
			return nil, err
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&pf); err != nil {
			return nil, &LoadError{Code: ErrCodeInvalidPlan, Message: fmt.Sprintf("parse %s: %v", path, err)}
		}
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&pf); err != nil {
			return nil, &LoadError{Code: ErrCodeInvalidPlan, Message: fmt.Sprintf("parse %s: %v", path, err)}
		}
	default:
		return nil, &LoadError{Code: ErrCodeInvalidPlan, Message: fmt.Sprintf("unsupported plan file extension %q", ext)}
	}

	if err := planValidate.Struct(&pf); err != nil {
		return nil, &LoadError{Code: ErrCodeInvalidPlan, Message: fmt.Sprintf("%s: %v", path, err)}
	}
	return &pf, nil
}

func decodeCUE(path string, data []byte, pf *PlanFile) error {
	ctx := cuecontext.New()
	value := ctx.CompileBytes(data, cue.Filename(path))
	if err := value.Err(); err != nil {
		return cueLoadError("building CUE value", err)
	}
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return cueLoadError("plan is not concrete", err)
	}
	if err := value.Decode(pf); err != nil {
		return cueLoadError("decoding plan", err)
	}
	return nil
}

func cueLoadError(msg string, err error) *LoadError {
	le := &LoadError{Code: ErrCodeInvalidPlan, Message: fmt.Sprintf("%s: %v", msg, err)}
	if pos := cueerrors.Positions(err); len(pos) > 0 {
		le.Pos = pos[0]
	}
	return le
}

// JobPlan builds the graph. Relative paths resolve against baseDir.
func (pf *PlanFile) JobPlan(baseDir string) (orchestrator.JobPlan, error) {
	plan := orchestrator.JobPlan{
		Name:       pf.Name,
		Checkpoint: resolve(baseDir, pf.Checkpoint),
		Retries:    orchestrator.DefaultRetries,
		Backoff:    orchestrator.DefaultBackoff,
		Graph:      graph.New(),
	}
	if pf.Retries != nil {
		plan.Retries = *pf.Retries
	}
	if pf.Backoff != "" {
		d, err := time.ParseDuration(pf.Backoff)
		if err != nil || d < 0 {
			return orchestrator.JobPlan{}, &LoadError{Code: ErrCodeInvalidPlan, Message: fmt.Sprintf("invalid backoff %q", pf.Backoff)}
		}
		plan.Backoff = d
	}

	ids := make(map[string]ir.NodeID, len(pf.Nodes))
	for _, ns := range pf.Nodes {
		if _, dup := ids[ns.Name]; dup {
			return orchestrator.JobPlan{}, &LoadError{Code: ErrCodeInvalidPlan, Message: fmt.Sprintf("duplicate node name %q", ns.Name)}
		}
		node, err := ns.graphNode(pf.Name, baseDir)
		if err != nil {
			return orchestrator.JobPlan{}, err
		}
		id, err := plan.Graph.AddNode(node)
		if err != nil {
			return orchestrator.JobPlan{}, &LoadError{Code: ErrCodeInvalidPlan, Message: err.Error()}
		}
		ids[ns.Name] = id
	}

	for _, e := range pf.Edges {
		from, ok := ids[e.From]
		if !ok {
			return orchestrator.JobPlan{}, &LoadError{Code: ErrCodeInvalidPlan, Message: fmt.Sprintf("edge references unknown node %q", e.From)}
		}
		to, ok := ids[e.To]
		if !ok {
			return orchestrator.JobPlan{}, &LoadError{Code: ErrCodeInvalidPlan, Message: fmt.Sprintf("edge references unknown node %q", e.To)}
		}
		if err := plan.Graph.AddEdge(from, to); err != nil {
			return orchestrator.JobPlan{}, &LoadError{Code: ErrCodeInvalidPlan, Message: err.Error()}
		}
	}

	if err := plan.Validate(); err != nil {
		return orchestrator.JobPlan{}, &LoadError{Code: ErrCodeInvalidPlan, Message: err.Error()}
	}
	return plan, nil
}

func (ns NodeSpec) graphNode(plan, baseDir string) (ir.GraphNode, error) {
	kind, err := ir.ParseNodeKind(ns.Kind)
	if err != nil {
		return ir.GraphNode{}, &LoadError{Code: ErrCodeInvalidPlan, Message: err.Error()}
	}
	lane, err := ir.ParseLane(ns.Lane)
	if err != nil {
		return ir.GraphNode{}, &LoadError{Code: ErrCodeInvalidPlan, Message: err.Error()}
	}

	node := ir.GraphNode{
		ID:   ir.NamedNodeID(plan, ns.Name),
		Name: ns.Name,
		Kind: kind,
		Lane: lane,
	}
	if len(ns.Metadata) > 0 {
		node.Metadata = ir.Metadata(ns.Metadata)
	}
	if len(ns.Inputs) > 0 {
		node.Inputs = make(map[string]ir.ArtifactRef, len(ns.Inputs))
		for name, p := range ns.Inputs {
			ref, err := hashInput(resolve(baseDir, p))
			if err != nil {
				return ir.GraphNode{}, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("node %s input %s: %v", ns.Name, name, err)}
			}
			node.Inputs[name] = ref
		}
	}
	return node, nil
}

func hashInput(path string) (ir.ArtifactRef, error) {
	f, err := os.Open(path)
	if err != nil {
		return ir.ArtifactRef{}, err
	}
	defer f.Close()
	return ir.NewArtifactRefFromReader(path, f, "")
}

func resolve(baseDir, p string) string {
	if filepath.IsAbs(p) || baseDir == "" {
		return p
	}
	return filepath.Join(baseDir, p)
}
