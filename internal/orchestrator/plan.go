package orchestrator

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/roach88/kiln/internal/graph"
	"github.com/roach88/kiln/internal/ir"
)

// Defaults used by Simple.
const (
	DefaultRetries = 2
	DefaultBackoff = 5 * time.Second
)

// JobPlan is the scheduling unit: a graph plus where to checkpoint it and
// how hard to try.
type JobPlan struct {
	Name       string        `json:"name" validate:"required,max=128"`
	Graph      *graph.Graph  `json:"-" validate:"required"`
	Checkpoint string        `json:"checkpoint" validate:"required"`
	Retries    int           `json:"retries" validate:"gte=0,lte=100"`
	Backoff    time.Duration `json:"backoff" validate:"gte=0"`
}

var validate = validator.New()

// Validate checks the plan's fields and that the graph is non-empty.
// Acyclicity is left to the engine.
func (p JobPlan) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid job plan %q: %w", p.Name, err)
	}
	if p.Graph.Len() == 0 {
		return fmt.Errorf("invalid job plan %q: graph has no nodes", p.Name)
	}
	return nil
}

// Simple returns the canonical three-node job Analyze -> Decide -> Persist
// with DefaultRetries and DefaultBackoff. Node ids are derived from name,
// so two jobs with the same name share cache keys.
func Simple(name, checkpoint string) JobPlan {
	g := graph.New()
	node := func(n string, kind ir.NodeKind) ir.NodeID {
		return g.MustAddNode(ir.GraphNode{ID: ir.NamedNodeID(name, n), Name: n, Kind: kind, Lane: ir.LaneFast})
	}
	analyze := node("analyze", ir.KindAnalyze)
	decide := node("decide", ir.KindDecide)
	persist := node("persist", ir.KindPersist)

	// Both endpoints exist, so these cannot fail.
	_ = g.AddEdge(analyze, decide)
	_ = g.AddEdge(decide, persist)

	return JobPlan{
		Name:       name,
		Graph:      g,
		Checkpoint: checkpoint,
		Retries:    DefaultRetries,
		Backoff:    DefaultBackoff,
	}
}
