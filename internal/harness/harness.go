package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/roach88/kiln/internal/engine"
	"github.com/roach88/kiln/internal/graph"
	"github.com/roach88/kiln/internal/ir"
	"github.com/roach88/kiln/internal/orchestrator"
	"github.com/roach88/kiln/internal/store"
	"github.com/roach88/kiln/internal/testutil"
)

// Harness holds the state of one scenario execution.
type Harness struct {
	store  *store.Store
	clock  *testutil.FixedClock
	logger *slog.Logger
	result *Result

	// jobIDs maps job names to the ids the orchestrator assigned.
	jobIDs map[string]string

	mu     sync.Mutex
	faults map[ir.NodeID]Fault
	labels map[ir.NodeID]string
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory ledger and its own
// checkpoint directory, removed on return. The returned error reports a
// harness failure; assertion failures are in Result.Errors.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	dir, err := os.MkdirTemp("", "kiln-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create checkpoint dir: %w", err)
	}
	defer os.RemoveAll(dir)

	h := &Harness{
		store:  st,
		clock:  testutil.NewFixedClock(time.Time{}),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		result: NewResult(),
		jobIDs: make(map[string]string),
		faults: make(map[ir.NodeID]Fault),
		labels: make(map[ir.NodeID]string),
	}
	for _, f := range scenario.Faults {
		h.faults[ir.NamedNodeID(f.Job, f.Node)] = f
	}

	o := orchestrator.New(h.options()...)

	for _, job := range scenario.Jobs {
		plan, err := h.plan(job, filepath.Join(dir, job.Name))
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", job.Name, err)
		}
		rec, err := o.Enqueue(ctx, plan)
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", job.Name, err)
		}
		h.jobIDs[job.Name] = rec.ID
	}

	for _, job := range scenario.Jobs {
		if job.Skip {
			o.SkipNext(ctx)
			continue
		}
		rec, err := o.RunNext(ctx)
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", job.Name, err)
		}
		h.logger.Info("job finished", "job", rec.Plan.Name, "state", rec.State, "attempts", rec.Attempts)
	}

	for _, msg := range h.evaluate(ctx, scenario.Assertions) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func (h *Harness) options() []orchestrator.Option {
	stage := engine.StageFunc(h.runStage)
	engineOpts := []engine.Option{engine.WithClock(h.clock.Now)}
	for _, kind := range []ir.NodeKind{ir.KindAnalyze, ir.KindDecide, ir.KindTransform, ir.KindVerify, ir.KindPersist} {
		engineOpts = append(engineOpts, engine.WithStage(kind, stage))
	}

	return []orchestrator.Option{
		orchestrator.WithRecorder(h.store),
		orchestrator.WithObserver(h.result.observe),
		orchestrator.WithNow(h.clock.Now),
		orchestrator.WithSleep(func(ctx context.Context, d time.Duration) error {
			h.clock.Advance(d)
			return ctx.Err()
		}),
		orchestrator.WithEngineOptions(engineOpts...),
	}
}

// runStage counts the call, then either fails with the node's fault or
// behaves like engine.DefaultStage.
func (h *Harness) runStage(ctx context.Context, node ir.GraphNode, inputs map[string]ir.DataHandle) (map[string]engine.Output, error) {
	h.mu.Lock()
	label := h.labels[node.ID]
	h.result.Calls[label]++
	n := h.result.Calls[label]
	f, faulty := h.faults[node.ID]
	h.mu.Unlock()

	if faulty && (f.Times == 0 || n <= f.Times) {
		return nil, fmt.Errorf("%s (call %d)", f.message(), n)
	}
	return engine.DefaultStage.Run(ctx, node, inputs)
}

// plan builds the orchestrator plan for one scenario job, checkpointing under dir.
func (h *Harness) plan(job JobSpec, dir string) (orchestrator.JobPlan, error) {
	var plan orchestrator.JobPlan
	if len(job.Nodes) == 0 {
		plan = orchestrator.Simple(job.Name, dir)
	} else {
		g, err := buildGraph(job)
		if err != nil {
			return orchestrator.JobPlan{}, err
		}
		plan = orchestrator.JobPlan{
			Name:       job.Name,
			Graph:      g,
			Checkpoint: dir,
			Retries:    orchestrator.DefaultRetries,
			Backoff:    orchestrator.DefaultBackoff,
		}
	}
	if job.Retries != nil {
		plan.Retries = *job.Retries
	}

	h.mu.Lock()
	for _, name := range job.nodeNames() {
		h.labels[ir.NamedNodeID(job.Name, name)] = job.Name + "/" + name
	}
	h.mu.Unlock()
	return plan, nil
}

func buildGraph(job JobSpec) (*graph.Graph, error) {
	g := graph.New()
	ids := make(map[string]ir.NodeID, len(job.Nodes))
	for _, n := range job.Nodes {
		kind, err := ir.ParseNodeKind(n.Kind)
		if err != nil {
			return nil, err
		}
		lane, err := ir.ParseLane(n.Lane)
		if err != nil {
			return nil, err
		}
		id, err := g.AddNode(ir.GraphNode{
			ID:   ir.NamedNodeID(job.Name, n.Name),
			Name: n.Name,
			Kind: kind,
			Lane: lane,
		})
		if err != nil {
			return nil, err
		}
		ids[n.Name] = id
	}
	for _, e := range job.Edges {
		if err := g.AddEdge(ids[e.From], ids[e.To]); err != nil {
			return nil, err
		}
	}
	return g, nil
}
