package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/kiln/internal/cache"
	"github.com/roach88/kiln/internal/graph"
	"github.com/roach88/kiln/internal/ir"
)

// SnapshotDescription is stamped on every snapshot written by Run.
const SnapshotDescription = "run completion"

// ArtifactStore receives every stage output when configured. cas.Store
// satisfies it.
type ArtifactStore interface {
	PutBytes(data []byte) (string, error)
	Path(hash string) string
}

// ExecutionSummary is the result of a successful Run.
type ExecutionSummary struct {
	Executed    []ir.NodeState `json:"executed"`
	Checkpoint  string         `json:"checkpoint"`
	CacheHits   int            `json:"cache_hits"`
	CacheMisses int            `json:"cache_misses"`
}

// Engine runs one graph. It is safe to call Run repeatedly; the cache
// persists across calls for the lifetime of the Engine (or longer, if the
// cache passed to WithCache does).
type Engine struct {
	graph       *graph.Graph
	cache       cache.Cache
	stages      map[ir.NodeKind]Stage
	nodeTimeout time.Duration
	now         func() time.Time
	artifacts   ArtifactStore
	flight      singleflight.Group

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	tel            *telemetry
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache replaces the private in-memory cache.
func WithCache(c cache.Cache) Option {
	return func(e *Engine) {
		e.cache = c
	}
}

// WithStage sets the stage for every node of the given kind.
func WithStage(kind ir.NodeKind, s Stage) Option {
	return func(e *Engine) {
		e.stages[kind] = s
	}
}

// WithNodeTimeout bounds each stage execution. Zero disables the limit.
func WithNodeTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.nodeTimeout = d
	}
}

// WithClock sets the wall clock used for provenance and snapshot names.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithArtifactStore persists every stage output into s.
func WithArtifactStore(s ArtifactStore) Option {
	return func(e *Engine) {
		e.artifacts = s
	}
}

// WithTracerProvider sets where Run and per-node spans go. The default is
// the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) {
		e.tracerProvider = tp
	}
}

// WithMeterProvider sets where the engine counters go. The default is the
// global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) {
		e.meterProvider = mp
	}
}

// New binds an Engine to g with an empty in-memory cache.
func New(g *graph.Graph, opts ...Option) *Engine {
	e := &Engine{
		graph:  g,
		cache:  cache.NewMemory(),
		stages: make(map[ir.NodeKind]Stage),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	tel, err := newTelemetry(e.tracerProvider, e.meterProvider)
	if err != nil {
		slog.Warn("engine telemetry disabled", "error", err)
		tel, _ = newTelemetry(tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider())
	}
	e.tel = tel
	return e
}

// Run executes the graph and writes a snapshot into checkpointDir.
//
// Graph structure errors are returned as is (see graph.IsStructural) before
// any node runs. A stage failure is returned as *ExecutionError.
func (e *Engine) Run(ctx context.Context, checkpointDir string) (_ *ExecutionSummary, err error) {
	ctx, span := e.tel.tracer.Start(ctx, "Engine.Run",
		trace.WithAttributes(attribute.String("kiln.checkpoint", checkpointDir)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := os.MkdirAll(checkpointDir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}

	order, err := e.graph.TopoOrder()
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("kiln.nodes", len(order)))

	summary := &ExecutionSummary{Executed: make([]ir.NodeState, 0, len(order))}
	outputs := make(map[ir.NodeID]map[string]ir.DataHandle, len(order))

	for _, id := range order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		node, _ := e.graph.Node(id)
		state := e.prepare(node, outputs)

		state, hit, err := e.executeNode(ctx, node, state)
		if err != nil {
			return nil, err
		}
		if hit {
			summary.CacheHits++
		} else {
			summary.CacheMisses++
		}
		outputs[id] = state.IO.Outputs
		summary.Executed = append(summary.Executed, state)
	}

	snap := ir.NewSnapshot(summary.Executed, e.now(), SnapshotDescription)
	path, err := writeSnapshot(checkpointDir, snap)
	if err != nil {
		return nil, err
	}
	summary.Checkpoint = path

	slog.Info("run complete",
		"nodes", len(order),
		"cache_hits", summary.CacheHits,
		"cache_misses", summary.CacheMisses,
		"snapshot", path,
	)
	return summary, nil
}

// prepare builds the pre-execution NodeState: dependencies, resolved
// inputs and the cache key.
func (e *Engine) prepare(node ir.GraphNode, outputs map[ir.NodeID]map[string]ir.DataHandle) ir.NodeState {
	deps := e.graph.Dependencies(node.ID)
	inputs := make(map[string]ir.DataHandle, len(node.Inputs)+len(deps))

	for name, ref := range node.Inputs {
		inputs[name] = ir.DataHandle{
			Key:      name,
			Artifact: ref,
			Facets:   []ir.Facet{{Kind: ir.FacetSource, Lane: node.Lane}},
			Provenance: ir.Provenance{
				Origin:      "input",
				Description: ref.Path,
				CapturedAt:  e.now().UTC(),
				TrustScore:  1.0,
			},
		}
	}

	// Dependency outputs are named <dep-name>/<output>. If two dependencies
	// share a name, the id is used instead so neither shadows the other.
	names := make(map[string]int, len(deps))
	for _, dep := range deps {
		n, _ := e.graph.Node(dep)
		names[n.Name]++
	}
	for _, dep := range deps {
		n, _ := e.graph.Node(dep)
		prefix := n.Name
		if names[n.Name] > 1 || n.Name == "" {
			prefix = dep.String()
		}
		for key, h := range outputs[dep] {
			inputs[prefix+graph.InputSeparator+key] = h
		}
	}

	state := ir.NodeState{
		ID:           node.ID,
		Kind:         node.Kind,
		Lane:         node.Lane,
		Facets:       []ir.Facet{{Kind: ir.FacetKindFor(node.Kind), Lane: node.Lane, Metadata: node.Metadata.Clone()}},
		IO:           ir.NodeIO{Inputs: inputs, Outputs: map[string]ir.DataHandle{}},
		Dependencies: deps,
	}
	state.CacheKey = state.ComputeCacheKey()
	return state
}

type flightResult struct {
	entry cache.Entry
	hit   bool
}

// executeNode serves the node from cache or runs its stage. Lookup, run
// and insert for one key happen inside a single flight.
func (e *Engine) executeNode(ctx context.Context, node ir.GraphNode, state ir.NodeState) (ir.NodeState, bool, error) {
	ctx, span := e.tel.tracer.Start(ctx, "Engine.node",
		trace.WithAttributes(
			attribute.String("kiln.node.name", node.Name),
			attribute.String("kiln.node.kind", node.Kind.String()),
			attribute.String("kiln.node.lane", node.Lane.String()),
			attribute.String("kiln.cache_key", state.CacheKey),
		),
	)
	defer span.End()

	v, err, _ := e.flight.Do(state.CacheKey, func() (any, error) {
		entry, ok, err := e.cache.Get(ctx, state.CacheKey)
		if err != nil {
			return nil, fmt.Errorf("cache lookup for %s: %w", node.Name, err)
		}
		if ok {
			return flightResult{entry: entry, hit: true}, nil
		}

		outs, err := e.runStage(ctx, e.stageFor(node.Kind), node, state.IO.Inputs)
		if err != nil {
			return nil, err
		}
		handles, err := e.toHandles(node, outs)
		if err != nil {
			return nil, err
		}

		entry = cache.Entry{Outputs: handles, Facets: state.Facets, StoredAt: e.now().UTC()}
		if err := e.cache.Put(ctx, state.CacheKey, entry); err != nil {
			return nil, fmt.Errorf("cache insert for %s: %w", node.Name, err)
		}
		return flightResult{entry: entry}, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var ee *ExecutionError
		if errors.As(err, &ee) {
			e.tel.recordNodeFailure(ctx, node.Kind)
			slog.Warn("node failed", "node", node.Name, "kind", node.Kind.String(), "error", ee.Err)
		}
		return state, false, err
	}

	res := v.(flightResult)
	span.SetAttributes(attribute.Bool("kiln.cache_hit", res.hit))
	if res.hit {
		e.tel.recordCacheHit(ctx, node.Kind)
		slog.Debug("cache hit", "node", node.Name, "key", state.CacheKey)
	} else {
		e.tel.recordCacheMiss(ctx, node.Kind)
		slog.Debug("node executed", "node", node.Name, "key", state.CacheKey)
	}

	state.IO.Outputs = maps.Clone(res.entry.Outputs)
	if state.IO.Outputs == nil {
		state.IO.Outputs = map[string]ir.DataHandle{}
	}
	return state, res.hit, nil
}

func (e *Engine) stageFor(kind ir.NodeKind) Stage {
	if s, ok := e.stages[kind]; ok {
		return s
	}
	return DefaultStage
}
