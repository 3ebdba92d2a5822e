package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/kiln/internal/ir"
)

// Output is one artifact a stage produces.
type Output struct {
	Data        []byte
	ContentType string
	Metadata    ir.Metadata

	// Trust overrides the kind's default trust score when non-nil.
	Trust *float64
}

// Stage is the work a node performs. It receives the node and its resolved
// inputs and returns named outputs. A returned error fails the node.
//
// Stages must honour ctx; a stage that ignores it is abandoned when the
// per-node timeout fires.
type Stage interface {
	Run(ctx context.Context, node ir.GraphNode, inputs map[string]ir.DataHandle) (map[string]Output, error)
}

// StageFunc adapts a function to Stage.
type StageFunc func(ctx context.Context, node ir.GraphNode, inputs map[string]ir.DataHandle) (map[string]Output, error)

func (f StageFunc) Run(ctx context.Context, node ir.GraphNode, inputs map[string]ir.DataHandle) (map[string]Output, error) {
	return f(ctx, node, inputs)
}

// StdoutKey is the output every default stage produces.
const StdoutKey = "stdout"

// DefaultStage writes the node name to "stdout" as text/plain. It stands in
// for real stage logic.
var DefaultStage Stage = StageFunc(func(_ context.Context, node ir.GraphNode, _ map[string]ir.DataHandle) (map[string]Output, error) {
	return map[string]Output{
		StdoutKey: {Data: []byte(node.Name), ContentType: "text/plain"},
	}, nil
})

// runStage calls stage under the node timeout and converts panics, timeouts
// and errors into an ExecutionError. It returns ctx.Err() unwrapped when the
// caller's own context ended.
func (e *Engine) runStage(ctx context.Context, stage Stage, node ir.GraphNode, inputs map[string]ir.DataHandle) (map[string]Output, error) {
	stageCtx := ctx
	if e.nodeTimeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeoutCause(ctx, e.nodeTimeout, ErrNodeTimeout)
		defer cancel()
	}

	type result struct {
		outputs map[string]Output
		err     error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("stage panic: %v", r)}
			}
		}()
		out, err := stage.Run(stageCtx, node, maps.Clone(inputs))
		done <- result{outputs: out, err: err}
	}()

	var err error
	select {
	case <-stageCtx.Done():
		err = context.Cause(stageCtx)
	case r := <-done:
		if r.err == nil {
			if len(r.outputs) == 0 {
				return nil, &ExecutionError{Node: node.ID, Name: node.Name, Kind: node.Kind, Err: errors.New("stage produced no outputs")}
			}
			return r.outputs, nil
		}
		err = r.err
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(context.Cause(stageCtx), ErrNodeTimeout) {
		err = fmt.Errorf("%w after %s", ErrNodeTimeout, e.nodeTimeout)
	}
	return nil, &ExecutionError{Node: node.ID, Name: node.Name, Kind: node.Kind, Err: err}
}

// toHandles turns raw stage outputs into data handles stamped with the
// node's facet and provenance.
func (e *Engine) toHandles(node ir.GraphNode, outputs map[string]Output) (map[string]ir.DataHandle, error) {
	facet := ir.Facet{Kind: ir.FacetKindFor(node.Kind), Lane: node.Lane}
	now := e.now().UTC()

	handles := make(map[string]ir.DataHandle, len(outputs))
	for _, key := range slices.Sorted(maps.Keys(outputs)) {
		out := outputs[key]
		ref := ir.NewArtifactRef("", out.Data, out.ContentType)
		if out.Metadata != nil {
			ref.Metadata = out.Metadata.Clone()
		}
		if e.artifacts != nil {
			hash, err := e.artifacts.PutBytes(out.Data)
			if err != nil {
				return nil, fmt.Errorf("store output %s of %s: %w", key, node.Name, err)
			}
			if hash != ref.Hash {
				return nil, fmt.Errorf("store output %s of %s: hash mismatch %s != %s", key, node.Name, hash, ref.Hash)
			}
			ref.Path = e.artifacts.Path(hash)
		}

		trust := ir.DefaultTrust(node.Kind)
		if out.Trust != nil {
			trust = *out.Trust
		}
		handles[key] = ir.DataHandle{
			Key:      key,
			Artifact: ref,
			Facets:   []ir.Facet{facet},
			Provenance: ir.Provenance{
				Origin:      node.Name,
				Description: fmt.Sprintf("%s output of %s node", key, node.Kind),
				CapturedAt:  now,
				TrustScore:  trust,
			},
		}
	}
	return handles, nil
}
