package engine

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/kiln/internal/ir"
)

// InstrumentationName names the engine's tracer and meter.
const InstrumentationName = "kiln.engine"

// telemetry holds the tracer and counters of one Engine.
type telemetry struct {
	tracer trace.Tracer

	cacheHits    metric.Int64Counter
	cacheMisses  metric.Int64Counter
	nodeFailures metric.Int64Counter
}

// newTelemetry creates the engine instruments. A nil provider falls back
// to the global one, which is a no-op until the process installs an SDK.
func newTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) (*telemetry, error) {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(InstrumentationName)

	t := &telemetry{tracer: tp.Tracer(InstrumentationName)}
	var err error

	t.cacheHits, err = meter.Int64Counter(
		"engine_cache_hits_total",
		metric.WithDescription("Nodes served from cache"),
	)
	if err != nil {
		return nil, err
	}

	t.cacheMisses, err = meter.Int64Counter(
		"engine_cache_misses_total",
		metric.WithDescription("Nodes whose stage was executed"),
	)
	if err != nil {
		return nil, err
	}

	t.nodeFailures, err = meter.Int64Counter(
		"engine_node_failures_total",
		metric.WithDescription("Stage executions that failed"),
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func kindAttr(kind ir.NodeKind) metric.AddOption {
	return metric.WithAttributes(attribute.String("kind", kind.String()))
}

func (t *telemetry) recordCacheHit(ctx context.Context, kind ir.NodeKind) {
	t.cacheHits.Add(ctx, 1, kindAttr(kind))
}

func (t *telemetry) recordCacheMiss(ctx context.Context, kind ir.NodeKind) {
	t.cacheMisses.Add(ctx, 1, kindAttr(kind))
}

func (t *telemetry) recordNodeFailure(ctx context.Context, kind ir.NodeKind) {
	t.nodeFailures.Add(ctx, 1, kindAttr(kind))
}
