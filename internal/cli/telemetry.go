package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/roach88/kiln/internal/engine"
	"github.com/roach88/kiln/internal/ir"
)

// telemetry owns the SDK providers of one run.
type telemetry struct {
	options  []engine.Option
	shutdown []func(context.Context) error
}

// setupTelemetry installs the engine's OpenTelemetry providers.
//
// Engine counters are always exported through reg, next to the orchestrator
// metrics. Spans are exported as one JSON object per line to traceOut
// ("-" is stderr); an empty traceOut leaves tracing off.
func setupTelemetry(reg prometheus.Registerer, traceOut string, stderr io.Writer) (*telemetry, error) {
	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", "kiln"),
		attribute.String("service.version", ir.EngineVersion),
	)
	t := &telemetry{}

	exporter, err := promexporter.New(promexporter.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	t.options = append(t.options, engine.WithMeterProvider(mp))
	t.shutdown = append(t.shutdown, mp.Shutdown)

	if traceOut == "" {
		return t, nil
	}

	w := stderr
	if traceOut != "-" {
		f, err := os.Create(traceOut)
		if err != nil {
			t.close(context.Background())
			return nil, fmt.Errorf("open trace output: %w", err)
		}
		t.shutdown = append(t.shutdown, func(context.Context) error { return f.Close() })
		w = f
	}

	spans, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		t.close(context.Background())
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(spans),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	t.options = append(t.options, engine.WithTracerProvider(tp))
	// Providers flush before the trace file is closed.
	t.shutdown = append([]func(context.Context) error{tp.Shutdown}, t.shutdown...)
	return t, nil
}

// close flushes and stops every provider.
func (t *telemetry) close(ctx context.Context) error {
	var errs []error
	for _, fn := range t.shutdown {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		slog.Warn("telemetry shutdown", "error", err)
		return err
	}
	return nil
}
