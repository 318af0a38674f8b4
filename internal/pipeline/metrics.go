package pipeline

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/lectorlabs/lector-core/pipeline"

type telemetry struct {
	tracer   trace.Tracer
	windows  metric.Int64Counter
	retries  metric.Int64Counter
	failures metric.Int64Counter
	billable metric.Int64Counter
}

func newTelemetry() *telemetry {
	meter := otel.Meter(instrumentationName)
	t := &telemetry{tracer: otel.Tracer(instrumentationName)}
	t.windows, _ = meter.Int64Counter("lector.windows.processed",
		metric.WithDescription("Windows completed, successfully or not"))
	t.retries, _ = meter.Int64Counter("lector.service.retries",
		metric.WithDescription("External service retries"))
	t.failures, _ = meter.Int64Counter("lector.windows.failed",
		metric.WithDescription("Windows abandoned after exhausting retries"))
	t.billable, _ = meter.Int64Counter("lector.synthesis.billable_chars",
		metric.WithDescription("Characters billed by the synthesis provider"))
	return t
}

func (t *telemetry) window(ctx context.Context, stage string, ok bool) {
	attrs := metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.Bool("success", ok),
	)
	t.windows.Add(ctx, 1, attrs)
	if !ok {
		t.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
	}
}

func (t *telemetry) retry(ctx context.Context, stage string, n int) {
	if n > 0 {
		t.retries.Add(ctx, int64(n), metric.WithAttributes(attribute.String("stage", stage)))
	}
}

func (t *telemetry) billed(ctx context.Context, chars int) {
	if chars > 0 {
		t.billable.Add(ctx, int64(chars))
	}
}
