// Package telemetry wires OpenTelemetry tracing and metrics around the
// runtime's hot paths: tool dispatch, model calls, and subagent
// lifecycle. Exporting is opt-in — without an OTLP endpoint configured
// the global no-op providers stay in place and the instrumentation
// helpers cost almost nothing.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/corvid/agentkit"

// The otel globals delegate: instruments created before Init are
// re-bound once real providers are installed, so package-level
// counters are safe here.
var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)

	toolCalls, _      = meter.Int64Counter("agentkit.tool.calls", metric.WithDescription("Tool dispatches, by key and outcome"))
	subagentSpawns, _ = meter.Int64Counter("agentkit.subagent.spawns", metric.WithDescription("Subagent subprocesses spawned"))
	modelCalls, _     = meter.Int64Counter("agentkit.model.calls", metric.WithDescription("Model completions requested, by backend"))
)

// Init installs an OTLP/HTTP trace exporter and returns a shutdown
// function. With endpoint empty the exporter falls back to the standard
// OTEL_EXPORTER_OTLP_ENDPOINT env var (or its built-in default); tracing
// stays on the no-op provider only when Init is not called at all.
func Init(ctx context.Context, serviceName, endpoint string) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	opts := []otlptracehttp.Option{}
	if endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	}
	exp, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// StartToolSpan opens the span around one tool dispatch.
func StartToolSpan(ctx context.Context, key, origin string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "tool.dispatch", trace.WithAttributes(
		attribute.String("tool.key", key),
		attribute.String("tool.origin", origin),
	))
}

// EndToolSpan records the dispatch outcome and closes the span.
func EndToolSpan(ctx context.Context, span trace.Span, key string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("tool.status", status))
	span.End()

	toolCalls.Add(ctx, 1,
		metric.WithAttributes(attribute.String("tool.key", key), attribute.String("status", status)))
}

// StartModelSpan opens the span around one model completion.
func StartModelSpan(ctx context.Context, model string) (context.Context, trace.Span) {
	modelCalls.Add(ctx, 1, metric.WithAttributes(attribute.String("model", model)))
	return tracer.Start(ctx, "model.chat", trace.WithAttributes(attribute.String("model", model)))
}

// RecordSubagentSpawn counts one spawned subagent and opens a spawn span
// that the caller ends when the supervise loop settles the record.
func RecordSubagentSpawn(ctx context.Context, taskID, batchID string) (context.Context, trace.Span) {
	subagentSpawns.Add(ctx, 1, metric.WithAttributes(attribute.String("batch_id", batchID)))
	return tracer.Start(ctx, "subagent.task", trace.WithAttributes(
		attribute.String("task.id", taskID),
		attribute.String("task.batch_id", batchID),
	))
}
