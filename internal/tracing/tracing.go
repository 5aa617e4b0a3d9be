// Package tracing wires OpenTelemetry spans around agent runs, LLM calls,
// and tool executions. With no endpoint configured the tracer is a no-op.
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const tracerName = "github.com/pigforge/gopig"

// Setup installs an OTLP/HTTP trace exporter. The returned shutdown func
// flushes pending spans. An empty endpoint leaves the global no-op tracer
// in place.
func Setup(ctx context.Context, endpoint, serviceName string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	res, err := sdkresource.New(ctx,
		sdkresource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartRun opens the root span for one agent turn.
func StartRun(ctx context.Context, runID string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "agent.run",
		trace.WithAttributes(attribute.String("run.id", runID)))
}

// StartLLMCall opens a span around one provider request.
func StartLLMCall(ctx context.Context, provider, model string, iteration int) (context.Context, trace.Span) {
	return tracer().Start(ctx, "llm.chat",
		trace.WithAttributes(
			attribute.String("llm.provider", provider),
			attribute.String("llm.model", model),
			attribute.Int("llm.iteration", iteration),
		))
}

// StartToolCall opens a span around one tool execution.
func StartToolCall(ctx context.Context, tool, callID string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "tool.execute",
		trace.WithAttributes(
			attribute.String("tool.name", tool),
			attribute.String("tool.call_id", callID),
		))
}

// EndWithError finishes a span, recording err when non-nil.
func EndWithError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// RecordUsage attaches token counts to a span.
func RecordUsage(span trace.Span, promptTokens, completionTokens int) {
	span.SetAttributes(
		attribute.Int("llm.usage.prompt_tokens", promptTokens),
		attribute.Int("llm.usage.completion_tokens", completionTokens),
	)
}

// RecordDuration attaches a duration attribute in milliseconds.
func RecordDuration(span trace.Span, d time.Duration) {
	span.SetAttributes(attribute.Int64("duration_ms", d.Milliseconds()))
}
