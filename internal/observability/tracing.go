package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps the global OpenTelemetry tracer with helpers for the spans
// this service cares about: turn, provider call, tool execution. Exporter
// configuration is the deployment's concern; the code only emits spans.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a tracer scoped to the given instrumentation name.
func NewTracer(name string) *Tracer {
	if name == "" {
		name = "vantage"
	}
	return &Tracer{tracer: otel.Tracer(name)}
}

// StartTurn starts a span covering one conversation turn.
func (t *Tracer) StartTurn(ctx context.Context, route, chatID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "turn",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("route", route),
			attribute.String("chat.id", chatID),
		))
}

// StartProviderCall starts a span covering one LLM provider round trip.
func (t *Tracer) StartProviderCall(ctx context.Context, provider, model string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "provider.complete",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.provider", provider),
			attribute.String("llm.model", model),
		))
}

// StartToolExecution starts a span covering one tool execution.
func (t *Tracer) StartToolExecution(ctx context.Context, tool string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "tool.execute",
		trace.WithAttributes(attribute.String("tool.name", tool)))
}

// RecordError records err on the span and marks it failed.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
