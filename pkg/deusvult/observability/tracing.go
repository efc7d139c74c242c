package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "deusvult"

// Span attribute keys set by the event bus.
const (
	AttrTopic   = attribute.Key("event.topic")
	AttrEventID = attribute.Key("event.id")
	AttrHandler = attribute.Key("event.handler")
)

// tracer is resolved on every call so that a provider installed later
// (Setup, tests) applies to spans started afterwards.
func tracer() trace.Tracer {
	return otel.GetTracerProvider().Tracer(instrumentationName)
}

// StartPublishSpan opens the producer span around one event dispatch.
// Handler spans started from the returned context become its children.
func StartPublishSpan(ctx context.Context, topic, eventID string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "event.publish "+topic,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(AttrTopic.String(topic), AttrEventID.String(eventID)),
	)
}

// StartHandlerSpan opens the consumer span for one handler invocation.
func StartHandlerSpan(ctx context.Context, topic, handler string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "event.handle "+topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(AttrTopic.String(topic), AttrHandler.String(handler)),
	)
}

// EndSpan sets the span status from err and ends it. A failure is also
// recorded as an exception event. A nil span is ignored.
func EndSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	default:
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds a named event to the span in ctx, if it is recording.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}
