package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// setupTracingTest creates a test tracer provider with an in-memory span recorder.
func setupTracingTest(t *testing.T) (*tracetest.InMemoryExporter, func()) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)

	originalProvider := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)

	cleanup := func() {
		otel.SetTracerProvider(originalProvider)
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down tracer provider: %v", err)
		}
	}

	return exporter, cleanup
}

// spanAttr returns the string form of a span attribute, or "" if absent.
func spanAttr(attrs []attribute.KeyValue, key string) string {
	for _, attr := range attrs {
		if string(attr.Key) == key {
			return attr.Value.Emit()
		}
	}
	return ""
}

func TestStartPublishSpan(t *testing.T) {
	exporter, cleanup := setupTracingTest(t)
	defer cleanup()

	ctx, span := StartPublishSpan(context.Background(), "chat.added", "evt-123")
	require.NotNil(t, span)
	assert.True(t, trace.SpanFromContext(ctx).SpanContext().IsValid())
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)

	s := spans[0]
	assert.Equal(t, "event.publish chat.added", s.Name)
	assert.Equal(t, trace.SpanKindProducer, s.SpanKind)
	assert.Equal(t, "chat.added", spanAttr(s.Attributes, "event.topic"))
	assert.Equal(t, "evt-123", spanAttr(s.Attributes, "event.id"))
}

func TestStartHandlerSpan(t *testing.T) {
	exporter, cleanup := setupTracingTest(t)
	defer cleanup()

	t.Run("creates consumer span", func(t *testing.T) {
		_, span := StartHandlerSpan(context.Background(), "poll.send", "record")
		span.End()

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, "event.handle poll.send", spans[0].Name)
		assert.Equal(t, trace.SpanKindConsumer, spans[0].SpanKind)
		assert.Equal(t, "record", spanAttr(spans[0].Attributes, "event.handler"))
	})

	t.Run("is child of publish span", func(t *testing.T) {
		exporter.Reset()

		ctx, publish := StartPublishSpan(context.Background(), "poll.send", "evt-1")
		_, handle := StartHandlerSpan(ctx, "poll.send", "record")
		handle.End()
		publish.End()

		spans := exporter.GetSpans()
		require.Len(t, spans, 2)

		handleData := spans[0]
		publishData := spans[1]
		assert.Equal(t, publishData.SpanContext.SpanID(), handleData.Parent.SpanID())
		assert.Equal(t, publishData.SpanContext.TraceID(), handleData.SpanContext.TraceID())
	})
}

func TestEndSpan(t *testing.T) {
	exporter, cleanup := setupTracingTest(t)
	defer cleanup()

	t.Run("sets OK status for nil error", func(t *testing.T) {
		_, span := tracer().Start(context.Background(), "ok")

		EndSpan(span, nil)

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, codes.Ok, spans[0].Status.Code)
		assert.Equal(t, "", spans[0].Status.Description)
	})

	t.Run("sets Error status and records error", func(t *testing.T) {
		exporter.Reset()

		_, span := tracer().Start(context.Background(), "failing")
		EndSpan(span, errors.New("something went wrong"))

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)

		s := spans[0]
		assert.Equal(t, codes.Error, s.Status.Code)
		assert.Equal(t, "something went wrong", s.Status.Description)

		found := false
		for _, event := range s.Events {
			if event.Name == "exception" {
				found = true
			}
		}
		assert.True(t, found, "Expected exception event")
	})

	t.Run("nil span does not panic", func(t *testing.T) {
		assert.NotPanics(t, func() {
			EndSpan(nil, nil)
			EndSpan(nil, errors.New("test"))
		})
	})
}

func TestAddSpanEvent(t *testing.T) {
	exporter, cleanup := setupTracingTest(t)
	defer cleanup()

	t.Run("adds event to current span", func(t *testing.T) {
		ctx, span := tracer().Start(context.Background(), "op")

		AddSpanEvent(ctx, "retry", attribute.Int("attempt", 2))
		span.End()

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		require.Len(t, spans[0].Events, 1)
		assert.Equal(t, "retry", spans[0].Events[0].Name)
		assert.Equal(t, "2", spanAttr(spans[0].Events[0].Attributes, "attempt"))
	})

	t.Run("no panic with no current span", func(t *testing.T) {
		assert.NotPanics(t, func() {
			AddSpanEvent(context.Background(), "test_event")
		})
	})
}

func TestTracerFollowsProviderSwap(t *testing.T) {
	first, cleanupFirst := setupTracingTest(t)
	_, span := tracer().Start(context.Background(), "first")
	span.End()
	require.Len(t, first.GetSpans(), 1)
	cleanupFirst()

	second, cleanupSecond := setupTracingTest(t)
	defer cleanupSecond()
	_, span = tracer().Start(context.Background(), "second")
	span.End()

	require.Len(t, second.GetSpans(), 1)
	assert.Equal(t, "second", second.GetSpans()[0].Name)
}
