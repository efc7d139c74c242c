package observability

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics counts bus dispatch and span export on OpenTelemetry instruments.
// A nil *Metrics records nothing, so callers never need a stand-in.
type Metrics struct {
	published      metric.Int64Counter
	handlerRuns    metric.Int64Counter
	handlerErrors  metric.Int64Counter
	handlerLatency metric.Float64Histogram
	exported       metric.Int64Counter
	rejected       metric.Int64Counter
}

// NewMetrics creates the instruments on provider, or on the global meter
// provider when provider is nil.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(instrumentationName)
	m := &Metrics{}

	var errs []error
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		errs = append(errs, err)
		return c
	}

	m.published = counter("deusvult.events.published", "Number of events published")
	m.handlerRuns = counter("deusvult.handler.executions", "Number of handler invocations")
	m.handlerErrors = counter("deusvult.handler.errors", "Number of failed handler invocations")
	m.exported = counter("deusvult.export.spans", "Number of spans accepted by the trace sink")
	m.rejected = counter("deusvult.export.failures", "Number of spans the trace sink rejected")

	latency, err := meter.Float64Histogram("deusvult.handler.latency_ms",
		metric.WithDescription("Handler latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	m.handlerLatency = latency
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return m, nil
}

// Published counts one event dispatched to handlers.
func (m *Metrics) Published(ctx context.Context, topic string, handlers int) {
	if m == nil {
		return
	}
	m.published.Add(ctx, 1, metric.WithAttributes(
		attribute.String("topic", topic),
		attribute.Int("handlers", handlers),
	))
}

// HandlerDone records one handler invocation.
func (m *Metrics) HandlerDone(ctx context.Context, topic, handler string, took time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("topic", topic),
		attribute.String("handler", handler),
	)
	m.handlerRuns.Add(ctx, 1, attrs)
	m.handlerLatency.Record(ctx, float64(took.Microseconds())/1000, attrs)
	if err != nil {
		m.handlerErrors.Add(ctx, 1, attrs)
	}
}

// Exported records one export call of spans spans, failed of which the
// sink rejected.
func (m *Metrics) Exported(ctx context.Context, spans, failed int) {
	if m == nil {
		return
	}
	if ok := spans - failed; ok > 0 {
		m.exported.Add(ctx, int64(ok))
	}
	if failed > 0 {
		m.rejected.Add(ctx, int64(failed))
	}
}
