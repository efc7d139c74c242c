package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Inserter accepts finished trace records. Implementations must hand the
// record off without blocking on durable storage.
type Inserter interface {
	Insert(ctx context.Context, record TraceRecord) error
}

// InserterFunc adapts a function to Inserter.
type InserterFunc func(ctx context.Context, record TraceRecord) error

// Insert calls f.
func (f InserterFunc) Insert(ctx context.Context, record TraceRecord) error {
	return f(ctx, record)
}

// InserterExporter converts finished spans to TraceRecords and hands them
// to an Inserter.
//
// Export never fails from the SDK's point of view: a record the inserter
// rejects is logged and counted, and the next span is exported regardless.
// Flushing and shutdown of durable storage belong to the inserter.
type InserterExporter struct {
	inserter    Inserter
	serviceName string
	deployment  DeploymentFunc
	logger      *slog.Logger
	metrics     *Metrics
	stopped     atomic.Bool
}

var _ sdktrace.SpanExporter = (*InserterExporter)(nil)

// ExporterOption configures an InserterExporter.
type ExporterOption func(*InserterExporter)

// WithServiceName sets the service name stamped on every record.
// Defaults to the host name.
func WithServiceName(name string) ExporterOption {
	return func(e *InserterExporter) {
		e.serviceName = name
	}
}

// WithDeployment sets the source of app env and stage.
func WithDeployment(fn DeploymentFunc) ExporterOption {
	return func(e *InserterExporter) {
		e.deployment = fn
	}
}

// WithExporterLogger sets the logger for export failures.
func WithExporterLogger(logger *slog.Logger) ExporterOption {
	return func(e *InserterExporter) {
		e.logger = logger
	}
}

// WithExporterMetrics counts exported and rejected spans on m.
func WithExporterMetrics(m *Metrics) ExporterOption {
	return func(e *InserterExporter) {
		e.metrics = m
	}
}

// NewInserterExporter creates an exporter writing to inserter.
func NewInserterExporter(inserter Inserter, opts ...ExporterOption) *InserterExporter {
	e := &InserterExporter{
		inserter:   inserter,
		deployment: StaticDeployment(Deployment{}),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.serviceName == "" {
		e.serviceName = defaultServiceName()
	}
	return e
}

// ExportSpans converts and inserts each span. It always returns nil.
func (e *InserterExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	if e.stopped.Load() || len(spans) == 0 {
		return nil
	}

	dep := e.deployment()
	failed := 0
	for _, span := range spans {
		record := ToRecord(span, e.serviceName, dep)
		if err := e.insert(ctx, record); err != nil {
			failed++
			LogExportError(e.logger, record.SpanName, record.TraceID, err)
		}
	}
	e.metrics.Exported(ctx, len(spans), failed)
	return nil
}

func (e *InserterExporter) insert(ctx context.Context, record TraceRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("inserter panic: %v", r)
		}
	}()
	return e.inserter.Insert(ctx, record)
}

// Shutdown stops the exporter. Later exports are dropped.
func (e *InserterExporter) Shutdown(_ context.Context) error {
	e.stopped.Store(true)
	return nil
}

// ForceFlush is a no-op; the inserter owns buffering.
func (e *InserterExporter) ForceFlush(_ context.Context) error {
	return nil
}

// ToRecord projects a finished span onto a TraceRecord.
func ToRecord(span sdktrace.ReadOnlySpan, serviceName string, dep Deployment) TraceRecord {
	sc := span.SpanContext()
	traceID := sc.TraceID()
	spanID := sc.SpanID()

	parentID := ""
	if parent := span.Parent(); parent.SpanID().IsValid() {
		id := parent.SpanID()
		parentID = hexID(id[:])
	}

	var resourceAttrs map[string]string
	if res := span.Resource(); res != nil {
		resourceAttrs = flattenAttributes(res.Attributes())
	} else {
		resourceAttrs = map[string]string{}
	}

	status := span.Status()

	events := span.Events()
	eventsTimestamps := make([]int64, 0, len(events))
	eventsNames := make([]string, 0, len(events))
	eventsAttributes := make([]map[string]string, 0, len(events))
	for _, ev := range events {
		eventsTimestamps = append(eventsTimestamps, ev.Time.UnixNano())
		eventsNames = append(eventsNames, ev.Name)
		eventsAttributes = append(eventsAttributes, flattenAttributes(ev.Attributes))
	}

	links := span.Links()
	linksTraceIDs := make([]string, 0, len(links))
	linksSpanIDs := make([]string, 0, len(links))
	linksTraceStates := make([]string, 0, len(links))
	linksAttributes := make([]map[string]string, 0, len(links))
	for _, link := range links {
		lt := link.SpanContext.TraceID()
		ls := link.SpanContext.SpanID()
		linksTraceIDs = append(linksTraceIDs, hexID(lt[:]))
		linksSpanIDs = append(linksSpanIDs, hexID(ls[:]))
		linksTraceStates = append(linksTraceStates, link.SpanContext.TraceState().String())
		linksAttributes = append(linksAttributes, flattenAttributes(link.Attributes))
	}

	return TraceRecord{
		Timestamp:          span.StartTime().UnixNano(),
		TraceID:            hexID(traceID[:]),
		SpanID:             hexID(spanID[:]),
		ParentSpanID:       parentID,
		TraceState:         sc.TraceState().String(),
		SpanName:           span.Name(),
		SpanKind:           span.SpanKind().String(),
		ServiceName:        serviceName,
		ResourceAttributes: resourceAttrs,
		SpanAttributes:     flattenAttributes(span.Attributes()),
		Duration:           span.EndTime().Sub(span.StartTime()).Nanoseconds(),
		StatusCode:         statusCode(status.Code),
		StatusMessage:      status.Description,
		EventsTimestamps:   eventsTimestamps,
		EventsNames:        eventsNames,
		EventsAttributes:   eventsAttributes,
		LinksTraceIDs:      linksTraceIDs,
		LinksSpanIDs:       linksSpanIDs,
		LinksTraceStates:   linksTraceStates,
		LinksAttributes:    linksAttributes,
		AppEnv:             dep.AppEnv,
		Stage:              dep.Stage,
	}
}

func statusCode(c codes.Code) string {
	switch c {
	case codes.Ok:
		return StatusOK
	case codes.Error:
		return StatusError
	default:
		return StatusUnset
	}
}

func flattenAttributes(attrs []attribute.KeyValue) map[string]string {
	out := make(map[string]string, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.Emit()
	}
	return out
}
