package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ExportMode selects how finished spans reach the exporter.
type ExportMode string

const (
	// ExportSimple exports each span synchronously as it ends.
	ExportSimple ExportMode = "simple"
	// ExportBatch queues spans and exports them in the background.
	ExportBatch ExportMode = "batch"
)

// SetupConfig configures the tracer provider built by Setup.
type SetupConfig struct {
	// ServiceName is stamped on records and the provider resource.
	// Defaults to the host name.
	ServiceName string

	// Deployment tags records with app env and stage.
	Deployment Deployment

	// Inserter receives finished records. When nil no export processor is
	// installed.
	Inserter Inserter

	// Mode defaults to ExportSimple.
	Mode ExportMode

	// Console, when non-nil, receives open/close lines for every span.
	Console io.Writer

	// Sampler defaults to sdktrace.AlwaysSample().
	Sampler sdktrace.Sampler

	Logger  *slog.Logger
	Metrics *Metrics // optional
}

// ErrUnknownExportMode is returned by Setup for an unsupported Mode.
var ErrUnknownExportMode = errors.New("unknown export mode")

// Setup builds a tracer provider exporting to cfg.Inserter and installs it
// as the global provider. The caller owns the returned provider and should
// Shutdown it on exit.
func Setup(ctx context.Context, cfg SetupConfig) (*sdktrace.TracerProvider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = defaultServiceName()
	}
	if cfg.Mode == "" {
		cfg.Mode = ExportSimple
	}
	if cfg.Mode != ExportSimple && cfg.Mode != ExportBatch {
		return nil, fmt.Errorf("%w: %q", ErrUnknownExportMode, cfg.Mode)
	}
	if cfg.Sampler == nil {
		cfg.Sampler = sdktrace.AlwaysSample()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("deployment.environment", cfg.Deployment.AppEnv),
		attribute.String("deployment.stage", cfg.Deployment.Stage),
	))
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(cfg.Sampler),
	}

	if cfg.Console != nil {
		opts = append(opts, sdktrace.WithSpanProcessor(NewConsoleProcessor(cfg.Console)))
	}

	if cfg.Inserter != nil {
		exporter := NewInserterExporter(cfg.Inserter,
			WithServiceName(cfg.ServiceName),
			WithDeployment(StaticDeployment(cfg.Deployment)),
			WithExporterLogger(cfg.Logger),
			WithExporterMetrics(cfg.Metrics),
		)
		if cfg.Mode == ExportBatch {
			opts = append(opts, sdktrace.WithBatcher(exporter))
		} else {
			opts = append(opts, sdktrace.WithSyncer(exporter))
		}
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)

	cfg.Logger.DebugContext(ctx, "tracing configured",
		slog.String("service", cfg.ServiceName),
		slog.String("mode", string(cfg.Mode)),
		slog.Bool("console", cfg.Console != nil),
		slog.Bool("export", cfg.Inserter != nil),
	)
	return tp, nil
}
