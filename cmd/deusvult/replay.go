package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/randalmurphal/deusvult/pkg/deusvult/config"
	"github.com/randalmurphal/deusvult/pkg/deusvult/event"
	"github.com/randalmurphal/deusvult/pkg/deusvult/game"
	"github.com/randalmurphal/deusvult/pkg/deusvult/observability"
	"github.com/randalmurphal/deusvult/pkg/deusvult/observability/sink"
)

// maxUpdateLine bounds one JSON update.
const maxUpdateLine = 1 << 20

func newReplayCmd() *cobra.Command {
	var updatesPath string

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay JSON updates, one per line, through the game",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}

			in := io.Reader(os.Stdin)
			if updatesPath != "" && updatesPath != "-" {
				f, err := os.Open(updatesPath)
				if err != nil {
					return fmt.Errorf("open updates: %w", err)
				}
				defer f.Close()
				in = f
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			logger := observability.NewLogger(cmd.ErrOrStderr(), settings.LogLevel, settings.LogFormat)
			slog.SetDefault(logger)

			stats, err := runReplay(ctx, settings, in, replayOptions{
				Logger:    logger,
				Messenger: game.NewLogMessenger(logger),
				Console:   cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(stats)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "replayed %d updates (%d failed, %d skipped)\n",
				stats.Handled+stats.Failed, stats.Failed, stats.Skipped)
			return nil
		},
	}
	cmd.Flags().StringVar(&updatesPath, "updates", "-", "JSONL file of updates (- for stdin)")
	return cmd
}

type replayOptions struct {
	Logger    *slog.Logger
	Messenger game.Messenger
	Console   io.Writer // span lines when tracing.console is set
}

type replayStats struct {
	Handled int   `json:"handled"`
	Failed  int   `json:"failed"`
	Skipped int   `json:"skipped"`
	Written int64 `json:"spans_written"`

	// Counters holds the metric totals when metrics are enabled.
	Counters map[string]int64 `json:"counters,omitempty"`
}

// runReplay handles every update of in as one inbound operation. A failing
// update is logged and counted; replay goes on with the next one.
func runReplay(ctx context.Context, settings *config.Settings, in io.Reader, opts replayOptions) (stats replayStats, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var (
		meter   *replayMeter
		metrics *observability.Metrics
	)
	if settings.Metrics {
		meter = newReplayMeter()
		if metrics, err = observability.NewMetrics(meter.provider); err != nil {
			_ = meter.provider.Shutdown(ctx)
			return stats, fmt.Errorf("create metrics: %w", err)
		}
	}

	writer, err := sink.New(ctx, settings.Sink, logger)
	if err != nil {
		if meter != nil {
			_ = meter.provider.Shutdown(ctx)
		}
		return stats, fmt.Errorf("open trace sink: %w", err)
	}

	tp, err := setupTracing(ctx, settings, writer, opts.Console, logger, metrics)
	if err != nil {
		if writer != nil {
			_ = writer.Close(ctx)
		}
		if meter != nil {
			_ = meter.provider.Shutdown(ctx)
		}
		return stats, err
	}

	// Spans end before the writer flushes its last batch
	defer func() {
		var shutdownErr error
		if tp != nil {
			shutdownErr = tp.Shutdown(context.WithoutCancel(ctx))
		}
		if writer != nil {
			shutdownErr = errors.Join(shutdownErr, writer.Close(context.WithoutCancel(ctx)))
			stats.Written = writer.Stats().Written
		}
		if meter != nil {
			counters, meterErr := meter.close(context.WithoutCancel(ctx))
			stats.Counters = counters
			shutdownErr = errors.Join(shutdownErr, meterErr)
		}
		if err == nil && shutdownErr != nil {
			err = fmt.Errorf("flush traces: %w", shutdownErr)
		}
	}()

	store, err := game.OpenStore(settings.DatabasePath)
	if err != nil {
		return stats, fmt.Errorf("open game store: %w", err)
	}
	defer store.Close()

	reg := event.NewRegistry()
	if err := game.RegisterSchemas(reg); err != nil {
		return stats, err
	}
	dlq := event.NewMemoryDeadLetterQueue(event.DefaultDLQConfig)
	bus := event.NewBus(event.BusConfig{
		Registry: reg,
		DLQ:      dlq,
		Logger:   logger,
		Metrics:  metrics,
	})
	defer bus.Close()

	dispatcher, err := game.Wire(game.Config{Bus: bus, Store: store, Messenger: opts.Messenger, Logger: logger})
	if err != nil {
		return stats, err
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxUpdateLine)
	line := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		line++
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}

		var upd game.Update
		if err := json.Unmarshal(data, &upd); err != nil {
			logger.Warn("skipping malformed update", slog.Int("line", line), slog.String("error", err.Error()))
			stats.Skipped++
			continue
		}
		if err := dispatcher.HandleUpdate(ctx, upd); err != nil {
			stats.Failed++
			continue
		}
		stats.Handled++
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("read updates: %w", err)
	}

	if dead := dlq.Stats(); dead.Enqueued > 0 {
		logger.Warn("handler failures dead-lettered", slog.Int64("count", dead.Enqueued))
	}
	return stats, nil
}

// setupTracing installs the tracer provider, or returns nil when tracing is
// disabled.
func setupTracing(ctx context.Context, settings *config.Settings, writer *sink.BatchWriter, console io.Writer, logger *slog.Logger, metrics *observability.Metrics) (*sdktrace.TracerProvider, error) {
	if !settings.Tracing.Enabled {
		return nil, nil
	}

	cfg := observability.SetupConfig{
		ServiceName: settings.ServiceName,
		Deployment:  observability.Deployment{AppEnv: settings.AppEnv, Stage: settings.Stage},
		Mode:        observability.ExportMode(settings.Tracing.ExportMode),
		Logger:      logger,
		Metrics:     metrics,
	}
	if writer != nil {
		cfg.Inserter = writer
	}
	if settings.Tracing.Console && console != nil {
		cfg.Console = console
	}

	tp, err := observability.Setup(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}
	return tp, nil
}
