package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/clockz"

	dverrors "github.com/randalmurphal/deusvult/pkg/deusvult/errors"
	"github.com/randalmurphal/deusvult/pkg/deusvult/observability"
)

// BatchConfig configures a BatchWriter.
type BatchConfig struct {
	// BatchSize triggers a flush once this many records are pending.
	// Default: 100
	BatchSize int

	// FlushInterval is the maximum age of a pending record.
	// Default: 5s
	FlushInterval time.Duration

	// Retry governs retries of failed backend writes. Only transient
	// errors are retried.
	// Default: errors.DefaultRetry
	Retry *dverrors.RetryConfig

	// Clock measures record age. Default: clockz.RealClock
	Clock clockz.Clock

	Logger *slog.Logger
}

// BatchStats reports writer activity.
type BatchStats struct {
	Pending int
	Written int64
	Failed  int64
}

// BatchWriter buffers trace records and writes them to a Backend in
// batches. Insert never blocks on the backend. Records reach the backend in
// insertion order.
type BatchWriter struct {
	backend Backend
	cfg     BatchConfig
	clock   clockz.Clock
	logger  *slog.Logger

	mu      sync.Mutex
	pending []observability.TraceRecord
	oldest  time.Time

	// flushMu serializes backend writes so batches keep their order
	flushMu sync.Mutex

	kick      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	written atomic.Int64
	failed  atomic.Int64
}

var _ observability.Inserter = (*BatchWriter)(nil)

// NewBatchWriter starts a writer in front of backend.
func NewBatchWriter(backend Backend, cfg BatchConfig) *BatchWriter {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.Retry == nil {
		retry := dverrors.DefaultRetry
		cfg.Retry = &retry
	}

	w := &BatchWriter{
		backend: backend,
		cfg:     cfg,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		kick:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if w.clock == nil {
		w.clock = clockz.RealClock
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}

	go w.loop()
	return w
}

// Insert queues a record.
func (w *BatchWriter) Insert(_ context.Context, rec observability.TraceRecord) error {
	w.mu.Lock()
	// Checked under mu so that Close's final flush sees every accepted record
	if w.closed.Load() {
		w.mu.Unlock()
		return ErrClosed
	}
	if len(w.pending) == 0 {
		w.oldest = w.clock.Now()
	}
	w.pending = append(w.pending, rec)
	full := len(w.pending) >= w.cfg.BatchSize
	w.mu.Unlock()

	if full {
		select {
		case w.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

func (w *BatchWriter) loop() {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case <-w.kick:
			w.flushLogged()
		case <-w.clock.After(w.cfg.FlushInterval):
			if w.due() {
				w.flushLogged()
			}
		}
	}
}

// due reports whether the oldest pending record reached FlushInterval.
func (w *BatchWriter) due() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending) > 0 && w.clock.Since(w.oldest) >= w.cfg.FlushInterval
}

func (w *BatchWriter) flushLogged() {
	if err := w.Flush(context.Background()); err != nil {
		w.logger.Error("trace batch dropped", slog.String("error", err.Error()))
	}
}

// Flush writes every pending record. A batch that still fails after
// retries is dropped and counted as failed.
func (w *BatchWriter) Flush(ctx context.Context) error {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.mu.Lock()
	batch := w.pending
	w.pending = nil
	w.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	result := dverrors.Retry(ctx, *w.cfg.Retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, w.backend.Write(ctx, batch)
	})
	if result.Err != nil {
		w.failed.Add(int64(len(batch)))
		return fmt.Errorf("write %d trace records: %w", len(batch), result.Err)
	}

	w.written.Add(int64(len(batch)))
	w.logger.Debug("trace batch written",
		slog.Int("records", len(batch)),
		slog.Int("attempts", result.Attempts),
	)
	return nil
}

// Close stops the writer, flushes pending records and closes the backend.
// Close is idempotent.
func (w *BatchWriter) Close(ctx context.Context) error {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed.Store(true)
		w.mu.Unlock()
		close(w.stop)
		<-w.done

		flushErr := w.Flush(ctx)
		w.closeErr = errors.Join(flushErr, w.backend.Close())
	})
	return w.closeErr
}

// Stats returns writer counters.
func (w *BatchWriter) Stats() BatchStats {
	w.mu.Lock()
	pending := len(w.pending)
	w.mu.Unlock()

	return BatchStats{
		Pending: pending,
		Written: w.written.Load(),
		Failed:  w.failed.Load(),
	}
}
