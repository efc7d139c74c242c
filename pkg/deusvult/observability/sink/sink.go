// Package sink stores trace records produced by the span exporter.
//
// A Backend persists batches. BatchWriter sits in front of a backend and
// implements observability.Inserter: the exporter hands it one record per
// finished span and it writes them in batches, by size or by age.
//
//	backend, _ := sink.NewSQLiteBackend("traces.db", "traces")
//	writer := sink.NewBatchWriter(backend, sink.BatchConfig{BatchSize: 100})
//	defer writer.Close(ctx)
//
//	exporter := observability.NewInserterExporter(writer)
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/randalmurphal/deusvult/pkg/deusvult/config"
	"github.com/randalmurphal/deusvult/pkg/deusvult/observability"
)

// Backend persists batches of trace records.
type Backend interface {
	// Write stores records in order. A failed write may be retried with
	// the same batch.
	Write(ctx context.Context, records []observability.TraceRecord) error

	// Close releases the backend's connections.
	Close() error
}

// Sentinel errors.
var (
	// ErrClosed is returned when writing to a closed sink.
	ErrClosed = errors.New("sink is closed")

	// ErrUnknownKind is returned by New for unsupported sink kinds.
	ErrUnknownKind = errors.New("unknown sink kind")
)

// NewBackend opens the backend selected by s.Kind. Kind "none" yields a nil
// backend and no error.
func NewBackend(ctx context.Context, s config.SinkSettings) (Backend, error) {
	switch s.Kind {
	case config.SinkNone, "":
		return nil, nil
	case config.SinkMemory:
		return NewMemoryBackend(), nil
	case config.SinkSQLite:
		b, err := NewSQLiteBackend(s.SQLitePath, s.Table)
		if err != nil {
			return nil, err
		}
		return b, nil
	case config.SinkPostgres:
		b, err := NewPostgresBackend(ctx, s.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return b, nil
	case config.SinkNATS:
		b, err := NewNATSBackend(s.NATSURL, s.NATSSubject)
		if err != nil {
			return nil, err
		}
		return b, nil
	case config.SinkS3:
		b, err := NewS3Backend(ctx, S3Config{
			Bucket:   s.S3Bucket,
			Prefix:   s.S3Prefix,
			Region:   s.S3Region,
			Endpoint: s.S3Endpoint,
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, s.Kind)
	}
}

// New opens the configured backend behind a BatchWriter. Kind "none"
// yields a nil writer and no error; callers skip span export then.
func New(ctx context.Context, s config.SinkSettings, logger *slog.Logger) (*BatchWriter, error) {
	backend, err := NewBackend(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("open %s sink: %w", s.Kind, err)
	}
	if backend == nil {
		return nil, nil
	}
	return NewBatchWriter(backend, BatchConfig{
		BatchSize:     s.BatchSize,
		FlushInterval: s.FlushInterval,
		Logger:        logger,
	}), nil
}
