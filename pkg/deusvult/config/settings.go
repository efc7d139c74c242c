package config

import (
	"fmt"
	"os"
	"time"
)

// Sink kinds understood by the trace record sink factory.
const (
	SinkNone     = "none"
	SinkMemory   = "memory"
	SinkSQLite   = "sqlite"
	SinkPostgres = "postgres"
	SinkNATS     = "nats"
	SinkS3       = "s3"
)

// Export modes for finished spans.
const (
	ExportSimple = "simple"
	ExportBatch  = "batch"
)

// Settings is the typed view of the process configuration.
type Settings struct {
	ServiceName string // service.name (default: host name)
	AppEnv      string // app_env, DEUSVULT_APP_ENV (default "development")
	Stage       string // stage, DEUSVULT_STAGE (default "local")
	LogLevel    string // log.level, DEUSVULT_LOG_LEVEL (default "info")
	LogFormat   string // log.format: text|json (default "text")

	// DatabasePath is the SQLite file holding chats and polls.
	DatabasePath string // database, DEUSVULT_DATABASE (default "deusvult.db")

	// Metrics counts dispatch and export during replay.
	Metrics bool // metrics.enabled (default true)

	Tracing TracingSettings
	Sink    SinkSettings
}

// TracingSettings controls span processing.
type TracingSettings struct {
	Enabled    bool   // tracing.enabled (default true)
	Console    bool   // tracing.console (default false)
	ExportMode string // tracing.export: simple|batch (default simple)
}

// SinkSettings selects and configures the trace record sink.
type SinkSettings struct {
	Kind          string        // sink.kind, DEUSVULT_SINK (default "sqlite")
	Table         string        // sink.table, SQLite only (default "traces")
	BatchSize     int           // sink.batch_size (default 100)
	FlushInterval time.Duration // sink.flush_interval (default 5s)

	SQLitePath  string // sink.sqlite.path (default "traces.db")
	PostgresDSN string // sink.postgres.dsn
	NATSURL     string // sink.nats.url
	NATSSubject string // sink.nats.subject (default "operation.traces")
	S3Bucket    string // sink.s3.bucket
	S3Region    string // sink.s3.region (default "us-east-1")
	S3Endpoint  string // sink.s3.endpoint (MinIO and similar)
	S3Prefix    string // sink.s3.prefix (default "traces/")
}

// LoadSettings merges the files at paths in order, applies environment
// overrides and validates the result. Without files it yields defaults plus
// overrides.
func LoadSettings(paths ...string) (*Settings, error) {
	cfg, err := FromFiles(paths...)
	if err != nil {
		return nil, err
	}

	s := FromConfig(cfg)
	s.applyEnv()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// FromConfig maps a Config onto Settings, filling defaults.
func FromConfig(cfg Config) Settings {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "deusvult"
	}

	return Settings{
		ServiceName:  cfg.String("service.name", hostname),
		AppEnv:       cfg.String("app_env", "development"),
		Stage:        cfg.String("stage", "local"),
		LogLevel:     cfg.String("log.level", "info"),
		LogFormat:    cfg.String("log.format", "text"),
		DatabasePath: cfg.String("database", "deusvult.db"),
		Metrics:      cfg.Bool("metrics.enabled", true),
		Tracing: TracingSettings{
			Enabled:    cfg.Bool("tracing.enabled", true),
			Console:    cfg.Bool("tracing.console", false),
			ExportMode: cfg.String("tracing.export", ExportSimple),
		},
		Sink: SinkSettings{
			Kind:          cfg.String("sink.kind", SinkSQLite),
			Table:         cfg.String("sink.table", "traces"),
			BatchSize:     cfg.Int("sink.batch_size", 100),
			FlushInterval: cfg.Duration("sink.flush_interval", 5*time.Second),
			SQLitePath:    cfg.String("sink.sqlite.path", "traces.db"),
			PostgresDSN:   cfg.String("sink.postgres.dsn", ""),
			NATSURL:       cfg.String("sink.nats.url", ""),
			NATSSubject:   cfg.String("sink.nats.subject", "operation.traces"),
			S3Bucket:      cfg.String("sink.s3.bucket", ""),
			S3Region:      cfg.String("sink.s3.region", "us-east-1"),
			S3Endpoint:    cfg.String("sink.s3.endpoint", ""),
			S3Prefix:      cfg.String("sink.s3.prefix", "traces/"),
		},
	}
}

func (s *Settings) applyEnv() {
	s.AppEnv = envOrDefault("DEUSVULT_APP_ENV", s.AppEnv)
	s.Stage = envOrDefault("DEUSVULT_STAGE", s.Stage)
	s.LogLevel = envOrDefault("DEUSVULT_LOG_LEVEL", s.LogLevel)
	s.DatabasePath = envOrDefault("DEUSVULT_DATABASE", s.DatabasePath)
	s.Sink.Kind = envOrDefault("DEUSVULT_SINK", s.Sink.Kind)
}

// Validate reports the first inconsistent setting.
func (s *Settings) Validate() error {
	switch s.Tracing.ExportMode {
	case ExportSimple, ExportBatch:
	default:
		return fmt.Errorf("tracing.export: unknown mode %q", s.Tracing.ExportMode)
	}

	switch s.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log.format: unknown format %q", s.LogFormat)
	}

	if s.Sink.BatchSize <= 0 {
		return fmt.Errorf("sink.batch_size must be positive, got %d", s.Sink.BatchSize)
	}

	switch s.Sink.Kind {
	case SinkNone, SinkMemory:
	case SinkSQLite:
		if s.Sink.SQLitePath == "" {
			return fmt.Errorf("sink.sqlite.path is required for sqlite sink")
		}
	case SinkPostgres:
		if s.Sink.PostgresDSN == "" {
			return fmt.Errorf("sink.postgres.dsn is required for postgres sink")
		}
	case SinkNATS:
		if s.Sink.NATSURL == "" {
			return fmt.Errorf("sink.nats.url is required for nats sink")
		}
	case SinkS3:
		if s.Sink.S3Bucket == "" {
			return fmt.Errorf("sink.s3.bucket is required for s3 sink")
		}
	default:
		return fmt.Errorf("sink.kind: unknown sink %q", s.Sink.Kind)
	}

	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
