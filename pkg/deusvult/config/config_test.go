package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/deusvult/pkg/deusvult/config"
)

// TestString verifies string extraction with defaults.
func TestString(t *testing.T) {
	tests := []struct {
		name       string
		data       map[string]any
		key        string
		defaultVal string
		want       string
	}{
		{"key exists", map[string]any{"stage": "prod"}, "stage", "local", "prod"},
		{"key missing", map[string]any{"other": "value"}, "stage", "local", "local"},
		{"empty string", map[string]any{"stage": ""}, "stage", "local", ""},
		{"wrong type int", map[string]any{"stage": 123}, "stage", "local", "local"},
		{"nil map", nil, "stage", "local", "local"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New(tt.data)
			assert.Equal(t, tt.want, cfg.String(tt.key, tt.defaultVal))
		})
	}
}

// TestDuration verifies duration extraction with various input types.
func TestDuration(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  time.Duration
	}{
		{"string duration", "30s", 30 * time.Second},
		{"complex string", "1h30m", 90 * time.Minute},
		{"int seconds", 60, 60 * time.Second},
		{"int64 seconds", int64(45), 45 * time.Second},
		{"float64 seconds", 30.5, 30*time.Second + 500*time.Millisecond},
		{"time.Duration directly", 5 * time.Minute, 5 * time.Minute},
		{"invalid string", "soon", 10 * time.Second},
		{"wrong type bool", true, 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New(map[string]any{"flush": tt.value})
			assert.Equal(t, tt.want, cfg.Duration("flush", 10*time.Second))
		})
	}

	t.Run("key missing", func(t *testing.T) {
		assert.Equal(t, time.Second, config.New(nil).Duration("flush", time.Second))
	})
}

// TestInt verifies integer coercion.
func TestInt(t *testing.T) {
	cfg := config.New(map[string]any{
		"int":        7,
		"int64":      int64(8),
		"whole":      9.0,
		"fractional": 9.5,
		"text":       "10",
	})

	assert.Equal(t, 7, cfg.Int("int", 0))
	assert.Equal(t, 8, cfg.Int("int64", 0))
	assert.Equal(t, 9, cfg.Int("whole", 0))
	assert.Equal(t, -1, cfg.Int("fractional", -1))
	assert.Equal(t, -1, cfg.Int("text", -1))
	assert.Equal(t, -1, cfg.Int("missing", -1))
}

func TestBool(t *testing.T) {
	cfg := config.New(map[string]any{"console": true, "enabled": "yes"})

	assert.True(t, cfg.Bool("console", false))
	assert.False(t, cfg.Bool("missing", false))
	assert.True(t, cfg.Bool("enabled", true), "non-bool falls back to the default")
}

// TestDottedPaths verifies lookups into nested sections.
func TestDottedPaths(t *testing.T) {
	cfg := config.New(map[string]any{
		"sink": map[string]any{
			"kind":   "nats",
			"nats":   map[string]any{"url": "nats://localhost:4222"},
			"legacy": map[any]any{"key": "value", 1: "dropped"},
		},
		"scalar": 5,
	})

	assert.Equal(t, "nats", cfg.String("sink.kind", ""))
	assert.Equal(t, "nats://localhost:4222", cfg.String("sink.nats.url", ""))
	assert.Equal(t, "value", cfg.String("sink.legacy.key", ""))
	assert.Equal(t, "fallback", cfg.String("scalar.child", "fallback"))
	assert.Equal(t, "fallback", cfg.String("sink.missing.url", "fallback"))

	v, ok := cfg.Lookup("scalar")
	assert.True(t, ok)
	assert.Equal(t, 5, v)
	_, ok = cfg.Lookup("sink.nats.port")
	assert.False(t, ok)
}

// TestSub verifies nested section access.
func TestSub(t *testing.T) {
	cfg := config.New(map[string]any{
		"sink": map[string]any{
			"nats":   map[string]any{"url": "nats://localhost:4222"},
			"legacy": map[any]any{"key": "value", 1: "dropped"},
		},
		"scalar": 5,
	})

	assert.Equal(t, "nats://localhost:4222", cfg.Sub("sink").Sub("nats").String("url", ""))
	assert.Equal(t, []string{"key"}, cfg.Sub("sink.legacy").Keys())
	assert.Empty(t, cfg.Sub("scalar").Keys())
	assert.Empty(t, cfg.Sub("missing").Keys())
}

// TestMerge verifies layered configuration.
func TestMerge(t *testing.T) {
	base := config.New(map[string]any{
		"stage": "local",
		"sink": map[string]any{
			"kind":       "sqlite",
			"batch_size": 100,
			"sqlite":     map[string]any{"path": "traces.db"},
		},
	})
	over := config.New(map[string]any{
		"stage": "eu",
		"sink": map[string]any{
			"kind": "nats",
			"nats": map[string]any{"url": "nats://bus:4222"},
		},
	})

	merged := base.Merge(over)
	assert.Equal(t, "eu", merged.String("stage", ""))
	assert.Equal(t, "nats", merged.String("sink.kind", ""))
	assert.Equal(t, 100, merged.Int("sink.batch_size", 0))
	assert.Equal(t, "traces.db", merged.String("sink.sqlite.path", ""))
	assert.Equal(t, "nats://bus:4222", merged.String("sink.nats.url", ""))

	// Inputs are untouched
	assert.Equal(t, "sqlite", base.String("sink.kind", ""))
	assert.Equal(t, []string{"sink", "stage"}, merged.Keys())
}

// TestFromFile verifies file loading with extension detection.
func TestFromFile(t *testing.T) {
	tmpDir := t.TempDir()

	write := func(name, content string) string {
		path := filepath.Join(tmpDir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}

	yamlPath := write("config.yaml", "stage: fromyaml\nsink:\n  batch_size: 10\n")
	ymlPath := write("config.YML", "stage: fromyml\n")
	jsonPath := write("config.json", `{"stage": "fromjson", "sink": {"batch_size": 20}}`)
	tomlPath := write("config.toml", "stage = \"fromtoml\"\n\n[sink]\nbatch_size = 30\n")
	txtPath := write("config.txt", "content")

	tests := []struct {
		name    string
		path    string
		errMsg  string
		stage   string
		batches int
	}{
		{"yaml file", yamlPath, "", "fromyaml", 10},
		{"uppercase yml file", ymlPath, "", "fromyml", 0},
		{"json file", jsonPath, "", "fromjson", 20},
		{"toml file", tomlPath, "", "fromtoml", 30},
		{"unsupported extension", txtPath, "unsupported config file extension", "", 0},
		{"file not found", filepath.Join(tmpDir, "missing.yaml"), "read config file", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.FromFile(tt.path)
			if tt.errMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.stage, cfg.String("stage", ""))
			assert.Equal(t, tt.batches, cfg.Sub("sink").Int("batch_size", 0))
		})
	}
}

// TestFromFiles verifies later files override earlier ones across formats.
func TestFromFiles(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.yaml")
	local := filepath.Join(dir, "local.toml")
	require.NoError(t, os.WriteFile(base, []byte("stage: local\nsink:\n  kind: sqlite\n  batch_size: 10\n"), 0o644))
	require.NoError(t, os.WriteFile(local, []byte("[sink]\nkind = \"memory\"\n"), 0o644))

	cfg, err := config.FromFiles(base, "", local)
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.String("stage", ""))
	assert.Equal(t, "memory", cfg.String("sink.kind", ""))
	assert.Equal(t, 10, cfg.Int("sink.batch_size", 0))

	_, err = config.FromFiles(base, filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

// TestParseErrors verifies malformed input is rejected.
func TestParseErrors(t *testing.T) {
	_, err := config.FromYAML([]byte("invalid: yaml: content:"))
	assert.Error(t, err)

	_, err = config.FromJSON([]byte("{not json"))
	assert.Error(t, err)

	_, err = config.FromTOML([]byte("stage = "))
	assert.Error(t, err)
}

// TestFromConfigDefaults verifies the defaults of the typed settings view.
func TestFromConfigDefaults(t *testing.T) {
	s := config.FromConfig(config.New(nil))

	assert.NotEmpty(t, s.ServiceName)
	assert.Equal(t, "development", s.AppEnv)
	assert.Equal(t, "local", s.Stage)
	assert.Equal(t, "info", s.LogLevel)
	assert.Equal(t, "text", s.LogFormat)
	assert.True(t, s.Tracing.Enabled)
	assert.False(t, s.Tracing.Console)
	assert.True(t, s.Metrics)
	assert.Equal(t, config.ExportSimple, s.Tracing.ExportMode)
	assert.Equal(t, config.SinkSQLite, s.Sink.Kind)
	assert.Equal(t, "traces", s.Sink.Table)
	assert.Equal(t, 100, s.Sink.BatchSize)
	assert.Equal(t, 5*time.Second, s.Sink.FlushInterval)
	assert.Equal(t, "operation.traces", s.Sink.NATSSubject)
	require.NoError(t, s.Validate())
}

// TestLoadSettings verifies file values and environment overrides.
func TestLoadSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deusvult.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
service:
  name: bot-1
app_env: staging
stage: eu
log:
  level: debug
  format: json
tracing:
  console: true
  export: batch
metrics:
  enabled: false
sink:
  kind: postgres
  batch_size: 50
  flush_interval: 2s
  postgres:
    dsn: postgres://localhost/traces
`), 0o644))

	t.Run("file values", func(t *testing.T) {
		s, err := config.LoadSettings(path)
		require.NoError(t, err)
		assert.Equal(t, "bot-1", s.ServiceName)
		assert.Equal(t, "staging", s.AppEnv)
		assert.Equal(t, "eu", s.Stage)
		assert.Equal(t, "debug", s.LogLevel)
		assert.Equal(t, "json", s.LogFormat)
		assert.True(t, s.Tracing.Console)
		assert.Equal(t, config.ExportBatch, s.Tracing.ExportMode)
		assert.False(t, s.Metrics)
		assert.Equal(t, config.SinkPostgres, s.Sink.Kind)
		assert.Equal(t, 50, s.Sink.BatchSize)
		assert.Equal(t, 2*time.Second, s.Sink.FlushInterval)
		assert.Equal(t, "postgres://localhost/traces", s.Sink.PostgresDSN)
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("DEUSVULT_APP_ENV", "production")
		t.Setenv("DEUSVULT_STAGE", "us")
		t.Setenv("DEUSVULT_SINK", "memory")

		s, err := config.LoadSettings(path)
		require.NoError(t, err)
		assert.Equal(t, "production", s.AppEnv)
		assert.Equal(t, "us", s.Stage)
		assert.Equal(t, config.SinkMemory, s.Sink.Kind)
	})

	t.Run("no files uses defaults", func(t *testing.T) {
		s, err := config.LoadSettings()
		require.NoError(t, err)
		assert.Equal(t, "development", s.AppEnv)
	})

	t.Run("override file", func(t *testing.T) {
		override := filepath.Join(t.TempDir(), "override.json")
		require.NoError(t, os.WriteFile(override, []byte(`{"sink": {"batch_size": 5}}`), 0o644))

		s, err := config.LoadSettings(path, override)
		require.NoError(t, err)
		assert.Equal(t, 5, s.Sink.BatchSize)
		assert.Equal(t, config.SinkPostgres, s.Sink.Kind)
	})
}

// TestSettingsValidate verifies inconsistent settings are rejected.
func TestSettingsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Settings)
		errMsg string
	}{
		{"unknown export mode", func(s *config.Settings) { s.Tracing.ExportMode = "stream" }, "tracing.export"},
		{"unknown log format", func(s *config.Settings) { s.LogFormat = "xml" }, "log.format"},
		{"bad batch size", func(s *config.Settings) { s.Sink.BatchSize = 0 }, "batch_size"},
		{"unknown sink", func(s *config.Settings) { s.Sink.Kind = "clickhouse" }, "sink.kind"},
		{"postgres without dsn", func(s *config.Settings) { s.Sink.Kind = config.SinkPostgres }, "dsn"},
		{"nats without url", func(s *config.Settings) { s.Sink.Kind = config.SinkNATS }, "nats.url"},
		{"s3 without bucket", func(s *config.Settings) { s.Sink.Kind = config.SinkS3 }, "s3.bucket"},
		{"sqlite without path", func(s *config.Settings) { s.Sink.SQLitePath = "" }, "sqlite.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := config.FromConfig(config.New(nil))
			tt.mutate(&s)
			err := s.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
