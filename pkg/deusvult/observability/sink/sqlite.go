package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/randalmurphal/deusvult/pkg/deusvult/observability"
)

// recordColumns lists trace columns in insert order.
var recordColumns = []string{
	"timestamp", "trace_id", "span_id", "parent_span_id", "trace_state",
	"span_name", "span_kind", "service_name", "resource_attributes", "span_attributes",
	"duration", "status_code", "status_message",
	"events_timestamps", "events_names", "events_attributes",
	"links_trace_ids", "links_span_ids", "links_trace_states", "links_attributes",
	"app_env", "stage",
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLiteBackend stores trace records in a SQLite table. Maps and parallel
// arrays are stored as JSON text.
type SQLiteBackend struct {
	db     *sql.DB
	table  string
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteBackend opens (creating if needed) the trace table at path.
// The path may be ":memory:" for testing.
func NewSQLiteBackend(path, table string) (*SQLiteBackend, error) {
	if table == "" {
		table = "traces"
	}
	if !identifierPattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps ":memory:" databases alive and serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			timestamp INTEGER NOT NULL,
			trace_id TEXT NOT NULL,
			span_id TEXT NOT NULL,
			parent_span_id TEXT NOT NULL DEFAULT '',
			trace_state TEXT NOT NULL DEFAULT '',
			span_name TEXT NOT NULL,
			span_kind TEXT NOT NULL,
			service_name TEXT NOT NULL,
			resource_attributes TEXT NOT NULL,
			span_attributes TEXT NOT NULL,
			duration INTEGER NOT NULL,
			status_code TEXT NOT NULL,
			status_message TEXT NOT NULL DEFAULT '',
			events_timestamps TEXT NOT NULL,
			events_names TEXT NOT NULL,
			events_attributes TEXT NOT NULL,
			links_trace_ids TEXT NOT NULL,
			links_span_ids TEXT NOT NULL,
			links_trace_states TEXT NOT NULL,
			links_attributes TEXT NOT NULL,
			app_env TEXT NOT NULL DEFAULT '',
			stage TEXT NOT NULL DEFAULT ''
		)
	`, table)); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	for _, column := range []string{"timestamp", "trace_id"} {
		if _, err := db.Exec(fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS idx_%[1]s_%[2]s ON %[1]s(%[2]s)", table, column,
		)); err != nil {
			db.Close()
			return nil, fmt.Errorf("create index: %w", err)
		}
	}

	return &SQLiteBackend{db: db, table: table}, nil
}

// Write implements Backend. A batch is written in one transaction.
func (s *SQLiteBackend) Write(ctx context.Context, records []observability.TraceRecord) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(recordColumns)), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		s.table, strings.Join(recordColumns, ", "), placeholders,
	))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		args, err := sqliteArgs(rec)
		if err != nil {
			return fmt.Errorf("encode span %s: %w", rec.SpanID, err)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert span %s: %w", rec.SpanID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func sqliteArgs(rec observability.TraceRecord) ([]any, error) {
	var encErr error
	text := func(v any) string {
		if encErr != nil {
			return ""
		}
		data, err := json.Marshal(v)
		if err != nil {
			encErr = err
			return ""
		}
		return string(data)
	}

	args := []any{
		rec.Timestamp, rec.TraceID, rec.SpanID, rec.ParentSpanID, rec.TraceState,
		rec.SpanName, rec.SpanKind, rec.ServiceName, text(rec.ResourceAttributes), text(rec.SpanAttributes),
		rec.Duration, rec.StatusCode, rec.StatusMessage,
		text(rec.EventsTimestamps), text(rec.EventsNames), text(rec.EventsAttributes),
		text(rec.LinksTraceIDs), text(rec.LinksSpanIDs), text(rec.LinksTraceStates), text(rec.LinksAttributes),
		rec.AppEnv, rec.Stage,
	}
	return args, encErr
}

// Recent returns up to limit records, newest first.
func (s *SQLiteBackend) Recent(ctx context.Context, limit int) ([]observability.TraceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT %s FROM %s ORDER BY timestamp DESC, rowid DESC LIMIT ?",
		strings.Join(recordColumns, ", "), s.table,
	), limit)
	if err != nil {
		return nil, fmt.Errorf("query traces: %w", err)
	}
	defer rows.Close()

	var records []observability.TraceRecord
	for rows.Next() {
		rec, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate traces: %w", err)
	}
	return records, nil
}

func scanSQLiteRecord(rows *sql.Rows) (observability.TraceRecord, error) {
	var (
		rec                                  observability.TraceRecord
		resAttrs, spanAttrs                  string
		evTimes, evNames, evAttrs            string
		lnTraces, lnSpans, lnStates, lnAttrs string
	)
	if err := rows.Scan(
		&rec.Timestamp, &rec.TraceID, &rec.SpanID, &rec.ParentSpanID, &rec.TraceState,
		&rec.SpanName, &rec.SpanKind, &rec.ServiceName, &resAttrs, &spanAttrs,
		&rec.Duration, &rec.StatusCode, &rec.StatusMessage,
		&evTimes, &evNames, &evAttrs,
		&lnTraces, &lnSpans, &lnStates, &lnAttrs,
		&rec.AppEnv, &rec.Stage,
	); err != nil {
		return rec, fmt.Errorf("scan trace: %w", err)
	}

	fields := []struct {
		text string
		dst  any
	}{
		{resAttrs, &rec.ResourceAttributes},
		{spanAttrs, &rec.SpanAttributes},
		{evTimes, &rec.EventsTimestamps},
		{evNames, &rec.EventsNames},
		{evAttrs, &rec.EventsAttributes},
		{lnTraces, &rec.LinksTraceIDs},
		{lnSpans, &rec.LinksSpanIDs},
		{lnStates, &rec.LinksTraceStates},
		{lnAttrs, &rec.LinksAttributes},
	}
	for _, f := range fields {
		if err := json.Unmarshal([]byte(f.text), f.dst); err != nil {
			return rec, fmt.Errorf("decode trace %s: %w", rec.SpanID, err)
		}
	}
	return rec, nil
}

// Close implements Backend. Close is idempotent.
func (s *SQLiteBackend) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
