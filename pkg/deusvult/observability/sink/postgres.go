package sink

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"

	"github.com/randalmurphal/deusvult/pkg/deusvult/observability"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresBackend stores trace records in the "traces" table created by
// Migrate. Parallel arrays map to Postgres arrays, attribute maps to JSONB.
type PostgresBackend struct {
	db *sql.DB
}

// NewPostgresBackend connects to dsn, configures the pool and applies
// pending migrations.
func NewPostgresBackend(ctx context.Context, dsn string) (*PostgresBackend, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &PostgresBackend{db: db}, nil
}

// NewPostgresBackendWithDB wraps an existing connection. The schema must
// already exist.
func NewPostgresBackendWithDB(db *sql.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

// Migrate applies the embedded trace schema migrations to db.
func Migrate(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// postgresInsert is the parameterized insert for one record.
var postgresInsert = func() string {
	params := make([]string, len(recordColumns))
	for i := range recordColumns {
		params[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO traces (%s) VALUES (%s)",
		strings.Join(recordColumns, ", "), strings.Join(params, ", "))
}()

// Write implements Backend. A batch is written in one transaction.
func (p *PostgresBackend) Write(ctx context.Context, records []observability.TraceRecord) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, postgresInsert)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		args, err := postgresArgs(rec)
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

func postgresArgs(rec observability.TraceRecord) ([]any, error) {
	var encErr error
	jsonb := func(v any, empty string) string {
		data, err := json.Marshal(v)
		if err != nil && encErr == nil {
			encErr = err
		}
		if err != nil || string(data) == "null" {
			return empty
		}
		return string(data)
	}

	args := []any{
		rec.Timestamp, rec.TraceID, rec.SpanID, rec.ParentSpanID, rec.TraceState,
		rec.SpanName, rec.SpanKind, rec.ServiceName,
		jsonb(rec.ResourceAttributes, "{}"), jsonb(rec.SpanAttributes, "{}"),
		rec.Duration, rec.StatusCode, rec.StatusMessage,
		pq.Array(nonNil(rec.EventsTimestamps)), pq.Array(nonNil(rec.EventsNames)), jsonb(rec.EventsAttributes, "[]"),
		pq.Array(nonNil(rec.LinksTraceIDs)), pq.Array(nonNil(rec.LinksSpanIDs)), pq.Array(nonNil(rec.LinksTraceStates)),
		jsonb(rec.LinksAttributes, "[]"),
		rec.AppEnv, rec.Stage,
	}
	return args, encErr
}

// nonNil keeps NOT NULL array columns from receiving NULL.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// Close implements Backend.
func (p *PostgresBackend) Close() error {
	return p.db.Close()
}
