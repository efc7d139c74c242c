package sink_test

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/deusvult/pkg/deusvult/observability"
	"github.com/randalmurphal/deusvult/pkg/deusvult/observability/sink"
)

func TestPostgresBackendWrite(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	backend := sink.NewPostgresBackendWithDB(db)
	defer backend.Close()

	rec := sampleRecord(0)
	rec.LinksTraceIDs = []string{"0xdef"}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO traces (timestamp, trace_id, span_id"))
	prep.ExpectExec().WithArgs(
		rec.Timestamp, rec.TraceID, rec.SpanID, "", "",
		rec.SpanName, rec.SpanKind, rec.ServiceName,
		`{"service.name":"deusvult-test"}`, `{"chat_id":"42"}`,
		rec.Duration, rec.StatusCode, "",
		pq.Array([]int64{1_700_000_000_000_000_100}), pq.Array([]string{"uow.committed"}), `[{}]`,
		pq.Array([]string{"0xdef"}), pq.Array([]string{}), pq.Array([]string{}),
		`[]`,
		"test", "ci",
	).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, backend.Write(context.Background(), []observability.TraceRecord{rec}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBackendRollsBackFailedBatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	backend := sink.NewPostgresBackendWithDB(db)
	defer backend.Close()

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO traces")
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WillReturnError(errors.New("value too long"))
	mock.ExpectRollback()

	err = backend.Write(context.Background(), []observability.TraceRecord{sampleRecord(0), sampleRecord(1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert span 0x2")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPostgresBackendRequiresDSN(t *testing.T) {
	_, err := sink.NewPostgresBackend(context.Background(), "")
	assert.Error(t, err)
}
