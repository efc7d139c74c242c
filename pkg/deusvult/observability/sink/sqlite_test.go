package sink_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/deusvult/pkg/deusvult/observability"
	"github.com/randalmurphal/deusvult/pkg/deusvult/observability/sink"
)

func TestSQLiteBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	backend, err := sink.NewSQLiteBackend(":memory:", "traces")
	require.NoError(t, err)
	defer backend.Close()

	linked := sampleRecord(1)
	linked.ParentSpanID = "0x1"
	linked.LinksTraceIDs = []string{"0xdef"}
	linked.LinksSpanIDs = []string{"0x9"}
	linked.LinksTraceStates = []string{"vendor=value"}
	linked.LinksAttributes = []map[string]string{{"reason": "retry"}}
	linked.StatusCode = observability.StatusError
	linked.StatusMessage = "telegram unavailable"

	require.NoError(t, backend.Write(ctx, []observability.TraceRecord{sampleRecord(0), linked}))

	got, err := backend.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Newest first
	want := []observability.TraceRecord{linked, sampleRecord(0)}
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("Recent mismatch (-want +got):\n%s", diff)
	}
}

func TestSQLiteBackendRecentLimit(t *testing.T) {
	ctx := context.Background()
	backend, err := sink.NewSQLiteBackend(":memory:", "")
	require.NoError(t, err)
	defer backend.Close()

	var batch []observability.TraceRecord
	for i := 0; i < 5; i++ {
		batch = append(batch, sampleRecord(i))
	}
	require.NoError(t, backend.Write(ctx, batch))

	got, err := backend.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "span-4", got[0].SpanName)
	assert.Equal(t, "span-3", got[1].SpanName)
}

func TestSQLiteBackendPersistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "traces.db")

	first, err := sink.NewSQLiteBackend(path, "spans")
	require.NoError(t, err)
	require.NoError(t, first.Write(ctx, []observability.TraceRecord{sampleRecord(0)}))
	require.NoError(t, first.Close())

	second, err := sink.NewSQLiteBackend(path, "spans")
	require.NoError(t, err)
	defer second.Close()

	got, err := second.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "span-0", got[0].SpanName)
}

func TestSQLiteBackendRejectsBadTable(t *testing.T) {
	_, err := sink.NewSQLiteBackend(":memory:", "traces; DROP TABLE chats")
	assert.Error(t, err)
}

func TestSQLiteBackendClosed(t *testing.T) {
	backend, err := sink.NewSQLiteBackend(":memory:", "traces")
	require.NoError(t, err)

	require.NoError(t, backend.Close())
	require.NoError(t, backend.Close())

	err = backend.Write(context.Background(), []observability.TraceRecord{sampleRecord(0)})
	assert.ErrorIs(t, err, sink.ErrClosed)
	_, err = backend.Recent(context.Background(), 1)
	assert.ErrorIs(t, err, sink.ErrClosed)
}
