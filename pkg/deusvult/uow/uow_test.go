package uow_test

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/randalmurphal/deusvult/pkg/deusvult/observability"
	"github.com/randalmurphal/deusvult/pkg/deusvult/uow"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

// fakeTx counts finalization calls.
type fakeTx struct {
	commits   int
	rollbacks int
	commitErr error
}

func (f *fakeTx) Commit() error {
	f.commits++
	return f.commitErr
}

func (f *fakeTx) Rollback() error {
	f.rollbacks++
	return nil
}

func fakeOpener(tx *fakeTx, opens *int) uow.Opener {
	return uow.OpenerFunc(func(context.Context) (uow.Tx, error) {
		*opens++
		return tx, nil
	})
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "unopened", uow.StateUnopened.String())
	assert.Equal(t, "open", uow.StateOpen.String())
	assert.Equal(t, "committed", uow.StateCommitted.String())
	assert.Equal(t, "rolled_back", uow.StateRolledBack.String())
	assert.Equal(t, "closed", uow.StateClosed.String())
	assert.Equal(t, "unknown", uow.State(99).String())
}

func TestSessionOpensLazilyOnce(t *testing.T) {
	tx := &fakeTx{}
	opens := 0
	u := uow.New(fakeOpener(tx, &opens))
	assert.Equal(t, 0, opens)
	assert.Equal(t, uow.StateUnopened, u.State())

	s1, err := u.Session(context.Background())
	require.NoError(t, err)
	s2, err := u.Session(context.Background())
	require.NoError(t, err)

	assert.Same(t, s1, s2)
	assert.Equal(t, 1, opens)
	assert.Equal(t, uow.StateOpen, u.State())
}

func TestSessionOpenError(t *testing.T) {
	boom := errors.New("connection refused")
	u := uow.New(uow.OpenerFunc(func(context.Context) (uow.Tx, error) {
		return nil, boom
	}))

	_, err := u.Session(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, uow.StateUnopened, u.State())
}

func TestSessionWithoutOpener(t *testing.T) {
	u := uow.New(nil)
	_, err := u.Session(context.Background())
	assert.ErrorIs(t, err, uow.ErrNoOpener)
}

func TestCommitUnopenedIsNoop(t *testing.T) {
	opens := 0
	u := uow.New(fakeOpener(&fakeTx{}, &opens))

	require.NoError(t, u.Commit(context.Background()))
	assert.Equal(t, 0, opens)
	assert.Equal(t, uow.StateCommitted, u.State())
}

func TestFinalizeTwiceFails(t *testing.T) {
	ctx := context.Background()
	tx := &fakeTx{}
	opens := 0
	u := uow.New(fakeOpener(tx, &opens))
	_, err := u.Session(ctx)
	require.NoError(t, err)

	require.NoError(t, u.Commit(ctx))
	assert.ErrorIs(t, u.Commit(ctx), uow.ErrFinalized)
	assert.ErrorIs(t, u.Rollback(ctx), uow.ErrFinalized)
	_, err = u.Session(ctx)
	assert.ErrorIs(t, err, uow.ErrFinalized)
	assert.Equal(t, 1, tx.commits)
}

func TestCommitFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("serialization failure")
	tx := &fakeTx{commitErr: boom}
	opens := 0
	u := uow.New(fakeOpener(tx, &opens))
	_, err := u.Session(ctx)
	require.NoError(t, err)

	err = u.Commit(ctx)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, tx.rollbacks)
	assert.Equal(t, uow.StateRolledBack, u.State())
}

func TestCloseRollsBackOpenUnit(t *testing.T) {
	ctx := context.Background()
	tx := &fakeTx{}
	opens := 0
	u := uow.New(fakeOpener(tx, &opens))
	_, err := u.Session(ctx)
	require.NoError(t, err)

	require.NoError(t, u.Close())
	require.NoError(t, u.Close())
	assert.Equal(t, 1, tx.rollbacks)
	assert.Equal(t, uow.StateClosed, u.State())

	_, err = u.Session(ctx)
	assert.ErrorIs(t, err, uow.ErrClosed)
	assert.ErrorIs(t, u.Commit(ctx), uow.ErrClosed)
}

func TestCloseAfterCommitDoesNotRollBack(t *testing.T) {
	ctx := context.Background()
	tx := &fakeTx{}
	opens := 0
	u := uow.New(fakeOpener(tx, &opens))
	_, err := u.Session(ctx)
	require.NoError(t, err)
	require.NoError(t, u.Commit(ctx))

	require.NoError(t, u.Close())
	assert.Equal(t, 0, tx.rollbacks)
}

func TestBeginIsIdempotent(t *testing.T) {
	ctx, u1 := uow.Begin(context.Background(), nil, uow.WithID("outer"))
	ctx2, u2 := uow.Begin(ctx, nil, uow.WithID("inner"))

	assert.Same(t, u1, u2)
	assert.Equal(t, "outer", u2.ID())
	assert.Same(t, u1, uow.Current(ctx2))
}

func TestCurrentWithoutUnit(t *testing.T) {
	assert.Nil(t, uow.Current(context.Background()))
	_, ok := uow.FromContext(context.Background())
	assert.False(t, ok)

	_, err := uow.SQLTx(context.Background())
	assert.ErrorIs(t, err, uow.ErrNoUnitOfWork)
}

func TestRunCommitsOnSuccess(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO chats").WithArgs(int64(42)).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := uow.Run(context.Background(), uow.SQLOpener{DB: db}, func(ctx context.Context) error {
		tx, err := uow.SQLTx(ctx)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, "INSERT INTO chats (id) VALUES ($1)", int64(42))
		return err
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRollsBackOnError(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("handler failed")
	err := uow.Run(context.Background(), uow.SQLOpener{DB: db}, func(ctx context.Context) error {
		if _, err := uow.SQLTx(ctx); err != nil {
			return err
		}
		return boom
	})

	assert.Same(t, boom, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRollsBackOnPanic(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	var captured *uow.UnitOfWork
	assert.PanicsWithValue(t, "kaboom", func() {
		_ = uow.Run(context.Background(), uow.SQLOpener{DB: db}, func(ctx context.Context) error {
			captured = uow.Current(ctx)
			if _, err := uow.SQLTx(ctx); err != nil {
				return err
			}
			panic("kaboom")
		})
	})

	require.NotNil(t, captured)
	assert.Equal(t, uow.StateClosed, captured.State())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunWithoutSessionIssuesNoQueries(t *testing.T) {
	db, mock := newMock(t)

	err := uow.Run(context.Background(), uow.SQLOpener{DB: db}, func(ctx context.Context) error {
		return nil
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunNestedReusesOuterUnit(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	opener := uow.SQLOpener{DB: db}
	var outer, inner *uow.UnitOfWork
	err := uow.Run(context.Background(), opener, func(ctx context.Context) error {
		outer = uow.Current(ctx)
		return uow.Run(ctx, opener, func(ctx context.Context) error {
			inner = uow.Current(ctx)
			_, err := uow.SQLTx(ctx)
			return err
		})
	})

	require.NoError(t, err)
	assert.Same(t, outer, inner)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunNestedErrorLeavesOuterUnitOpen(t *testing.T) {
	tx := &fakeTx{}
	opens := 0
	opener := fakeOpener(tx, &opens)
	boom := errors.New("inner failed")

	err := uow.Run(context.Background(), opener, func(ctx context.Context) error {
		_, _ = uow.Current(ctx).Session(ctx)
		innerErr := uow.Run(ctx, opener, func(context.Context) error { return boom })
		assert.Same(t, boom, innerErr)
		assert.Equal(t, uow.StateOpen, uow.Current(ctx).State())
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, tx.commits)
	assert.Equal(t, 0, tx.rollbacks)
}

func TestRunExplicitFinalization(t *testing.T) {
	tx := &fakeTx{}
	opens := 0

	err := uow.Run(context.Background(), fakeOpener(tx, &opens), func(ctx context.Context) error {
		u := uow.Current(ctx)
		if _, err := u.Session(ctx); err != nil {
			return err
		}
		return u.Rollback(ctx)
	})

	require.NoError(t, err)
	assert.Equal(t, 0, tx.commits)
	assert.Equal(t, 1, tx.rollbacks)
}

func TestRunSurfacesCommitError(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("deadlock detected"))

	err := uow.Run(context.Background(), uow.SQLOpener{DB: db}, func(ctx context.Context) error {
		_, err := uow.SQLTx(ctx)
		return err
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "deadlock detected")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeparateOperationsGetSeparateUnits(t *testing.T) {
	var first, second *uow.UnitOfWork
	run := func(dst **uow.UnitOfWork) {
		_ = uow.Run(context.Background(), nil, func(ctx context.Context) error {
			*dst = uow.Current(ctx)
			return nil
		})
	}
	run(&first)
	run(&second)

	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.NotSame(t, first, second)
	assert.NotEqual(t, first.ID(), second.ID())
}

func TestTransitionsAreLogged(t *testing.T) {
	var buf bytes.Buffer
	log := observability.NewLogger(&buf, "debug", "json")
	tx := &fakeTx{}
	opens := 0

	err := uow.Run(context.Background(), fakeOpener(tx, &opens), func(ctx context.Context) error {
		_, err := uow.Current(ctx).Session(ctx)
		return err
	}, uow.WithLogger(log), uow.WithID("op-7"))
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"uow_id":"op-7"`)
	assert.Contains(t, out, `"to":"open"`)
	assert.Contains(t, out, `"to":"committed"`)
	assert.Contains(t, out, `"to":"closed"`)
}

func TestSessionTypeMismatch(t *testing.T) {
	opens := 0
	ctx, _ := uow.Begin(context.Background(), fakeOpener(&fakeTx{}, &opens))

	_, err := uow.SQLTx(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not *sql.Tx")
}

func newGorm(t *testing.T, db *sql.DB) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{
		Logger:               logger.Discard,
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)
	return gdb
}

func TestGormOpener(t *testing.T) {
	db, mock := newMock(t)
	gdb := newGorm(t, db)

	mock.ExpectBegin()
	mock.ExpectCommit()

	err := uow.Run(context.Background(), uow.GormOpener{DB: gdb}, func(ctx context.Context) error {
		tx, err := uow.GormTx(ctx)
		if err != nil {
			return err
		}
		again, err := uow.GormTx(ctx)
		if err != nil {
			return err
		}
		assert.Same(t, tx, again)
		return nil
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormOpenerRollback(t *testing.T) {
	db, mock := newMock(t)
	gdb := newGorm(t, db)

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("poll rejected")
	err := uow.Run(context.Background(), uow.GormOpener{DB: gdb}, func(ctx context.Context) error {
		if _, err := uow.GormTx(ctx); err != nil {
			return err
		}
		return boom
	})

	assert.Same(t, boom, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenersRequireDatabase(t *testing.T) {
	_, err := uow.SQLOpener{}.Open(context.Background())
	assert.Error(t, err)
	_, err = uow.GormOpener{}.Open(context.Background())
	assert.Error(t, err)
}

func TestSessionOpensUnderOperationScope(t *testing.T) {
	var openCtx context.Context
	opener := uow.OpenerFunc(func(ctx context.Context) (uow.Tx, error) {
		openCtx = ctx
		return &fakeTx{}, nil
	})

	err := uow.Run(context.Background(), opener, func(ctx context.Context) error {
		handlerCtx, cancel := context.WithCancel(ctx)
		_, err := uow.Current(ctx).Session(handlerCtx)
		cancel()
		return err
	})
	require.NoError(t, err)
	require.NotNil(t, openCtx)
	assert.NoError(t, openCtx.Err(), "a handler's cancellation must not reach the transaction")
}

func TestSessionWithoutScopeIgnoresCallerCancellation(t *testing.T) {
	var openCtx context.Context
	u := uow.New(uow.OpenerFunc(func(ctx context.Context) (uow.Tx, error) {
		openCtx = ctx
		return &fakeTx{}, nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	_, err := u.Session(ctx)
	cancel()
	require.NoError(t, err)
	assert.NoError(t, openCtx.Err())
}

func TestSQLTxSurvivesHandlerCancellation(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO chats").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := uow.Run(context.Background(), uow.SQLOpener{DB: db}, func(ctx context.Context) error {
		handlerCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		tx, err := uow.SQLTx(handlerCtx)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(handlerCtx, "INSERT INTO chats (id) VALUES (?)", 7)
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCloseRecordsSpanEvents(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "operation")
	opens := 0
	err := uow.Run(ctx, fakeOpener(&fakeTx{}, &opens), func(ctx context.Context) error {
		_, err := uow.Current(ctx).Session(ctx)
		return err
	})
	require.NoError(t, err)
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	var names []string
	for _, ev := range spans[0].Events {
		names = append(names, ev.Name)
	}
	assert.Equal(t, []string{"uow.open", "uow.committed", "uow.closed"}, names)
}

func TestCloseContextRollsBackOpenUnit(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "operation")
	tx := &fakeTx{}
	opens := 0
	ctx, u := uow.Begin(ctx, fakeOpener(tx, &opens))
	_, err := u.Session(ctx)
	require.NoError(t, err)
	require.NoError(t, u.CloseContext(ctx))
	span.End()

	assert.Equal(t, 1, tx.rollbacks)
	var names []string
	for _, ev := range exporter.GetSpans()[0].Events {
		names = append(names, ev.Name)
	}
	assert.Equal(t, []string{"uow.open", "uow.rolled_back", "uow.closed"}, names)
}
