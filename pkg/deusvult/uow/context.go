package uow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

type contextKey struct{}

// Begin attaches a new unit of work to ctx. If ctx already carries one, ctx
// and that unit are returned unchanged and opts are ignored.
func Begin(ctx context.Context, opener Opener, opts ...Option) (context.Context, *UnitOfWork) {
	if u := Current(ctx); u != nil {
		return ctx, u
	}
	u := New(opener, opts...)
	ctx = context.WithValue(ctx, contextKey{}, u)
	u.scope = ctx
	return ctx, u
}

// FromContext returns the unit of work carried by ctx.
func FromContext(ctx context.Context) (*UnitOfWork, bool) {
	u, ok := ctx.Value(contextKey{}).(*UnitOfWork)
	return u, ok && u != nil
}

// Current returns the unit of work carried by ctx, or nil. Callers must
// tolerate nil, typically by skipping persistence.
func Current(ctx context.Context) *UnitOfWork {
	u, _ := FromContext(ctx)
	return u
}

// Run executes fn inside a unit of work.
//
// If ctx already carries a unit, fn runs in it and the outer scope keeps
// responsibility for finalizing it. Otherwise a new unit is attached and,
// once fn returns, committed on success or rolled back on error. A panic
// rolls back and is re-raised. The unit is closed on every path. The error
// from fn is returned unchanged.
func Run(ctx context.Context, opener Opener, fn func(ctx context.Context) error, opts ...Option) (err error) {
	if Current(ctx) != nil {
		return fn(ctx)
	}

	ctx, u := Begin(ctx, opener, opts...)
	defer func() {
		if r := recover(); r != nil {
			if rbErr := u.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, ErrFinalized) {
				u.logger.Error("rollback after panic failed",
					slog.String("uow_id", u.id),
					slog.String("error", rbErr.Error()))
			}
			_ = u.CloseContext(ctx)
			panic(r)
		}
		if closeErr := u.CloseContext(ctx); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	if err = fn(ctx); err != nil {
		if rbErr := u.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, ErrFinalized) {
			u.logger.Error("rollback failed",
				slog.String("uow_id", u.id),
				slog.String("error", rbErr.Error()))
		}
		return err
	}

	// fn may finalize explicitly
	switch u.State() {
	case StateUnopened, StateOpen:
		return u.Commit(ctx)
	}
	return nil
}

// sessionAs returns the session of the unit in ctx as T.
func sessionAs[T any](ctx context.Context) (T, error) {
	var zero T
	u := Current(ctx)
	if u == nil {
		return zero, ErrNoUnitOfWork
	}
	tx, err := u.Session(ctx)
	if err != nil {
		return zero, err
	}
	typed, ok := tx.(T)
	if !ok {
		return zero, fmt.Errorf("unit of work session is %T, not %T", tx, zero)
	}
	return typed, nil
}
