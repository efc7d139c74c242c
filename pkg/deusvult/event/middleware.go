package event

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"
)

// MiddlewareFunc wraps a handler.
type MiddlewareFunc func(next Handler) Handler

// ChainMiddleware wraps handler so that middleware[0] runs first.
func ChainMiddleware(handler Handler, middleware ...MiddlewareFunc) Handler {
	for i := range middleware {
		handler = middleware[len(middleware)-1-i](handler)
	}
	return handler
}

// LoggingMiddleware logs every handler invocation with its duration.
func LoggingMiddleware(logger *slog.Logger) MiddlewareFunc {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, evt Event) error {
			if logger == nil {
				return next.Handle(ctx, evt)
			}

			start := time.Now()
			err := next.Handle(ctx, evt)

			attrs := []any{
				slog.String("topic", evt.Topic().String()),
				slog.String("event_id", evt.ID()),
				slog.Duration("duration", time.Since(start)),
			}
			if err != nil {
				logger.WarnContext(ctx, "event handled with error", append(attrs, slog.String("error", err.Error()))...)
			} else {
				logger.DebugContext(ctx, "event handled", attrs...)
			}
			return err
		})
	}
}

// RecoveryMiddleware converts handler panics to *HandlerError.
//
// The bus already recovers around every subscription; this middleware is for
// handlers invoked outside a bus or composed into other handlers.
func RecoveryMiddleware() MiddlewareFunc {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, evt Event) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = &HandlerError{
						Topic:   evt.Topic(),
						EventID: evt.ID(),
						Panic:   r,
						Stack:   debug.Stack(),
					}
				}
			}()
			return next.Handle(ctx, evt)
		})
	}
}

// FilterMiddleware skips events for which keep returns false.
func FilterMiddleware(keep func(Event) bool) MiddlewareFunc {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, evt Event) error {
			if !keep(evt) {
				return nil
			}
			return next.Handle(ctx, evt)
		})
	}
}
