package errors

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/zoobzio/clockz"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	// MaxAttempts counts the first try. Values below 1 mean one attempt.
	MaxAttempts int

	// InitialBackoff is the wait after the first failure; each further wait
	// grows by BackoffFactor up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64

	// Jitter spreads each wait by up to this fraction either way (0.0-1.0).
	Jitter float64

	// RetryableFunc overrides IsRetryable.
	RetryableFunc func(error) bool

	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)

	// Clock times the waits. Default: clockz.RealClock
	Clock clockz.Clock
}

// DefaultRetry is the standard retry configuration for sink writes.
var DefaultRetry = RetryConfig{
	MaxAttempts:    3,
	InitialBackoff: 200 * time.Millisecond,
	MaxBackoff:     5 * time.Second,
	BackoffFactor:  2.0,
	Jitter:         0.1,
}

// NoRetry disables retries.
var NoRetry = RetryConfig{MaxAttempts: 1}

// Backoff returns the wait after the given failed attempt (1-based),
// without jitter.
func (cfg RetryConfig) Backoff(attempt int) time.Duration {
	wait := float64(cfg.InitialBackoff)
	factor := cfg.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	for i := 1; i < attempt; i++ {
		wait *= factor
		if cfg.MaxBackoff > 0 && time.Duration(wait) >= cfg.MaxBackoff {
			return cfg.MaxBackoff
		}
	}
	if cfg.MaxBackoff > 0 && time.Duration(wait) > cfg.MaxBackoff {
		return cfg.MaxBackoff
	}
	return time.Duration(wait)
}

func (cfg RetryConfig) jittered(wait time.Duration) time.Duration {
	if cfg.Jitter <= 0 {
		return wait
	}
	return time.Duration(float64(wait) * (1 + cfg.Jitter*(rand.Float64()*2-1)))
}

// RetryResult contains the result of a retry operation.
type RetryResult[T any] struct {
	Value    T
	Err      error // *CategorizedError when every attempt failed
	Attempts int
	Duration time.Duration
}

// Retry calls fn until it succeeds, fails permanently, runs out of attempts
// or ctx ends. Only errors accepted by RetryableFunc (default IsRetryable)
// are retried.
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func(context.Context) (T, error)) RetryResult[T] {
	clock := cfg.Clock
	if clock == nil {
		clock = clockz.RealClock
	}
	retryable := cfg.RetryableFunc
	if retryable == nil {
		retryable = IsRetryable
	}
	attempts := max(cfg.MaxAttempts, 1)
	start := clock.Now()

	done := func(value T, err error, n int) RetryResult[T] {
		return RetryResult[T]{Value: value, Err: err, Attempts: n, Duration: clock.Since(start)}
	}
	var zero T

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return done(zero, Permanent("retry", err), attempt-1)
		}

		value, err := fn(ctx)
		if err == nil {
			return done(value, nil, attempt)
		}

		if !retryable(err) {
			return done(zero, &CategorizedError{Err: err, Category: Categorize(err), Attempts: attempt}, attempt)
		}
		if attempt == attempts {
			return done(zero, &CategorizedError{Op: "max retries exceeded", Err: err, Category: CategoryTransient, Attempts: attempt}, attempt)
		}

		wait := cfg.jittered(cfg.Backoff(attempt))
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, wait)
		}
		select {
		case <-ctx.Done():
			return done(zero, Permanent("retry backoff", ctx.Err()), attempt)
		case <-clock.After(wait):
		}
	}
}

// RetryOption configures retry behavior.
type RetryOption func(*RetryConfig)

// WithMaxAttempts sets the maximum number of attempts.
func WithMaxAttempts(n int) RetryOption {
	return func(cfg *RetryConfig) { cfg.MaxAttempts = n }
}

// WithInitialBackoff sets the first wait.
func WithInitialBackoff(d time.Duration) RetryOption {
	return func(cfg *RetryConfig) { cfg.InitialBackoff = d }
}

// WithMaxBackoff caps the wait.
func WithMaxBackoff(d time.Duration) RetryOption {
	return func(cfg *RetryConfig) { cfg.MaxBackoff = d }
}

// WithBackoffFactor sets the growth factor of the wait.
func WithBackoffFactor(f float64) RetryOption {
	return func(cfg *RetryConfig) { cfg.BackoffFactor = f }
}

// WithJitter sets the jitter fraction.
func WithJitter(j float64) RetryOption {
	return func(cfg *RetryConfig) { cfg.Jitter = j }
}

// WithRetryableFunc sets a custom retryability check.
func WithRetryableFunc(fn func(error) bool) RetryOption {
	return func(cfg *RetryConfig) { cfg.RetryableFunc = fn }
}

// WithOnRetry sets a callback invoked before each wait.
func WithOnRetry(fn func(attempt int, err error, wait time.Duration)) RetryOption {
	return func(cfg *RetryConfig) { cfg.OnRetry = fn }
}

// WithClock sets the clock timing the waits.
func WithClock(clock clockz.Clock) RetryOption {
	return func(cfg *RetryConfig) { cfg.Clock = clock }
}

// NewRetryConfig starts from DefaultRetry and applies opts.
func NewRetryConfig(opts ...RetryOption) RetryConfig {
	cfg := DefaultRetry
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
