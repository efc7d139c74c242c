// Package errors classifies failures seen on the export and persistence paths
// and retries the transient ones.
//
// Only two categories exist: transient failures (timeouts, dropped
// connections, unavailable sinks) that a retry may fix, and permanent
// failures that it will not.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Category represents how an error should be handled.
type Category int

const (
	// CategoryTransient: a retry may succeed.
	CategoryTransient Category = iota

	// CategoryPermanent: retrying cannot help.
	CategoryPermanent
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Retryable is implemented by errors that know whether a retry can help.
type Retryable interface {
	Retryable() bool
}

// CategorizedError records the outcome of an operation that gave up.
type CategorizedError struct {
	Op       string // e.g. "sink write"
	Err      error
	Category Category
	Attempts int
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	msg := fmt.Sprintf("%v (%s", e.Err, e.Category)
	if e.Attempts > 0 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	msg += ")"
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// Retryable implements Retryable.
func (e *CategorizedError) Retryable() bool {
	return e.Category == CategoryTransient
}

// Transient marks err as worth retrying.
func Transient(op string, err error) *CategorizedError {
	return &CategorizedError{Op: op, Err: err, Category: CategoryTransient}
}

// Permanent marks err as not worth retrying.
func Permanent(op string, err error) *CategorizedError {
	return &CategorizedError{Op: op, Err: err, Category: CategoryPermanent}
}

// Categorize determines how an error should be handled. The first matching
// rule wins:
//
//   - errors implementing Retryable decide for themselves
//   - validation failures and cancellation are permanent
//   - timeouts, unavailable backends, deadlines and network errors are transient
//   - anything else is permanent
func Categorize(err error) Category {
	if err == nil {
		return CategoryPermanent
	}

	var r Retryable
	if errors.As(err, &r) {
		return categoryOf(r.Retryable())
	}

	var valErr *ValidationError
	if errors.As(err, &valErr) || errors.Is(err, context.Canceled) {
		return CategoryPermanent
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CategoryTransient
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return CategoryTransient
	}

	return CategoryPermanent
}

func categoryOf(retryable bool) Category {
	if retryable {
		return CategoryTransient
	}
	return CategoryPermanent
}

// IsRetryable reports whether the error should be retried.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryTransient
}
