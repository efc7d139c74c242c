package errors

import (
	"fmt"
	"time"
)

// ValidationError reports a value that does not have its declared shape.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// Required returns a ValidationError for a missing field.
func Required(field string) *ValidationError {
	return &ValidationError{Field: field, Message: "is required"}
}

// TimeoutError reports an operation that ran out of time.
type TimeoutError struct {
	Op    string
	After time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out after %s", e.Op, e.After)
}

// Retryable implements Retryable.
func (e *TimeoutError) Retryable() bool { return true }

// UnavailableError reports a backend that could not be reached.
type UnavailableError struct {
	Backend string
	Err     error
}

// Error implements the error interface.
func (e *UnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s unavailable: %v", e.Backend, e.Err)
	}
	return fmt.Sprintf("%s unavailable", e.Backend)
}

// Unwrap returns the underlying error.
func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// Retryable implements Retryable.
func (e *UnavailableError) Retryable() bool { return true }
