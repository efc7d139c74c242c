package event

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors.
var (
	// ErrBusClosed is returned when publishing on or subscribing to a closed bus.
	ErrBusClosed = errors.New("event bus is closed")

	// ErrPayloadShape matches every *PayloadError.
	ErrPayloadShape = errors.New("malformed event payload")

	// ErrNilHandler is returned when subscribing a nil handler.
	ErrNilHandler = errors.New("handler cannot be nil")

	// ErrUnknownTopic is returned by Registry.Validate for topics without a schema.
	ErrUnknownTopic = errors.New("unknown topic")

	// ErrDLQFull is returned when the dead-letter queue is at capacity.
	ErrDLQFull = errors.New("dead-letter queue is full")
)

// EventError represents a bus-level error for one event.
type EventError struct {
	Event   Event  // The event that failed
	Message string // Error message
	Err     error  // Underlying error
}

// Error implements error interface.
func (e *EventError) Error() string {
	id := "<nil>"
	if e.Event != nil {
		id = e.Event.ID()
	}
	if e.Err != nil {
		return fmt.Sprintf("event %s: %s: %v", id, e.Message, e.Err)
	}
	return fmt.Sprintf("event %s: %s", id, e.Message)
}

// Unwrap returns the underlying error.
func (e *EventError) Unwrap() error {
	return e.Err
}

// PayloadError reports an event whose payload does not match its topic's
// schema.
type PayloadError struct {
	Topic    Topic
	EventID  string
	Expected string // Expected payload type, if known
	Err      error
}

// Error implements error interface.
func (e *PayloadError) Error() string {
	msg := fmt.Sprintf("event %s on %s: %s", e.EventID, e.Topic, ErrPayloadShape)
	if e.Expected != "" {
		msg += " (expected " + e.Expected + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *PayloadError) Unwrap() error {
	return e.Err
}

// Is makes every PayloadError match ErrPayloadShape.
func (e *PayloadError) Is(target error) bool {
	return target == ErrPayloadShape
}

// HandlerError reports a handler that panicked.
type HandlerError struct {
	Topic   Topic
	EventID string
	Handler string
	Panic   any
	Stack   []byte
}

// Error implements error interface.
func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s panicked on %s (event %s): %v", e.Handler, e.Topic, e.EventID, e.Panic)
}

// FailedEvent records a handler failure for later inspection.
type FailedEvent struct {
	EventID   string    `json:"event_id"`
	Topic     Topic     `json:"topic"`
	EventData []byte    `json:"event_data"`
	Handler   string    `json:"handler"`
	Error     string    `json:"error"`
	FailedAt  time.Time `json:"failed_at"`
}

// NewFailedEvent creates a FailedEvent from a handler error.
func NewFailedEvent(evt Event, handler string, err error) *FailedEvent {
	return &FailedEvent{
		EventID:   evt.ID(),
		Topic:     evt.Topic(),
		EventData: evt.DataBytes(),
		Handler:   handler,
		Error:     err.Error(),
		FailedAt:  time.Now(),
	}
}

// DeadLetterQueue stores handler failures the publisher did not see.
type DeadLetterQueue interface {
	// Enqueue adds a failed event to the queue.
	Enqueue(ctx context.Context, failed *FailedEvent) error
}
