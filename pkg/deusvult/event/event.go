package event

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Topic names a channel of events of one kind (e.g., "chat.added").
type Topic string

// String returns the topic name.
func (t Topic) String() string {
	return string(t)
}

// Payload is the typed content of an event. Validate reports a payload that
// does not satisfy its topic's schema.
type Payload interface {
	Validate() error
}

// Event is a dispatched message. Events are immutable once created.
type Event interface {
	// Identity
	ID() string     // Unique event identifier
	Topic() Topic   // Channel the event is published on
	Source() string // Producer (e.g., "memberships", "polls")

	// Correlation
	CorrelationID() string // Groups events of one inbound operation
	CausationID() string   // ID of the event that directly caused this one

	Timestamp() time.Time

	// Payload
	Data() any         // Typed payload
	DataBytes() []byte // JSON form of the payload
}

// Metadata contains common event metadata fields.
type Metadata struct {
	EventID       string    `json:"id"`
	Topic         Topic     `json:"topic"`
	Source        string    `json:"source"`
	CorrelationID string    `json:"correlation_id"`
	CausationID   string    `json:"causation_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// MetadataOf extracts the metadata of any event.
func MetadataOf(evt Event) Metadata {
	return Metadata{
		EventID:       evt.ID(),
		Topic:         evt.Topic(),
		Source:        evt.Source(),
		CorrelationID: evt.CorrelationID(),
		CausationID:   evt.CausationID(),
		Timestamp:     evt.Timestamp(),
	}
}

// Envelope is the Event implementation used throughout the bot: metadata
// plus a payload of static type T.
type Envelope[T any] struct {
	Meta    Metadata `json:"metadata"`
	Payload T        `json:"payload"`
}

func (e *Envelope[T]) ID() string            { return e.Meta.EventID }
func (e *Envelope[T]) Topic() Topic          { return e.Meta.Topic }
func (e *Envelope[T]) Source() string        { return e.Meta.Source }
func (e *Envelope[T]) CorrelationID() string { return e.Meta.CorrelationID }
func (e *Envelope[T]) CausationID() string   { return e.Meta.CausationID }
func (e *Envelope[T]) Timestamp() time.Time  { return e.Meta.Timestamp }
func (e *Envelope[T]) Data() any             { return e.Payload }

// TypedData returns the payload without a type assertion.
func (e *Envelope[T]) TypedData() T { return e.Payload }

// DataBytes returns the payload as JSON, or nil if it does not encode.
func (e *Envelope[T]) DataBytes() []byte {
	if data, err := json.Marshal(e.Payload); err == nil {
		return data
	}
	return nil
}

// EventOption adjusts the metadata of an event being created.
type EventOption func(*Metadata)

// WithEventID replaces the generated UUID.
func WithEventID(id string) EventOption {
	return func(m *Metadata) { m.EventID = id }
}

// WithCorrelationID joins the event to an existing operation.
func WithCorrelationID(id string) EventOption {
	return func(m *Metadata) { m.CorrelationID = id }
}

// WithCausationID names the event that caused this one.
func WithCausationID(id string) EventOption {
	return func(m *Metadata) { m.CausationID = id }
}

// WithTimestamp replaces the creation time.
func WithTimestamp(t time.Time) EventOption {
	return func(m *Metadata) { m.Timestamp = t }
}

// New creates an event on topic carrying payload. Without
// WithCorrelationID the event starts its own correlation chain.
func New[T any](topic Topic, source string, payload T, opts ...EventOption) *Envelope[T] {
	meta := Metadata{
		EventID:   uuid.NewString(),
		Topic:     topic,
		Source:    source,
		Timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(&meta)
	}
	if meta.CorrelationID == "" {
		meta.CorrelationID = meta.EventID
	}
	return &Envelope[T]{Meta: meta, Payload: payload}
}

// NewFromParent creates an event caused by parent. It inherits the parent's
// correlation ID and records the parent as its cause; opts apply last.
func NewFromParent[T any](parent Event, topic Topic, source string, payload T, opts ...EventOption) *Envelope[T] {
	inherited := []EventOption{
		WithCorrelationID(parent.CorrelationID()),
		WithCausationID(parent.ID()),
	}
	return New(topic, source, payload, append(inherited, opts...)...)
}

// NewAny creates an event with an untyped payload, such as a decoded JSON
// object. Handlers convert it with Decode.
func NewAny(topic Topic, source string, payload any, opts ...EventOption) *Envelope[any] {
	return New(topic, source, payload, opts...)
}

// Handler processes events delivered by the bus.
type Handler interface {
	Handle(ctx context.Context, evt Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, evt Event) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, evt Event) error {
	return f(ctx, evt)
}

// TypedHandler wraps a function handling a specific payload type. The
// payload is converted with Decode before fn runs; a conversion failure is
// returned as a *PayloadError and fn is not called.
func TypedHandler[T Payload](fn func(ctx context.Context, payload T, meta Metadata) error) Handler {
	return HandlerFunc(func(ctx context.Context, evt Event) error {
		payload, err := Decode[T](evt)
		if err != nil {
			return err
		}
		return fn(ctx, payload, MetadataOf(evt))
	})
}
