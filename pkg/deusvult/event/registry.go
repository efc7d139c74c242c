package event

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Schema describes the payload accepted on a topic.
type Schema struct {
	// Topic is the channel the schema applies to.
	Topic Topic

	// Description explains the event's purpose.
	Description string

	// PayloadType names the expected Go payload type.
	PayloadType string

	// Check converts the event payload to the declared type and validates it.
	Check func(Event) error
}

// Validate checks if an event conforms to this schema.
func (s *Schema) Validate(evt Event) error {
	if evt.Topic() != s.Topic {
		return fmt.Errorf("topic mismatch: expected %s, got %s", s.Topic, evt.Topic())
	}
	if s.Check != nil {
		return s.Check(evt)
	}
	return nil
}

// Registry holds one payload schema per topic.
type Registry struct {
	mu      sync.RWMutex
	schemas map[Topic]*Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		schemas: make(map[Topic]*Schema),
	}
}

// Register adds a schema, replacing any previous schema for its topic.
func (r *Registry) Register(schema *Schema) error {
	if schema == nil || schema.Topic == "" {
		return errors.New("schema topic is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[schema.Topic] = schema
	return nil
}

// RegisterSchema registers T as the payload type of topic. Events on the
// topic are then checked with Decode[T].
func RegisterSchema[T Payload](r *Registry, topic Topic, description string) error {
	var zero T
	return r.Register(&Schema{
		Topic:       topic,
		Description: description,
		PayloadType: fmt.Sprintf("%T", zero),
		Check: func(evt Event) error {
			_, err := Decode[T](evt)
			return err
		},
	})
}

// Get returns the schema for a topic.
func (r *Registry) Get(topic Topic) (*Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schema, ok := r.schemas[topic]
	return schema, ok
}

// Has returns true if a schema exists for the topic.
func (r *Registry) Has(topic Topic) bool {
	_, ok := r.Get(topic)
	return ok
}

// Validate checks an event against its topic's schema. Topics without a
// schema yield ErrUnknownTopic.
func (r *Registry) Validate(evt Event) error {
	schema, ok := r.Get(evt.Topic())
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, evt.Topic())
	}
	return schema.Validate(evt)
}

// Topics returns all registered topics, sorted.
func (r *Registry) Topics() []Topic {
	r.mu.RLock()
	defer r.mu.RUnlock()

	topics := make([]Topic, 0, len(r.schemas))
	for t := range r.schemas {
		topics = append(topics, t)
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i] < topics[j] })
	return topics
}
