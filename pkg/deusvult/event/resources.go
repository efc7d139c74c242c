package event

import (
	"context"
	"sync"
)

// Key identifies a process-wide resource of type T, such as the messaging
// platform client. Keys compare by identity, so two keys with the same name
// are distinct.
type Key[T any] struct {
	id *keyID
}

type keyID struct {
	name string
}

// NewKey creates a resource key. name is used only in messages.
func NewKey[T any](name string) Key[T] {
	return Key[T]{id: &keyID{name: name}}
}

// Name returns the key's name.
func (k Key[T]) Name() string {
	if k.id == nil {
		return ""
	}
	return k.id.name
}

// Resources is a registry of singletons injected into handlers.
type Resources struct {
	mu     sync.RWMutex
	values map[*keyID]any
}

// NewResources creates an empty resource registry.
func NewResources() *Resources {
	return &Resources{values: make(map[*keyID]any)}
}

// Provide stores value under key, replacing any previous value.
func Provide[T any](r *Resources, key Key[T], value T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[key.id] = value
}

// Lookup returns the value stored under key.
func Lookup[T any](r *Resources, key Key[T]) (T, bool) {
	var zero T
	if r == nil {
		return zero, false
	}

	r.mu.RLock()
	v, ok := r.values[key.id]
	r.mu.RUnlock()
	if !ok {
		return zero, false
	}
	// A nil interface stored for an interface T fails the assertion
	typed, ok := v.(T)
	return typed, ok
}

type resourcesKey struct{}

// WithResources attaches r to ctx. The bus does this before every handler
// invocation.
func WithResources(ctx context.Context, r *Resources) context.Context {
	return context.WithValue(ctx, resourcesKey{}, r)
}

// ResourcesFrom returns the registry attached to ctx, or nil.
func ResourcesFrom(ctx context.Context) *Resources {
	r, _ := ctx.Value(resourcesKey{}).(*Resources)
	return r
}

// Resource returns the resource stored under key in the registry attached
// to ctx.
func Resource[T any](ctx context.Context, key Key[T]) (T, bool) {
	return Lookup(ResourcesFrom(ctx), key)
}
