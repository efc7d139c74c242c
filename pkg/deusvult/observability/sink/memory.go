package sink

import (
	"context"
	"sync"

	"github.com/randalmurphal/deusvult/pkg/deusvult/observability"
)

// MemoryBackend keeps records in memory.
// Suitable for testing and dry runs.
type MemoryBackend struct {
	mu      sync.RWMutex
	records []observability.TraceRecord
	batches int
	closed  bool
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// Write implements Backend.
func (m *MemoryBackend) Write(_ context.Context, records []observability.TraceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.records = append(m.records, records...)
	m.batches++
	return nil
}

// Records returns a copy of every stored record in write order.
func (m *MemoryBackend) Records() []observability.TraceRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]observability.TraceRecord(nil), m.records...)
}

// Len returns the number of stored records.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Batches returns the number of writes.
func (m *MemoryBackend) Batches() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.batches
}

// Close implements Backend.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
