package event

import (
	"context"
	"sync"
)

// MemoryDeadLetterQueue is an in-memory DeadLetterQueue.
// Suitable for testing and single-instance deployments.
type MemoryDeadLetterQueue struct {
	mu      sync.RWMutex
	entries []*FailedEvent
	cfg     DLQConfig

	enqueued     int64
	acknowledged int64
}

// DLQConfig configures the dead-letter queue.
type DLQConfig struct {
	// MaxSize limits the number of entries.
	// Default: 10000
	MaxSize int

	// OnEnqueue is called when an entry is added.
	OnEnqueue func(*FailedEvent)
}

// DefaultDLQConfig provides reasonable defaults.
var DefaultDLQConfig = DLQConfig{
	MaxSize: 10000,
}

// NewMemoryDeadLetterQueue creates an in-memory dead-letter queue.
func NewMemoryDeadLetterQueue(cfg DLQConfig) *MemoryDeadLetterQueue {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultDLQConfig.MaxSize
	}
	return &MemoryDeadLetterQueue{cfg: cfg}
}

// Enqueue adds a failure. It returns ErrDLQFull at capacity.
func (d *MemoryDeadLetterQueue) Enqueue(_ context.Context, failed *FailedEvent) error {
	d.mu.Lock()
	if len(d.entries) >= d.cfg.MaxSize {
		d.mu.Unlock()
		return ErrDLQFull
	}
	d.entries = append(d.entries, failed)
	d.enqueued++
	d.mu.Unlock()

	if d.cfg.OnEnqueue != nil {
		d.cfg.OnEnqueue(failed)
	}
	return nil
}

// List returns up to limit entries in enqueue order. A limit <= 0 returns all.
func (d *MemoryDeadLetterQueue) List(_ context.Context, limit int) ([]*FailedEvent, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if limit <= 0 || limit > len(d.entries) {
		limit = len(d.entries)
	}
	result := make([]*FailedEvent, limit)
	copy(result, d.entries[:limit])
	return result, nil
}

// Count returns the number of entries.
func (d *MemoryDeadLetterQueue) Count(_ context.Context) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries), nil
}

// CountByTopic returns counts grouped by topic.
func (d *MemoryDeadLetterQueue) CountByTopic(_ context.Context) (map[Topic]int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	counts := make(map[Topic]int)
	for _, f := range d.entries {
		counts[f.Topic]++
	}
	return counts, nil
}

// Acknowledge removes every entry for eventID. An empty handler matches all
// handlers of the event.
func (d *MemoryDeadLetterQueue) Acknowledge(_ context.Context, eventID, handler string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	kept := d.entries[:0]
	for _, f := range d.entries {
		if f.EventID == eventID && (handler == "" || f.Handler == handler) {
			d.acknowledged++
			continue
		}
		kept = append(kept, f)
	}
	// Release references held past the new length
	for i := len(kept); i < len(d.entries); i++ {
		d.entries[i] = nil
	}
	d.entries = kept
	return nil
}

// DLQStats contains dead-letter queue statistics.
type DLQStats struct {
	QueueSize    int
	Enqueued     int64
	Acknowledged int64
}

// Stats returns queue statistics.
func (d *MemoryDeadLetterQueue) Stats() DLQStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return DLQStats{
		QueueSize:    len(d.entries),
		Enqueued:     d.enqueued,
		Acknowledged: d.acknowledged,
	}
}
