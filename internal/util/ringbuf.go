package util

import "sync"

// RingBuffer keeps the most recent items up to a fixed capacity, evicting
// the oldest on overflow. Safe for concurrent use.
type RingBuffer[T any] struct {
	mu    sync.Mutex
	limit int
	items []T
}

// NewRingBuffer creates a buffer that retains at most capacity items.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	return &RingBuffer[T]{limit: capacity}
}

// Push appends an item, evicting the oldest when the buffer is full.
func (r *RingBuffer[T]) Push(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.items) == r.limit {
		copy(r.items, r.items[1:])
		r.items[len(r.items)-1] = item
		return
	}
	r.items = append(r.items, item)
}

// Snapshot returns the retained items, oldest first.
func (r *RingBuffer[T]) Snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, len(r.items))
	copy(out, r.items)
	return out
}
