package activity

import (
	"sync"
)

// Ring is a thread-safe fixed-capacity buffer. Once full, each Push
// overwrites the oldest item.
type Ring[T any] struct {
	mu       sync.Mutex
	buf      []T
	head     int // oldest item
	count    int
	capacity int

	// Stats
	totalPushed int64
	evicted     int64
}

// NewRing creates a ring with the given capacity.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{
		buf:      make([]T, capacity),
		capacity: capacity,
	}
}

// Push adds an item, evicting the oldest one when full.
func (r *Ring[T]) Push(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tail := (r.head + r.count) % r.capacity
	r.buf[tail] = item
	r.totalPushed++

	if r.count == r.capacity {
		// Overwrote the oldest; advance head past it
		r.head = (r.head + 1) % r.capacity
		r.evicted++
		return
	}
	r.count++
}

// Newest returns up to max items, most recent first. max <= 0 returns all.
func (r *Ring[T]) Newest(max int) []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.count
	if max > 0 && max < n {
		n = max
	}

	result := make([]T, n)
	for i := 0; i < n; i++ {
		idx := (r.head + r.count - 1 - i) % r.capacity
		result[i] = r.buf[idx]
	}
	return result
}

// Reset drops every item. Stats are kept.
func (r *Ring[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	for i := range r.buf {
		r.buf[i] = zero // Clear references for GC
	}
	r.head = 0
	r.count = 0
}

// Len returns the current number of items.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Cap returns the capacity.
func (r *Ring[T]) Cap() int {
	return r.capacity
}

// Stats returns ring statistics.
func (r *Ring[T]) Stats() RingStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RingStats{
		Count:       r.count,
		Capacity:    r.capacity,
		TotalPushed: r.totalPushed,
		Evicted:     r.evicted,
	}
}

// RingStats contains ring statistics.
type RingStats struct {
	Count       int
	Capacity    int
	TotalPushed int64
	Evicted     int64
}
