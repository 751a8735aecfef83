// Package queue provides a generic thread-safe FIFO queue. The relay
// forwarder uses a bounded instance to hold outbound messages while
// the uplink is down.
package queue

import (
	"sync"
)

// Queue is a generic thread-safe queue. A zero maxLen means unbounded;
// otherwise Push drops the oldest items to stay within the bound, so a
// long outage keeps the freshest traffic.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	maxLen int
}

// New creates a new empty unbounded queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{
		items: make([]T, 0),
	}
}

// NewBounded creates a queue that holds at most maxLen items.
func NewBounded[T any](maxLen int) *Queue[T] {
	return &Queue[T]{
		items:  make([]T, 0, maxLen),
		maxLen: maxLen,
	}
}

// Push appends items to the queue, evicting from the front if bounded.
func (q *Queue[T]) Push(items ...T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, items...)
	if q.maxLen > 0 && len(q.items) > q.maxLen {
		q.items = q.items[len(q.items)-q.maxLen:]
	}
}

// PushFront puts an item back at the head of the queue. Used to requeue
// a message whose send failed so ordering is preserved on retry.
func (q *Queue[T]) PushFront(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append([]T{item}, q.items...)
	if q.maxLen > 0 && len(q.items) > q.maxLen {
		q.items = q.items[:q.maxLen]
	}
}

// Pop removes and returns the first item. Returns zero value if empty.
func (q *Queue[T]) Pop() T {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		var zero T
		return zero
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item
}

// TryPop removes and returns the first item, reporting whether one
// existed. Callers that queue value types use this to tell an empty
// queue from a zero item.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// Empty returns true if the queue has no items.
func (q *Queue[T]) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0
}

// Len returns the number of items in the queue.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear removes all items from the queue.
func (q *Queue[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = q.items[:0]
}

// GetAndEmpty returns all items and clears the queue.
func (q *Queue[T]) GetAndEmpty() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	result := q.items
	q.items = make([]T, 0, cap(q.items))
	return result
}
