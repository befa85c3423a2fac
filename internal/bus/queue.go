// Package bus provides the in-memory primitives shared by the controller and the
// window process: unbounded FIFO queues, set/wait gates, the command and event
// types, and the Link that bundles them.
package bus

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned when pushing to or popping from a closed queue.
var ErrQueueClosed = errors.New("queue is closed")

// Queue is an unbounded, goroutine-safe FIFO.
// Push never blocks, so it is safe to call from UI callback goroutines.
type Queue[T any] struct {
	mu      sync.Mutex
	entries []T
	ready   chan struct{} // holds one token while entries may be pending
	done    chan struct{} // closed by Close
	closed  bool
}

// NewQueue creates an empty Queue.
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{
		entries: make([]T, 0),
		ready:   make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Push appends v to the back of the queue.
func (q *Queue[T]) Push(v T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.entries = append(q.entries, v)
	q.mu.Unlock()

	q.signal()
	return nil
}

// TryPop removes and returns the front entry.
// Returns (zero value, false) if the queue is empty.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.entries) == 0 {
		return zero, false
	}

	v := q.entries[0]
	q.entries[0] = zero
	q.entries = q.entries[1:]

	// Leave a token behind so another waiter wakes up for the remainder.
	if len(q.entries) > 0 {
		q.signal()
	}
	return v, true
}

// Pop blocks until an entry is available, the queue is closed, or ctx is done.
// Entries pushed before Close are still returned.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	for {
		if v, ok := q.TryPop(); ok {
			return v, nil
		}

		select {
		case <-q.ready:
		case <-q.done:
			if v, ok := q.TryPop(); ok {
				return v, nil
			}
			var zero T
			return zero, ErrQueueClosed
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Ready returns a channel that receives a token after a Push.
// A receive does not guarantee the entry is still there; callers use TryPop.
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}

// Len returns the number of pending entries.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Drain removes and returns all pending entries.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return []T{}
	}
	result := q.entries
	q.entries = make([]T, 0)
	return result
}

// Close stops accepting entries and wakes blocked Pop calls. Safe to call twice.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

func (q *Queue[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
