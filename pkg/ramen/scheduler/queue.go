package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrIdle is returned by Pop when nothing arrived within the wait.
var ErrIdle = errors.New("queue idle")

// Queue is an unbounded FIFO whose Pop blocks for a bounded time.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
	// wake is closed and replaced on every Push so all waiters re-check.
	wake chan struct{}
}

// NewQueue returns an empty queue.
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{wake: make(chan struct{})}
}

// Push appends v.
func (q *Queue[T]) Push(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	close(q.wake)
	q.wake = make(chan struct{})
	q.mu.Unlock()
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pop removes the oldest item, waiting up to timeout for one to arrive.
// Queued items are returned even when ctx is already done.
func (q *Queue[T]) Pop(ctx context.Context, timeout time.Duration) (T, error) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			v := q.items[0]
			var zero T
			q.items[0] = zero
			q.items = q.items[1:]
			q.mu.Unlock()
			return v, nil
		}
		wake := q.wake
		q.mu.Unlock()

		var zero T
		select {
		case <-wake:
		case <-timer:
			return zero, ErrIdle
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}
