// Package handoff provides the bounded queue that decouples the real-time
// capture callback from the transcription drain loop.
//
// The producer side never blocks: when the queue is full the item is
// rejected and the caller decides what to log or count. The consumer side
// blocks until an item arrives, the context is cancelled, or the queue is
// closed. The capture callback runs on the audio driver's schedule and must
// return immediately; the drain loop has nothing better to do than wait.
package handoff

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned by Dequeue once the queue has been closed and
// emptied.
var ErrClosed = errors.New("handoff: queue closed")

// Queue is a bounded FIFO handoff between one producer and one consumer.
// All methods are safe for concurrent use.
type Queue[T any] struct {
	ch chan T

	mu     sync.RWMutex
	closed bool
}

// New creates a queue holding at most capacity items.
func New[T any](capacity int) (*Queue[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("handoff: capacity must be positive, got %d", capacity)
	}
	return &Queue[T]{ch: make(chan T, capacity)}, nil
}

// TryEnqueue offers an item without blocking. It reports false when the
// queue is full or closed; the item is dropped in either case.
func (q *Queue[T]) TryEnqueue(v T) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.ch <- v:
		return true
	default:
		return false
	}
}

// Dequeue removes and returns the oldest item, blocking until one is
// available. It returns ctx.Err() when the context ends first and ErrClosed
// once the queue is closed.
func (q *Queue[T]) Dequeue(ctx context.Context) (T, error) {
	var zero T
	select {
	case v, ok := <-q.ch:
		if !ok {
			return zero, ErrClosed
		}
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Len returns the number of items currently queued.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Cap returns the queue's capacity.
func (q *Queue[T]) Cap() int {
	return cap(q.ch)
}

// Close rejects all further enqueues and discards anything still queued.
// Items not yet dequeued are lost; callers that care must drain first.
// Close is idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
	for range q.ch {
	}
}
