package orchestrator

import (
	"context"
	"sync"

	"github.com/c360studio/ralph/webhook"
)

// Queue is the in-process FIFO between the webhook endpoint and the run
// handler. Enqueue is non-blocking and safe for concurrent producers; a
// single consumer drains it in arrival order.
type Queue struct {
	mu    sync.Mutex
	items []*webhook.Envelope
	wake  chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{wake: make(chan struct{}, 1)}
}

// Enqueue appends an envelope and wakes the consumer. Never blocks.
func (q *Queue) Enqueue(env *webhook.Envelope) {
	q.mu.Lock()
	q.items = append(q.items, env)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Dequeue removes the oldest envelope, blocking until one is available or
// the context is done.
func (q *Queue) Dequeue(ctx context.Context) (*webhook.Envelope, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			env := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return env, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.wake:
		}
	}
}

// Len reports the number of queued envelopes.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
