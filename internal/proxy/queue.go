package proxy

import (
	"context"
	"sync"
)

// requestQueue is the FIFO admission queue. Enqueue never blocks: when the
// queue is at capacity the caller gets an immediate queue-full failure.
// Dequeue is reserved for the single worker loop and blocks until an item
// arrives, the context is done, or the queue is closed.
type requestQueue struct {
	mu     sync.Mutex
	items  []*request
	cap    int
	closed bool
	// ready carries at most one wakeup token for the blocked worker.
	ready chan struct{}
}

func newRequestQueue(capacity int) *requestQueue {
	if capacity <= 0 {
		capacity = defaultQueueSize
	}
	return &requestQueue{
		cap:   capacity,
		ready: make(chan struct{}, 1),
	}
}

// Enqueue appends r at the tail.
func (q *requestQueue) Enqueue(r *request) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return queueClosedError{}
	}
	if len(q.items) >= q.cap {
		return queueFullError{}
	}
	q.items = append(q.items, r)
	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue removes and returns the head item. It returns queueClosedError
// once the queue is closed and empty.
func (q *requestQueue) Dequeue(ctx context.Context) (*request, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			r := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return r, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, queueClosedError{}
		}
		select {
		case <-q.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close shuts the queue down and returns any descriptors still pending so
// the caller can finalize them as cancelled. Blocked and future Dequeue
// calls observe the closed signal.
func (q *requestQueue) Close() []*request {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	drained := q.items
	q.items = nil
	select {
	case q.ready <- struct{}{}:
	default:
	}
	return drained
}

func (q *requestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *requestQueue) Cap() int { return q.cap }

// Snapshot returns the pending descriptors in FIFO order without removing
// them.
func (q *requestQueue) Snapshot() []*request {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*request, len(q.items))
	copy(out, q.items)
	return out
}
