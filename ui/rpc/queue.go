package rpc

import "sync"

// Queue buffers outbound invocations until the connection flushes them.
// Calls keep their submission order. Queue is safe for concurrent use so
// that background work may enqueue calls.
type Queue struct {
	mu      sync.Mutex
	pending []*Invocation
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Send appends inv to the queue.
func (q *Queue) Send(inv *Invocation) {
	q.mu.Lock()
	q.pending = append(q.pending, inv)
	q.mu.Unlock()
}

// Len returns the number of queued invocations.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Drain removes and returns every queued invocation.
func (q *Queue) Drain() []*Invocation {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending
	q.pending = nil
	return out
}
