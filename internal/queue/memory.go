package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryQueue is a fully in-memory Queue. Safe for concurrent access.
// Intended for unit testing and single-process development without Redis.
// Received messages stay pending until deleted; Redeliver moves pending
// messages back so tests can simulate at-least-once duplication.
type MemoryQueue struct {
	mu      sync.Mutex
	nextID  int
	ready   []Message
	pending map[string]Message
}

// NewMemoryQueue returns a new empty MemoryQueue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{pending: make(map[string]Message)}
}

func (q *MemoryQueue) Publish(_ context.Context, body []byte) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	id := fmt.Sprintf("mem-%d", q.nextID)
	q.ready = append(q.ready, Message{ID: id, Body: body})
	return id, nil
}

func (q *MemoryQueue) Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	if max <= 0 {
		max = 1
	}
	deadline := time.Now().Add(wait)
	for {
		q.mu.Lock()
		if len(q.ready) > 0 {
			n := max
			if n > len(q.ready) {
				n = len(q.ready)
			}
			out := make([]Message, n)
			copy(out, q.ready[:n])
			q.ready = q.ready[n:]
			for _, m := range out {
				q.pending[m.ID] = m
			}
			q.mu.Unlock()
			return out, nil
		}
		q.mu.Unlock()

		if wait <= 0 || !time.Now().Before(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (q *MemoryQueue) Delete(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.pending, id)
	return nil
}

// Redeliver moves all pending (received but not deleted) messages back to
// the front of the queue, preserving their ids.
func (q *MemoryQueue) Redeliver() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for id, m := range q.pending {
		q.ready = append(q.ready, m)
		delete(q.pending, id)
		n++
	}
	return n
}

// Len returns the number of ready (undelivered) messages.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready)
}

// PendingLen returns the number of received but unacknowledged messages.
func (q *MemoryQueue) PendingLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
