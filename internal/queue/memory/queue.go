// Package memory provides the in-process work queue.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/discoverly/edgeschema/internal/metrics"
)

// Queue is a buffered FIFO of job IDs with context-aware operations.
type Queue struct {
	ch      chan string
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	metrics.Init()
	return &Queue{
		ch: make(chan string, capacity),
	}
}

// Enqueue pushes a job ID into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, jobID string) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- jobID:
		metrics.SetQueueDepth(len(q.ch))
		return nil
	}
}

// Dequeue pops the next job ID, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case jobID, ok := <-q.ch:
		if !ok {
			return "", errors.New("queue closed")
		}
		metrics.SetQueueDepth(len(q.ch))
		return jobID, nil
	}
}

// Len reports the number of queued items.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
