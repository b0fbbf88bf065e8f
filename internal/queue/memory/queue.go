// Package memory provides the in-process job queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/media-scraper/internal/scraper"
)

// Queue is a bounded FIFO queue. Enqueue never blocks so admission can
// answer immediately when the queue is at capacity.
type Queue struct {
	ch chan scraper.QueueItem

	closeMu sync.RWMutex
	closed  bool
}

var _ scraper.Queue = (*Queue)(nil)

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{ch: make(chan scraper.QueueItem, capacity)}
}

// Enqueue pushes an item or returns scraper.ErrQueueFull when no slot is free.
func (q *Queue) Enqueue(ctx context.Context, item scraper.QueueItem) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return scraper.ErrQueueClosed
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enqueue canceled: %w", err)
	}
	select {
	case q.ch <- item:
		return nil
	default:
		return scraper.ErrQueueFull
	}
}

// Dequeue pops the next item. Items enqueued before Close are still drained.
func (q *Queue) Dequeue(ctx context.Context) (scraper.QueueItem, error) {
	select {
	case <-ctx.Done():
		return scraper.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return scraper.QueueItem{}, scraper.ErrQueueClosed
		}
		return item, nil
	}
}

// Len reports how many items are waiting.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops accepting items. It is safe to call more than once, concurrently.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}
