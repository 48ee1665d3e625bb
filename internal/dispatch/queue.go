package dispatch

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned by Dequeue once the queue has shut down.
var ErrQueueClosed = errors.New("dispatch: queue closed")

// Delivery is one dequeued job id. Done must be called exactly once after the
// dispatch attempt; requeue asks the backend to deliver the id again.
type Delivery struct {
	JobID string
	done  func(requeue bool)
}

// Done acknowledges the delivery.
func (d Delivery) Done(requeue bool) {
	if d.done != nil {
		d.done(requeue)
	}
}

// Queue hands accepted job ids to the dispatcher. The store remains the
// source of truth; the queue is only the wake-up signal, so losing a message
// costs latency (until the boot requeue), never the job.
type Queue interface {
	Enqueue(ctx context.Context, jobID string) error
	Dequeue(ctx context.Context) (Delivery, error)
	Close() error
}

// MemoryQueue is the default in-process FIFO backend.
type MemoryQueue struct {
	ch       chan string
	shutdown chan struct{}
	once     sync.Once
}

// NewMemoryQueue constructs a bounded in-memory queue.
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 256
	}
	return &MemoryQueue{
		ch:       make(chan string, capacity),
		shutdown: make(chan struct{}),
	}
}

// Enqueue blocks until the id is accepted, the queue closes, or ctx ends.
func (q *MemoryQueue) Enqueue(ctx context.Context, jobID string) error {
	select {
	case <-q.shutdown:
		return ErrQueueClosed
	default:
	}
	select {
	case q.ch <- jobID:
		return nil
	case <-q.shutdown:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue blocks until an id is available, the queue closes, or ctx ends.
func (q *MemoryQueue) Dequeue(ctx context.Context) (Delivery, error) {
	select {
	case jobID := <-q.ch:
		return q.delivery(jobID), nil
	case <-q.shutdown:
		return Delivery{}, ErrQueueClosed
	case <-ctx.Done():
		return Delivery{}, ctx.Err()
	}
}

func (q *MemoryQueue) delivery(jobID string) Delivery {
	return Delivery{JobID: jobID, done: func(requeue bool) {
		if !requeue {
			return
		}
		// Best effort: a full or closed queue drops the redelivery and the
		// boot requeue picks the job up instead.
		select {
		case q.ch <- jobID:
		case <-q.shutdown:
		default:
		}
	}}
}

// Close wakes all blocked producers and consumers.
func (q *MemoryQueue) Close() error {
	q.once.Do(func() { close(q.shutdown) })
	return nil
}
