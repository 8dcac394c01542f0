package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/lalithlochan/beacon/internal/metrics"
)

// DefaultLocalSize is the buffer used when NewLocal gets size <= 0.
const DefaultLocalSize = 1024

// MaxLocalAttempts caps how many times Local hands out one job.
const MaxLocalAttempts = 5

// Local is an in-process queue backed by a buffered channel. Failed jobs
// are put back through Nack until MaxLocalAttempts. Jobs are lost on
// restart or once dropped; the sweeper fails their pending records.
type Local struct {
	jobs   chan Job
	mu     sync.RWMutex
	closed bool
}

// NewLocal creates an in-process queue holding up to size jobs.
func NewLocal(size int) *Local {
	if size <= 0 {
		size = DefaultLocalSize
	}
	return &Local{jobs: make(chan Job, size)}
}

// Enqueue adds job without blocking.
func (q *Local) Enqueue(ctx context.Context, job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.jobs <- Stamp(job):
		metrics.RecordJobEnqueued(string(job.Kind))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Receive blocks for the next job. Acks are no-ops; Nack puts the job back
// at the tail with its attempt count bumped.
func (q *Local) Receive(ctx context.Context) (*Delivery, error) {
	select {
	case job, ok := <-q.jobs:
		if !ok {
			return nil, ErrClosed
		}
		return &Delivery{
			Job:  job,
			Ack:  func(context.Context) error { return nil },
			Nack: func(context.Context) error { return q.requeue(job) },
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *Local) requeue(job Job) error {
	job.Attempt++
	if job.Attempt >= MaxLocalAttempts {
		return fmt.Errorf("%w: %d of %d", ErrAttemptsExhausted, job.Attempt, MaxLocalAttempts)
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Len reports the buffered job count.
func (q *Local) Len() int {
	return len(q.jobs)
}

// Close stops accepting jobs. Buffered jobs can still be received.
func (q *Local) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
}
