// Package queue defines the jobs handed from the HTTP path to the workers
// and the transports that carry them.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/lalithlochan/beacon/internal/channel"
)

// JobKind says how a job's text is produced.
type JobKind string

// Job kinds
const (
	JobTemplate JobKind = "template" // render TemplateID with Context
	JobQuick    JobKind = "quick"    // send Title/Content as given
)

// Job is one queued delivery. The pending record it completes already
// exists when the job is enqueued.
type Job struct {
	Kind       JobKind         `json:"kind"`
	RecordID   uuid.UUID       `json:"record_id"`
	TemplateID uuid.UUID       `json:"template_id,omitempty"`
	TargetID   uuid.UUID       `json:"target_id,omitempty"`
	Context    map[string]any  `json:"context,omitempty"`
	Title      string          `json:"title,omitempty"`
	Content    string          `json:"content,omitempty"`
	Options    channel.Options `json:"options"`
	Attempt    int             `json:"attempt"`
	EnqueuedAt int64           `json:"enqueued_at"`
}

// Enqueuer hands a job to a transport and returns once it is accepted.
type Enqueuer interface {
	Enqueue(ctx context.Context, job Job) error
}

// Delivery is a received job. Ack removes it from the transport; an
// unacknowledged delivery may be received again. Nack, when set, hands a
// failed job back for another attempt; transports without it redeliver on
// their own (visibility timeout, uncommitted offset).
type Delivery struct {
	Job  Job
	Ack  func(ctx context.Context) error
	Nack func(ctx context.Context) error
}

// Source yields jobs to workers. Receive blocks until a job arrives, the
// context ends, or the transport's poll window elapses, in which case it
// returns (nil, nil).
type Source interface {
	Receive(ctx context.Context) (*Delivery, error)
}

var (
	// ErrQueueFull is returned by Local.Enqueue when the buffer is full.
	ErrQueueFull = errors.New("queue full")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("queue closed")

	// ErrAttemptsExhausted is returned by Nack once a job has used all its
	// attempts. The job is dropped.
	ErrAttemptsExhausted = errors.New("job attempts exhausted")
)

// Stamp fills the bookkeeping fields of a job about to be enqueued.
func Stamp(job Job) Job {
	if job.EnqueuedAt == 0 {
		job.EnqueuedAt = time.Now().UnixNano()
	}
	return job
}
