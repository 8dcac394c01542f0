// Package worker drains a queue source and executes each job.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/metrics"
	"github.com/lalithlochan/beacon/internal/queue"
)

// Handler executes one job. A returned error leaves the job unacknowledged;
// it is nacked when the transport supports it and otherwise left for the
// transport's own redelivery.
type Handler interface {
	Execute(ctx context.Context, job queue.Job) error
}

// Worker runs Concurrency receive loops against one source.
type Worker struct {
	source  queue.Source
	handler Handler
	config  Config
	logger  *zap.Logger
}

// Config tunes the worker.
type Config struct {
	Concurrency int
	// ErrorBackoff is the pause after a failed receive.
	ErrorBackoff time.Duration
	// JobTimeout bounds one Execute call.
	JobTimeout time.Duration
}

func New(source queue.Source, handler Handler, cfg Config, logger *zap.Logger) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.ErrorBackoff == 0 {
		cfg.ErrorBackoff = time.Second
	}
	if cfg.JobTimeout == 0 {
		cfg.JobTimeout = time.Minute
	}

	return &Worker{
		source:  source,
		handler: handler,
		config:  cfg,
		logger:  logger,
	}
}

// Start blocks until ctx is cancelled or the source is closed and all
// loops have returned.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("worker starting", zap.Int("concurrency", w.config.Concurrency))

	var wg sync.WaitGroup
	for i := 0; i < w.config.Concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.loop(ctx, id)
		}(i)
	}
	wg.Wait()

	w.logger.Info("worker stopped")
}

func (w *Worker) loop(ctx context.Context, id int) {
	for {
		d, err := w.source.Receive(ctx)
		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, queue.ErrClosed):
			return
		case err != nil:
			w.logger.Error("failed to receive job", zap.Int("loop", id), zap.Error(err))
			metrics.RecordJobProcessed("receive_error")
			if !sleep(ctx, w.config.ErrorBackoff) {
				return
			}
			continue
		case d == nil:
			continue
		}

		w.process(ctx, d)
	}
}

func (w *Worker) process(ctx context.Context, d *queue.Delivery) {
	metrics.IncJobsInFlight()
	defer metrics.DecJobsInFlight()

	jobCtx, cancel := context.WithTimeout(ctx, w.config.JobTimeout)
	defer cancel()

	if err := w.handler.Execute(jobCtx, d.Job); err != nil {
		metrics.RecordJobProcessed("error")
		w.retry(ctx, d, err)
		return
	}

	if err := d.Ack(ctx); err != nil {
		w.logger.Warn("failed to ack job",
			zap.String("record_id", d.Job.RecordID.String()),
			zap.Error(err),
		)
	}
	metrics.RecordJobProcessed("done")
}

func (w *Worker) retry(ctx context.Context, d *queue.Delivery, cause error) {
	fields := []zap.Field{
		zap.String("record_id", d.Job.RecordID.String()),
		zap.String("kind", string(d.Job.Kind)),
		zap.Int("attempt", d.Job.Attempt),
		zap.Error(cause),
	}

	if d.Nack == nil {
		w.logger.Error("job failed, leaving it for redelivery", fields...)
		return
	}
	if err := d.Nack(ctx); err != nil {
		w.logger.Error("job failed and was dropped, the stale sweep will fail its record",
			append(fields, zap.NamedError("requeue_error", err))...)
		metrics.RecordJobProcessed("dropped")
		return
	}
	w.logger.Warn("job failed, requeued", fields...)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
