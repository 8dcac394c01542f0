package record

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/metrics"
)

// StaleReason is the error message written on swept records.
const StaleReason = "abandoned: no completion within the pending window"

// SweepStore fails pending records created before a cutoff.
type SweepStore interface {
	FailStalePending(ctx context.Context, cutoff time.Time, reason string) (int64, error)
}

// Sweeper periodically fails records stuck in pending, e.g. after a crash
// between Begin and Complete.
type Sweeper struct {
	store     SweepStore
	olderThan time.Duration
	logger    *zap.Logger
	now       func() time.Time
	c         *cron.Cron
}

// NewSweeper creates a sweeper that fails records pending longer than olderThan.
func NewSweeper(store SweepStore, olderThan time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		store:     store,
		olderThan: olderThan,
		logger:    logger,
		now:       time.Now,
	}
}

// Sweep runs one pass and returns how many records it failed.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.olderThan)
	n, err := s.store.FailStalePending(ctx, cutoff, StaleReason)
	if err != nil {
		return 0, fmt.Errorf("sweep pending records: %w", err)
	}
	if n > 0 {
		metrics.RecordSwept(n)
		s.logger.Warn("failed stale pending records",
			zap.Int64("count", n),
			zap.Time("cutoff", cutoff),
		)
	}
	return n, nil
}

// Start schedules Sweep on spec, a standard five-field cron expression or
// a descriptor such as "@every 5m".
func (s *Sweeper) Start(spec string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error("record sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}

	s.c = c
	c.Start()
	s.logger.Info("record sweeper started",
		zap.String("schedule", spec),
		zap.Duration("pending_after", s.olderThan),
	)
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish or ctx to end.
func (s *Sweeper) Stop(ctx context.Context) {
	if s.c == nil {
		return
	}
	select {
	case <-s.c.Stop().Done():
	case <-ctx.Done():
	}
}
