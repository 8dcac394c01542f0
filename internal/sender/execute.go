package sender

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/db"
	"github.com/lalithlochan/beacon/internal/queue"
	"github.com/lalithlochan/beacon/internal/record"
	"github.com/lalithlochan/beacon/internal/render"
)

var errUnknownJobKind = errors.New("unknown job kind")

// Execute performs a queued job against its pending record. Jobs whose
// record is gone or already terminal are skipped, so redelivery is safe.
// References that no longer resolve fail the record. Only store errors
// that may be transient are returned, leaving the job for redelivery.
func (s *Service) Execute(ctx context.Context, job queue.Job) error {
	rec, err := s.records.Get(ctx, job.RecordID)
	if errors.Is(err, db.ErrNotFound) {
		s.logger.Warn("job for unknown record, dropping", zap.String("record_id", job.RecordID.String()))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load record %s: %w", job.RecordID, err)
	}
	if db.IsTerminal(rec.Status) {
		s.logger.Debug("record already completed, skipping job",
			zap.String("record_id", rec.ID.String()),
			zap.String("status", rec.Status),
		)
		return nil
	}

	ch, target, title, content, err := s.prepare(ctx, rec, job)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) && !errors.Is(err, errUnknownJobKind) {
			return err
		}
		return s.complete(ctx, rec, func() error { return s.records.Fail(ctx, rec, err) })
	}

	out := s.engine.DispatchOne(ctx, ch, target.Value, title, content, job.Options)
	return s.complete(ctx, rec, func() error { return s.records.Complete(ctx, rec, out) })
}

func (s *Service) complete(ctx context.Context, rec *db.Record, fn func() error) error {
	if err := fn(); err != nil {
		if errors.Is(err, record.ErrAlreadyCompleted) {
			return nil
		}
		return err
	}
	s.logger.Info("queued send completed",
		zap.String("record_id", rec.ID.String()),
		zap.String("status", rec.Status),
	)
	return nil
}

// prepare loads what the job needs and produces its text.
func (s *Service) prepare(ctx context.Context, rec *db.Record, job queue.Job) (*db.Channel, *db.Target, string, string, error) {
	if rec.ChannelID == nil {
		return nil, nil, "", "", fmt.Errorf("channel was deleted: %w", db.ErrNotFound)
	}
	if rec.TargetID == nil {
		return nil, nil, "", "", fmt.Errorf("target was deleted: %w", db.ErrNotFound)
	}

	ch, err := s.store.GetChannel(ctx, *rec.ChannelID)
	if err != nil {
		return nil, nil, "", "", fmt.Errorf("channel %s: %w", *rec.ChannelID, err)
	}
	target, err := s.store.GetTarget(ctx, *rec.TargetID)
	if err != nil {
		return nil, nil, "", "", fmt.Errorf("target %s: %w", *rec.TargetID, err)
	}

	switch job.Kind {
	case queue.JobQuick:
		return ch, target, job.Title, job.Content, nil
	case queue.JobTemplate:
		tmpl, err := s.store.GetTemplate(ctx, job.TemplateID)
		if err != nil {
			return nil, nil, "", "", fmt.Errorf("template %s: %w", job.TemplateID, err)
		}
		return ch, target, render.Render(tmpl.Title, job.Context), render.Render(tmpl.Content, job.Context), nil
	default:
		return nil, nil, "", "", fmt.Errorf("%w %q", errUnknownJobKind, job.Kind)
	}
}
