// Package sender orchestrates user-facing sends: templated sends to one
// target and quick sends to many, either inline or through the queue.
package sender

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/channel"
	"github.com/lalithlochan/beacon/internal/db"
	"github.com/lalithlochan/beacon/internal/dispatch"
	"github.com/lalithlochan/beacon/internal/queue"
	"github.com/lalithlochan/beacon/internal/record"
	"github.com/lalithlochan/beacon/internal/render"
)

// ErrAsyncUnavailable is returned for async sends when no queue is wired.
var ErrAsyncUnavailable = errors.New("async sending is not configured")

// Store loads the entities a send refers to.
type Store interface {
	dispatch.TargetLister
	GetChannel(ctx context.Context, id uuid.UUID) (*db.Channel, error)
	GetTarget(ctx context.Context, id uuid.UUID) (*db.Target, error)
	GetTemplate(ctx context.Context, id uuid.UUID) (*db.Template, error)
}

// Records is the record lifecycle the sender drives.
type Records interface {
	dispatch.Recorder
	Fail(ctx context.Context, rec *db.Record, cause error) error
	Get(ctx context.Context, id uuid.UUID) (*db.Record, error)
}

// Service runs sends.
type Service struct {
	store   Store
	records Records
	engine  *dispatch.Engine
	queue   queue.Enqueuer
	logger  *zap.Logger
}

// New creates a send service. q may be nil, in which case async requests
// fail with ErrAsyncUnavailable. engine should record through records for
// quick sends to be audited.
func New(store Store, records Records, engine *dispatch.Engine, q queue.Enqueuer, logger *zap.Logger) *Service {
	return &Service{
		store:   store,
		records: records,
		engine:  engine,
		queue:   q,
		logger:  logger,
	}
}

// TemplateRequest is a templated send to one target.
type TemplateRequest struct {
	TemplateID uuid.UUID
	TargetID   uuid.UUID
	Context    map[string]any
	Async      bool
}

// SendTemplate renders the template with req.Context and sends it to the
// target through the template's channel. Sync sends return the terminal
// record; async sends return the pending record once the job is queued.
// Missing template, target or channel and a disabled channel fail before
// any record exists.
func (s *Service) SendTemplate(ctx context.Context, req TemplateRequest) (*db.Record, error) {
	tmpl, err := s.store.GetTemplate(ctx, req.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", req.TemplateID, err)
	}
	target, err := s.store.GetTarget(ctx, req.TargetID)
	if err != nil {
		return nil, fmt.Errorf("target %s: %w", req.TargetID, err)
	}
	ch, err := s.store.GetChannel(ctx, tmpl.ChannelID)
	if err != nil {
		return nil, fmt.Errorf("channel %s: %w", tmpl.ChannelID, err)
	}
	if !ch.Enabled {
		return nil, fmt.Errorf("%w: %s", dispatch.ErrChannelDisabled, ch.Name)
	}

	if req.Async {
		if s.queue == nil {
			return nil, ErrAsyncUnavailable
		}
		rec, err := s.records.Begin(ctx, ch, target, tmpl)
		if err != nil {
			return nil, err
		}
		err = s.enqueue(ctx, rec, queue.Job{
			Kind:       queue.JobTemplate,
			RecordID:   rec.ID,
			TemplateID: tmpl.ID,
			TargetID:   target.ID,
			Context:    req.Context,
		})
		if err != nil {
			return nil, err
		}
		return rec, nil
	}

	title := render.Render(tmpl.Title, req.Context)
	content := render.Render(tmpl.Content, req.Context)

	rec, err := s.records.Begin(ctx, ch, target, tmpl)
	if err != nil {
		return nil, err
	}
	out := s.engine.DispatchOne(ctx, ch, target.Value, title, content, channel.Options{})
	if err := s.records.Complete(ctx, rec, out); err != nil {
		if !errors.Is(err, record.ErrAlreadyCompleted) {
			return nil, err
		}
		// Finalized elsewhere mid-send; rec now holds the stored outcome.
	}

	s.logger.Info("template sent",
		zap.String("record_id", rec.ID.String()),
		zap.String("template", tmpl.Name),
		zap.String("status", rec.Status),
	)
	return rec, nil
}

// QuickRequest is a free-text send through one channel. With All set or a
// nil TargetIDs every target of the channel's type receives it; an empty
// non-nil TargetIDs selects nothing and is rejected as not found.
type QuickRequest struct {
	ChannelID uuid.UUID
	TargetIDs []uuid.UUID
	All       bool
	Title     string
	Content   string
	Options   channel.Options
	Async     bool
}

// QuickResult is the outcome of a quick send. Sync sends fill Aggregate;
// async sends fill Queued with the pending records, and Failed with records
// whose enqueue failed.
type QuickResult struct {
	Aggregate *dispatch.Aggregate
	Queued    []*db.Record
	Failed    []*db.Record
}

// QuickSend sends req to its targets, one record per target.
func (s *Service) QuickSend(ctx context.Context, req QuickRequest) (*QuickResult, error) {
	ch, err := s.store.GetChannel(ctx, req.ChannelID)
	if err != nil {
		return nil, fmt.Errorf("channel %s: %w", req.ChannelID, err)
	}
	if !ch.Enabled {
		return nil, fmt.Errorf("%w: %s", dispatch.ErrChannelDisabled, ch.Name)
	}

	targets, err := dispatch.ResolveTargets(ctx, s.store, ch, req.TargetIDs, req.All)
	if err != nil {
		return nil, err
	}

	if !req.Async {
		agg, err := s.engine.DispatchMany(ctx, dispatch.Batch{
			Channel: ch,
			Targets: targets,
			Title:   req.Title,
			Content: req.Content,
			Options: req.Options,
		})
		if err != nil {
			return nil, err
		}
		return &QuickResult{Aggregate: agg}, nil
	}

	if s.queue == nil {
		return nil, ErrAsyncUnavailable
	}

	res := &QuickResult{}
	for _, target := range targets {
		rec, err := s.records.Begin(ctx, ch, target, nil)
		if err != nil {
			return nil, err
		}
		err = s.enqueue(ctx, rec, queue.Job{
			Kind:     queue.JobQuick,
			RecordID: rec.ID,
			TargetID: target.ID,
			Title:    req.Title,
			Content:  req.Content,
			Options:  req.Options,
		})
		if err != nil {
			res.Failed = append(res.Failed, rec)
			continue
		}
		res.Queued = append(res.Queued, rec)
	}

	s.logger.Info("quick send queued",
		zap.String("channel_id", ch.ID.String()),
		zap.Int("queued", len(res.Queued)),
		zap.Int("failed", len(res.Failed)),
	)
	return res, nil
}

// enqueue hands job to the queue. On failure the pending record is failed
// so nothing stays pending, and the enqueue error is returned.
func (s *Service) enqueue(ctx context.Context, rec *db.Record, job queue.Job) error {
	err := s.queue.Enqueue(ctx, job)
	if err == nil {
		return nil
	}

	s.logger.Error("failed to enqueue job",
		zap.String("record_id", rec.ID.String()),
		zap.Error(err),
	)
	if ferr := s.records.Fail(ctx, rec, fmt.Errorf("enqueue: %w", err)); ferr != nil {
		s.logger.Error("failed to mark record failed after enqueue error",
			zap.String("record_id", rec.ID.String()),
			zap.Error(ferr),
		)
	}
	return fmt.Errorf("enqueue job: %w", err)
}
