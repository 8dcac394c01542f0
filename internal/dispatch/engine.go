// Package dispatch resolves a channel's adapter and performs send attempts
// for one or many targets, turning every failure into outcome data.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lalithlochan/beacon/internal/channel"
	"github.com/lalithlochan/beacon/internal/db"
	"github.com/lalithlochan/beacon/internal/metrics"
)

// ErrChannelDisabled is returned for sends on a disabled channel. No adapter
// is invoked and no record is created.
var ErrChannelDisabled = errors.New("channel is disabled")

// Resolver looks up the adapter factory for a channel kind.
type Resolver interface {
	Resolve(kind db.ChannelKind) (channel.Factory, error)
}

// Middleware decorates the adapter built for a channel.
type Middleware func(ch *db.Channel, a channel.Adapter) channel.Adapter

// Recorder persists one record per target attempt.
type Recorder interface {
	Begin(ctx context.Context, ch *db.Channel, target *db.Target, tmpl *db.Template) (*db.Record, error)
	Complete(ctx context.Context, rec *db.Record, out Outcome) error
}

// TargetLister is the target lookup ResolveTargets needs.
type TargetLister interface {
	ListTargetsByType(ctx context.Context, t db.TargetType) ([]*db.Target, error)
	GetTargets(ctx context.Context, ids []uuid.UUID) ([]*db.Target, error)
}

// Engine performs dispatches. It is safe for concurrent use.
type Engine struct {
	resolver   Resolver
	recorder   Recorder
	middleware []Middleware
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithRecorder makes DispatchMany create and complete a record per target.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithMiddleware wraps every adapter the engine builds, outermost last.
func WithMiddleware(mw ...Middleware) Option {
	return func(e *Engine) { e.middleware = append(e.middleware, mw...) }
}

// WithRateLimit caps outbound sends per second across all channels.
// perSecond <= 0 disables the limit.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(e *Engine) {
		if perSecond <= 0 {
			e.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// NewEngine creates a dispatch engine
func NewEngine(resolver Resolver, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{resolver: resolver, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DispatchOne sends one notification to target through ch. A disabled
// channel fails with ErrChannelDisabled before any adapter is built.
func (e *Engine) DispatchOne(ctx context.Context, ch *db.Channel, target, title, content string, opts channel.Options) (out Outcome) {
	if !ch.Enabled {
		return Outcome{Err: fmt.Errorf("%w: %s", ErrChannelDisabled, ch.Name)}
	}

	adapter, err := e.adapterFor(ch)
	if err != nil {
		return Outcome{Err: err}
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return Outcome{Err: fmt.Errorf("dispatch rate limit: %w", err)}
		}
	}

	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("adapter panicked",
				zap.String("channel_id", ch.ID.String()),
				zap.Any("panic", p),
			)
			out = Outcome{Err: fmt.Errorf("%s adapter panic: %v", ch.Kind, p)}
		}
	}()

	start := time.Now()
	resp, err := adapter.Send(ctx, target, title, content, opts)
	result := "success"
	if err != nil {
		result = "failed"
	}
	metrics.RecordDispatch(string(ch.Kind), result, time.Since(start))

	if err != nil {
		e.logger.Info("dispatch failed",
			zap.String("channel_id", ch.ID.String()),
			zap.String("kind", string(ch.Kind)),
			zap.Error(err),
		)
		return Outcome{Err: err}
	}
	return Outcome{Success: true, Response: resp}
}

func (e *Engine) adapterFor(ch *db.Channel) (channel.Adapter, error) {
	factory, err := e.resolver.Resolve(ch.Kind)
	if err != nil {
		return nil, err
	}
	adapter, err := factory(ch.Config)
	if err != nil {
		return nil, err
	}
	for _, mw := range e.middleware {
		adapter = mw(ch, adapter)
	}
	return adapter, nil
}

// Batch is one notification addressed to many targets of a channel.
type Batch struct {
	Channel  *db.Channel
	Targets  []*db.Target
	Template *db.Template
	Title    string
	Content  string
	Options  channel.Options
}

// DispatchMany sends b to each target in order. Each target gets its own
// record, dispatch and completion; a failure never skips later targets.
// The only error is ErrChannelDisabled, returned before anything happens.
func (e *Engine) DispatchMany(ctx context.Context, b Batch) (*Aggregate, error) {
	if !b.Channel.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrChannelDisabled, b.Channel.Name)
	}

	agg := &Aggregate{Results: make([]Result, 0, len(b.Targets))}
	for _, target := range b.Targets {
		agg.Results = append(agg.Results, e.dispatchTarget(ctx, b, target))
	}

	e.logger.Info("batch dispatched",
		zap.String("channel_id", b.Channel.ID.String()),
		zap.Int("total", agg.Total()),
		zap.Int("succeeded", agg.Succeeded()),
		zap.String("overall", string(agg.Overall())),
	)
	return agg, nil
}

func (e *Engine) dispatchTarget(ctx context.Context, b Batch, target *db.Target) Result {
	res := Result{Target: target}

	var rec *db.Record
	if e.recorder != nil {
		var err error
		rec, err = e.recorder.Begin(ctx, b.Channel, target, b.Template)
		if err != nil {
			e.logger.Error("failed to begin record",
				zap.String("target_id", target.ID.String()),
				zap.Error(err),
			)
			res.Outcome = Outcome{Err: fmt.Errorf("begin record: %w", err)}
			return res
		}
		res.RecordID = rec.ID
	}

	res.Outcome = e.DispatchOne(ctx, b.Channel, target.Value, b.Title, b.Content, b.Options)

	if rec != nil {
		if err := e.recorder.Complete(ctx, rec, res.Outcome); err != nil {
			e.logger.Error("failed to complete record",
				zap.String("record_id", rec.ID.String()),
				zap.Error(err),
			)
		}
	}
	return res
}

// ResolveTargets picks the targets of a send. With all set or nil ids it
// returns every target whose type matches the channel kind; otherwise it
// loads the given ids and fails with db.ErrNotFound when none exist. An
// explicit empty list selects nothing.
func ResolveTargets(ctx context.Context, store TargetLister, ch *db.Channel, ids []uuid.UUID, all bool) ([]*db.Target, error) {
	if all || ids == nil {
		targetType, ok := db.TargetTypeFor(ch.Kind)
		if !ok {
			return nil, fmt.Errorf("%w: %q", channel.ErrUnsupportedKind, ch.Kind)
		}
		targets, err := store.ListTargetsByType(ctx, targetType)
		if err != nil {
			return nil, fmt.Errorf("list %s targets: %w", targetType, err)
		}
		return targets, nil
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("empty target list: %w", db.ErrNotFound)
	}

	targets, err := store.GetTargets(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load targets: %w", err)
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("no targets found for %d ids: %w", len(ids), db.ErrNotFound)
	}
	return targets, nil
}
