package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/channel"
	"github.com/lalithlochan/beacon/internal/db"
)

// Set holds one breaker per channel, created on first use.
type Set struct {
	mu       sync.Mutex
	base     Config
	logger   *zap.Logger
	breakers map[uuid.UUID]*CircuitBreaker
}

// NewSet creates a breaker set. base supplies thresholds and the state hook;
// Name is replaced by each channel's name.
func NewSet(base Config, logger *zap.Logger) *Set {
	return &Set{
		base:     base,
		logger:   logger,
		breakers: make(map[uuid.UUID]*CircuitBreaker),
	}
}

// For returns the breaker of ch, creating it if needed.
func (s *Set) For(ch *db.Channel) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cb, ok := s.breakers[ch.ID]; ok {
		return cb
	}
	cfg := s.base
	cfg.Name = ch.Name
	cb := New(cfg, s.logger)
	s.breakers[ch.ID] = cb
	return cb
}

// Reset closes the breaker of the channel with id, if one exists.
func (s *Set) Reset(id uuid.UUID) bool {
	s.mu.Lock()
	cb, ok := s.breakers[id]
	s.mu.Unlock()
	if ok {
		cb.Reset()
	}
	return ok
}

// Stats returns a snapshot of every breaker, ordered by name.
func (s *Set) Stats() []Stats {
	s.mu.Lock()
	all := make([]*CircuitBreaker, 0, len(s.breakers))
	for _, cb := range s.breakers {
		all = append(all, cb)
	}
	s.mu.Unlock()

	out := make([]Stats, 0, len(all))
	for _, cb := range all {
		out = append(out, cb.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Middleware wraps each adapter so calls for a channel go through that
// channel's breaker.
func (s *Set) Middleware() func(ch *db.Channel, a channel.Adapter) channel.Adapter {
	return func(ch *db.Channel, a channel.Adapter) channel.Adapter {
		return &protectedAdapter{
			next:    a,
			kind:    ch.Kind,
			breaker: s.For(ch),
			logger:  s.logger,
		}
	}
}

// protectedAdapter fails fast while its channel's breaker is open.
type protectedAdapter struct {
	next    channel.Adapter
	kind    db.ChannelKind
	breaker *CircuitBreaker
	logger  *zap.Logger
}

func (p *protectedAdapter) Send(ctx context.Context, target, title, content string, opts channel.Options) (channel.Response, error) {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit open, skipping upstream call",
			zap.String("breaker", p.breaker.Name()),
			zap.String("state", p.breaker.GetState().String()),
		)
		return nil, &channel.DeliveryError{
			Kind:    p.kind,
			Message: fmt.Sprintf("channel %s unavailable", p.breaker.Name()),
			Err:     ErrCircuitOpen,
		}
	}

	resp, err := p.next.Send(ctx, target, title, content, opts)
	switch {
	case err == nil:
		p.breaker.RecordSuccess()
	case errors.Is(err, context.Canceled):
		// The caller gave up; says nothing about the upstream.
	default:
		p.breaker.RecordFailure()
	}
	return resp, err
}
