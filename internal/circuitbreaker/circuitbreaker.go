// Package circuitbreaker stops a dispatcher from hammering a channel whose
// upstream keeps failing. Each channel gets its own breaker.
package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the breaker position.
//
//	Closed -> Open:      consecutive failures reach MaxFailures
//	Open -> HalfOpen:    RecoveryTimeout elapsed since the last failure
//	HalfOpen -> Closed:  a probe succeeds
//	HalfOpen -> Open:    a probe fails
type State int

const (
	StateClosed   State = iota // calls pass through
	StateOpen                  // calls are rejected without reaching the upstream
	StateHalfOpen              // a limited number of probes may pass
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is rejected by an open breaker.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config holds the configuration for a CircuitBreaker.
type Config struct {
	// Name identifies the breaker in logs and metrics, usually the channel name.
	Name string

	// MaxFailures is the number of consecutive failures that opens the breaker.
	MaxFailures int

	// RecoveryTimeout is how long the breaker stays open before probing.
	RecoveryTimeout time.Duration

	// HalfOpenMaxRequests caps the probes allowed while half-open.
	HalfOpenMaxRequests int

	// OnStateChange, when set, is called after every transition with the
	// lock released.
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns the defaults used for channel breakers.
func DefaultConfig(name string) Config {
	return Config{
		Name:                name,
		MaxFailures:         5,
		RecoveryTimeout:     30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// CircuitBreaker tracks consecutive failures of one upstream.
type CircuitBreaker struct {
	mu     sync.RWMutex
	config Config
	logger *zap.Logger
	now    func() time.Time

	state            State
	failureCount     int
	lastFailureTime  time.Time
	lastStateChange  time.Time
	halfOpenRequests int

	totalRequests  int64
	totalFailures  int64
	totalSuccesses int64
	totalRejected  int64
}

// New creates a new CircuitBreaker with the given configuration.
func New(cfg Config, logger *zap.Logger) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = 1
	}

	cb := &CircuitBreaker{
		config: cfg,
		logger: logger,
		now:    time.Now,
		state:  StateClosed,
	}
	cb.lastStateChange = cb.now()
	return cb
}

// Name returns the configured breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.config.Name
}

// Allow reports whether a call may proceed. An open breaker whose recovery
// timeout has passed moves to half-open and lets the first probe through.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	cb.totalRequests++

	var (
		allowed bool
		changed func()
	)
	switch cb.state {
	case StateClosed:
		allowed = true

	case StateOpen:
		if cb.now().Sub(cb.lastFailureTime) >= cb.config.RecoveryTimeout {
			changed = cb.transitionTo(StateHalfOpen)
			cb.halfOpenRequests = 1
			allowed = true
		} else {
			cb.totalRejected++
		}

	case StateHalfOpen:
		if cb.halfOpenRequests < cb.config.HalfOpenMaxRequests {
			cb.halfOpenRequests++
			allowed = true
		} else {
			cb.totalRejected++
		}
	}
	cb.mu.Unlock()

	if changed != nil {
		changed()
	}
	return allowed
}

// RecordSuccess resets the failure streak and closes a half-open breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	cb.totalSuccesses++
	cb.failureCount = 0

	var changed func()
	if cb.state == StateHalfOpen {
		changed = cb.transitionTo(StateClosed)
	}
	cb.mu.Unlock()

	if changed != nil {
		changed()
	}
}

// RecordFailure extends the failure streak. It opens a closed breaker at
// MaxFailures and reopens a half-open one immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	cb.totalFailures++
	cb.failureCount++
	cb.lastFailureTime = cb.now()

	var changed func()
	switch cb.state {
	case StateClosed:
		if cb.failureCount >= cb.config.MaxFailures {
			changed = cb.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		changed = cb.transitionTo(StateOpen)
	}
	cb.mu.Unlock()

	if changed != nil {
		changed()
	}
}

// GetState returns the current state of the circuit breaker.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Stats is a point-in-time snapshot of a breaker.
type Stats struct {
	Name            string `json:"name"`
	State           string `json:"state"`
	FailureCount    int    `json:"failure_count"`
	TotalRequests   int64  `json:"total_requests"`
	TotalFailures   int64  `json:"total_failures"`
	TotalSuccesses  int64  `json:"total_successes"`
	TotalRejected   int64  `json:"total_rejected"`
	LastFailure     string `json:"last_failure,omitempty"`
	LastStateChange string `json:"last_state_change"`
}

// Stats returns current circuit breaker statistics.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	s := Stats{
		Name:            cb.config.Name,
		State:           cb.state.String(),
		FailureCount:    cb.failureCount,
		TotalRequests:   cb.totalRequests,
		TotalFailures:   cb.totalFailures,
		TotalSuccesses:  cb.totalSuccesses,
		TotalRejected:   cb.totalRejected,
		LastStateChange: cb.lastStateChange.Format(time.RFC3339),
	}
	if !cb.lastFailureTime.IsZero() {
		s.LastFailure = cb.lastFailureTime.Format(time.RFC3339)
	}
	return s
}

// Reset forces the breaker closed, e.g. after an operator fixed the channel config.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	changed := cb.transitionTo(StateClosed)
	cb.failureCount = 0
	cb.halfOpenRequests = 0
	cb.mu.Unlock()

	if changed != nil {
		changed()
	}
	cb.logger.Info("circuit breaker reset", zap.String("name", cb.config.Name))
}

// transitionTo changes state with the lock held and returns the
// notification to run once the lock is released, or nil.
func (cb *CircuitBreaker) transitionTo(newState State) func() {
	if cb.state == newState {
		return nil
	}

	from := cb.state
	cb.state = newState
	cb.lastStateChange = cb.now()
	cb.halfOpenRequests = 0

	name, failures, hook, logger := cb.config.Name, cb.failureCount, cb.config.OnStateChange, cb.logger
	return func() {
		fields := []zap.Field{
			zap.String("name", name),
			zap.String("from", from.String()),
			zap.String("to", newState.String()),
		}
		if newState == StateOpen {
			logger.Warn("circuit breaker opened", append(fields, zap.Int("failures", failures))...)
		} else {
			logger.Info("circuit breaker state change", fields...)
		}
		if hook != nil {
			hook(name, from, newState)
		}
	}
}

// String returns a human-readable representation.
func (cb *CircuitBreaker) String() string {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return fmt.Sprintf("CircuitBreaker[%s] state=%s failures=%d/%d",
		cb.config.Name, cb.state, cb.failureCount, cb.config.MaxFailures)
}
