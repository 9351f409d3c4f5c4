package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hazyhaar/fouille/fouille/internal/result"
)

// BreakerState represents the circuit breaker state.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // calls pass through
	BreakerOpen                         // calls rejected immediately
	BreakerHalfOpen                     // one probe call allowed
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// BreakerConfig is the YAML form of the breaker options. Zero values keep
// the defaults.
type BreakerConfig struct {
	Threshold int           `yaml:"threshold"`
	Reset     time.Duration `yaml:"reset"`
}

func (c BreakerConfig) options() []BreakerOption {
	var opts []BreakerOption
	if c.Threshold > 0 {
		opts = append(opts, WithBreakerThreshold(c.Threshold))
	}
	if c.Reset > 0 {
		opts = append(opts, WithBreakerResetTimeout(c.Reset))
	}
	return opts
}

// CircuitBreaker trips after threshold consecutive failures and stays open
// for resetTimeout; then a single probe decides whether it closes again.
type CircuitBreaker struct {
	mu           sync.Mutex
	state        BreakerState
	failures     int
	probing      bool
	threshold    int
	resetTimeout time.Duration
	lastFailure  time.Time
	now          func() time.Time
}

// BreakerOption configures a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithBreakerThreshold sets the failure count that trips the breaker open.
func WithBreakerThreshold(n int) BreakerOption {
	return func(cb *CircuitBreaker) { cb.threshold = n }
}

// WithBreakerResetTimeout sets how long the breaker stays open.
func WithBreakerResetTimeout(d time.Duration) BreakerOption {
	return func(cb *CircuitBreaker) { cb.resetTimeout = d }
}

// WithBreakerClock sets a custom clock function (for testing).
func WithBreakerClock(fn func() time.Time) BreakerOption {
	return func(cb *CircuitBreaker) { cb.now = fn }
}

// NewCircuitBreaker creates a breaker: 3 failures to open, 60s reset.
func NewCircuitBreaker(opts ...BreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		threshold:    3,
		resetTimeout: 60 * time.Second,
		now:          time.Now,
	}
	for _, o := range opts {
		o(cb)
	}
	return cb
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeTransition()
	return cb.state
}

// Allow reports whether a call may proceed. In half-open state only one
// probe is admitted at a time.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeTransition()
	switch cb.state {
	case BreakerOpen:
		return false
	case BreakerHalfOpen:
		if cb.probing {
			return false
		}
		cb.probing = true
	}
	return true
}

// RecordSuccess closes the breaker and clears the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = BreakerClosed
	cb.failures = 0
	cb.probing = false
}

// RecordFailure counts a failure; a failed probe reopens immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.lastFailure = cb.now()
	cb.probing = false
	switch cb.state {
	case BreakerClosed:
		cb.failures++
		if cb.failures >= cb.threshold {
			cb.state = BreakerOpen
		}
	case BreakerHalfOpen:
		cb.state = BreakerOpen
	}
}

// maybeTransition must be called with mu held.
func (cb *CircuitBreaker) maybeTransition() {
	if cb.state == BreakerOpen && cb.now().Sub(cb.lastFailure) >= cb.resetTimeout {
		cb.state = BreakerHalfOpen
		cb.probing = false
	}
}

// ErrCircuitOpen is returned when an engine's breaker rejects the call.
type ErrCircuitOpen struct {
	Engine string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("engine: circuit open: %s", e.Engine)
}

type guarded struct {
	Engine
	cb *CircuitBreaker
}

// WithBreaker wraps e so calls are rejected with *ErrCircuitOpen while cb
// is open. Caller cancellation is not counted as a backend failure.
func WithBreaker(e Engine, cb *CircuitBreaker) Engine {
	return &guarded{Engine: e, cb: cb}
}

func (g *guarded) Search(ctx context.Context, query string, max int) ([]result.Hit, error) {
	if !g.cb.Allow() {
		return nil, &ErrCircuitOpen{Engine: g.Name()}
	}
	hits, err := g.Engine.Search(ctx, query, max)
	switch {
	case err == nil:
		g.cb.RecordSuccess()
	case ctx.Err() != nil:
		// Caller went away; release a half-open probe without judging.
		g.cb.mu.Lock()
		g.cb.probing = false
		g.cb.mu.Unlock()
	default:
		g.cb.RecordFailure()
	}
	return hits, err
}
