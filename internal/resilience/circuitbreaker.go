// Package resilience guards calls to external tools (ffmpeg, ffprobe, sox)
// with circuit breakers so that a missing or broken binary fails fast
// instead of being spawned for every request.
//
// A [CircuitBreaker] only counts failures its trip classifier accepts. Bad
// input media makes a tool exit non-zero too, and must not take the tool
// offline for everybody else. [Group] holds one breaker per tool name.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"
)

// ErrCircuitOpen is wrapped by every [*OpenError].
var ErrCircuitOpen = errors.New("circuit breaker is open")

// OpenError is returned by [CircuitBreaker.Do] while the breaker rejects calls.
type OpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("%s: %v (retry in %s)", e.Name, ErrCircuitOpen, e.RetryAfter.Round(time.Second))
}

func (e *OpenError) Unwrap() error { return ErrCircuitOpen }

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls until the cooldown elapses.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through.
	StateHalfOpen
)

// String returns the human-readable name of the state.
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

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name identifies the guarded tool in errors and logs.
	Name string

	// MaxFailures is the number of consecutive tripping failures that open
	// the breaker. Default: 3.
	MaxFailures int

	// Cooldown is how long the breaker stays open. Default: 30s.
	Cooldown time.Duration

	// Probes is the number of successful half-open calls needed to close
	// again. Default: 1.
	Probes int

	// Trips reports whether err counts as a tool failure. Default: every
	// error except context cancellation.
	Trips func(err error) bool

	// Logger receives state transitions. Default: slog.Default().
	Logger *slog.Logger

	// Now is the clock. Default: time.Now.
	Now func() time.Time
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	probes      int
	trips       func(error) bool
	log         *slog.Logger
	now         func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	inFlight  int
	successes int
}

// NewCircuitBreaker creates a [CircuitBreaker]. Zero-value config fields are
// replaced with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 1
	}
	if cfg.Trips == nil {
		cfg.Trips = TripOnAny
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{
		name:        cfg.Name,
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
		probes:      cfg.Probes,
		trips:       cfg.Trips,
		log:         cfg.Logger.With("breaker", cfg.Name),
		now:         cfg.Now,
	}
}

// TripOnAny counts every error except context cancellation.
func TripOnAny(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// Name returns the configured name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Do runs fn unless the breaker is open. A cancelled ctx is returned
// without calling fn and without touching the failure count.
func (cb *CircuitBreaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	cb.record(probe, err)
	return err
}

func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		elapsed := cb.now().Sub(cb.openedAt)
		if elapsed < cb.cooldown {
			return false, &OpenError{Name: cb.name, RetryAfter: cb.cooldown - elapsed}
		}
		cb.state = StateHalfOpen
		cb.inFlight, cb.successes = 0, 0
		cb.log.Info("circuit breaker half-open")
		fallthrough
	case StateHalfOpen:
		if cb.inFlight >= cb.probes {
			return false, &OpenError{Name: cb.name}
		}
		cb.inFlight++
		return true, nil
	}
	return false, nil
}

func (cb *CircuitBreaker) record(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe {
		cb.inFlight--
	}
	if err != nil && cb.trips(err) {
		if probe {
			cb.open("probe failed", err)
			return
		}
		cb.failures++
		if cb.state == StateClosed && cb.failures >= cb.maxFailures {
			cb.open("failure threshold reached", err)
		}
		return
	}

	if probe && cb.state == StateHalfOpen {
		cb.successes++
		if cb.successes >= cb.probes {
			cb.state = StateClosed
			cb.failures = 0
			cb.log.Info("circuit breaker closed")
		}
		return
	}
	cb.failures = 0
}

// open must be called with cb.mu held.
func (cb *CircuitBreaker) open(reason string, err error) {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.log.Warn("circuit breaker opened", "reason", reason, "consecutive_failures", cb.failures, "err", err)
}

// State returns the current [State]. An open breaker whose cooldown has
// elapsed reports [StateHalfOpen]; the transition itself happens on the
// next call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cooldown {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failures, cb.inFlight, cb.successes = 0, 0, 0
	cb.log.Info("circuit breaker reset")
}

// Group lazily creates one breaker per name from a shared template.
type Group struct {
	template CircuitBreakerConfig

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewGroup returns a group whose breakers are configured like template.
func NewGroup(template CircuitBreakerConfig) *Group {
	return &Group{template: template, breakers: make(map[string]*CircuitBreaker)}
}

// Get returns the breaker for name, creating it on first use.
func (g *Group) Get(name string) *CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	if cb, ok := g.breakers[name]; ok {
		return cb
	}
	cfg := g.template
	cfg.Name = name
	cb := NewCircuitBreaker(cfg)
	g.breakers[name] = cb
	return cb
}

// States returns a snapshot of every breaker's state keyed by name.
func (g *Group) States() map[string]State {
	g.mu.Lock()
	bs := maps.Clone(g.breakers)
	g.mu.Unlock()

	out := make(map[string]State, len(bs))
	for name, cb := range bs {
		out[name] = cb.State()
	}
	return out
}
