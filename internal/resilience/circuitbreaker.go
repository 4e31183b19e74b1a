// Package resilience wraps calls to upstream dependencies (policy
// repository, context providers) with circuit breaking and retry so a
// failing upstream degrades the engine predictably instead of stalling it.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker rejects a call outright.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker state.
type State string

const (
	// StateClosed allows all calls.
	StateClosed State = "closed"
	// StateOpen rejects calls until the cooldown elapses.
	StateOpen State = "open"
	// StateHalfOpen allows a limited number of probe calls.
	StateHalfOpen State = "half-open"
)

// BreakerConfig defines breaker thresholds.
type BreakerConfig struct {
	// MaxFailures is the consecutive-failure threshold before opening.
	MaxFailures int
	// Cooldown is how long the circuit stays open before allowing probes.
	Cooldown time.Duration
	// HalfOpenProbes is how many consecutive successful probes close the
	// circuit again.
	HalfOpenProbes int
}

// DefaultBreakerConfig returns sensible defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures:    5,
		Cooldown:       15 * time.Second,
		HalfOpenProbes: 2,
	}
}

// Breaker is a minimal consecutive-failure circuit breaker.
type Breaker struct {
	mu     sync.Mutex
	cfg    BreakerConfig
	state  State
	fails  int
	probes int
	opened time.Time
}

// NewBreaker constructs a closed Breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 15 * time.Second
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = 2
	}
	return &Breaker{cfg: cfg, state: StateClosed}
}

// Execute runs fn under breaker protection, honouring ctx cancellation
// before dispatch.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.before(); err != nil {
		return err
	}
	err := fn(ctx)
	b.after(err)
	return err
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(b.opened) < b.cfg.Cooldown {
			return ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.probes = 0
		return nil
	default: // half-open
		if b.probes >= b.cfg.HalfOpenProbes {
			return ErrCircuitOpen
		}
		return nil
	}
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.fails++
		b.probes = 0
		if b.state == StateHalfOpen || b.fails >= b.cfg.MaxFailures {
			b.state = StateOpen
			b.opened = time.Now()
		}
		return
	}

	switch b.state {
	case StateHalfOpen:
		b.probes++
		if b.probes >= b.cfg.HalfOpenProbes {
			b.state = StateClosed
			b.fails = 0
		}
	case StateClosed:
		b.fails = 0
	}
}
