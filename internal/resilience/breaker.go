// Package resilience keeps the pipeline transcribing when a speech backend
// misbehaves. A [Breaker] shields a single backend with the closed/open/
// half-open cycle, and [Failover] chains several backends of the same
// provider type so that a tripped primary is bypassed in favour of a standby.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by [Breaker.Call] while the breaker rejects
// calls and the cooldown has not yet elapsed.
var ErrBreakerOpen = errors.New("resilience: breaker open")

// BreakerState is the operating mode of a [Breaker].
type BreakerState int

const (
	// BreakerClosed forwards every call to the backend.
	BreakerClosed BreakerState = iota

	// BreakerOpen rejects calls with [ErrBreakerOpen] until the cooldown
	// elapses.
	BreakerOpen

	// BreakerHalfOpen admits a bounded number of trial calls after the
	// cooldown. Trial successes close the breaker; a single trial failure
	// reopens it.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. The zero value gets usable defaults.
type BreakerConfig struct {
	// Backend labels the protected backend in log output.
	Backend string

	// TripAfter is how many consecutive failures open the breaker.
	// Default: 5.
	TripAfter int

	// Cooldown is how long the breaker stays open before trialing the
	// backend again. Default: 30s.
	Cooldown time.Duration

	// TrialCalls is both the admission cap in the half-open state and the
	// number of successful trials needed to close. Default: 3.
	TrialCalls int
}

// Breaker is a three-state circuit breaker around one speech backend.
type Breaker struct {
	backend    string
	tripAfter  int
	cooldown   time.Duration
	trialCalls int

	mu          sync.Mutex
	state       BreakerState
	failures    int
	lastFailure time.Time
	trialUsed   int
	trialFails  int
}

// NewBreaker creates a [Breaker], replacing zero config fields with defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.TripAfter <= 0 {
		cfg.TripAfter = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.TrialCalls <= 0 {
		cfg.TrialCalls = 3
	}
	return &Breaker{
		backend:    cfg.Backend,
		tripAfter:  cfg.TripAfter,
		cooldown:   cfg.Cooldown,
		trialCalls: cfg.TrialCalls,
		state:      BreakerClosed,
	}
}

// Call runs fn when the breaker admits it. While open it fails fast with
// [ErrBreakerOpen]; once the cooldown elapses a limited number of trial
// calls probe the backend before the breaker closes again.
func (b *Breaker) Call(fn func() error) error {
	trial, err := b.admit()
	if err != nil {
		return err
	}

	err = fn()
	b.settle(trial, err)
	return err
}

// admit decides whether a call may proceed and reports whether it counts as
// a half-open trial.
func (b *Breaker) admit() (trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if time.Since(b.lastFailure) < b.cooldown {
			return false, ErrBreakerOpen
		}
		b.state = BreakerHalfOpen
		b.trialUsed = 0
		b.trialFails = 0
		slog.Info("breaker cooldown elapsed, trialing backend",
			"backend", b.backend)

	case BreakerHalfOpen:
		if b.trialUsed >= b.trialCalls {
			// Trial budget spent, awaiting the outcomes.
			return false, ErrBreakerOpen
		}
	}

	if b.state == BreakerHalfOpen {
		b.trialUsed++
		return true, nil
	}
	return false, nil
}

// settle records the outcome of an admitted call.
func (b *Breaker) settle(trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if !trial {
			b.failures = 0
			return
		}
		if b.trialUsed-b.trialFails >= b.trialCalls {
			b.state = BreakerClosed
			b.failures = 0
			b.trialUsed = 0
			b.trialFails = 0
			slog.Info("backend recovered, breaker closed",
				"backend", b.backend)
		}
		return
	}

	b.lastFailure = time.Now()

	if trial {
		// One failed trial is enough evidence the backend is still down.
		b.trialFails++
		b.state = BreakerOpen
		b.failures = b.tripAfter
		slog.Warn("trial call failed, breaker reopened",
			"backend", b.backend)
		return
	}

	b.failures++
	if b.failures >= b.tripAfter {
		b.state = BreakerOpen
		slog.Warn("breaker tripped",
			"backend", b.backend,
			"consecutive_failures", b.failures)
	}
}

// State reports the current [BreakerState]. An open breaker whose cooldown
// has elapsed reports half-open; the stored state catches up on the next
// [Breaker.Call].
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen && time.Since(b.lastFailure) >= b.cooldown {
		return BreakerHalfOpen
	}
	return b.state
}

// Reset forces the breaker back to [BreakerClosed] and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = BreakerClosed
	b.failures = 0
	b.trialUsed = 0
	b.trialFails = 0
	slog.Info("breaker manually reset", "backend", b.backend)
}
