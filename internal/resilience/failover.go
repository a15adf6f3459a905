package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrBackendsExhausted is returned when every backend in a [Failover] chain
// fails or sits behind an open breaker.
var ErrBackendsExhausted = errors.New("resilience: every backend failed")

// FailoverConfig configures the per-backend [Breaker] created for each link
// in a [Failover] chain.
type FailoverConfig struct {
	Breaker BreakerConfig
}

// chainLink pairs a backend with its dedicated breaker.
type chainLink[T any] struct {
	name    string
	backend T
	breaker *Breaker
}

// Failover chains a primary and any number of standby backends of the same
// provider type. Calls walk the chain in registration order, skipping links
// whose breaker is open, until one succeeds.
//
// Failover is safe for concurrent use once the chain is assembled.
type Failover[T any] struct {
	chain      []chainLink[T]
	breakerCfg BreakerConfig
}

// NewFailover creates a [Failover] with primary as the first link. Standbys
// are appended with [Failover.Add].
func NewFailover[T any](primary T, name string, cfg FailoverConfig) *Failover[T] {
	f := &Failover[T]{breakerCfg: cfg.Breaker}
	f.Add(name, primary)
	return f
}

// Add appends a standby backend to the end of the chain.
func (f *Failover[T]) Add(name string, backend T) {
	bc := f.breakerCfg
	bc.Backend = name
	f.chain = append(f.chain, chainLink[T]{
		name:    name,
		backend: backend,
		breaker: NewBreaker(bc),
	})
}

// Do runs fn against each backend in chain order until one succeeds.
func (f *Failover[T]) Do(fn func(T) error) error {
	_, err := Attempt(f, func(backend T) (struct{}, error) {
		return struct{}{}, fn(backend)
	})
	return err
}

// Attempt runs fn against each backend in chain order until one succeeds,
// returning the successful result. Backends behind an open breaker are
// skipped. When the chain is exhausted the last error is wrapped in
// [ErrBackendsExhausted].
//
// Attempt is a package-level function because Go methods cannot introduce
// the result type parameter.
func Attempt[T any, R any](f *Failover[T], fn func(T) (R, error)) (R, error) {
	var lastErr error
	for i := range f.chain {
		link := &f.chain[i]

		var result R
		err := link.breaker.Call(func() error {
			var callErr error
			result, callErr = fn(link.backend)
			return callErr
		})
		if err == nil {
			return result, nil
		}

		lastErr = err
		if errors.Is(err, ErrBreakerOpen) {
			slog.Debug("skipping tripped backend", "backend", link.name)
		} else {
			slog.Warn("backend failed, trying standby",
				"backend", link.name, "error", err)
		}
	}

	var zero R
	return zero, fmt.Errorf("%w: %v", ErrBackendsExhausted, lastErr)
}
