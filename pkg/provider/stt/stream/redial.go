package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/govorun-ai/govorun/pkg/provider/stt"
)

// ErrReconnecting is returned by SendAudio while the underlying gateway
// connection is being re-established. Callers should treat it as transient;
// buffered segments cover the gap via replay.
var ErrReconnecting = errors.New("stream: reconnecting")

const (
	defaultRedialBase     = 500 * time.Millisecond
	defaultRedialMax      = 30 * time.Second
	defaultRedialAttempts = 5
)

// RedialOption configures a [Redialer].
type RedialOption func(*Redialer)

// WithBackoff sets the initial and maximum backoff delays between dial
// attempts. The delay doubles per consecutive failure up to max.
func WithBackoff(base, max time.Duration) RedialOption {
	return func(r *Redialer) {
		if base > 0 {
			r.base = base
		}
		if max > 0 {
			r.max = max
		}
	}
}

// WithMaxAttempts sets how many consecutive dial failures are tolerated
// before the session is abandoned.
func WithMaxAttempts(n int) RedialOption {
	return func(r *Redialer) {
		if n > 0 {
			r.attempts = n
		}
	}
}

// Redialer wraps a [stt.StreamProvider] with automatic reconnection. Session
// establishment is retried with exponential backoff, and a session whose
// result stream ends unexpectedly is re-dialed in the background so the
// caller keeps a single long-lived [stt.Session].
type Redialer struct {
	provider stt.StreamProvider
	base     time.Duration
	max      time.Duration
	attempts int
}

// NewRedialer wraps provider with reconnection behaviour.
func NewRedialer(provider stt.StreamProvider, opts ...RedialOption) *Redialer {
	r := &Redialer{
		provider: provider,
		base:     defaultRedialBase,
		max:      defaultRedialMax,
		attempts: defaultRedialAttempts,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Ensure Redialer implements stt.StreamProvider at compile time.
var _ stt.StreamProvider = (*Redialer)(nil)

// StartStream opens a session, retrying with backoff on dial failure. The
// returned session transparently reconnects if the gateway drops it.
func (r *Redialer) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.Session, error) {
	inner, err := r.dial(ctx, cfg)
	if err != nil {
		return nil, err
	}

	rs := &redialSession{
		redialer: r,
		cur:      inner,
		results:  make(chan stt.Result, resultBuffer),
		done:     make(chan struct{}),
	}
	go rs.run(ctx, cfg)
	return rs, nil
}

// dial attempts to open a session up to r.attempts times with exponential
// backoff between failures.
func (r *Redialer) dial(ctx context.Context, cfg stt.StreamConfig) (stt.Session, error) {
	var lastErr error
	delay := r.base
	for attempt := 1; attempt <= r.attempts; attempt++ {
		sess, err := r.provider.StartStream(ctx, cfg)
		if err == nil {
			return sess, nil
		}
		lastErr = err
		slog.Warn("stream dial failed",
			"attempt", attempt,
			"max_attempts", r.attempts,
			"err", err)

		if attempt == r.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > r.max {
			delay = r.max
		}
	}
	return nil, fmt.Errorf("stream: dial failed after %d attempts: %w", r.attempts, lastErr)
}

// redialSession is a long-lived session facade over a sequence of underlying
// gateway sessions. It implements stt.Session.
type redialSession struct {
	redialer *Redialer
	results  chan stt.Result

	mu  sync.Mutex
	cur stt.Session // nil while reconnecting

	done chan struct{}
	once sync.Once
}

// SendAudio forwards samples to the current underlying session. Returns
// [ErrReconnecting] while the connection is being re-established.
func (s *redialSession) SendAudio(samples []float32) error {
	select {
	case <-s.done:
		return stt.ErrSessionClosed
	default:
	}

	s.mu.Lock()
	cur := s.cur
	s.mu.Unlock()
	if cur == nil {
		return ErrReconnecting
	}
	return cur.SendAudio(samples)
}

// Results returns the merged result stream across reconnects.
func (s *redialSession) Results() <-chan stt.Result { return s.results }

// Close terminates the session and stops any reconnection attempts.
func (s *redialSession) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		cur := s.cur
		s.mu.Unlock()
		if cur != nil {
			_ = cur.Close()
		}
	})
	return nil
}

// run forwards results from the current underlying session and re-dials when
// the gateway drops it. Exits (closing the outer results channel) on Close,
// context cancellation, or when re-dialing is exhausted.
func (s *redialSession) run(ctx context.Context, cfg stt.StreamConfig) {
	defer close(s.results)

	for {
		s.mu.Lock()
		cur := s.cur
		s.mu.Unlock()

		// Forward until the inner result stream ends.
		for r := range cur.Results() {
			select {
			case s.results <- r:
			case <-s.done:
				return
			}
		}

		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		// The gateway dropped the session. Reconnect with backoff.
		s.mu.Lock()
		s.cur = nil
		s.mu.Unlock()

		slog.Info("stream session dropped, reconnecting")
		next, err := s.redialer.dial(ctx, cfg)
		if err != nil {
			slog.Error("stream reconnect failed, closing session", "err", err)
			return
		}

		select {
		case <-s.done:
			_ = next.Close()
			return
		default:
		}

		s.mu.Lock()
		s.cur = next
		s.mu.Unlock()
	}
}

// Ensure redialSession implements stt.Session at compile time.
var _ stt.Session = (*redialSession)(nil)
