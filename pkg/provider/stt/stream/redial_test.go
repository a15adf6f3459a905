package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/govorun-ai/govorun/pkg/provider/stt"
	sttmock "github.com/govorun-ai/govorun/pkg/provider/stt/mock"
)

// scriptedProvider returns a scripted session or error per dial attempt.
type scriptedProvider struct {
	mu    sync.Mutex
	dials int
	fn    func(attempt int) (stt.Session, error)
}

func (p *scriptedProvider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.Session, error) {
	p.mu.Lock()
	p.dials++
	n := p.dials
	p.mu.Unlock()
	return p.fn(n)
}

func (p *scriptedProvider) dialCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dials
}

func TestRedialer_RetriesInitialDial(t *testing.T) {
	sess := sttmock.NewSession(4)
	p := &scriptedProvider{fn: func(attempt int) (stt.Session, error) {
		if attempt < 3 {
			return nil, errors.New("gateway unavailable")
		}
		return sess, nil
	}}

	r := NewRedialer(p, WithBackoff(time.Millisecond, 4*time.Millisecond))
	got, err := r.StartStream(context.Background(), stt.StreamConfig{})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer got.Close()

	if p.dialCount() != 3 {
		t.Errorf("dials = %d, want 3", p.dialCount())
	}
}

func TestRedialer_GivesUpAfterMaxAttempts(t *testing.T) {
	p := &scriptedProvider{fn: func(int) (stt.Session, error) {
		return nil, errors.New("gateway unavailable")
	}}

	r := NewRedialer(p, WithBackoff(time.Millisecond, time.Millisecond), WithMaxAttempts(3))
	if _, err := r.StartStream(context.Background(), stt.StreamConfig{}); err == nil {
		t.Fatal("StartStream succeeded, want error")
	}
	if p.dialCount() != 3 {
		t.Errorf("dials = %d, want 3", p.dialCount())
	}
}

func TestRedialer_ReconnectsMidStream(t *testing.T) {
	first := sttmock.NewSession(4)
	second := sttmock.NewSession(4)
	p := &scriptedProvider{fn: func(attempt int) (stt.Session, error) {
		if attempt == 1 {
			return first, nil
		}
		return second, nil
	}}

	r := NewRedialer(p, WithBackoff(time.Millisecond, time.Millisecond))
	sess, err := r.StartStream(context.Background(), stt.StreamConfig{})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer sess.Close()

	first.Emit(stt.Result{Text: "before drop", IsFinal: true})
	first.Close() // simulate the gateway dropping the connection

	got := <-sess.Results()
	if got.Text != "before drop" {
		t.Fatalf("first result = %q", got.Text)
	}

	// The wrapper should re-dial and keep forwarding.
	deadline := time.Now().Add(2 * time.Second)
	for p.dialCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if p.dialCount() != 2 {
		t.Fatalf("dials = %d, want 2", p.dialCount())
	}

	second.Emit(stt.Result{Text: "after reconnect", IsFinal: true})
	select {
	case got = <-sess.Results():
	case <-time.After(2 * time.Second):
		t.Fatal("no result after reconnect")
	}
	if got.Text != "after reconnect" {
		t.Errorf("second result = %q", got.Text)
	}
}

func TestRedialer_CloseStopsForwarding(t *testing.T) {
	inner := sttmock.NewSession(4)
	p := &scriptedProvider{fn: func(int) (stt.Session, error) { return inner, nil }}

	r := NewRedialer(p)
	sess, err := r.StartStream(context.Background(), stt.StreamConfig{})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}

	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// The outer results channel must close once the inner stream ends.
	select {
	case _, ok := <-sess.Results():
		if ok {
			t.Fatal("unexpected result after close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("results channel did not close")
	}

	if err := sess.SendAudio([]float32{0.1}); !errors.Is(err, stt.ErrSessionClosed) {
		t.Errorf("SendAudio after close = %v, want ErrSessionClosed", err)
	}
}
