package resilience

import (
	"errors"
	"testing"
	"time"
)

func newStringChain(cfg BreakerConfig) *Failover[string] {
	f := NewFailover("whisper", "whisper", FailoverConfig{Breaker: cfg})
	f.Add("gateway", "gateway")
	return f
}

func TestFailover_PrimaryServes(t *testing.T) {
	f := newStringChain(BreakerConfig{TripAfter: 3})

	var served string
	err := f.Do(func(backend string) error {
		served = backend
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if served != "whisper" {
		t.Fatalf("served by %q, want whisper", served)
	}
}

func TestFailover_StandbyTakesOverOnFailure(t *testing.T) {
	f := newStringChain(BreakerConfig{TripAfter: 3})

	var served string
	err := f.Do(func(backend string) error {
		if backend == "whisper" {
			return errBackendDown
		}
		served = backend
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if served != "gateway" {
		t.Fatalf("served by %q, want gateway", served)
	}
}

func TestFailover_ChainExhausted(t *testing.T) {
	f := newStringChain(BreakerConfig{TripAfter: 3})

	err := f.Do(func(string) error { return errBackendDown })
	if !errors.Is(err, ErrBackendsExhausted) {
		t.Fatalf("err = %v, want ErrBackendsExhausted", err)
	}
}

func TestFailover_TrippedPrimaryIsSkipped(t *testing.T) {
	f := newStringChain(BreakerConfig{
		TripAfter: 2,
		Cooldown:  time.Hour,
	})

	// Trip the primary's breaker.
	for range 2 {
		_ = f.Do(func(backend string) error {
			if backend == "whisper" {
				return errBackendDown
			}
			return nil
		})
	}

	var served string
	err := f.Do(func(backend string) error {
		served = backend
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if served != "gateway" {
		t.Fatalf("served by %q, want gateway while whisper is tripped", served)
	}
}

func TestAttempt_ReturnsPrimaryResult(t *testing.T) {
	f := NewFailover(16000, "narrow", FailoverConfig{
		Breaker: BreakerConfig{TripAfter: 3},
	})
	f.Add("wide", 48000)

	rate, err := Attempt(f, func(backend int) (string, error) {
		if backend == 16000 {
			return "narrowband", nil
		}
		return "wideband", nil
	})
	if err != nil {
		t.Fatalf("Attempt: %v", err)
	}
	if rate != "narrowband" {
		t.Fatalf("result = %q, want narrowband", rate)
	}
}

func TestAttempt_FailsOverToStandbyResult(t *testing.T) {
	f := NewFailover(16000, "narrow", FailoverConfig{
		Breaker: BreakerConfig{TripAfter: 3},
	})
	f.Add("wide", 48000)

	rate, err := Attempt(f, func(backend int) (string, error) {
		if backend == 16000 {
			return "", errBackendDown
		}
		return "wideband", nil
	})
	if err != nil {
		t.Fatalf("Attempt: %v", err)
	}
	if rate != "wideband" {
		t.Fatalf("result = %q, want wideband", rate)
	}
}

func TestAttempt_ChainExhausted(t *testing.T) {
	f := NewFailover(16000, "narrow", FailoverConfig{
		Breaker: BreakerConfig{TripAfter: 3},
	})

	_, err := Attempt(f, func(int) (string, error) {
		return "", errBackendDown
	})
	if !errors.Is(err, ErrBackendsExhausted) {
		t.Fatalf("err = %v, want ErrBackendsExhausted", err)
	}
}
