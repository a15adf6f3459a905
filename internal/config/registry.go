package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/govorun-ai/govorun/internal/intent"
	"github.com/govorun-ai/govorun/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	stt    map[string]func(ProviderEntry) (stt.Provider, error)
	stream map[string]func(ProviderEntry) (stt.StreamProvider, error)
	intent map[string]func(ProviderEntry) (intent.Detector, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:    make(map[string]func(ProviderEntry) (stt.Provider, error)),
		stream: make(map[string]func(ProviderEntry) (stt.StreamProvider, error)),
		intent: make(map[string]func(ProviderEntry) (intent.Detector, error)),
	}
}

// RegisterSTT registers a batch transcription provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterStream registers a streaming transcription provider factory under name.
func (r *Registry) RegisterStream(name string, factory func(ProviderEntry) (stt.StreamProvider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stream[name] = factory
}

// RegisterIntent registers an intent detector factory under name.
func (r *Registry) RegisterIntent(name string, factory func(ProviderEntry) (intent.Detector, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intent[name] = factory
}

// CreateSTT instantiates a batch transcription provider using the factory
// registered under entry.Name. Returns [ErrProviderNotRegistered] if no
// factory has been registered for that name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateStream instantiates a streaming transcription provider using the
// factory registered under entry.Name.
func (r *Registry) CreateStream(entry ProviderEntry) (stt.StreamProvider, error) {
	r.mu.RLock()
	factory, ok := r.stream[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stream/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateIntent instantiates an intent detector using the factory registered
// under entry.Name.
func (r *Registry) CreateIntent(entry ProviderEntry) (intent.Detector, error) {
	r.mu.RLock()
	factory, ok := r.intent[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: intent/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
