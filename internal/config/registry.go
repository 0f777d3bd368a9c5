package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/mockinterview/pkg/provider/llm"
	"github.com/MrWong99/mockinterview/pkg/provider/voice"
)

// ErrProviderNotRegistered is returned when a [ProviderEntry] names a
// provider nobody registered.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its config entry.
type Factory[P any] func(ProviderEntry) (P, error)

type factories[P any] struct {
	kind string
	mu   sync.RWMutex
	byID map[string]Factory[P]
}

func (f *factories[P]) set(name string, fn Factory[P]) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.byID == nil {
		f.byID = make(map[string]Factory[P])
	}
	f.byID[name] = fn
}

func (f *factories[P]) create(e ProviderEntry) (P, error) {
	f.mu.RLock()
	fn, ok := f.byID[e.Name]
	f.mu.RUnlock()
	if !ok {
		var zero P
		return zero, fmt.Errorf("%w: %s %q", ErrProviderNotRegistered, f.kind, e.Name)
	}
	p, err := fn(e)
	if err != nil {
		var zero P
		return zero, fmt.Errorf("config: build %s provider %q: %w", f.kind, e.Name, err)
	}
	return p, nil
}

func (f *factories[P]) names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Sorted(maps.Keys(f.byID))
}

// Registry resolves provider entries to constructed providers. Registering a
// name twice replaces the earlier factory. It is safe for concurrent use.
type Registry struct {
	llm   factories[llm.Provider]
	voice factories[voice.Provider]
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		llm:   factories[llm.Provider]{kind: "llm"},
		voice: factories[voice.Provider]{kind: "voice"},
	}
}

func (r *Registry) RegisterLLM(name string, fn Factory[llm.Provider])     { r.llm.set(name, fn) }
func (r *Registry) RegisterVoice(name string, fn Factory[voice.Provider]) { r.voice.set(name, fn) }

// CreateLLM builds the LLM provider named by e.Name.
func (r *Registry) CreateLLM(e ProviderEntry) (llm.Provider, error) { return r.llm.create(e) }

// CreateVoice builds the voice provider named by e.Name.
func (r *Registry) CreateVoice(e ProviderEntry) (voice.Provider, error) { return r.voice.create(e) }

// LLMNames and VoiceNames list registered provider names in sorted order.
func (r *Registry) LLMNames() []string   { return r.llm.names() }
func (r *Registry) VoiceNames() []string { return r.voice.names() }
