// Package mock provides a test double for voice.Engine and voice.Provider.
//
// Engine records Start/Stop calls and lets tests push events to subscribed
// listeners with Emit, in the same synchronous way a real engine delivers them.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/mockinterview/pkg/provider/voice"
)

// Engine is a mock implementation of voice.Engine.
type Engine struct {
	mu sync.Mutex

	// StartErr, if non-nil, is returned from Start.
	StartErr error

	// StartFunc, when set, runs inside Start before StartErr is returned.
	// It may call Emit to simulate events arriving during the handshake.
	StartFunc func(ctx context.Context, cfg voice.AgentConfig) error

	// StopErr, if non-nil, is returned from Stop.
	StopErr error

	// StartCalls records the config of every Start call.
	StartCalls []voice.AgentConfig

	// StopCalls counts Stop calls.
	StopCalls int

	listeners map[int]voice.Listener
	nextID    int

	// Subscribes and Unsubscribes count listener registrations and removals.
	Subscribes   int
	Unsubscribes int

	dispatchMu sync.Mutex
}

// Start records the call and returns StartErr.
func (e *Engine) Start(ctx context.Context, cfg voice.AgentConfig) error {
	e.mu.Lock()
	e.StartCalls = append(e.StartCalls, cfg)
	fn, err := e.StartFunc, e.StartErr
	e.mu.Unlock()
	if fn != nil {
		if ferr := fn(ctx, cfg); ferr != nil {
			return ferr
		}
	}
	return err
}

// Stop records the call and returns StopErr.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.StopCalls++
	return e.StopErr
}

// Subscribe registers l.
func (e *Engine) Subscribe(l voice.Listener) func() {
	e.mu.Lock()
	if e.listeners == nil {
		e.listeners = make(map[int]voice.Listener)
	}
	id := e.nextID
	e.nextID++
	e.listeners[id] = l
	e.Subscribes++
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.listeners, id)
			e.Unsubscribes++
			e.mu.Unlock()
		})
	}
}

// Emit delivers ev synchronously to every current listener.
func (e *Engine) Emit(ev voice.Event) {
	e.mu.Lock()
	ls := make([]voice.Listener, 0, len(e.listeners))
	for id := 0; id < e.nextID; id++ {
		if l, ok := e.listeners[id]; ok {
			ls = append(ls, l)
		}
	}
	e.mu.Unlock()

	e.dispatchMu.Lock()
	defer e.dispatchMu.Unlock()
	for _, l := range ls {
		l(ev)
	}
}

// EmitFinal is shorthand for emitting a final transcript message.
func (e *Engine) EmitFinal(role, text string) {
	e.Emit(voice.Event{
		Kind: voice.EventMessage,
		Message: &voice.Message{
			Type:           voice.MessageTypeTranscript,
			TranscriptType: voice.TranscriptFinal,
			Role:           role,
			Transcript:     text,
		},
	})
}

// EmitError is shorthand for emitting an error event.
func (e *Engine) EmitError(msg string) {
	e.Emit(voice.Event{Kind: voice.EventError, Error: &voice.ErrorPayload{Message: msg}})
}

// ListenerCount returns the number of registered listeners.
func (e *Engine) ListenerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}

// Starts returns a copy of the recorded Start configs.
func (e *Engine) Starts() []voice.AgentConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]voice.AgentConfig, len(e.StartCalls))
	copy(out, e.StartCalls)
	return out
}

// Stops returns the number of Stop calls.
func (e *Engine) Stops() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.StopCalls
}

// Provider hands out engines. When Engines is non-empty they are returned in
// order; afterwards (or when empty) a fresh Engine is created per call.
type Provider struct {
	mu sync.Mutex

	Engines []*Engine

	// Created records every engine handed out.
	Created []*Engine

	// Workflows and ToolHandler record WorkflowHost calls.
	Workflows   map[string]voice.Assistant
	ToolHandler voice.ToolHandler
}

// NewEngine returns the next queued engine or a fresh one.
func (p *Provider) NewEngine() voice.Engine {
	p.mu.Lock()
	defer p.mu.Unlock()
	var e *Engine
	if len(p.Engines) > 0 {
		e = p.Engines[0]
		p.Engines = p.Engines[1:]
	} else {
		e = &Engine{}
	}
	p.Created = append(p.Created, e)
	return e
}

// Last returns the most recently created engine, or nil.
func (p *Provider) Last() *Engine {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Created) == 0 {
		return nil
	}
	return p.Created[len(p.Created)-1]
}

// RegisterWorkflow records a workflow.
func (p *Provider) RegisterWorkflow(id string, a voice.Assistant) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Workflows == nil {
		p.Workflows = make(map[string]voice.Assistant)
	}
	p.Workflows[id] = a
}

// SetToolHandler records the handler.
func (p *Provider) SetToolHandler(h voice.ToolHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ToolHandler = h
}

var (
	_ voice.Engine       = (*Engine)(nil)
	_ voice.Provider     = (*Provider)(nil)
	_ voice.WorkflowHost = (*Provider)(nil)
)
