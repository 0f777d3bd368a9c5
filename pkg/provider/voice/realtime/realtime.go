// Package realtime implements the voice.Engine interface on top of OpenAI's
// Realtime API.
//
// Each engine owns one WebSocket connection to the Realtime endpoint. Server
// events are translated into voice events: transcript deltas become partial
// messages, completed transcriptions become final messages, the first audio
// delta of a response marks the start of agent speech, and the end of the
// socket ends the call. Audio is exchanged as base64-encoded PCM16 and exposed
// through [voice.AudioPort].
package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/mockinterview/pkg/provider/voice"
)

var (
	_ voice.Provider     = (*Provider)(nil)
	_ voice.WorkflowHost = (*Provider)(nil)
	_ voice.Engine       = (*Engine)(nil)
	_ voice.AudioPort    = (*Engine)(nil)
)

const (
	defaultModel              = "gpt-4o-realtime-preview"
	defaultBaseURL            = "wss://api.openai.com/v1/realtime"
	defaultTranscriptionModel = "whisper-1"
	defaultVoice              = "alloy"
)

var (
	// ErrAlreadyStarted is returned when Start is called twice on one engine.
	ErrAlreadyStarted = errors.New("realtime: call already started")

	// ErrNotStarted is returned by Stop before Start.
	ErrNotStarted = errors.New("realtime: call not started")

	// ErrUnknownWorkflow is returned by Start for an unregistered workflow id.
	ErrUnknownWorkflow = errors.New("realtime: unknown workflow")
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the OpenAI model used for calls.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithTranscriptionModel sets the model used to transcribe candidate speech.
func WithTranscriptionModel(model string) Option {
	return func(p *Provider) { p.transcriptionModel = model }
}

// WithWorkflow registers a workflow at construction time.
func WithWorkflow(id string, a voice.Assistant) Option {
	return func(p *Provider) { p.workflows[id] = a }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider creates Realtime engines and holds the workflows they can run.
type Provider struct {
	apiKey             string
	model              string
	baseURL            string
	transcriptionModel string

	mu          sync.RWMutex
	workflows   map[string]voice.Assistant
	toolHandler voice.ToolHandler
}

// New creates a new Realtime Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:             apiKey,
		model:              defaultModel,
		baseURL:            defaultBaseURL,
		transcriptionModel: defaultTranscriptionModel,
		workflows:          make(map[string]voice.Assistant),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// RegisterWorkflow makes a workflow available under id. Registering an
// existing id replaces it for calls started afterwards.
func (p *Provider) RegisterWorkflow(id string, a voice.Assistant) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.workflows[id] = a
}

// SetToolHandler sets the handler for agent tool calls.
func (p *Provider) SetToolHandler(h voice.ToolHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.toolHandler = h
}

// NewEngine returns a fresh, unstarted engine.
func (p *Provider) NewEngine() voice.Engine {
	return &Engine{
		provider:  p,
		listeners: make(map[int]voice.Listener),
		audioCh:   make(chan []byte, 64),
	}
}

func (p *Provider) resolve(cfg voice.AgentConfig) (voice.Assistant, error) {
	if cfg.Assistant != nil {
		return *cfg.Assistant, nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	a, ok := p.workflows[cfg.WorkflowID]
	if !ok {
		return voice.Assistant{}, fmt.Errorf("%w: %q", ErrUnknownWorkflow, cfg.WorkflowID)
	}
	return a, nil
}

func (p *Provider) handler() voice.ToolHandler {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.toolHandler
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Voice                   string               `json:"voice,omitempty"`
	Instructions            string               `json:"instructions,omitempty"`
	Tools                   []oaiTool            `json:"tools,omitempty"`
	InputAudioFormat        string               `json:"input_audio_format"`
	OutputAudioFormat       string               `json:"output_audio_format"`
	InputAudioTranscription *transcriptionParams `json:"input_audio_transcription,omitempty"`
	TurnDetection           *turnDetection       `json:"turn_detection,omitempty"`
}

type transcriptionParams struct {
	Model string `json:"model"`
}

type turnDetection struct {
	Type string `json:"type"`
}

type oaiTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type responseCreateMessage struct {
	Type     string          `json:"type"`
	Response *responseParams `json:"response,omitempty"`
}

type responseParams struct {
	Instructions string `json:"instructions,omitempty"`
}

type createConversationItemMessage struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type   string `json:"type"`
	CallID string `json:"call_id,omitempty"`
	Output string `json:"output,omitempty"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

// serverErrorDetail is the nested error object in an error event:
// {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta /
	// conversation.item.input_audio_transcription.delta
	Delta string `json:"delta,omitempty"`

	// response.audio_transcript.done /
	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// response.function_call_arguments.done
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	CallID    string `json:"call_id,omitempty"`

	Error *serverErrorDetail `json:"error,omitempty"`
}

// ── Engine ─────────────────────────────────────────────────────────────────────

// Engine is a single Realtime call.
type Engine struct {
	provider *Provider

	listenersMu sync.Mutex
	listeners   map[int]voice.Listener
	nextID      int

	// dispatchMu serialises listener invocation.
	dispatchMu sync.Mutex

	mu       sync.Mutex
	conn     *websocket.Conn
	ctx      context.Context
	cancel   context.CancelFunc
	vars     map[string]string
	started  bool
	stopping bool
	failed   bool

	// Owned by the receive loop.
	speaking  bool
	agentText strings.Builder
	userText  strings.Builder

	audioCh   chan []byte
	closeOnce sync.Once
}

// Subscribe implements voice.Engine.
func (e *Engine) Subscribe(l voice.Listener) func() {
	e.listenersMu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = l
	e.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.listenersMu.Lock()
			delete(e.listeners, id)
			e.listenersMu.Unlock()
		})
	}
}

// Start implements voice.Engine. It dials the Realtime endpoint, configures
// the session and emits call-start before any server event is delivered.
func (e *Engine) Start(ctx context.Context, cfg voice.AgentConfig) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.started = true
	e.mu.Unlock()

	assistant, err := e.provider.resolve(cfg)
	if err != nil {
		e.resetStarted()
		return err
	}

	wsURL := fmt.Sprintf("%s?model=%s", e.provider.baseURL, e.provider.model)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + e.provider.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		e.resetStarted()
		return fmt.Errorf("realtime: dial: %w", err)
	}
	conn.SetReadLimit(1 << 22)

	callCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.conn = conn
	e.ctx = callCtx
	e.cancel = cancel
	e.vars = cfg.Variables
	stopped := e.stopping
	e.mu.Unlock()

	if stopped {
		// Stop arrived while dialing: the call ends before it goes live.
		go e.receiveLoop()
		go conn.Close(websocket.StatusNormalClosure, "call ended")
		return nil
	}

	if err := e.configure(ctx, assistant, cfg.Variables); err != nil {
		cancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		e.resetStarted()
		return fmt.Errorf("realtime: configure: %w", err)
	}

	e.emit(voice.Event{Kind: voice.EventCallStart})
	go e.receiveLoop()
	return nil
}

func (e *Engine) resetStarted() {
	e.mu.Lock()
	e.started = false
	e.stopping = false
	e.mu.Unlock()
}

// configure sends session.update and, when the assistant has a first
// message, asks the model to speak it.
func (e *Engine) configure(ctx context.Context, a voice.Assistant, vars map[string]string) error {
	params := sessionParams{
		Voice:                   a.Voice,
		Instructions:            Render(a.Instructions, vars),
		Tools:                   toOAITools(a.Tools),
		InputAudioFormat:        "pcm16",
		OutputAudioFormat:       "pcm16",
		InputAudioTranscription: &transcriptionParams{Model: e.provider.transcriptionModel},
		TurnDetection:           &turnDetection{Type: "server_vad"},
	}
	if params.Voice == "" {
		params.Voice = defaultVoice
	}
	if err := e.writeJSON(ctx, sessionUpdateMessage{Type: "session.update", Session: params}); err != nil {
		return err
	}
	if a.FirstMessage == "" {
		return nil
	}
	first := Render(a.FirstMessage, vars)
	return e.writeJSON(ctx, responseCreateMessage{
		Type:     "response.create",
		Response: &responseParams{Instructions: "Greet the candidate by saying exactly: " + first},
	})
}

// Stop implements voice.Engine. The socket is closed with a normal closure;
// the receive loop then reports call-end. A Stop while Start is still
// dialing is recorded and applied as soon as the socket is up.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return ErrNotStarted
	}
	if e.stopping {
		e.mu.Unlock()
		return nil
	}
	e.stopping = true
	conn := e.conn
	e.mu.Unlock()

	if conn == nil {
		return nil
	}

	go conn.Close(websocket.StatusNormalClosure, "call ended")
	return nil
}

// SendAudio implements voice.AudioPort.
func (e *Engine) SendAudio(chunk []byte) error {
	e.mu.Lock()
	ctx, closed := e.ctx, e.conn == nil || e.stopping || e.failed
	e.mu.Unlock()
	if closed {
		return fmt.Errorf("realtime: call not active")
	}
	return e.writeJSON(ctx, appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(chunk),
	})
}

// Audio implements voice.AudioPort.
func (e *Engine) Audio() <-chan []byte { return e.audioCh }

// writeJSON marshals v and writes it as a text WebSocket message.
func (e *Engine) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("realtime: marshal: %w", err)
	}
	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()
	return conn.Write(ctx, websocket.MessageText, data)
}

// emit delivers ev to every listener registered at the time of the call.
func (e *Engine) emit(ev voice.Event) {
	e.listenersMu.Lock()
	ls := make([]voice.Listener, 0, len(e.listeners))
	for id := 0; id < e.nextID; id++ {
		if l, ok := e.listeners[id]; ok {
			ls = append(ls, l)
		}
	}
	e.listenersMu.Unlock()

	e.dispatchMu.Lock()
	defer e.dispatchMu.Unlock()
	for _, l := range ls {
		l(ev)
	}
}

// receiveLoop reads events until the socket closes. It owns audioCh and
// reports exactly one terminal event.
func (e *Engine) receiveLoop() {
	defer e.closeOnce.Do(func() { close(e.audioCh) })
	defer e.cancel()

	for {
		_, data, err := e.conn.Read(e.ctx)
		if err != nil {
			e.finish(err)
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			slog.Debug("realtime: dropping malformed server event", "err", err)
			continue
		}
		if !e.handleServerEvent(&evt) {
			return
		}
	}
}

// finish emits the terminal event for a closed socket.
func (e *Engine) finish(readErr error) {
	e.mu.Lock()
	stopping, failed := e.stopping, e.failed
	e.mu.Unlock()
	if failed {
		return
	}

	if e.speaking {
		e.speaking = false
		e.emit(voice.Event{Kind: voice.EventSpeechEnd})
	}

	status := websocket.CloseStatus(readErr)
	if stopping || status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
		e.emit(voice.Event{Kind: voice.EventCallEnd})
		return
	}
	e.emit(voice.Event{Kind: voice.EventError, Error: &voice.ErrorPayload{Message: readErr.Error()}})
}

// handleServerEvent translates one server event. It returns false when the
// call has been torn down and the loop must exit.
func (e *Engine) handleServerEvent(evt *serverEvent) bool {
	switch evt.Type {
	case "response.audio.delta":
		if !e.speaking {
			e.speaking = true
			e.emit(voice.Event{Kind: voice.EventSpeechStart})
		}
		audio, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil || len(audio) == 0 {
			return true
		}
		select {
		case e.audioCh <- audio:
		default:
			// Nobody is draining the audio; drop the chunk.
		}

	case "response.audio.done", "response.done":
		if e.speaking {
			e.speaking = false
			e.emit(voice.Event{Kind: voice.EventSpeechEnd})
		}

	case "response.audio_transcript.delta":
		e.agentText.WriteString(evt.Delta)
		e.emitTranscript(voice.RoleAssistant, voice.TranscriptPartial, e.agentText.String())

	case "response.audio_transcript.done":
		text := evt.Transcript
		if text == "" {
			text = e.agentText.String()
		}
		e.agentText.Reset()
		if text != "" {
			e.emitTranscript(voice.RoleAssistant, voice.TranscriptFinal, text)
		}

	case "conversation.item.input_audio_transcription.delta":
		e.userText.WriteString(evt.Delta)
		e.emitTranscript(voice.RoleUser, voice.TranscriptPartial, e.userText.String())

	case "conversation.item.input_audio_transcription.completed":
		e.userText.Reset()
		if text := strings.TrimSpace(evt.Transcript); text != "" {
			e.emitTranscript(voice.RoleUser, voice.TranscriptFinal, text)
		}

	case "response.function_call_arguments.done":
		go e.handleFunctionCall(*evt)

	case "error":
		if !fatalServerError(evt.Error) {
			slog.Warn("realtime: recoverable server error",
				"type", evt.Error.Type, "code", evt.Error.Code, "message", evt.Error.Message)
			return true
		}
		msg := ""
		if evt.Error != nil {
			msg = evt.Error.Message
		}
		e.mu.Lock()
		e.failed = true
		e.mu.Unlock()
		e.emit(voice.Event{Kind: voice.EventError, Error: &voice.ErrorPayload{Message: msg}})
		go e.conn.Close(websocket.StatusNormalClosure, "call failed")
		return false
	}
	return true
}

// recoverableCodes are error codes the Realtime API reports for a rejected
// client event while the session stays usable.
var recoverableCodes = map[string]bool{
	"input_audio_buffer_commit_empty":          true,
	"response_cancel_not_active":               true,
	"conversation_already_has_active_response": true,
	"invalid_value":                            true,
	"unknown_parameter":                        true,
	"missing_required_parameter":               true,
	"item_truncate_invalid_item_id":            true,
}

// fatalServerError reports whether an error event ends the session. Only
// rejected client events are survivable; an expired session is not.
func fatalServerError(d *serverErrorDetail) bool {
	if d == nil || d.Code == "session_expired" {
		return true
	}
	if recoverableCodes[d.Code] {
		return false
	}
	return d.Type != "invalid_request_error"
}

func (e *Engine) emitTranscript(role, stage, text string) {
	e.emit(voice.Event{
		Kind: voice.EventMessage,
		Message: &voice.Message{
			Type:           voice.MessageTypeTranscript,
			TranscriptType: stage,
			Role:           role,
			Transcript:     text,
		},
	})
}

func (e *Engine) handleFunctionCall(evt serverEvent) {
	handler := e.provider.handler()
	if handler == nil {
		return
	}

	e.mu.Lock()
	ctx, vars := e.ctx, e.vars
	e.mu.Unlock()

	result, err := handler(ctx, voice.ToolCall{Name: evt.Name, Arguments: evt.Arguments, Variables: vars})
	if err != nil {
		slog.Warn("realtime: tool call failed", "tool", evt.Name, "err", err)
		result = fmt.Sprintf(`{"error": %q}`, err.Error())
	}

	// Return the tool result and trigger the next model response.
	if err := e.writeJSON(ctx, createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{Type: "function_call_output", CallID: evt.CallID, Output: result},
	}); err != nil {
		return
	}
	_ = e.writeJSON(ctx, responseCreateMessage{Type: "response.create"})
}

// toOAITools converts voice tools to the Realtime tool format.
func toOAITools(tools []voice.Tool) []oaiTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]oaiTool, len(tools))
	for i, t := range tools {
		out[i] = oaiTool{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		}
	}
	return out
}

// Render substitutes {{name}} placeholders in s with values from vars.
// Unknown placeholders are left untouched.
func Render(s string, vars map[string]string) string {
	if len(vars) == 0 || !strings.Contains(s, "{{") {
		return s
	}
	pairs := make([]string, 0, len(vars)*4)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v, "{{ "+k+" }}", v)
	}
	return strings.NewReplacer(pairs...).Replace(s)
}
