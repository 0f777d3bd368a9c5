// Package voice defines the abstraction over a managed real-time voice agent.
//
// A voice engine owns the audio path of a call (capture, speech recognition,
// the agent's reasoning, speech synthesis) and reports what happens through a
// small set of events. The interview core never touches audio; it only
// starts and stops calls and reacts to events.
//
// Listeners are called synchronously from the engine's delivery goroutine in
// the order events occur. Implementations must never invoke two listeners of
// the same engine concurrently.
package voice

import "context"

// EventKind names an engine event.
type EventKind string

const (
	// EventCallStart is emitted once the call is established.
	EventCallStart EventKind = "call-start"

	// EventCallEnd is emitted when the call ends for any reason.
	EventCallEnd EventKind = "call-end"

	// EventMessage carries a transcript update.
	EventMessage EventKind = "message"

	// EventSpeechStart is emitted when the agent begins speaking.
	EventSpeechStart EventKind = "speech-start"

	// EventSpeechEnd is emitted when the agent stops speaking.
	EventSpeechEnd EventKind = "speech-end"

	// EventError reports an engine or transport error.
	EventError EventKind = "error"
)

// Message types and transcript stages carried by [Message].
const (
	MessageTypeTranscript = "transcript"

	TranscriptPartial = "partial"
	TranscriptFinal   = "final"
)

// Engine-side speaker roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is the payload of an [EventMessage].
type Message struct {
	// Type is the message category; only "transcript" is defined.
	Type string

	// TranscriptType is "partial" for interim hypotheses and "final" for
	// committed utterances.
	TranscriptType string

	// Role is the speaker: "user", "assistant", or "system".
	Role string

	// Transcript is the utterance text.
	Transcript string
}

// IsFinalTranscript reports whether m is a committed utterance.
func (m Message) IsFinalTranscript() bool {
	return m.Type == MessageTypeTranscript && m.TranscriptType == TranscriptFinal
}

// ErrorPayload is the payload of an [EventError]. Message may be empty.
type ErrorPayload struct {
	Message string
}

// Event is a single engine notification. Message is set for EventMessage and
// Error for EventError.
type Event struct {
	Kind    EventKind
	Message *Message
	Error   *ErrorPayload
}

// Listener receives engine events.
type Listener func(Event)

// Tool is a function the agent may call during a call.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Assistant is an inline agent definition.
type Assistant struct {
	// Name is shown in engine dashboards and logs.
	Name string

	// FirstMessage is spoken by the agent as soon as the call starts.
	// It may contain {{variable}} placeholders.
	FirstMessage string

	// Instructions is the agent's system prompt. It may contain
	// {{variable}} placeholders.
	Instructions string

	// Voice selects the synthesis voice (engine specific).
	Voice string

	// Tools are offered to the agent.
	Tools []Tool
}

// AgentConfig selects the agent for a call. Exactly one of WorkflowID and
// Assistant is set.
type AgentConfig struct {
	// WorkflowID names a predefined conversational workflow.
	WorkflowID string

	// Assistant is an inline agent definition.
	Assistant *Assistant

	// Variables are substituted into {{name}} placeholders.
	Variables map[string]string
}

// Engine is one voice call endpoint.
type Engine interface {
	// Start begins a call. It returns once the engine has acknowledged or
	// rejected the request. A nil return does not imply EventCallStart has
	// been delivered yet.
	Start(ctx context.Context, cfg AgentConfig) error

	// Stop asks the engine to end the call. It is advisory: the call is over
	// only once EventCallEnd or EventError is delivered.
	Stop() error

	// Subscribe registers l for all events and returns a function that
	// removes it. The returned function is safe to call more than once.
	Subscribe(l Listener) (unsubscribe func())
}

// Provider creates engines. Each call gets its own engine.
type Provider interface {
	NewEngine() Engine
}

// AudioPort is implemented by engines that expose the raw call audio, for
// example to bridge it to a browser over a WebSocket.
type AudioPort interface {
	// SendAudio delivers a PCM16 chunk of candidate audio.
	SendAudio(chunk []byte) error

	// Audio returns the agent's synthesized PCM16 audio. The channel is
	// closed when the call ends.
	Audio() <-chan []byte
}

// ToolCall is a function invocation made by the agent.
type ToolCall struct {
	Name      string
	Arguments string

	// Variables are the call's template variables, giving the handler access
	// to identifiers such as the user id.
	Variables map[string]string
}

// ToolHandler executes a tool call and returns its JSON result.
type ToolHandler func(ctx context.Context, call ToolCall) (string, error)

// WorkflowHost is implemented by providers that resolve workflow ids locally
// and dispatch agent tool calls.
type WorkflowHost interface {
	RegisterWorkflow(id string, a Assistant)
	SetToolHandler(h ToolHandler)
}
