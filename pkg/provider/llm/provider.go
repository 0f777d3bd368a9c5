// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (e.g., OpenAI GPT-4o,
// Anthropic Claude, or a local Ollama instance) and exposes a uniform
// interface for structured generation. The mock interview service uses it to
// turn transcripts into scored feedback and to draft interview questions.
//
// Implementors must be safe for concurrent use.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrTruncated is returned when the model stopped at the token limit while
// producing a structured reply, which leaves the JSON document incomplete.
var ErrTruncated = errors.New("llm: reply truncated at the token limit")

// Message represents a single message in an LLM conversation.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// ResponseSchema asks the model to produce a JSON document conforming to
// Schema. Providers with native structured output pass it through to the API;
// the rest append it to the system prompt.
type ResponseSchema struct {
	// Name identifies the schema (e.g., "interview_feedback").
	Name string

	// Description is an optional hint shown to the model.
	Description string

	// Schema is the JSON Schema document.
	Schema map[string]any
}

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is
	// typically from the "user" role and drives the response.
	Messages []Message

	// Temperature controls output randomness in the range [0.0, 2.0].
	// Zero means use the provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int

	// SystemPrompt is an optional high-priority instruction injected before the
	// conversation history.
	SystemPrompt string

	// ResponseSchema, when non-nil, requests JSON output matching the schema.
	ResponseSchema *ResponseSchema
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int

	// SupportsStructuredOutput indicates the API enforces ResponseSchema natively.
	SupportsStructuredOutput bool
}

// Provider is the abstraction over any LLM backend.
//
// Implementations must be safe for concurrent use from multiple goroutines and
// must return promptly when ctx is cancelled.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities returns static metadata describing the underlying model.
	Capabilities() ModelCapabilities
}

// ExtractJSON returns the JSON document embedded in a model reply. Models
// without native structured output often wrap their answer in a Markdown code
// fence or add a sentence of preamble; both are stripped.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if end := strings.LastIndex(rest, "```"); end >= 0 {
			rest = rest[:end]
		}
		return strings.TrimSpace(rest)
	}
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end < start {
		return s[start:]
	}
	return s[start : end+1]
}

// SchemaInstruction renders rs as a plain-text output contract for models
// that cannot enforce a schema themselves.
func SchemaInstruction(rs *ResponseSchema) (string, error) {
	doc, err := json.Marshal(rs.Schema)
	if err != nil {
		return "", fmt.Errorf("llm: marshal response schema %q: %w", rs.Name, err)
	}
	var b strings.Builder
	b.WriteString("Respond with a single JSON document and nothing else. ")
	if rs.Description != "" {
		fmt.Fprintf(&b, "The document is %s. ", rs.Description)
	}
	b.WriteString("It must validate against this JSON Schema:\n")
	b.Write(doc)
	return b.String(), nil
}
