package feedback

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/mockinterview/pkg/provider/llm"
)

// SystemInstruction is the fixed system prompt sent with every evaluation.
const SystemInstruction = "You are a professional interviewer analyzing a mock interview. " +
	"Your task is to evaluate the candidate based on structured categories"

var rubric = map[string]string{
	"Communication Skills": "Clarity, articulation, structured responses.",
	"Technical Knowledge":  "Understanding of key concepts for the role.",
	"Problem-Solving":      "Ability to analyze problems and propose solutions.",
	"Cultural & Role Fit":  "Alignment with company values and job role.",
	"Confidence & Clarity": "Confidence in responses, engagement, and clarity.",
}

// Generator produces a [Result] from a formatted transcript.
type Generator interface {
	Generate(ctx context.Context, formattedTranscript string) (*Result, error)
}

// Prompt renders the evaluation prompt for a formatted transcript.
func Prompt(formattedTranscript string) string {
	var b strings.Builder
	b.WriteString("You are an AI interviewer analyzing a mock interview. ")
	b.WriteString("Your task is to evaluate the candidate based on structured categories. ")
	b.WriteString("Be thorough and detailed in your analysis. Don't be lenient with the candidate. ")
	b.WriteString("If there are mistakes or areas for improvement, point them out.\n")
	b.WriteString("Transcript:\n")
	b.WriteString(formattedTranscript)
	b.WriteString("\n\nPlease score the candidate from 0 to 100 in the following areas. ")
	b.WriteString("Do not add categories other than the ones provided:\n")
	for _, name := range Categories {
		fmt.Fprintf(&b, "- **%s**: %s\n", name, rubric[name])
	}
	return b.String()
}

// LLMGenerator asks an [llm.Provider] for a schema-constrained evaluation.
type LLMGenerator struct {
	llm         llm.Provider
	temperature float64
	maxTokens   int
}

var _ Generator = (*LLMGenerator)(nil)

// GeneratorOption configures an [LLMGenerator].
type GeneratorOption func(*LLMGenerator)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) GeneratorOption {
	return func(g *LLMGenerator) { g.temperature = t }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) GeneratorOption {
	return func(g *LLMGenerator) { g.maxTokens = n }
}

// NewLLMGenerator returns a generator backed by p.
func NewLLMGenerator(p llm.Provider, opts ...GeneratorOption) *LLMGenerator {
	g := &LLMGenerator{llm: p}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Generate implements [Generator].
func (g *LLMGenerator) Generate(ctx context.Context, formattedTranscript string) (*Result, error) {
	rs, err := ResponseSchema()
	if err != nil {
		return nil, err
	}
	resp, err := g.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt:   SystemInstruction,
		Messages:       []llm.Message{{Role: "user", Content: Prompt(formattedTranscript)}},
		Temperature:    g.temperature,
		MaxTokens:      g.maxTokens,
		ResponseSchema: rs,
	})
	if err != nil {
		return nil, fmt.Errorf("feedback: generate: %w", err)
	}
	return Decode(resp.Content)
}
