package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/mockinterview/pkg/provider/llm"
)

// MaxQuestions caps the amount a single generation may request.
const MaxQuestions = 20

// GenerateRequest describes the interview to draft.
type GenerateRequest struct {
	UserID    string `json:"userid"`
	Role      string `json:"role"`
	Level     string `json:"level"`
	Type      string `json:"type"`
	TechStack string `json:"techstack"`
	Amount    int    `json:"amount"`
}

// Validate checks the request before it reaches the model.
func (r GenerateRequest) Validate() error {
	var errs []error
	if r.UserID == "" {
		errs = append(errs, errors.New("userid must not be empty"))
	}
	if r.Role == "" {
		errs = append(errs, errors.New("role must not be empty"))
	}
	if r.Amount < 1 || r.Amount > MaxQuestions {
		errs = append(errs, fmt.Errorf("amount must be in [1, %d], got %d", MaxQuestions, r.Amount))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("catalog: invalid generate request: %w", err)
	}
	return nil
}

// Generator drafts interview questions with an LLM and stores the result.
type Generator struct {
	llm   llm.Provider
	store Store
}

// NewGenerator returns a Generator that asks p for questions and saves them
// to store.
func NewGenerator(p llm.Provider, store Store) *Generator {
	return &Generator{llm: p, store: store}
}

var questionsSchema = &llm.ResponseSchema{
	Name: "interview_questions",
	Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"questions": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
		"required": []any{"questions"},
	},
}

func questionsPrompt(r GenerateRequest) string {
	var b strings.Builder
	b.WriteString("Prepare questions for a job interview.\n")
	fmt.Fprintf(&b, "The job role is %s.\n", r.Role)
	fmt.Fprintf(&b, "The job experience level is %s.\n", r.Level)
	fmt.Fprintf(&b, "The tech stack used in the job is: %s.\n", r.TechStack)
	fmt.Fprintf(&b, "The focus between behavioural and technical questions should lean towards: %s.\n", r.Type)
	fmt.Fprintf(&b, "The amount of questions required is: %d.\n", r.Amount)
	b.WriteString("Please return only the questions, without any additional text.\n")
	b.WriteString(`The questions are going to be read by a voice assistant so do not use "/" or "*" ` +
		"or any other special characters which might break the voice assistant.\n")
	b.WriteString(`Return the questions formatted like this: {"questions": ["Question 1", "Question 2", "Question 3"]}`)
	return b.String()
}

// Generate drafts r.Amount questions, stores a finalized [Interview] owned by
// r.UserID and returns it.
func (g *Generator) Generate(ctx context.Context, r GenerateRequest) (*Interview, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	resp, err := g.llm.Complete(ctx, llm.CompletionRequest{
		Messages:       []llm.Message{{Role: "user", Content: questionsPrompt(r)}},
		ResponseSchema: questionsSchema,
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: generate questions: %w", err)
	}
	questions, err := parseQuestions(resp.Content)
	if err != nil {
		return nil, err
	}
	if len(questions) > r.Amount {
		questions = questions[:r.Amount]
	}

	iv := &Interview{
		UserID:    r.UserID,
		Role:      r.Role,
		Level:     r.Level,
		Type:      r.Type,
		TechStack: SplitTechStack(r.TechStack),
		Questions: questions,
		Finalized: true,
	}
	if err := g.store.Create(ctx, iv); err != nil {
		return nil, err
	}
	return iv, nil
}

// parseQuestions accepts either {"questions": [...]} or a bare JSON array.
func parseQuestions(content string) ([]string, error) {
	raw := llm.ExtractJSON(content)
	var qs []string
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &qs); err != nil {
			return nil, fmt.Errorf("catalog: decode questions: %w", err)
		}
	} else {
		var doc struct {
			Questions []string `json:"questions"`
		}
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("catalog: decode questions: %w", err)
		}
		qs = doc.Questions
	}

	out := qs[:0]
	for _, q := range qs {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("catalog: model returned no questions")
	}
	return out, nil
}
