package feedback

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/MrWong99/mockinterview/pkg/provider/llm"
)

// SchemaName is the name under which the feedback schema is sent to the model.
const SchemaName = "interview_feedback"

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func score() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "integer", Minimum: floatPtr(0), Maximum: floatPtr(100)}
}

func stringList() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "array", Items: &jsonschema.Schema{Type: "string"}}
}

// Schema builds the JSON schema a generated [Result] must satisfy. The
// category array is a tuple pinned to [Categories].
func Schema() *jsonschema.Schema {
	items := make([]*jsonschema.Schema, 0, len(Categories))
	for _, name := range Categories {
		items = append(items, &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"name":    {Type: "string", Enum: []any{name}},
				"score":   score(),
				"comment": {Type: "string"},
			},
			Required: []string{"name", "score", "comment"},
		})
	}
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"totalScore": score(),
			"categoryScores": {
				Type:        "array",
				PrefixItems: items,
				MinItems:    intPtr(len(Categories)),
				MaxItems:    intPtr(len(Categories)),
			},
			"strengths":           stringList(),
			"areasForImprovement": stringList(),
			"finalAssessment":     {Type: "string"},
		},
		Required: []string{"totalScore", "categoryScores", "strengths", "areasForImprovement", "finalAssessment"},
	}
}

var resolved = sync.OnceValues(func() (*jsonschema.Resolved, error) {
	return Schema().Resolve(nil)
})

// ResponseSchema returns the schema in the form expected by an LLM request.
func ResponseSchema() (*llm.ResponseSchema, error) {
	data, err := json.Marshal(Schema())
	if err != nil {
		return nil, fmt.Errorf("feedback: marshal schema: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("feedback: unmarshal schema: %w", err)
	}
	return &llm.ResponseSchema{
		Name:        SchemaName,
		Description: "Structured evaluation of a mock interview candidate.",
		Schema:      doc,
	}, nil
}

// Decode parses a model reply into a [Result], validating it against
// [Schema] and [Result.Validate].
func Decode(content string) (*Result, error) {
	raw := []byte(llm.ExtractJSON(content))

	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return nil, fmt.Errorf("feedback: decode: %w", err)
	}
	rs, err := resolved()
	if err != nil {
		return nil, fmt.Errorf("feedback: resolve schema: %w", err)
	}
	if err := rs.Validate(instance); err != nil {
		return nil, fmt.Errorf("feedback: schema validation: %w", err)
	}

	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("feedback: decode: %w", err)
	}
	if err := res.Validate(); err != nil {
		return nil, fmt.Errorf("feedback: invalid result: %w", err)
	}
	return &res, nil
}
