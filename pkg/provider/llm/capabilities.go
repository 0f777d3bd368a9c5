package llm

import "strings"

// modelFamily maps a model-name prefix to what the family supports.
type modelFamily struct {
	prefix string
	caps   ModelCapabilities
}

// families is matched in order, so more specific prefixes come first.
var families = []modelFamily{
	{"gpt-4o", ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 16_384, SupportsStructuredOutput: true}},
	{"gpt-4.1", ModelCapabilities{ContextWindow: 1_047_576, MaxOutputTokens: 32_768, SupportsStructuredOutput: true}},
	{"gpt-4-turbo", ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096}},
	{"gpt-4", ModelCapabilities{ContextWindow: 8_192, MaxOutputTokens: 4_096}},
	{"gpt-3.5-turbo", ModelCapabilities{ContextWindow: 16_385, MaxOutputTokens: 4_096}},
	{"o1", ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 100_000, SupportsStructuredOutput: true}},
	{"o3", ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 100_000, SupportsStructuredOutput: true}},
	{"o4", ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 100_000, SupportsStructuredOutput: true}},
	{"claude", ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 8_192}},
	{"gemini-1.5-pro", ModelCapabilities{ContextWindow: 2_097_152, MaxOutputTokens: 8_192}},
	{"gemini", ModelCapabilities{ContextWindow: 1_048_576, MaxOutputTokens: 8_192}},
}

// defaultCapabilities applies to models not in the table.
var defaultCapabilities = ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096}

// LookupCapabilities returns the capabilities of a known model family, or
// conservative defaults for unknown models. SupportsStructuredOutput reflects
// the OpenAI API; adapters that cannot pass a schema through clear it.
func LookupCapabilities(model string) ModelCapabilities {
	lower := strings.ToLower(model)
	for _, f := range families {
		if strings.HasPrefix(lower, f.prefix) {
			return f.caps
		}
	}
	return defaultCapabilities
}
