package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/mockinterview/internal/config"
)

const baseProviders = `
providers:
  llm: {name: openai}
  voice: {name: openai-realtime}
`

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr []string
	}{
		{
			name: "minimal valid",
			yaml: baseProviders,
		},
		{
			name:    "missing providers",
			yaml:    "server: {log_level: info}\n",
			wantErr: []string{"providers.llm.name is required", "providers.voice.name is required"},
		},
		{
			name:    "bad log level",
			yaml:    baseProviders + "server: {log_level: loud}\n",
			wantErr: []string{"server.log_level"},
		},
		{
			name:    "half tls",
			yaml:    baseProviders + "server: {tls: {cert_file: a.pem}}\n",
			wantErr: []string{"server.tls"},
		},
		{
			name:    "unnamed fallback",
			yaml:    "providers:\n  llm: {name: openai}\n  llm_fallbacks: [{model: x}]\n  voice: {name: openai-realtime}\n",
			wantErr: []string{"providers.llm_fallbacks[0].name"},
		},
		{
			name:    "interviewer without instructions",
			yaml:    baseProviders + "agents: {interviewer: {name: x}}\n",
			wantErr: []string{"agents.interviewer.instructions"},
		},
		{
			name: "duplicate workflow ids",
			yaml: baseProviders + `
agents:
  workflows:
    - {id: gen, instructions: a}
    - {id: gen, instructions: b}
`,
			wantErr: []string{"duplicate"},
		},
		{
			name: "workflow problems are all reported",
			yaml: baseProviders + `
agents:
  workflows:
    - {instructions: a, tools: [{description: nameless}]}
    - {id: x}
`,
			wantErr: []string{"agents.workflows[0].id", "agents.workflows[0].tools[0].name", "agents.workflows[1].instructions"},
		},
		{
			name:    "dangling generate workflow",
			yaml:    baseProviders + "agents: {generate_workflow: missing}\n",
			wantErr: []string{"agents.generate_workflow"},
		},
		{
			name:    "negative timeouts",
			yaml:    baseProviders + "session: {start_timeout: -1s, stop_timeout: -2s, synthesis_timeout: -3s}\n",
			wantErr: []string{"session.start_timeout", "session.stop_timeout", "session.synthesis_timeout"},
		},
		{
			name:    "feedback out of range",
			yaml:    baseProviders + "feedback: {temperature: 3, max_tokens: -1}\n",
			wantErr: []string{"feedback.temperature", "feedback.max_tokens"},
		},
		{
			name: "unknown provider name only warns",
			yaml: "providers:\n  llm: {name: my-gateway}\n  voice: {name: openai-realtime}\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if len(tt.wantErr) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error %q does not mention %q", err, want)
				}
			}
		})
	}
}

func TestExpandEnv_MissingVariableIsEmpty(t *testing.T) {
	t.Parallel()

	got := string(config.ExpandEnv([]byte("key: ${MOCKINTERVIEW_SURELY_UNSET_VAR}")))
	if got != "key: " {
		t.Errorf("ExpandEnv = %q", got)
	}
}
