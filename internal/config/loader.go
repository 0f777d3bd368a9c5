package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":   {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"voice": {"openai-realtime"},
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr      = ":8080"
	DefaultShutdownTimeout = 15 * time.Second
	DefaultStartTimeout    = 30 * time.Second
	DefaultFeedbackFile    = "feedback.jsonl"
)

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads the YAML configuration file at path and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands ${VAR} references from
// the environment, applies defaults and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	raw = ExpandEnv(raw)

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ExpandEnv replaces ${VAR} with the value of the environment variable VAR.
// Bare $VAR is left alone so prompts may contain dollar signs.
func ExpandEnv(b []byte) []byte {
	return envRef.ReplaceAllFunc(b, func(m []byte) []byte {
		return []byte(os.Getenv(string(envRef.FindSubmatch(m)[1])))
	})
}

// ApplyDefaults fills zero values that have a non-zero default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Session.StartTimeout == 0 {
		cfg.Session.StartTimeout = DefaultStartTimeout
	}
	if cfg.Storage.PostgresDSN == "" && cfg.Storage.FeedbackFile == "" {
		cfg.Storage.FeedbackFile = DefaultFeedbackFile
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	validateProviderName("llm", cfg.Providers.LLM.Name)
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
		validateProviderName("llm", fb.Name)
	}
	if cfg.Providers.Voice.Name == "" {
		errs = append(errs, errors.New("providers.voice.name is required"))
	}
	validateProviderName("voice", cfg.Providers.Voice.Name)

	if a := cfg.Agents.Interviewer; a != nil && a.Instructions == "" {
		errs = append(errs, errors.New("agents.interviewer.instructions is required"))
	}
	seen := make(map[string]int, len(cfg.Agents.Workflows))
	for i, wf := range cfg.Agents.Workflows {
		prefix := fmt.Sprintf("agents.workflows[%d]", i)
		if wf.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		} else {
			if prev, dup := seen[wf.ID]; dup {
				errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of agents.workflows[%d]", prefix, wf.ID, prev))
			}
			seen[wf.ID] = i
		}
		if wf.Instructions == "" {
			errs = append(errs, fmt.Errorf("%s.instructions is required", prefix))
		}
		for j, t := range wf.Tools {
			if t.Name == "" {
				errs = append(errs, fmt.Errorf("%s.tools[%d].name is required", prefix, j))
			}
		}
	}
	if id := cfg.Agents.GenerateWorkflow; id != "" {
		if _, ok := seen[id]; !ok {
			errs = append(errs, fmt.Errorf("agents.generate_workflow %q does not name a workflow in agents.workflows", id))
		}
	}

	if cfg.Session.StartTimeout < 0 {
		errs = append(errs, fmt.Errorf("session.start_timeout %s must not be negative", cfg.Session.StartTimeout))
	}
	if cfg.Session.StopTimeout < 0 {
		errs = append(errs, fmt.Errorf("session.stop_timeout %s must not be negative", cfg.Session.StopTimeout))
	}
	if cfg.Session.SynthesisTimeout < 0 {
		errs = append(errs, fmt.Errorf("session.synthesis_timeout %s must not be negative", cfg.Session.SynthesisTimeout))
	}

	if t := cfg.Feedback.Temperature; t < 0 || t > 2 {
		errs = append(errs, fmt.Errorf("feedback.temperature %.2f is out of range [0, 2]", t))
	}
	if cfg.Feedback.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("feedback.max_tokens %d must not be negative", cfg.Feedback.MaxTokens))
	}

	if cfg.Storage.PostgresDSN == "" && cfg.Storage.FeedbackFile == "" {
		slog.Warn("no storage configured; set storage.postgres_dsn or storage.feedback_file")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
