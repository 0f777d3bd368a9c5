// Package app wires the interview subsystems into a running HTTP service.
//
// The App struct owns the full lifecycle: New creates storage, generators and
// the session manager, Run serves the HTTP API until ctx is cancelled, and
// Shutdown releases what New acquired.
//
// For testing, inject stores and metrics via functional options
// (WithCatalogStore, WithFeedbackStore, ...). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/mockinterview/internal/catalog"
	"github.com/MrWong99/mockinterview/internal/config"
	"github.com/MrWong99/mockinterview/internal/feedback"
	"github.com/MrWong99/mockinterview/internal/health"
	"github.com/MrWong99/mockinterview/internal/interview"
	"github.com/MrWong99/mockinterview/internal/observe"
	"github.com/MrWong99/mockinterview/pkg/provider/llm"
	"github.com/MrWong99/mockinterview/pkg/provider/voice"
)

// DefaultGenerateWorkflowID is the id the built-in generate workflow is
// registered under when agents.generate_workflow is empty.
const DefaultGenerateWorkflowID = "mockinterview-generate"

// errLLMUnavailable is reported by the readiness probe when every LLM circuit
// is open.
var errLLMUnavailable = errors.New("all llm providers unavailable")

// Providers holds the backends built by main.go via the config registry.
type Providers struct {
	// LLM produces feedback and generated questions. Usually a
	// *resilience.LLMFallback.
	LLM llm.Provider

	// Voice runs the calls.
	Voice voice.Provider
}

// agentSet is the hot-reloadable part of the config.
type agentSet struct {
	interviewer      voice.Assistant
	generateWorkflow string
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	logLevel  *slog.LevelVar

	pool      *pgxpool.Pool
	catalog   catalog.Store
	feedback  feedback.Store
	generator *catalog.Generator
	synth     *feedback.Synthesizer
	sessions  *SessionManager
	health    *health.Handler
	handler   http.Handler

	agents atomic.Pointer[agentSet]

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithCatalogStore injects an interview store instead of creating one from config.
func WithCatalogStore(s catalog.Store) Option {
	return func(a *App) { a.catalog = s }
}

// WithFeedbackStore injects a feedback store instead of creating one from config.
func WithFeedbackStore(s feedback.Store) Option {
	return func(a *App) { a.feedback = s }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets config reloads adjust the running log level.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM == nil || providers.Voice == nil {
		return nil, errors.New("app: llm and voice providers are required")
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Storage ───────────────────────────────────────────────────────
	if err := a.initStorage(ctx); err != nil {
		return nil, fmt.Errorf("app: init storage: %w", err)
	}

	// ── 2. Generators ────────────────────────────────────────────────────
	var genOpts []feedback.GeneratorOption
	if cfg.Feedback.Temperature > 0 {
		genOpts = append(genOpts, feedback.WithTemperature(cfg.Feedback.Temperature))
	}
	if cfg.Feedback.MaxTokens > 0 {
		genOpts = append(genOpts, feedback.WithMaxTokens(cfg.Feedback.MaxTokens))
	}
	a.synth = feedback.NewSynthesizer(
		feedback.NewLLMGenerator(providers.LLM, genOpts...),
		a.feedback,
		feedback.WithMetrics(a.metrics),
	)
	a.generator = catalog.NewGenerator(providers.LLM, a.catalog)

	// ── 3. Agents ────────────────────────────────────────────────────────
	a.applyAgents(cfg.Agents)
	if host, ok := providers.Voice.(voice.WorkflowHost); ok {
		host.SetToolHandler(a.handleTool)
	}

	// ── 4. Sessions ──────────────────────────────────────────────────────
	a.sessions = NewSessionManager(providers.Voice,
		interview.WithSynthesizer(a.synth),
		interview.WithMetrics(a.metrics),
		interview.WithStartTimeout(cfg.Session.StartTimeout),
		interview.WithStopTimeout(cfg.Session.StopTimeout),
		interview.WithSynthesisTimeout(cfg.Session.SynthesisTimeout),
	)

	// ── 5. Health + routes ───────────────────────────────────────────────
	var checkers []health.Checker
	if a.pool != nil {
		checkers = append(checkers, health.Ping("postgres", a.pool))
	}
	if h, ok := providers.LLM.(interface{ Healthy() bool }); ok {
		checkers = append(checkers, health.Func("llm", h.Healthy, errLLMUnavailable))
	}
	a.health = health.New(checkers...)
	a.handler = a.routes()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStorage connects to PostgreSQL when a DSN is configured and falls back
// to the in-process catalog and the JSON-lines feedback file otherwise.
func (a *App) initStorage(ctx context.Context) error {
	if a.catalog != nil && a.feedback != nil {
		return nil
	}

	if dsn := a.cfg.Storage.PostgresDSN; dsn != "" {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		a.pool = pool
		a.closers = append(a.closers, func() error {
			pool.Close()
			return nil
		})

		if a.catalog == nil {
			cs := catalog.NewPostgresStore(pool)
			if err := cs.Migrate(ctx); err != nil {
				return err
			}
			a.catalog = cs
		}
		if a.feedback == nil {
			fs := feedback.NewPostgresStore(pool)
			if err := fs.Migrate(ctx); err != nil {
				return err
			}
			a.feedback = fs
		}
		slog.Info("using postgres storage")
		return nil
	}

	if a.catalog == nil {
		a.catalog = catalog.NewMemStore()
		slog.Warn("storage.postgres_dsn is empty; generated interviews are kept in memory only")
	}
	if a.feedback == nil {
		a.feedback = feedback.NewFileStore(a.cfg.Storage.FeedbackFile)
		slog.Info("using feedback file", "path", a.cfg.Storage.FeedbackFile)
	}
	return nil
}

// applyAgents publishes the agent definitions used by sessions created from
// now on and registers workflows with the voice provider if it hosts them.
func (a *App) applyAgents(cfg config.AgentsConfig) {
	set := &agentSet{
		interviewer:      interview.DefaultInterviewer(),
		generateWorkflow: cfg.GenerateWorkflow,
	}
	if cfg.Interviewer != nil {
		set.interviewer = cfg.Interviewer.Assistant()
	}

	host, isHost := a.providers.Voice.(voice.WorkflowHost)
	if isHost {
		for _, wf := range cfg.Workflows {
			host.RegisterWorkflow(wf.ID, wf.Assistant())
		}
	}
	if set.generateWorkflow == "" {
		set.generateWorkflow = DefaultGenerateWorkflowID
		if isHost {
			host.RegisterWorkflow(DefaultGenerateWorkflowID, interview.DefaultGenerateWorkflow())
		} else {
			slog.Warn("voice provider does not host workflows; generate calls rely on it knowing the default id",
				"workflow", DefaultGenerateWorkflowID)
		}
	}
	a.agents.Store(set)
}

// ApplyConfig applies the hot-reloadable parts of a new config. It is meant
// to be passed to [config.NewWatcher].
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.AgentsChanged() {
		a.applyAgents(new.Agents)
		slog.Info("agent definitions reloaded",
			"interviewer_changed", d.InterviewerChanged,
			"workflow_changes", len(d.WorkflowChanges),
		)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart to take effect", "sections", d.RestartRequired)
	}
}

// SlogLevel maps a config log level to its slog equivalent.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the HTTP API and blocks until ctx is cancelled or the server
// fails. On cancellation it marks the service as draining, shuts the server
// down within server.shutdown_timeout and ends every live call.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", srv.Addr, "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		a.health.SetDraining()

		timeout := a.cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = config.DefaultShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		a.sessions.CloseAll()
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown closes live sessions and releases storage. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		a.sessions.CloseAll()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
