package interview

import (
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/mockinterview/internal/observe"
	"github.com/MrWong99/mockinterview/internal/transcript"
	"github.com/MrWong99/mockinterview/pkg/provider/voice"
)

// DefaultStartTimeout bounds StartCall when no timeout is configured.
const DefaultStartTimeout = 30 * time.Second

// Factory builds idle sessions. It is safe for concurrent use.
type Factory struct {
	voice   voice.Provider
	synth   Synthesizer
	nav     Navigator
	metrics *observe.Metrics
	logger  *slog.Logger

	startTimeout     time.Duration
	stopTimeout      time.Duration
	synthesisTimeout time.Duration
}

// Option configures a [Factory].
type Option func(*Factory)

// WithSynthesizer sets the feedback synthesizer used by interview-mode
// sessions. Required for interview mode.
func WithSynthesizer(s Synthesizer) Option {
	return func(f *Factory) { f.synth = s }
}

// WithNavigator sets the navigator notified when a session exits.
func WithNavigator(n Navigator) Option {
	return func(f *Factory) { f.nav = n }
}

// WithMetrics overrides the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(f *Factory) { f.metrics = m }
}

// WithLogger overrides the base logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(f *Factory) { f.logger = l }
}

// WithStartTimeout bounds StartCall. Zero or negative disables the bound.
func WithStartTimeout(d time.Duration) Option {
	return func(f *Factory) { f.startTimeout = d }
}

// WithStopTimeout forces the finished state when the engine does not confirm
// a stop within d. Zero disables the watchdog.
func WithStopTimeout(d time.Duration) Option {
	return func(f *Factory) { f.stopTimeout = d }
}

// WithSynthesisTimeout bounds feedback synthesis. Zero means no bound.
func WithSynthesisTimeout(d time.Duration) Option {
	return func(f *Factory) { f.synthesisTimeout = d }
}

// NewFactory returns a factory that creates one engine per session from p.
func NewFactory(p voice.Provider, opts ...Option) *Factory {
	f := &Factory{voice: p, startTimeout: DefaultStartTimeout}
	for _, o := range opts {
		o(f)
	}
	if f.metrics == nil {
		f.metrics = observe.DefaultMetrics()
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	return f
}

// New returns a fresh idle session subscribed to a new engine.
func (f *Factory) New(p Params) (*Session, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.Mode == ModeInterview && f.synth == nil {
		return nil, errors.New("interview: interview mode requires a synthesizer")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Mode == ModeInterview && p.Interviewer.Instructions == "" {
		p.Interviewer = DefaultInterviewer()
	}

	s := &Session{
		params:           p,
		engine:           f.voice.NewEngine(),
		synth:            f.synth,
		nav:              f.nav,
		metrics:          f.metrics,
		log:              f.logger.With("session_id", p.ID, "mode", string(p.Mode)),
		startTimeout:     f.startTimeout,
		stopTimeout:      f.stopTimeout,
		synthesisTimeout: f.synthesisTimeout,
		entries:          &transcript.Accumulator{},
		state:            StateIdle,
		done:             make(chan struct{}),
	}
	s.unsubscribe = s.engine.Subscribe(s.handle)
	return s, nil
}

// Retry discards old and returns a fresh idle session with the same
// parameters and id. The old session's listener is removed first, so events
// from its engine can no longer reach any session.
func (f *Factory) Retry(old *Session) (*Session, error) {
	old.Close()
	return f.New(old.Params())
}
