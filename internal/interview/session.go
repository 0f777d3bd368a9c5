// Package interview drives a single voice interview call.
//
// A [Session] owns one voice engine for its lifetime. It subscribes to the
// engine once, folds engine events into an explicit state machine
// (idle → connecting → active → finished), accumulates the finalized
// transcript, converts engine errors into [SessionError] values and, on the
// single transition into the finished state, decides where the user goes
// next. In interview mode a non-empty transcript is handed to a [Synthesizer]
// exactly once.
//
// Retrying is not done in place: [Factory.Retry] discards a session and
// builds a fresh idle one, so no transcript, error or listener survives.
package interview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/mockinterview/internal/catalog"
	"github.com/MrWong99/mockinterview/internal/feedback"
	"github.com/MrWong99/mockinterview/internal/observe"
	"github.com/MrWong99/mockinterview/internal/transcript"
	"github.com/MrWong99/mockinterview/pkg/provider/voice"
)

// ErrNoCall is returned by [Session.StopCall] when no call is in progress.
var ErrNoCall = errors.New("interview: no call in progress")

// stopUnconfirmed is reported when the engine never confirms a requested stop.
const stopUnconfirmed = "the voice engine did not confirm the end of the call"

// Mode selects what a call is for.
type Mode string

const (
	// ModeGenerate runs the question-authoring dialogue.
	ModeGenerate Mode = "generate"

	// ModeInterview runs a scripted interview.
	ModeInterview Mode = "interview"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool { return m == ModeGenerate || m == ModeInterview }

// Synthesizer turns a finished interview into stored feedback.
// *feedback.Synthesizer satisfies it.
type Synthesizer interface {
	Synthesize(ctx context.Context, req feedback.Request) feedback.Outcome
}

// Params describes one session.
type Params struct {
	// ID is the public session id. Generated when empty.
	ID string

	Mode     Mode
	UserID   string
	UserName string

	// WorkflowID selects the engine workflow in generate mode.
	WorkflowID string

	// InterviewID and Questions script an interview-mode call.
	InterviewID string
	Questions   []string

	// Interviewer is the inline agent for interview mode. The zero value
	// selects [DefaultInterviewer].
	Interviewer voice.Assistant
}

// Validate checks that the fields required by Mode are present.
func (p Params) Validate() error {
	var errs []error
	if !p.Mode.Valid() {
		errs = append(errs, fmt.Errorf("unknown mode %q", p.Mode))
	}
	if p.UserID == "" {
		errs = append(errs, errors.New("user id must not be empty"))
	}
	switch p.Mode {
	case ModeGenerate:
		if p.WorkflowID == "" {
			errs = append(errs, errors.New("generate mode requires a workflow id"))
		}
	case ModeInterview:
		if p.InterviewID == "" {
			errs = append(errs, errors.New("interview mode requires an interview id"))
		}
		if len(p.Questions) == 0 {
			errs = append(errs, errors.New("interview mode requires at least one question"))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("interview: invalid params: %w", err)
	}
	return nil
}

// Outcome is what the exit handler decided.
type Outcome struct {
	Destination Destination       `json:"destination"`
	Feedback    *feedback.Outcome `json:"-"`
	FeedbackID  string            `json:"feedbackId,omitempty"`
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	ID            string             `json:"id"`
	Mode          Mode               `json:"mode"`
	State         State              `json:"state"`
	AgentSpeaking bool               `json:"agentSpeaking"`
	Error         *SessionError      `json:"error,omitempty"`
	Transcript    []transcript.Entry `json:"transcript"`
	Outcome       *Outcome           `json:"outcome,omitempty"`
}

// Session is one voice call. All methods are safe for concurrent use.
type Session struct {
	params  Params
	engine  voice.Engine
	synth   Synthesizer
	nav     Navigator
	metrics *observe.Metrics
	log     *slog.Logger

	startTimeout     time.Duration
	stopTimeout      time.Duration
	synthesisTimeout time.Duration

	entries *transcript.Accumulator

	mu        sync.Mutex
	state     State
	speaking  bool
	err       *SessionError
	outcome   *Outcome
	startedAt time.Time
	stopTimer *time.Timer

	done        chan struct{}
	unsubscribe func()
	closeOnce   sync.Once
}

// ID returns the public session id.
func (s *Session) ID() string { return s.params.ID }

// Params returns the parameters the session was built with.
func (s *Session) Params() Params { return s.params }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsAgentSpeaking reports whether the agent is currently vocalizing.
func (s *Session) IsAgentSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// Err returns the attached session error, or nil.
func (s *Session) Err() *SessionError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Transcript returns the finalized utterances so far.
func (s *Session) Transcript() []transcript.Entry { return s.entries.Snapshot() }

// Done is closed once the exit handler has decided the destination.
func (s *Session) Done() <-chan struct{} { return s.done }

// AudioPort exposes the raw call audio when the engine supports it.
func (s *Session) AudioPort() (voice.AudioPort, bool) {
	ap, ok := s.engine.(voice.AudioPort)
	return ap, ok
}

// Outcome returns the exit decision, or nil before Done is closed.
func (s *Session) Outcome() *Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// Snapshot returns a consistent view of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:            s.params.ID,
		Mode:          s.params.Mode,
		State:         s.state,
		AgentSpeaking: s.speaking,
		Error:         s.err,
		Transcript:    s.entries.Snapshot(),
		Outcome:       s.outcome,
	}
}

// StartCall moves the session from idle to connecting and asks the engine to
// start the call. It returns once the engine acknowledged or rejected the
// request, bounded by the configured start timeout. On failure the session
// returns to idle with a transport-failure error attached, and StartCall may
// be called again.
func (s *Session) StartCall(ctx context.Context) error {
	s.mu.Lock()
	next, err := transition(s.state, triggerStart)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = next
	s.err = nil
	s.speaking = false
	s.startedAt = time.Now()
	s.entries.Reset()
	s.mu.Unlock()

	s.log.Info("starting call")

	if s.startTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.startTimeout)
		defer cancel()
	}

	startErr := s.engine.Start(ctx, s.agentConfig())
	if startErr == nil {
		return nil
	}

	serr := transportError(startErr.Error())
	s.mu.Lock()
	if next, err := transition(s.state, triggerStartFailed); err == nil {
		s.state = next
		s.err = serr
	}
	elapsed := time.Since(s.startedAt)
	s.mu.Unlock()

	s.metrics.RecordCallStart(context.WithoutCancel(ctx), string(s.params.Mode), "error", elapsed.Seconds())
	s.log.Warn("call start failed", "err", startErr)
	return fmt.Errorf("interview: start call: %w", startErr)
}

// StopCall asks the engine to end the call. It is advisory: the session
// reaches the finished state only when the engine reports call-end or an
// error. If a stop timeout is configured and the engine stays silent, the
// session is finished with a transport failure when it expires.
func (s *Session) StopCall() error {
	s.mu.Lock()
	if s.state != StateConnecting && s.state != StateActive {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrNoCall, st)
	}
	if s.stopTimeout > 0 && s.stopTimer == nil {
		s.stopTimer = time.AfterFunc(s.stopTimeout, func() {
			s.log.Warn("stop not confirmed by engine", "timeout", s.stopTimeout)
			s.finish(triggerError, transportError(stopUnconfirmed))
		})
	}
	s.mu.Unlock()

	s.log.Info("stopping call")
	if err := s.engine.Stop(); err != nil {
		return fmt.Errorf("interview: stop call: %w", err)
	}
	return nil
}

// Close deregisters the session's engine listener and ends any call still in
// progress. It is safe to call more than once; only the first call has an
// effect.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.unsubscribe()

		s.mu.Lock()
		live := s.state == StateConnecting || s.state == StateActive
		if s.stopTimer != nil {
			s.stopTimer.Stop()
		}
		s.mu.Unlock()

		if live {
			if err := s.engine.Stop(); err != nil {
				s.log.Warn("stop on close failed", "err", err)
			}
		}
	})
}

func (s *Session) agentConfig() voice.AgentConfig {
	switch s.params.Mode {
	case ModeGenerate:
		return voice.AgentConfig{
			WorkflowID: s.params.WorkflowID,
			Variables: map[string]string{
				"username": s.params.UserName,
				"userid":   s.params.UserID,
			},
		}
	default:
		a := s.params.Interviewer
		return voice.AgentConfig{
			Assistant: &a,
			Variables: map[string]string{
				"questions": catalog.FormatQuestions(s.params.Questions),
			},
		}
	}
}

// ── Event handling ──────────────────────────────────────────────────────────

func (s *Session) handle(ev voice.Event) {
	switch ev.Kind {
	case voice.EventCallStart:
		s.callStarted()
	case voice.EventSpeechStart, voice.EventSpeechEnd:
		s.mu.Lock()
		if s.state == StateActive {
			s.speaking = ev.Kind == voice.EventSpeechStart
		}
		s.mu.Unlock()
	case voice.EventMessage:
		if ev.Message != nil && ev.Message.IsFinalTranscript() {
			s.appendMessage(*ev.Message)
		}
	case voice.EventCallEnd:
		s.finish(triggerCallEnded, nil)
	case voice.EventError:
		var p voice.ErrorPayload
		if ev.Error != nil {
			p = *ev.Error
		}
		s.finish(triggerError, Classify(p))
	default:
		s.log.Debug("ignoring engine event", "kind", ev.Kind)
	}
}

func (s *Session) callStarted() {
	s.mu.Lock()
	next, err := transition(s.state, triggerCallStarted)
	if err != nil {
		s.mu.Unlock()
		s.log.Warn("rejected engine event", "err", err)
		return
	}
	s.state = next
	elapsed := time.Since(s.startedAt)
	s.mu.Unlock()

	s.metrics.RecordCallStart(context.Background(), string(s.params.Mode), "ok", elapsed.Seconds())
	s.log.Info("call started", "connect_time", elapsed)
}

func (s *Session) appendMessage(m voice.Message) {
	role, err := transcript.ParseRole(m.Role)
	if err != nil {
		s.log.Warn("dropping transcript with unknown role", "role", m.Role)
		return
	}

	s.mu.Lock()
	st := s.state
	// Late messages after the terminal transition are kept; messages before
	// the call is live are not.
	if st == StateActive || st == StateFinished {
		s.entries.Append(transcript.Entry{Role: role, Text: m.Transcript})
	}
	s.mu.Unlock()

	if st != StateActive && st != StateFinished {
		s.log.Warn("rejected transcript before call start", "state", st)
		return
	}
	s.metrics.RecordTranscriptEntry(context.Background(), string(role))
}

// finish performs the single transition into StateFinished and launches the
// exit handler. Later calls are rejected by the transition table.
func (s *Session) finish(t trigger, serr *SessionError) {
	s.mu.Lock()
	from := s.state
	next, err := transition(from, t)
	if err != nil {
		s.mu.Unlock()
		s.log.Debug("ignoring terminal event", "err", err)
		return
	}
	s.state = next
	s.speaking = false
	if serr != nil {
		s.err = serr
	}
	if s.stopTimer != nil {
		s.stopTimer.Stop()
	}
	elapsed := time.Since(s.startedAt)
	entries := s.entries.Snapshot()
	s.mu.Unlock()

	reason := "ended"
	if serr != nil {
		reason = serr.Kind.String()
	}
	mode := string(s.params.Mode)
	if from == StateActive {
		s.metrics.RecordCallFinished(context.Background(), mode, reason, elapsed.Seconds())
	} else {
		s.metrics.RecordCallStart(context.Background(), mode, "error", elapsed.Seconds())
	}
	s.log.Info("call finished", "reason", reason, "transcript_entries", len(entries))

	go s.exit(entries, serr)
}

// exit decides the destination. It runs exactly once per session.
func (s *Session) exit(entries []transcript.Entry, serr *SessionError) {
	out := &Outcome{}
	switch {
	case s.params.Mode == ModeGenerate:
		out.Destination = DestinationHome
	case len(entries) > 0:
		ctx := context.Background()
		if s.synthesisTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.synthesisTimeout)
			defer cancel()
		}
		fo := s.synth.Synthesize(ctx, feedback.Request{
			InterviewID: s.params.InterviewID,
			UserID:      s.params.UserID,
			Transcript:  entries,
		})
		out.Feedback = &fo
		out.FeedbackID = fo.FeedbackID
		out.Destination = DestinationHome
		if fo.Success {
			out.Destination = FeedbackDestination(s.params.InterviewID)
		}
	case serr == nil:
		out.Destination = DestinationHome
	default:
		out.Destination = DestinationStay
	}

	s.mu.Lock()
	s.outcome = out
	s.mu.Unlock()
	close(s.done)

	s.log.Info("session exit", "destination", out.Destination)
	if out.Destination != DestinationStay && s.nav != nil {
		s.nav.Navigate(context.Background(), s.params.ID, out.Destination)
	}
}
