package interview

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/mockinterview/internal/feedback"
	"github.com/MrWong99/mockinterview/internal/observe"
	"github.com/MrWong99/mockinterview/internal/transcript"
	"github.com/MrWong99/mockinterview/pkg/provider/voice"
	"github.com/MrWong99/mockinterview/pkg/provider/voice/mock"
)

// ── test doubles ────────────────────────────────────────────────────────────

type fakeSynth struct {
	mu      sync.Mutex
	reqs    []feedback.Request
	outcome feedback.Outcome
}

func (f *fakeSynth) Synthesize(_ context.Context, req feedback.Request) feedback.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.outcome
}

func (f *fakeSynth) calls() []feedback.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]feedback.Request(nil), f.reqs...)
}

type navCall struct {
	sessionID string
	dest      Destination
}

type fakeNav struct {
	mu    sync.Mutex
	calls []navCall
}

func (n *fakeNav) Navigate(_ context.Context, id string, d Destination) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, navCall{id, d})
}

func (n *fakeNav) all() []navCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]navCall(nil), n.calls...)
}

type harness struct {
	provider *mock.Provider
	synth    *fakeSynth
	nav      *fakeNav
	factory  *Factory
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{
		provider: &mock.Provider{},
		synth:    &fakeSynth{outcome: feedback.Outcome{Success: true, FeedbackID: "fb-1"}},
		nav:      &fakeNav{},
	}
	base := []Option{WithSynthesizer(h.synth), WithNavigator(h.nav), WithMetrics(m)}
	h.factory = NewFactory(h.provider, append(base, opts...)...)
	return h
}

func interviewParams() Params {
	return Params{
		ID:          "sess-1",
		Mode:        ModeInterview,
		UserID:      "user-1",
		UserName:    "Ada",
		InterviewID: "iv-1",
		Questions:   []string{"What is React?", "Explain hooks."},
	}
}

func generateParams() Params {
	return Params{
		ID:         "sess-g",
		Mode:       ModeGenerate,
		UserID:     "user-1",
		UserName:   "Ada",
		WorkflowID: "wf-generate",
	}
}

func (h *harness) started(t *testing.T, p Params) (*Session, *mock.Engine) {
	t.Helper()
	s, err := h.factory.New(p)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)
	if err := s.StartCall(context.Background()); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	return s, h.provider.Last()
}

func waitDone(t *testing.T, s *Session) *Outcome {
	t.Helper()
	select {
	case <-s.Done():
		return s.Outcome()
	case <-time.After(2 * time.Second):
		t.Fatal("session exit handler did not run")
		return nil
	}
}

// ── scenarios ───────────────────────────────────────────────────────────────

func TestSession_NormalInterview(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	s, e := h.started(t, interviewParams())

	if got := s.State(); got != StateConnecting {
		t.Fatalf("after StartCall state = %s, want connecting", got)
	}
	e.Emit(voice.Event{Kind: voice.EventCallStart})
	if got := s.State(); got != StateActive {
		t.Fatalf("after call-start state = %s, want active", got)
	}
	e.EmitFinal(voice.RoleUser, "I know React")
	e.EmitFinal(voice.RoleAssistant, "Good, next question")
	e.Emit(voice.Event{Kind: voice.EventCallEnd})

	if got := s.State(); got != StateFinished {
		t.Fatalf("after call-end state = %s, want finished", got)
	}
	out := waitDone(t, s)

	want := []transcript.Entry{
		{Role: transcript.RoleCandidate, Text: "I know React"},
		{Role: transcript.RoleAgent, Text: "Good, next question"},
	}
	got := s.Transcript()
	if len(got) != len(want) {
		t.Fatalf("transcript = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transcript[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}

	calls := h.synth.calls()
	if len(calls) != 1 {
		t.Fatalf("Synthesize called %d times, want 1", len(calls))
	}
	if calls[0].InterviewID != "iv-1" || calls[0].UserID != "user-1" || len(calls[0].Transcript) != 2 {
		t.Errorf("feedback request = %+v", calls[0])
	}
	if out.Destination != FeedbackDestination("iv-1") || out.FeedbackID != "fb-1" {
		t.Errorf("outcome = %+v", out)
	}
	if nav := h.nav.all(); len(nav) != 1 || nav[0] != (navCall{"sess-1", "feedback/iv-1"}) {
		t.Errorf("navigations = %+v", nav)
	}
}

func TestSession_InterviewAgentConfig(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, e := h.started(t, interviewParams())

	starts := e.Starts()
	if len(starts) != 1 {
		t.Fatalf("Start called %d times", len(starts))
	}
	cfg := starts[0]
	if cfg.WorkflowID != "" || cfg.Assistant == nil {
		t.Fatalf("config = %+v, want inline assistant", cfg)
	}
	if !strings.Contains(cfg.Assistant.Instructions, "{{questions}}") {
		t.Error("default interviewer lacks {{questions}} placeholder")
	}
	if got := cfg.Variables["questions"]; got != "- What is React?\n- Explain hooks." {
		t.Errorf("questions variable = %q", got)
	}
}

func TestSession_GenerateModeSkipsSynthesis(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	s, e := h.started(t, generateParams())

	cfg := e.Starts()[0]
	if cfg.WorkflowID != "wf-generate" || cfg.Assistant != nil {
		t.Errorf("config = %+v, want workflow", cfg)
	}
	if cfg.Variables["username"] != "Ada" || cfg.Variables["userid"] != "user-1" {
		t.Errorf("variables = %v", cfg.Variables)
	}

	e.Emit(voice.Event{Kind: voice.EventCallStart})
	e.EmitFinal(voice.RoleUser, "Frontend, junior")
	e.Emit(voice.Event{Kind: voice.EventCallEnd})

	out := waitDone(t, s)
	if out.Destination != DestinationHome {
		t.Errorf("destination = %s, want home", out.Destination)
	}
	if n := len(h.synth.calls()); n != 0 {
		t.Errorf("Synthesize called %d times in generate mode", n)
	}
}

func TestSession_RemoteTerminationEmptyTranscript(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	s, e := h.started(t, interviewParams())
	e.Emit(voice.Event{Kind: voice.EventCallStart})
	e.EmitError("Meeting has ended abruptly")

	if got := s.State(); got != StateFinished {
		t.Fatalf("state = %s, want finished", got)
	}
	serr := s.Err()
	if serr == nil || serr.Kind != KindRemoteTermination {
		t.Fatalf("Err() = %+v, want remote termination", serr)
	}
	out := waitDone(t, s)
	if out.Destination != DestinationStay {
		t.Errorf("destination = %s, want stay", out.Destination)
	}
	if len(h.synth.calls()) != 0 {
		t.Error("Synthesize called with empty transcript")
	}
	if len(h.nav.all()) != 0 {
		t.Errorf("navigator called: %+v", h.nav.all())
	}
}

func TestSession_EmptyTranscriptNoErrorGoesHome(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	s, e := h.started(t, interviewParams())
	e.Emit(voice.Event{Kind: voice.EventCallStart})
	e.Emit(voice.Event{Kind: voice.EventCallEnd})

	if out := waitDone(t, s); out.Destination != DestinationHome {
		t.Errorf("destination = %s, want home", out.Destination)
	}
	if len(h.synth.calls()) != 0 {
		t.Error("Synthesize called with empty transcript")
	}
}

func TestSession_ErrorWithTranscriptSynthesizes(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.synth.outcome = feedback.Outcome{Failure: feedback.FailureGeneration, Err: errors.New("boom")}
	s, e := h.started(t, interviewParams())
	e.Emit(voice.Event{Kind: voice.EventCallStart})
	e.EmitFinal(voice.RoleUser, "hello")
	e.Emit(voice.Event{Kind: voice.EventError, Error: &voice.ErrorPayload{}})

	out := waitDone(t, s)
	if s.Err().Kind != KindUnknown {
		t.Errorf("Err().Kind = %s, want unknown", s.Err().Kind)
	}
	if len(h.synth.calls()) != 1 {
		t.Errorf("Synthesize called %d times, want 1", len(h.synth.calls()))
	}
	if out.Destination != DestinationHome {
		t.Errorf("destination = %s, want home after failed synthesis", out.Destination)
	}
}

func TestSession_StartFailureReturnsToIdle(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	e := &mock.Engine{StartErr: errors.New("dial tcp: connection refused")}
	h.provider.Engines = []*mock.Engine{e}

	s, err := h.factory.New(interviewParams())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := s.StartCall(context.Background()); err == nil {
		t.Fatal("StartCall succeeded, want error")
	}
	if got := s.State(); got != StateIdle {
		t.Fatalf("state = %s, want idle", got)
	}
	serr := s.Err()
	if serr == nil || serr.Kind != KindTransportFailure {
		t.Fatalf("Err() = %+v, want transport failure", serr)
	}
	if want := "An error occurred: dial tcp: connection refused. Please try again."; serr.Message != want {
		t.Errorf("message = %q, want %q", serr.Message, want)
	}

	e.StartErr = nil
	if err := s.StartCall(context.Background()); err != nil {
		t.Fatalf("second StartCall: %v", err)
	}
	if s.State() != StateConnecting || s.Err() != nil {
		t.Errorf("after retry state = %s err = %v", s.State(), s.Err())
	}
}

func TestSession_StartTimeout(t *testing.T) {
	t.Parallel()

	h := newHarness(t, WithStartTimeout(20*time.Millisecond))
	e := &mock.Engine{StartFunc: func(ctx context.Context, _ voice.AgentConfig) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	h.provider.Engines = []*mock.Engine{e}

	s, err := h.factory.New(interviewParams())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	err = s.StartCall(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("StartCall err = %v, want deadline exceeded", err)
	}
	if s.State() != StateIdle || s.Err() == nil {
		t.Errorf("state = %s err = %v", s.State(), s.Err())
	}
}

func TestSession_StartTwiceRejected(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	s, _ := h.started(t, interviewParams())
	if err := s.StartCall(context.Background()); !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("second StartCall err = %v, want ErrIllegalTransition", err)
	}
}

func TestSession_ExitRunsOnceUnderRepeatedTerminalEvents(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	s, e := h.started(t, interviewParams())
	e.Emit(voice.Event{Kind: voice.EventCallStart})
	e.EmitFinal(voice.RoleUser, "answer")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); e.Emit(voice.Event{Kind: voice.EventCallEnd}) }()
		go func() { defer wg.Done(); e.EmitError("socket closed") }()
	}
	wg.Wait()
	waitDone(t, s)

	if n := len(h.synth.calls()); n != 1 {
		t.Errorf("Synthesize called %d times, want 1", n)
	}
	if n := len(h.nav.all()); n != 1 {
		t.Errorf("Navigate called %d times, want 1", n)
	}
}

func TestSession_MessageBeforeActiveRejected(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	s, e := h.started(t, interviewParams())
	e.EmitFinal(voice.RoleAssistant, "too early")
	if n := len(s.Transcript()); n != 0 {
		t.Errorf("transcript has %d entries before call-start", n)
	}
}

func TestSession_PartialAndUnknownMessagesIgnored(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	s, e := h.started(t, interviewParams())
	e.Emit(voice.Event{Kind: voice.EventCallStart})
	e.Emit(voice.Event{Kind: voice.EventMessage, Message: &voice.Message{
		Type: voice.MessageTypeTranscript, TranscriptType: voice.TranscriptPartial,
		Role: voice.RoleUser, Transcript: "I kn",
	}})
	e.Emit(voice.Event{Kind: voice.EventMessage, Message: &voice.Message{
		Type: "function-call", TranscriptType: voice.TranscriptFinal, Role: voice.RoleUser,
	}})
	e.EmitFinal("robot", "beep")
	e.EmitFinal(voice.RoleUser, "I know React")
	e.EmitFinal(voice.RoleUser, "I know React")

	got := s.Transcript()
	if len(got) != 2 || got[0].Text != "I know React" || got[1].Text != "I know React" {
		t.Errorf("transcript = %+v, want the duplicated final utterance twice", got)
	}
}

func TestSession_LateMessageAfterFinishedIsAppended(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	s, e := h.started(t, interviewParams())
	e.Emit(voice.Event{Kind: voice.EventCallStart})
	e.Emit(voice.Event{Kind: voice.EventCallEnd})
	e.EmitFinal(voice.RoleAssistant, "Goodbye")
	waitDone(t, s)

	if s.State() != StateFinished {
		t.Errorf("state = %s, want finished", s.State())
	}
	if got := s.Transcript(); len(got) != 1 || got[0].Text != "Goodbye" {
		t.Errorf("transcript = %+v", got)
	}
}

func TestSession_SpeakingFlag(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	s, e := h.started(t, interviewParams())

	e.Emit(voice.Event{Kind: voice.EventSpeechStart})
	if s.IsAgentSpeaking() {
		t.Error("speaking toggled before call-start")
	}
	e.Emit(voice.Event{Kind: voice.EventCallStart})
	if s.IsAgentSpeaking() {
		t.Error("speaking should start false")
	}
	e.Emit(voice.Event{Kind: voice.EventSpeechStart})
	if !s.IsAgentSpeaking() {
		t.Error("speech-start did not set speaking")
	}
	if s.State() != StateActive {
		t.Errorf("speech changed state to %s", s.State())
	}
	e.Emit(voice.Event{Kind: voice.EventSpeechEnd})
	if s.IsAgentSpeaking() {
		t.Error("speech-end did not clear speaking")
	}
	e.Emit(voice.Event{Kind: voice.EventSpeechStart})
	e.Emit(voice.Event{Kind: voice.EventCallEnd})
	if s.IsAgentSpeaking() {
		t.Error("speaking still set after finish")
	}
}

func TestSession_StopIsAdvisory(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	s, e := h.started(t, interviewParams())
	e.Emit(voice.Event{Kind: voice.EventCallStart})

	if err := s.StopCall(); err != nil {
		t.Fatalf("StopCall: %v", err)
	}
	if e.Stops() != 1 {
		t.Errorf("engine Stop called %d times", e.Stops())
	}
	if s.State() != StateActive {
		t.Errorf("state = %s after StopCall, want active until call-end", s.State())
	}
	e.Emit(voice.Event{Kind: voice.EventCallEnd})
	if s.State() != StateFinished {
		t.Errorf("state = %s after call-end", s.State())
	}
}

func TestSession_StopWhenIdle(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	s, err := h.factory.New(interviewParams())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.StopCall(); !errors.Is(err, ErrNoCall) {
		t.Errorf("StopCall err = %v, want ErrNoCall", err)
	}
}

func TestSession_StopTimeoutForcesFinished(t *testing.T) {
	t.Parallel()

	h := newHarness(t, WithStopTimeout(20*time.Millisecond))
	s, e := h.started(t, interviewParams())
	e.Emit(voice.Event{Kind: voice.EventCallStart})

	if err := s.StopCall(); err != nil {
		t.Fatalf("StopCall: %v", err)
	}
	out := waitDone(t, s)
	if s.State() != StateFinished {
		t.Fatalf("state = %s, want finished", s.State())
	}
	serr := s.Err()
	if serr == nil || serr.Kind != KindTransportFailure || !strings.Contains(serr.Message, stopUnconfirmed) {
		t.Errorf("Err() = %+v", serr)
	}
	if out.Destination != DestinationStay {
		t.Errorf("destination = %s, want stay", out.Destination)
	}
}

func TestSession_CloseUnsubscribesOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	s, e := h.started(t, interviewParams())
	if e.ListenerCount() != 1 {
		t.Fatalf("listeners = %d, want 1", e.ListenerCount())
	}
	s.Close()
	s.Close()
	if e.ListenerCount() != 0 || e.Unsubscribes != 1 {
		t.Errorf("listeners = %d unsubscribes = %d", e.ListenerCount(), e.Unsubscribes)
	}
	if e.Stops() != 1 {
		t.Errorf("Close on a live call stopped the engine %d times, want 1", e.Stops())
	}

	e.Emit(voice.Event{Kind: voice.EventCallStart})
	if s.State() != StateConnecting {
		t.Errorf("closed session reacted to event: %s", s.State())
	}
}

func TestParams_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		p       Params
		wantErr string
	}{
		{name: "interview ok", p: interviewParams()},
		{name: "generate ok", p: generateParams()},
		{name: "bad mode", p: Params{Mode: "chat", UserID: "u"}, wantErr: "unknown mode"},
		{name: "no user", p: Params{Mode: ModeGenerate, WorkflowID: "w"}, wantErr: "user id"},
		{name: "no workflow", p: Params{Mode: ModeGenerate, UserID: "u"}, wantErr: "workflow id"},
		{name: "no questions", p: Params{Mode: ModeInterview, UserID: "u", InterviewID: "i"}, wantErr: "at least one question"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.p.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}
