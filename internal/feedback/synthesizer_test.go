package feedback_test

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/mockinterview/internal/feedback"
	fbmock "github.com/MrWong99/mockinterview/internal/feedback/mock"
	"github.com/MrWong99/mockinterview/internal/observe"
	"github.com/MrWong99/mockinterview/internal/transcript"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func sampleRequest() feedback.Request {
	return feedback.Request{
		InterviewID: "iv-1",
		UserID:      "user-1",
		Transcript: []transcript.Entry{
			{Role: transcript.RoleCandidate, Text: "I know React"},
			{Role: transcript.RoleAgent, Text: "Good, next question"},
		},
	}
}

func TestSynthesize_Success(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2026, 3, 1, 9, 30, 0, 0, time.FixedZone("CET", 3600))
	gen := &fbmock.Generator{Result: fbmock.ValidResult()}
	store := &fbmock.Store{}
	s := feedback.NewSynthesizer(gen, store,
		feedback.WithMetrics(testMetrics(t)),
		feedback.WithClock(func() time.Time { return fixed }),
	)

	out := s.Synthesize(context.Background(), sampleRequest())
	if !out.Success || out.Err != nil {
		t.Fatalf("Synthesize() = %+v, want success", out)
	}
	if out.FeedbackID == "" {
		t.Error("FeedbackID is empty")
	}

	if gen.Inputs[0] != "- candidate: I know React\n- agent: Good, next question" {
		t.Errorf("formatted transcript = %q", gen.Inputs[0])
	}

	recs := store.Records()
	if len(recs) != 1 {
		t.Fatalf("stored %d records, want 1", len(recs))
	}
	rec := recs[0]
	if rec.InterviewID != "iv-1" || rec.UserID != "user-1" {
		t.Errorf("record ids = %q/%q", rec.InterviewID, rec.UserID)
	}
	if !rec.CreatedAt.Equal(fixed) || rec.CreatedAt.Location() != time.UTC {
		t.Errorf("CreatedAt = %v, want %v in UTC", rec.CreatedAt, fixed)
	}
}

func TestSynthesize_GenerationFailure(t *testing.T) {
	t.Parallel()

	gen := &fbmock.Generator{Err: errors.New("model unavailable")}
	store := &fbmock.Store{}
	s := feedback.NewSynthesizer(gen, store, feedback.WithMetrics(testMetrics(t)))

	out := s.Synthesize(context.Background(), sampleRequest())
	if out.Success {
		t.Fatal("expected failure")
	}
	if out.Failure != feedback.FailureGeneration {
		t.Errorf("Failure = %v, want generation", out.Failure)
	}
	if store.AddCalls() != 0 {
		t.Errorf("persistence attempted %d times, want 0", store.AddCalls())
	}
}

func TestSynthesize_PersistenceFailure(t *testing.T) {
	t.Parallel()

	gen := &fbmock.Generator{Result: fbmock.ValidResult()}
	store := &fbmock.Store{AddErr: errors.New("disk full")}
	s := feedback.NewSynthesizer(gen, store, feedback.WithMetrics(testMetrics(t)))

	out := s.Synthesize(context.Background(), sampleRequest())
	if out.Success || out.Failure != feedback.FailurePersistence {
		t.Fatalf("Synthesize() = %+v, want persistence failure", out)
	}
	if gen.Calls() != 1 || store.AddCalls() != 1 {
		t.Errorf("generate=%d add=%d, want one attempt each", gen.Calls(), store.AddCalls())
	}
	if len(store.Records()) != 0 {
		t.Error("record written despite failure")
	}
}

func TestSynthesize_TwiceWritesTwoRecords(t *testing.T) {
	t.Parallel()

	store := &fbmock.Store{}
	s := feedback.NewSynthesizer(&fbmock.Generator{Result: fbmock.ValidResult()}, store,
		feedback.WithMetrics(testMetrics(t)))

	req := sampleRequest()
	a := s.Synthesize(context.Background(), req)
	b := s.Synthesize(context.Background(), req)
	if !a.Success || !b.Success {
		t.Fatalf("outcomes = %+v, %+v", a, b)
	}
	if a.FeedbackID == b.FeedbackID {
		t.Errorf("both calls returned id %q", a.FeedbackID)
	}
	if n := len(store.Records()); n != 2 {
		t.Errorf("stored %d records, want 2", n)
	}
}

type panicGenerator struct{}

func (panicGenerator) Generate(context.Context, string) (*feedback.Result, error) {
	panic("nil map")
}

// panicStore generates fine but panics on write.
type panicStore struct{ *fbmock.Store }

func (panicStore) Add(context.Context, *feedback.Record) (string, error) {
	panic("closed pool")
}

func TestSynthesize_RecoversPanic(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		gen   feedback.Generator
		store feedback.Store
		want  feedback.FailureKind
	}{
		{
			name:  "generator panics",
			gen:   panicGenerator{},
			store: &fbmock.Store{},
			want:  feedback.FailureGeneration,
		},
		{
			name:  "store panics",
			gen:   &fbmock.Generator{Result: fbmock.ValidResult()},
			store: panicStore{&fbmock.Store{}},
			want:  feedback.FailurePersistence,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := feedback.NewSynthesizer(tt.gen, tt.store, feedback.WithMetrics(testMetrics(t)))
			out := s.Synthesize(context.Background(), sampleRequest())
			if out.Success || out.Err == nil {
				t.Fatalf("Synthesize() = %+v, want failure", out)
			}
			if out.Failure != tt.want {
				t.Errorf("Failure = %v, want %v", out.Failure, tt.want)
			}
		})
	}
}
