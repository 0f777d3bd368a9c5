package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/mockinterview/internal/observe"
	"github.com/MrWong99/mockinterview/internal/transcript"
)

// Synthesizer runs the feedback pipeline. It is safe for concurrent use.
type Synthesizer struct {
	gen     Generator
	store   Store
	metrics *observe.Metrics
	now     func() time.Time
}

// Option configures a [Synthesizer].
type Option func(*Synthesizer)

// WithMetrics overrides the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Synthesizer) { s.metrics = m }
}

// WithClock overrides the clock used to stamp CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Synthesizer) { s.now = now }
}

// NewSynthesizer returns a Synthesizer that generates with gen and persists
// to store.
func NewSynthesizer(gen Generator, store Store, opts ...Option) *Synthesizer {
	s := &Synthesizer{gen: gen, store: store, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Synthesize generates and stores feedback for req. It performs a single
// attempt and reports failures through the returned [Outcome]; it never
// returns an error or lets a panic escape. Calling it twice with the same
// request writes two records.
func (s *Synthesizer) Synthesize(ctx context.Context, req Request) (out Outcome) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "feedback.synthesize",
		attribute.String("interview.id", req.InterviewID),
		attribute.Int("transcript.entries", len(req.Transcript)),
	)
	log := observe.Logger(ctx).With("interview_id", req.InterviewID, "user_id", req.UserID)

	// step is the stage a recovered panic is attributed to.
	step := FailureGeneration
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{Failure: step, Err: fmt.Errorf("feedback: panic: %v", r)}
		}
		if out.Err != nil {
			span.SetAttributes(attribute.String("feedback.failure", out.Failure.String()))
			log.Error("feedback synthesis failed", "failure", out.Failure.String(), "err", out.Err)
		} else {
			log.Info("feedback stored", "feedback_id", out.FeedbackID)
		}
		s.metrics.RecordSynthesis(ctx, out.Failure.String(), time.Since(start).Seconds())
		observe.EndSpan(span, out.Err)
	}()

	result, err := s.gen.Generate(ctx, transcript.Format(req.Transcript))
	if err != nil {
		return Outcome{Failure: FailureGeneration, Err: err}
	}
	log.Debug("feedback generated", slog.Int("total_score", result.TotalScore))

	rec := &Record{
		InterviewID: req.InterviewID,
		UserID:      req.UserID,
		Result:      *result,
		CreatedAt:   s.now().UTC(),
	}
	step = FailurePersistence
	id, err := s.store.Add(ctx, rec)
	if err != nil {
		return Outcome{Failure: FailurePersistence, Err: err}
	}
	return Outcome{Success: true, FeedbackID: id}
}
