// Package feedback turns a finished interview transcript into a scored,
// persisted evaluation.
//
// The [Synthesizer] runs the pipeline once per call: format the transcript,
// ask a [Generator] for a [Result] covering the fixed [Categories], and write
// a [Record] to a [Store]. Failures never escape as errors; they are reported
// through [Outcome] so the caller only has to pick a destination.
package feedback

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/mockinterview/internal/transcript"
)

// Categories is the fixed scoring rubric. Every [Result] carries exactly these
// categories in exactly this order.
var Categories = []string{
	"Communication Skills",
	"Technical Knowledge",
	"Problem-Solving",
	"Cultural & Role Fit",
	"Confidence & Clarity",
}

// CategoryScore is the score and comment for one rubric category.
type CategoryScore struct {
	Name    string `json:"name"`
	Score   int    `json:"score"`
	Comment string `json:"comment"`
}

// Result is the structured evaluation produced by a [Generator].
type Result struct {
	TotalScore          int             `json:"totalScore"`
	CategoryScores      []CategoryScore `json:"categoryScores"`
	Strengths           []string        `json:"strengths"`
	AreasForImprovement []string        `json:"areasForImprovement"`
	FinalAssessment     string          `json:"finalAssessment"`
}

// Validate checks the score ranges and the category list.
func (r *Result) Validate() error {
	var errs []error
	if r.TotalScore < 0 || r.TotalScore > 100 {
		errs = append(errs, fmt.Errorf("totalScore %d out of range [0, 100]", r.TotalScore))
	}
	if len(r.CategoryScores) != len(Categories) {
		errs = append(errs, fmt.Errorf("got %d category scores, want %d", len(r.CategoryScores), len(Categories)))
	}
	for i, cs := range r.CategoryScores {
		if i < len(Categories) && cs.Name != Categories[i] {
			errs = append(errs, fmt.Errorf("categoryScores[%d]: name %q, want %q", i, cs.Name, Categories[i]))
		}
		if cs.Score < 0 || cs.Score > 100 {
			errs = append(errs, fmt.Errorf("categoryScores[%d]: score %d out of range [0, 100]", i, cs.Score))
		}
	}
	if r.FinalAssessment == "" {
		errs = append(errs, errors.New("finalAssessment must not be empty"))
	}
	return errors.Join(errs...)
}

// Record is a persisted [Result]. CreatedAt is assigned at write time.
type Record struct {
	ID          string    `json:"id"`
	InterviewID string    `json:"interviewId"`
	UserID      string    `json:"userId"`
	Result      Result    `json:"result"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Request is the input to [Synthesizer.Synthesize].
type Request struct {
	InterviewID string
	UserID      string
	Transcript  []transcript.Entry
}

// FailureKind classifies why a synthesis did not produce a record.
type FailureKind int

const (
	// FailureNone means the synthesis succeeded.
	FailureNone FailureKind = iota

	// FailureGeneration means the generator errored or returned an invalid
	// document. Nothing was persisted.
	FailureGeneration

	// FailurePersistence means the result was generated but the write failed.
	// The generated content is discarded.
	FailurePersistence
)

// String returns the metric label for the failure kind.
func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "ok"
	case FailureGeneration:
		return "generation_failure"
	case FailurePersistence:
		return "persistence_failure"
	default:
		return fmt.Sprintf("FailureKind(%d)", int(k))
	}
}

// Outcome reports the result of one synthesis attempt.
type Outcome struct {
	Success    bool
	FeedbackID string
	Failure    FailureKind
	Err        error
}
