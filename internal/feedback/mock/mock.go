// Package mock provides test doubles for the feedback package.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/mockinterview/internal/feedback"
)

// Store is an in-memory [feedback.Store] that records every call.
type Store struct {
	mu sync.Mutex

	// AddErr, when non-nil, is returned by Add and nothing is stored.
	AddErr error

	// LatestErr, when non-nil, is returned by Latest.
	LatestErr error

	records  []feedback.Record
	addCalls int
}

var _ feedback.Store = (*Store)(nil)

// Add implements [feedback.Store].
func (s *Store) Add(_ context.Context, rec *feedback.Record) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addCalls++
	if s.AddErr != nil {
		return "", s.AddErr
	}
	if rec.ID == "" {
		rec.ID = fmt.Sprintf("fb-%d", len(s.records)+1)
	}
	s.records = append(s.records, *rec)
	return rec.ID, nil
}

// Latest implements [feedback.Store].
func (s *Store) Latest(_ context.Context, interviewID, userID string) (*feedback.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LatestErr != nil {
		return nil, s.LatestErr
	}
	for i := len(s.records) - 1; i >= 0; i-- {
		r := s.records[i]
		if r.InterviewID == interviewID && r.UserID == userID {
			return &r, nil
		}
	}
	return nil, nil
}

// Records returns a copy of every stored record in insertion order.
func (s *Store) Records() []feedback.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]feedback.Record, len(s.records))
	copy(out, s.records)
	return out
}

// AddCalls returns how many times Add was called, including failed calls.
func (s *Store) AddCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addCalls
}

// Generator is a scripted [feedback.Generator].
type Generator struct {
	mu sync.Mutex

	// Result is returned by Generate when Err is nil.
	Result *feedback.Result

	// Err is returned by Generate when non-nil.
	Err error

	// Inputs records every formatted transcript passed to Generate.
	Inputs []string
}

var _ feedback.Generator = (*Generator)(nil)

// Generate implements [feedback.Generator].
func (g *Generator) Generate(_ context.Context, formatted string) (*feedback.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Inputs = append(g.Inputs, formatted)
	if g.Err != nil {
		return nil, g.Err
	}
	r := *g.Result
	return &r, nil
}

// Calls returns how many times Generate was called.
func (g *Generator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Inputs)
}

// ValidResult returns a result that passes [feedback.Result.Validate].
func ValidResult() *feedback.Result {
	scores := make([]feedback.CategoryScore, 0, len(feedback.Categories))
	for _, name := range feedback.Categories {
		scores = append(scores, feedback.CategoryScore{Name: name, Score: 70, Comment: "solid"})
	}
	return &feedback.Result{
		TotalScore:          72,
		CategoryScores:      scores,
		Strengths:           []string{"clear answers"},
		AreasForImprovement: []string{"more depth on system design"},
		FinalAssessment:     "Promising candidate.",
	}
}
