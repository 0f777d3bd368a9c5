// Package catalog stores the interviews a user can practise: the role,
// level and question list an interview-mode session is scripted from.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned by [Store.Get] when no interview has the given id.
var ErrNotFound = errors.New("catalog: interview not found")

// Interview is a scripted set of questions for one role.
type Interview struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Role      string    `json:"role"`
	Level     string    `json:"level"`
	Type      string    `json:"type"`
	TechStack []string  `json:"techstack"`
	Questions []string  `json:"questions"`
	Finalized bool      `json:"finalized"`
	CreatedAt time.Time `json:"createdAt"`
}

// Validate reports missing required fields.
func (iv *Interview) Validate() error {
	var errs []error
	if iv.UserID == "" {
		errs = append(errs, errors.New("user id must not be empty"))
	}
	if iv.Role == "" {
		errs = append(errs, errors.New("role must not be empty"))
	}
	if len(iv.Questions) == 0 {
		errs = append(errs, errors.New("at least one question is required"))
	}
	for i, q := range iv.Questions {
		if strings.TrimSpace(q) == "" {
			errs = append(errs, fmt.Errorf("questions[%d] must not be empty", i))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("catalog: invalid interview: %w", err)
	}
	return nil
}

// Store persists interviews.
// Implementations must be safe for concurrent use.
type Store interface {
	// Create inserts iv, assigning ID and CreatedAt when they are zero.
	Create(ctx context.Context, iv *Interview) error

	// Get returns the interview with the given id or [ErrNotFound].
	Get(ctx context.Context, id string) (*Interview, error)

	// ListByUser returns the user's interviews, newest first.
	ListByUser(ctx context.Context, userID string) ([]Interview, error)

	// Latest returns up to limit finalized interviews created by users other
	// than excludeUserID, newest first.
	Latest(ctx context.Context, excludeUserID string, limit int) ([]Interview, error)
}

// FormatQuestions renders questions as the newline-joined bullet list used as
// the interviewer's {{questions}} template variable.
func FormatQuestions(questions []string) string {
	lines := make([]string, len(questions))
	for i, q := range questions {
		lines[i] = "- " + q
	}
	return strings.Join(lines, "\n")
}

// SplitTechStack parses a comma-separated tech stack, dropping blanks.
func SplitTechStack(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
