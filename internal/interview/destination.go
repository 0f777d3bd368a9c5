package interview

import "context"

// Destination is an opaque navigation token for the presentation layer.
type Destination string

const (
	// DestinationHome sends the user back to the landing page.
	DestinationHome Destination = "home"

	// DestinationStay keeps the user on the terminal screen, which shows the
	// session error and a retry affordance.
	DestinationStay Destination = "stay"
)

// FeedbackDestination is the feedback page of an interview.
func FeedbackDestination(interviewID string) Destination {
	return Destination("feedback/" + interviewID)
}

// Navigator receives the destination chosen when a session finishes.
// DestinationStay is never sent.
type Navigator interface {
	Navigate(ctx context.Context, sessionID string, d Destination)
}

// NavigatorFunc adapts a function to [Navigator].
type NavigatorFunc func(ctx context.Context, sessionID string, d Destination)

// Navigate implements [Navigator].
func (f NavigatorFunc) Navigate(ctx context.Context, sessionID string, d Destination) {
	f(ctx, sessionID, d)
}
