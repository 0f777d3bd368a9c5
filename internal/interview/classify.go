package interview

import (
	"fmt"
	"strings"

	"github.com/MrWong99/mockinterview/pkg/provider/voice"
)

// ErrorKind classifies a voice session failure.
type ErrorKind int

const (
	// KindUnknown is an error without a message.
	KindUnknown ErrorKind = iota

	// KindRemoteTermination means the engine ended the meeting unexpectedly.
	KindRemoteTermination

	// KindTransportFailure means the call could not be established or broke
	// mid-call.
	KindTransportFailure
)

// String returns the kind name.
func (k ErrorKind) String() string {
	switch k {
	case KindUnknown:
		return "unknown"
	case KindRemoteTermination:
		return "remote_termination"
	case KindTransportFailure:
		return "transport_failure"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// MarshalText implements [encoding.TextMarshaler].
func (k ErrorKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// SessionError is the user-facing result of classifying an engine failure.
type SessionError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Error implements error.
func (e *SessionError) Error() string { return e.Message }

// Retryable reports whether the failure is a candidate for automatic retry.
// Only transport failures qualify.
func (e *SessionError) Retryable() bool { return e.Kind == KindTransportFailure }

var meetingEndedMarkers = []string{"Meeting has ended", "Meeting ended"}

// Classify maps an engine error payload to a [SessionError]. Rules are
// evaluated in order and the first match wins; matching is case sensitive.
func Classify(p voice.ErrorPayload) *SessionError {
	msg := p.Message
	for _, marker := range meetingEndedMarkers {
		if strings.Contains(msg, marker) {
			return &SessionError{
				Kind:    KindRemoteTermination,
				Message: "The interview session ended unexpectedly. Please try again.",
			}
		}
	}
	if msg != "" {
		return transportError(msg)
	}
	return &SessionError{
		Kind:    KindUnknown,
		Message: "An unexpected error occurred. Please try again.",
	}
}

func transportError(detail string) *SessionError {
	return &SessionError{
		Kind:    KindTransportFailure,
		Message: "An error occurred: " + detail + ". Please try again.",
	}
}
