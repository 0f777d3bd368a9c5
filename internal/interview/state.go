package interview

import (
	"errors"
	"fmt"
)

// ErrIllegalTransition is returned when an event is not valid in the current
// state.
var ErrIllegalTransition = errors.New("interview: illegal transition")

// State is the lifecycle state of a [Session].
type State int

const (
	// StateIdle is the initial state. A failed start returns here.
	StateIdle State = iota

	// StateConnecting means Start has been requested and the engine has not
	// yet reported call-start.
	StateConnecting

	// StateActive means the call is live.
	StateActive

	// StateFinished is terminal. No transition leaves it.
	StateFinished
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateFinished:
		return "finished"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText implements [encoding.TextMarshaler].
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

type trigger int

const (
	triggerStart trigger = iota
	triggerStartFailed
	triggerCallStarted
	triggerCallEnded
	triggerError
)

func (t trigger) String() string {
	switch t {
	case triggerStart:
		return "start"
	case triggerStartFailed:
		return "start-failed"
	case triggerCallStarted:
		return "call-start"
	case triggerCallEnded:
		return "call-end"
	case triggerError:
		return "error"
	default:
		return fmt.Sprintf("trigger(%d)", int(t))
	}
}

// transition is the complete state table. It has no side effects.
func transition(from State, t trigger) (State, error) {
	switch {
	case from == StateIdle && t == triggerStart:
		return StateConnecting, nil
	case from == StateConnecting && t == triggerStartFailed:
		return StateIdle, nil
	case from == StateConnecting && t == triggerCallStarted:
		return StateActive, nil
	case (from == StateConnecting || from == StateActive) && (t == triggerCallEnded || t == triggerError):
		return StateFinished, nil
	}
	return from, fmt.Errorf("%w: %s in state %s", ErrIllegalTransition, t, from)
}
