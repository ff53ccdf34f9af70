package chat

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a widget session.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateActive
	StateError
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateError:
		return "error"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name so JSON payloads stay readable.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name produced by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for candidate := StateUninitialized; candidate <= StateEnded; candidate++ {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", text)
}

// Session captures the backend conversation a widget is bound to.
// SessionID is only set once the state has reached StateActive.
type Session struct {
	SessionID string    `json:"sessionId,omitempty"`
	ProjectID string    `json:"projectId"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"createdAt"`
}
