package session

import (
	"time"

	"github.com/ent0n29/speechkit/internal/speech"
)

// State is the lifecycle position of a session.
type State string

const (
	StatePending   State = "pending"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	StateFailed    State = "failed"
)

func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateFailed:
		return true
	default:
		return false
	}
}

// Policy decides what a new request does to the session already running.
type Policy string

const (
	// PolicyQueue waits behind the active session.
	PolicyQueue Policy = "queue"
	// PolicyFlush cancels the active session and everything pending.
	PolicyFlush Policy = "flush"
)

// Session is a snapshot of one request's lifecycle. Sessions handed out by the
// queue are copies; mutating them has no effect.
type Session struct {
	ID      string         `json:"session_id"`
	Request speech.Request `json:"-"`
	State   State          `json:"state"`
	// Err is the failure for StateFailed, or speech.ErrStopTimeout for a
	// cancellation the engine never acknowledged.
	Err         error     `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	ActivatedAt time.Time `json:"activated_at,omitzero"`
	EndedAt     time.Time `json:"ended_at,omitzero"`
}

// Forced reports whether the session was force-cancelled after a stop timeout.
func (s Session) Forced() bool {
	return s.State == StateCancelled && s.Err == speech.ErrStopTimeout
}
