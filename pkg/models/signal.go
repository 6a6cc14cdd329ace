package models

import "time"

// SignalKind is a control signal delivered to a running session through the
// database. CLI invocations insert rows; the engine polls and consumes them
// exactly once. No IPC is required between the two processes.
type SignalKind string

// Session signals.
const (
	SignalPause  SignalKind = "pause"
	SignalResume SignalKind = "resume"
	SignalCancel SignalKind = "cancel"
)

// IsValid checks whether the signal kind is known.
func (k SignalKind) IsValid() bool {
	return k == SignalPause || k == SignalResume || k == SignalCancel
}

// SessionSignal is one queued control signal. ProcessedAt is set when the
// engine consumes the signal.
type SessionSignal struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	Signal      SignalKind `json:"signal"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}
