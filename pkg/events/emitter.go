package events

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Emitter writes NDJSON events to a writer. Emission is fire-and-forget:
// marshal and write errors are logged at debug and swallowed, and no
// backpressure is ever awaited. A nil Emitter discards everything.
type Emitter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEmitter creates an Emitter over w (stdout, usually). A nil writer
// yields an emitter that discards all events.
func NewEmitter(w io.Writer) *Emitter {
	if w == nil {
		return nil
	}
	return &Emitter{w: w}
}

// envelope is the wire shape of one event line.
type envelope struct {
	Event string `json:"event"`
	TS    string `json:"ts"`
	Data  any    `json:"data,omitempty"`
}

// Emit writes one event line. Safe on a nil receiver.
func (e *Emitter) Emit(event string, payload any) {
	if e == nil {
		return
	}
	line, err := json.Marshal(envelope{
		Event: event,
		TS:    time.Now().Format(time.RFC3339Nano),
		Data:  payload,
	})
	if err != nil {
		slog.Debug("Failed to marshal event", "event", event, "error", err)
		return
	}
	line = append(line, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(line); err != nil {
		slog.Debug("Failed to write event", "event", event, "error", err)
	}
}
