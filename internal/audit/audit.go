package audit

import (
	"encoding/json"
	"log"
	"time"
)

// Audit event stream.
//
// Every state change in the engine emits one event. Emission failures
// are never fatal: they are logged and discarded so a broken audit sink
// cannot take down a delivery cycle.

type Event struct {
	Action     string         `json:"action"`
	Actor      string         `json:"actor"`
	Target     string         `json:"target"`
	EntityType string         `json:"entityType"`
	Details    map[string]any `json:"details,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Emitter is the audit port. Implementations must be safe for
// concurrent use.
type Emitter interface {
	Emit(event Event) error
}

// LogEmitter writes events as single JSON lines through stdlib log.
type LogEmitter struct{}

func NewLogEmitter() *LogEmitter { return &LogEmitter{} }

func (e *LogEmitter) Emit(event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	line, err := json.Marshal(event)
	if err != nil {
		return err
	}
	log.Printf("[Audit] %s", line)
	return nil
}

// Emit sends through the emitter and swallows the error, logging it.
// Call sites use this helper so audit never aborts the caller.
func Emit(emitter Emitter, event Event) {
	if emitter == nil {
		return
	}
	if err := emitter.Emit(event); err != nil {
		log.Printf("[Audit] emit failed (discarded): %v", err)
	}
}
