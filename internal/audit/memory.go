package audit

import (
	"sync"
	"time"
)

// MemoryEmitter records events in order. Backs tests and database-less
// runs the same way the memory stores do.
type MemoryEmitter struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryEmitter() *MemoryEmitter { return &MemoryEmitter{} }

func (e *MemoryEmitter) Emit(event Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	e.events = append(e.events, event)
	return nil
}

// Events returns a copy of everything emitted so far.
func (e *MemoryEmitter) Events() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Event(nil), e.events...)
}

// Actions returns just the action names, in emission order.
func (e *MemoryEmitter) Actions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.events))
	for i, ev := range e.events {
		out[i] = ev.Action
	}
	return out
}
