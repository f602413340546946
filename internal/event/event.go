// Package event defines the typed event pipeline shared by the session
// orchestrator, the delegation engine, and the tool transport. Every
// observable step of a turn is emitted as one Event; the web layer drains
// them into SSE and the recorder appends them to the session log.
package event

import "sync"

// Kind classifies an event for routing and rendering.
type Kind string

const (
	KindStatus     Kind = "status"
	KindLog        Kind = "log"
	KindText       Kind = "text"
	KindStreaming  Kind = "streaming"
	KindToolCall   Kind = "tool_call"
	KindToolResult Kind = "tool_result"
	KindReasoning  Kind = "reasoning"
	KindQuestion   Kind = "question"
	KindError      Kind = "error"
	KindStats      Kind = "stats"
	KindTodoAdd    Kind = "todo_add"
	KindTodoUpdate Kind = "todo_update"
)

// Event is one observable step of a turn.
type Event struct {
	Kind     Kind              `json:"kind"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Sink receives events. Implementations must be cheap and non-blocking from
// the emitter's point of view; background threads (e.g. transport
// notification handlers) only ever enqueue, never call back into the
// orchestrator.
type Sink func(Event)

// NopSink discards every event. Used by tests and headless callers.
func NopSink(Event) {}

// Multi fans one emission out to several sinks in order. Nil sinks are
// skipped so callers can pass optional recorders directly.
func Multi(sinks ...Sink) Sink {
	return func(e Event) {
		for _, s := range sinks {
			if s != nil {
				s(e)
			}
		}
	}
}

// Stream is a buffered event queue decoupling producers (the turn driver and
// any transport reader goroutines) from a single consumer (the SSE writer).
// Events are delivered strictly in emission order.
type Stream struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// NewStream creates a Stream with the given buffer size.
func NewStream(buffer int) *Stream {
	if buffer <= 0 {
		buffer = 64
	}
	return &Stream{ch: make(chan Event, buffer)}
}

// Emit enqueues an event. Emissions after Close are dropped; a finished turn
// must not panic a late notification handler.
func (s *Stream) Emit(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.ch <- e
}

// Events returns the receive side of the stream. The channel is closed by
// Close when the turn completes or suspends.
func (s *Stream) Events() <-chan Event {
	return s.ch
}

// Close ends the stream. Safe to call multiple times.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
