package progress

import "sync"

// streamCapacity covers the longest possible run: one INITIALIZED event, a
// start and completion event for each of four stages, and one terminal event,
// with headroom. Sized so the producer never blocks on a slow consumer.
const streamCapacity = 16

// Stream is the per-run event channel handed to a run's caller. It replaces
// the source system's generator semantics with an explicit channel: the
// orchestrator pushes events, the caller ranges over Events until it closes
// after the terminal event.
type Stream struct {
	ch chan Event

	mu     sync.Mutex
	closed bool
	last   Event
	hasAny bool
}

// NewStream returns an open stream.
func NewStream() *Stream {
	return &Stream{ch: make(chan Event, streamCapacity)}
}

// Events is the receive side; it is closed after the terminal event.
func (s *Stream) Events() <-chan Event {
	return s.ch
}

// Push appends an event. Pushing to a closed stream is ignored so late
// emitters cannot panic a finished run. The stream closes itself after a
// terminal event.
func (s *Stream) Push(evt Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.last = evt
	s.hasAny = true
	s.ch <- evt
	if evt.Terminal {
		s.closed = true
		close(s.ch)
	}
}

// Last returns the most recently pushed event, if any.
func (s *Stream) Last() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.hasAny
}

// Drain consumes and discards remaining events until the stream closes.
// Used by background refresh runs, which have no interactive consumer.
func (s *Stream) Drain() {
	for range s.ch {
	}
}
