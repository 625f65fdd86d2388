package session

// StreamEvent is one item on a turn's output stream: a content fragment, or
// the terminal event carrying the turn's error (nil on success).
type StreamEvent struct {
	Chunk string
	Err   error
	Done  bool
}

// Stream delivers one streaming turn's output to a single consumer. The
// producer closes the channel after the terminal event, so ranging over
// Events always terminates.
type Stream struct {
	events chan StreamEvent
}

func newStream() *Stream {
	// Buffered so a slow consumer does not stall state updates for short
	// bursts; the producer still blocks when the buffer fills.
	return &Stream{events: make(chan StreamEvent, 32)}
}

// Events returns the event channel. The terminal event has Done set; Err is
// non-nil when the turn failed.
func (s *Stream) Events() <-chan StreamEvent {
	return s.events
}

func (s *Stream) send(chunk string) {
	s.events <- StreamEvent{Chunk: chunk}
}

func (s *Stream) close(err error) {
	s.events <- StreamEvent{Err: err, Done: true}
	close(s.events)
}
