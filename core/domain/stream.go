package domain

// EventStream is a forward-only cursor over domain events.
type EventStream interface {
	// HasNext reports whether Next would return another event.
	HasNext() bool
	// Next returns the next event and advances the cursor, nil at the end of the stream.
	Next() *Event
	// Peek returns the next event without advancing, nil at the end of the stream.
	Peek() *Event
}

// SliceEventStream streams a fixed list of events.
type SliceEventStream struct {
	events []*Event
	pos    int
}

// NewEventStream returns a stream over a copy of events.
func NewEventStream(events ...*Event) *SliceEventStream {
	cp := make([]*Event, len(events))
	copy(cp, events)
	return &SliceEventStream{events: cp}
}

func (s *SliceEventStream) HasNext() bool { return s.pos < len(s.events) }

func (s *SliceEventStream) Next() *Event {
	if !s.HasNext() {
		return nil
	}
	e := s.events[s.pos]
	s.pos++
	return e
}

func (s *SliceEventStream) Peek() *Event {
	if !s.HasNext() {
		return nil
	}
	return s.events[s.pos]
}

// Drain consumes the remainder of stream into a slice.
func Drain(stream EventStream) []*Event {
	out := make([]*Event, 0)
	for stream.HasNext() {
		out = append(out, stream.Next())
	}
	return out
}

var _ EventStream = (*SliceEventStream)(nil)
