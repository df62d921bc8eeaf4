package domain

import "fmt"

// EventSequencer buffers the uncommitted events of exactly one aggregate and keeps their
// sequence numbers contiguous. It is not safe for concurrent use; it belongs to its
// aggregate.
type EventSequencer struct {
	aggregateID   AggregateID
	events        []*Event
	lastCommitted SequenceNumber
}

func NewEventSequencer(id AggregateID) *EventSequencer {
	return &EventSequencer{
		aggregateID:   id,
		events:        make([]*Event, 0),
		lastCommitted: NoSequenceNumber,
	}
}

func (s *EventSequencer) AggregateID() AggregateID { return s.aggregateID }

// Add appends ev to the buffer. Events without an aggregate identifier get the
// sequencer's, events without a sequence number get the next one. Pre-assigned values
// must match: the identifier must be ours and the number must directly follow
// LastSequenceNumber (or be 0 when nothing is known yet).
func (s *EventSequencer) Add(ev *Event) error {
	if ev == nil {
		return fmt.Errorf("%w: event is nil", ErrInvalidArgument)
	}

	next := s.LastSequenceNumber().next()
	if ev.seq.Valid() && ev.seq != next {
		return fmt.Errorf(
			"%w: the sequence number of the event is discontinuous (aggregate=%s expected=%d got=%d)",
			ErrPreconditionViolation,
			s.aggregateID,
			next,
			ev.seq,
		)
	}
	if !ev.aggregateID.IsZero() && ev.aggregateID != s.aggregateID {
		return fmt.Errorf(
			"%w: the identifier of the event does not match the sequencer (expected=%s got=%s)",
			ErrPreconditionViolation,
			s.aggregateID,
			ev.aggregateID,
		)
	}

	if ev.aggregateID.IsZero() {
		ev.aggregateID = s.aggregateID
	}
	if !ev.seq.Valid() {
		ev.seq = next
	}
	s.events = append(s.events, ev)
	return nil
}

// Snapshot returns the buffered events as of now. Events added later are not visible
// through the returned slice.
func (s *EventSequencer) Snapshot() []*Event {
	out := make([]*Event, len(s.events))
	copy(out, s.events)
	return out
}

// Stream is Snapshot wrapped in an EventStream.
func (s *EventSequencer) Stream() EventStream { return NewEventStream(s.events...) }

// LastSequenceNumber returns the number of the last buffered event, the last committed
// number when the buffer is empty, or NoSequenceNumber.
func (s *EventSequencer) LastSequenceNumber() SequenceNumber {
	if len(s.events) == 0 {
		return s.lastCommitted
	}
	return s.events[len(s.events)-1].seq
}

func (s *EventSequencer) LastCommittedSequenceNumber() SequenceNumber { return s.lastCommitted }

// Size returns the number of buffered events.
func (s *EventSequencer) Size() int { return len(s.events) }

// Commit clears the buffer. Numbering continues where it left off.
func (s *EventSequencer) Commit() {
	s.lastCommitted = s.LastSequenceNumber()
	s.events = s.events[:0:0]
}

// Initialize seeds the last committed sequence number. It is only allowed while the
// buffer is empty.
func (s *EventSequencer) Initialize(lastKnown SequenceNumber) error {
	if len(s.events) != 0 {
		return fmt.Errorf("%w: cannot set the first sequence number once events have been added", ErrIllegalState)
	}
	if !lastKnown.Valid() {
		lastKnown = NoSequenceNumber
	}
	s.lastCommitted = lastKnown
	return nil
}
