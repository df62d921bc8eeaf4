package domain

import (
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Event is a domain event owned by one aggregate. The aggregate identifier and the
// sequence number stay unset until the owning EventSequencer assigns them; afterwards the
// event is immutable and may be shared freely.
type Event struct {
	id          string
	aggregateID AggregateID
	seq         SequenceNumber
	timestamp   time.Time
	payload     any
}

type EventOption func(*Event)

// WithEventID overrides the generated event ID.
func WithEventID(id string) EventOption { return func(e *Event) { e.id = id } }

// WithAggregateID pre-assigns the owning aggregate.
func WithAggregateID(id AggregateID) EventOption { return func(e *Event) { e.aggregateID = id } }

// WithSequenceNumber pre-assigns the sequence number, typically when rebuilding
// events read from a store.
func WithSequenceNumber(seq SequenceNumber) EventOption { return func(e *Event) { e.seq = seq } }

func WithTimestamp(t time.Time) EventOption { return func(e *Event) { e.timestamp = t } }

// NewEvent wraps payload into a new, unsequenced domain event.
func NewEvent(payload any, opts ...EventOption) *Event {
	e := &Event{
		seq:       NoSequenceNumber,
		timestamp: time.Now(),
		payload:   payload,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.id == "" {
		e.id = gonanoid.Must()
	}
	return e
}

func (e *Event) ID() string                     { return e.id }
func (e *Event) AggregateID() AggregateID       { return e.aggregateID }
func (e *Event) SequenceNumber() SequenceNumber { return e.seq }
func (e *Event) Timestamp() time.Time           { return e.timestamp }
func (e *Event) Payload() any                   { return e.payload }
