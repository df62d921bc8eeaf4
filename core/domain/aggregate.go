package domain

import "fmt"

// AggregateRoot is the consistency boundary every repository and unit of work deals with.
type AggregateRoot interface {
	// AggregateID returns the identity of the aggregate.
	AggregateID() AggregateID
	// Version returns the sequence number of the last committed event, NoSequenceNumber
	// if nothing was ever committed.
	Version() SequenceNumber
	// UncommittedEventCount returns the number of events not yet committed.
	UncommittedEventCount() int
	// UncommittedEvents returns the uncommitted events as of the call.
	UncommittedEvents() []*Event
	// CommitEvents clears the uncommitted events and advances the version.
	CommitEvents()
}

// BaseAggregateRoot is an embeddable AggregateRoot implementation. Call Init before
// using it.
type BaseAggregateRoot struct {
	sequencer *EventSequencer
	version   SequenceNumber
}

// Init binds the aggregate to id. It may be called once.
func (b *BaseAggregateRoot) Init(id AggregateID) error {
	if id.IsZero() {
		return fmt.Errorf("%w: aggregate identifier may not be empty", ErrInvalidArgument)
	}
	if b.sequencer != nil {
		return fmt.Errorf("%w: aggregate %s is already initialized", ErrIllegalState, b.sequencer.AggregateID())
	}
	b.sequencer = NewEventSequencer(id)
	b.version = NoSequenceNumber
	return nil
}

// InitRandom binds the aggregate to a fresh random identifier.
func (b *BaseAggregateRoot) InitRandom() error { return b.Init(NewAggregateID()) }

func (b *BaseAggregateRoot) AggregateID() AggregateID {
	if b.sequencer == nil {
		return ""
	}
	return b.sequencer.AggregateID()
}

func (b *BaseAggregateRoot) Version() SequenceNumber {
	if b.sequencer == nil {
		return NoSequenceNumber
	}
	return b.version
}

func (b *BaseAggregateRoot) UncommittedEventCount() int {
	if b.sequencer == nil {
		return 0
	}
	return b.sequencer.Size()
}

func (b *BaseAggregateRoot) UncommittedEvents() []*Event {
	if b.sequencer == nil {
		return []*Event{}
	}
	return b.sequencer.Snapshot()
}

func (b *BaseAggregateRoot) CommitEvents() {
	if b.sequencer == nil {
		return
	}
	b.sequencer.Commit()
	b.version = b.sequencer.LastCommittedSequenceNumber()
}

// RegisterEvent hands ev to the sequencer, which assigns identity and sequence.
func (b *BaseAggregateRoot) RegisterEvent(ev *Event) error {
	if b.sequencer == nil {
		return fmt.Errorf("%w: aggregate root is not initialized", ErrIllegalState)
	}
	return b.sequencer.Add(ev)
}

// LastSequenceNumber returns the number of the most recent event, committed or not.
func (b *BaseAggregateRoot) LastSequenceNumber() SequenceNumber {
	if b.sequencer == nil {
		return NoSequenceNumber
	}
	return b.sequencer.LastSequenceNumber()
}

// InitializeEventStream sets the sequence number of the last known event, so that new
// events continue the stream.
func (b *BaseAggregateRoot) InitializeEventStream(lastSequenceNumber SequenceNumber) error {
	if b.sequencer == nil {
		return fmt.Errorf("%w: aggregate root is not initialized", ErrIllegalState)
	}
	if err := b.sequencer.Initialize(lastSequenceNumber); err != nil {
		return err
	}
	b.version = b.sequencer.LastCommittedSequenceNumber()
	return nil
}

var _ AggregateRoot = (*BaseAggregateRoot)(nil)
