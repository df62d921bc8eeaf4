package es

import (
	"context"
	"fmt"

	"github.com/codewandler/uow-go/core/domain"
)

type (
	// EventStore persists the event streams of aggregates.
	EventStore interface {
		// AppendEvents appends events to the stream of their aggregate. The events must
		// continue the stored stream without a gap, otherwise ErrConcurrencyConflict is
		// returned and nothing is stored.
		AppendEvents(ctx context.Context, aggType string, events []*domain.Event) error
		// ReadEvents returns the stream of aggregate id in order, ErrAggregateNotFound if
		// there is none.
		ReadEvents(ctx context.Context, aggType string, id domain.AggregateID) (domain.EventStream, error)
	}

	// SnapshotEventStore also keeps the latest snapshot event per aggregate. ReadEvents
	// then starts with that snapshot, followed by the events after it.
	SnapshotEventStore interface {
		EventStore
		AppendSnapshotEvent(ctx context.Context, aggType string, snapshot *domain.Event) error
	}
)

// ValidateAppend checks that events form one contiguous run of a single aggregate that
// directly follows last.
func ValidateAppend(last domain.SequenceNumber, events []*domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	id := events[0].AggregateID()
	if id.IsZero() {
		return fmt.Errorf("%w: event %s has no aggregate identifier", domain.ErrInvalidArgument, events[0].ID())
	}
	expect := last + 1
	if !last.Valid() {
		expect = 0
	}
	for _, ev := range events {
		if ev.AggregateID() != id {
			return fmt.Errorf("%w: events of aggregates %s and %s in one append", domain.ErrInvalidArgument, id, ev.AggregateID())
		}
		if ev.SequenceNumber() != expect {
			return fmt.Errorf(
				"%w: aggregate %s expected sequence number %d, got %d",
				ErrConcurrencyConflict,
				id,
				expect,
				ev.SequenceNumber(),
			)
		}
		expect++
	}
	return nil
}

// ValidateSnapshot checks that snapshot carries an AggregateSnapshot of a known aggregate.
func ValidateSnapshot(snapshot *domain.Event) error {
	if snapshot == nil || !isSnapshot(snapshot.Payload()) {
		return fmt.Errorf("%w: not a snapshot event", domain.ErrInvalidArgument)
	}
	if snapshot.AggregateID().IsZero() || !snapshot.SequenceNumber().Valid() {
		return fmt.Errorf("%w: snapshot event %s is not sequenced", domain.ErrInvalidArgument, snapshot.ID())
	}
	return nil
}

func streamKey(aggType string, id domain.AggregateID) string { return aggType + "/" + id.String() }
