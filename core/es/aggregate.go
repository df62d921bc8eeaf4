package es

import (
	"fmt"

	"github.com/codewandler/uow-go/core/domain"
)

// Handler applies the state transition of one event. Handlers must not validate; by the
// time an event reaches a handler it has happened.
type Handler interface {
	Handle(ev *domain.Event) error
}

// AggregateRoot is an event-sourced aggregate: it sequences its own events and derives
// its state from them. Embed BaseAggregate and implement Handle.
type AggregateRoot interface {
	domain.AggregateRoot
	Handler
	aggregateBase() *BaseAggregate
}

// BaseAggregate is the embeddable part of every event-sourced aggregate root.
type BaseAggregate struct {
	domain.BaseAggregateRoot
}

func (b *BaseAggregate) aggregateBase() *BaseAggregate { return b }

// Apply records payloads as new events of agg and immediately dispatches them to agg and
// its entities. Payloads implementing Validate() error are validated up front; nothing is
// applied when one of them is invalid.
func Apply(agg AggregateRoot, payloads ...any) error {
	for _, p := range payloads {
		if v, ok := p.(interface{ Validate() error }); ok {
			if err := v.Validate(); err != nil {
				return fmt.Errorf("invalid event %T: %w", p, err)
			}
		}
	}
	for _, p := range payloads {
		if err := ApplyEvent(agg, domain.NewEvent(p)); err != nil {
			return err
		}
	}
	return nil
}

// ApplyEvent registers ev with the sequencer of agg and dispatches it.
func ApplyEvent(agg AggregateRoot, ev *domain.Event) error {
	if err := agg.aggregateBase().RegisterEvent(ev); err != nil {
		return err
	}
	return dispatch(agg, agg, ev)
}

// InitializeState rebuilds agg from its history. It must be the first thing that happens to
// a freshly created aggregate.
//
// A deletion marker ends the aggregate, unless more events follow it. Snapshot markers
// restore the state captured in them instead of being dispatched.
func InitializeState(agg AggregateRoot, stream domain.EventStream) error {
	if agg.UncommittedEventCount() > 0 {
		return fmt.Errorf("%w: aggregate %s is already initialized", domain.ErrIllegalState, agg.AggregateID())
	}

	last := domain.NoSequenceNumber
	for stream.HasNext() {
		ev := stream.Next()
		switch {
		case IsDeletion(ev.Payload()):
			if !stream.HasNext() {
				return fmt.Errorf(
					"%w: aggregate %s not found, it has been deleted",
					domain.ErrAggregateDeleted,
					agg.AggregateID(),
				)
			}
		case isSnapshot(ev.Payload()):
			if err := restoreSnapshot(agg, ev); err != nil {
				return err
			}
		default:
			if err := dispatch(agg, agg, ev); err != nil {
				return fmt.Errorf("replay event %d of aggregate %s: %w", ev.SequenceNumber(), agg.AggregateID(), err)
			}
		}
		last = ev.SequenceNumber()
	}
	return agg.aggregateBase().InitializeEventStream(last)
}

// dispatch delivers ev to target and then, in pre-order, to every entity it owns.
// Children are discovered after target handled ev, so an entity created by ev receives
// it too.
func dispatch(root AggregateRoot, target Handler, ev *domain.Event) error {
	if err := target.Handle(ev); err != nil {
		return err
	}
	return forEachChild(root, target, func(child Entity) error {
		return dispatch(root, child, ev)
	})
}

func forEachChild(root AggregateRoot, owner any, fn func(child Entity) error) error {
	o, ok := owner.(EntityOwner)
	if !ok {
		return nil
	}
	for _, child := range o.ChildEntities() {
		if isNilEntity(child) {
			continue
		}
		if err := child.entityBase().registerRoot(root); err != nil {
			return err
		}
		if err := fn(child); err != nil {
			return err
		}
	}
	return nil
}

// attach binds every entity reachable from agg without dispatching anything.
func attach(root AggregateRoot, owner any) error {
	return forEachChild(root, owner, func(child Entity) error {
		return attach(root, child)
	})
}
