// Package es implements event-sourced aggregates on top of the domain and uow packages.
//
// An aggregate embeds BaseAggregate and implements Handler. State changes go through
// Apply, which registers the event with the aggregate's sequencer and dispatches it to
// the root and then, in pre-order, to every entity returned by ChildEntities. Entities
// embed BaseEntity and are bound to their root the first time an event reaches them.
//
// InitializeState rebuilds an aggregate from an EventStream. A snapshot marker restores
// the state in one step and a trailing deletion marker reports domain.ErrAggregateDeleted.
//
// Repository ties it together: Load and Add register aggregates with the current unit
// of work, which appends their events to the EventStore when it commits.
package es
