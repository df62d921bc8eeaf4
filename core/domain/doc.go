// Package domain contains the building blocks every aggregate is made of: identifiers,
// sequence numbers, domain events and the per-aggregate event sequencer.
//
// # Sequencing
//
// Each aggregate root owns exactly one [EventSequencer]. Events registered with it are
// assigned the aggregate's identifier and the next sequence number, so that the events of
// one aggregate always form the gap-free series 0, 1, 2, ...
//
//	seq := domain.NewEventSequencer(domain.NewAggregateID())
//	_ = seq.Add(domain.NewEvent(&OrderPlaced{}))  // seq 0
//	_ = seq.Add(domain.NewEvent(&OrderShipped{})) // seq 1
//	seq.Commit()                                  // buffer is empty, last committed is 1
//
// # Aggregate roots
//
// [BaseAggregateRoot] is meant to be embedded. It tracks the identity, the committed
// version and the uncommitted events of an aggregate:
//
//	type Order struct {
//	    domain.BaseAggregateRoot
//	}
//
//	o := &Order{}
//	if err := o.Init(domain.NewAggregateID()); err != nil { ... }
//
// Event-sourced aggregates build on top of this in package es.
package domain
