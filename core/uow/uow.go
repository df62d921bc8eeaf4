package uow

import (
	"context"
	"fmt"

	"github.com/codewandler/uow-go/core/domain"
)

var (
	ErrNoUnitOfWork = fmt.Errorf("%w: no active unit of work", domain.ErrIllegalState)
	ErrNotActive    = fmt.Errorf("%w: unit of work is not active", domain.ErrIllegalState)
)

// State is the lifecycle state of a unit of work.
type State int

const (
	StateCreated State = iota
	StateStarted
	StateCommitting
	StateCommitted
	StateRollingBack
	StateRolledBack
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	case StateCommitting:
		return "committing"
	case StateCommitted:
		return "committed"
	case StateRollingBack:
		return "rolling_back"
	case StateRolledBack:
		return "rolled_back"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Outcome tells how a closed unit of work ended.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeCommitted
	OutcomeRolledBack
)

type (
	// SaveCallback persists one aggregate. It is called at most once per commit.
	SaveCallback func(ctx context.Context, agg domain.AggregateRoot) error

	// EventBus is the sink events are published to at commit time.
	EventBus interface {
		Publish(ctx context.Context, event *domain.Event) error
	}
)

// UnitOfWork is the transactional scope of one logical operation. It collects aggregates
// and events and commits or rolls them back as one.
//
// A unit of work is confined to one execution scope; it is not safe for concurrent use.
type UnitOfWork interface {
	// ID uniquely identifies this unit of work.
	ID() string
	// State returns the current lifecycle state.
	State() State

	// Start binds the unit of work to the scope carried by ctx, creating a scope if
	// ctx has none. Use the returned context for all further work.
	Start(ctx context.Context) (context.Context, error)
	// IsStarted reports whether the unit of work started and is not yet finished.
	IsStarted() bool
	// Commit saves all registered aggregates, publishes buffered events and notifies
	// listeners.
	Commit(ctx context.Context) error
	// Rollback discards all registered aggregates and buffered events.
	Rollback(ctx context.Context, cause error) error

	// RegisterListener adds a listener notified about the lifecycle of this unit.
	RegisterListener(l Listener) error
	// RegisterAggregate registers agg to be saved with save on commit. It returns the
	// instance to use for further mutation.
	RegisterAggregate(agg domain.AggregateRoot, save SaveCallback) (domain.AggregateRoot, error)
	// PublishEvent buffers event for publication on bus. Delivery happens no later than
	// commit.
	PublishEvent(event *domain.Event, bus EventBus) error
}

// RegisterAggregate is a typed wrapper around UnitOfWork.RegisterAggregate.
func RegisterAggregate[T domain.AggregateRoot](
	u UnitOfWork,
	agg T,
	save func(ctx context.Context, agg T) error,
) (out T, err error) {
	var callback SaveCallback
	if save != nil {
		callback = func(ctx context.Context, a domain.AggregateRoot) error {
			typed, ok := a.(T)
			if !ok {
				return fmt.Errorf("%w: registered aggregate %T is not a %T", domain.ErrIllegalState, a, out)
			}
			return save(ctx, typed)
		}
	}
	registered, err := u.RegisterAggregate(agg, callback)
	if err != nil {
		return out, err
	}
	out, ok := registered.(T)
	if !ok {
		return out, fmt.Errorf("%w: registered aggregate %T is not a %T", domain.ErrIllegalState, registered, out)
	}
	return out, nil
}
