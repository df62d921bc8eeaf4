package uow

import (
	"context"

	"github.com/codewandler/uow-go/core/domain"
)

// Listener observes the lifecycle of a unit of work. Callbacks run in registration order.
type Listener interface {
	// OnPrepareCommit is called before anything is saved. It is the last point at which
	// the about-to-be-committed state can be inspected; returning an error aborts the
	// commit and rolls the unit back.
	OnPrepareCommit(ctx context.Context, aggregates []domain.AggregateRoot, events []*domain.Event) error
	// AfterCommit is called once everything is saved and published.
	AfterCommit(ctx context.Context)
	// OnRollback is called when the unit is rolled back, cause may be nil.
	OnRollback(ctx context.Context, cause error)
	// OnCleanup is called last, on every exit path.
	OnCleanup(ctx context.Context)
}

// ListenerAdapter implements Listener with no-ops. Embed it to override single callbacks.
type ListenerAdapter struct{}

func (ListenerAdapter) OnPrepareCommit(context.Context, []domain.AggregateRoot, []*domain.Event) error {
	return nil
}
func (ListenerAdapter) AfterCommit(context.Context)       {}
func (ListenerAdapter) OnRollback(context.Context, error) {}
func (ListenerAdapter) OnCleanup(context.Context)         {}

// ListenerFuncs adapts plain functions to a Listener. Nil fields are skipped.
type ListenerFuncs struct {
	PrepareCommit func(ctx context.Context, aggregates []domain.AggregateRoot, events []*domain.Event) error
	Commit        func(ctx context.Context)
	Rollback      func(ctx context.Context, cause error)
	Cleanup       func(ctx context.Context)
}

func (l ListenerFuncs) OnPrepareCommit(ctx context.Context, aggregates []domain.AggregateRoot, events []*domain.Event) error {
	if l.PrepareCommit == nil {
		return nil
	}
	return l.PrepareCommit(ctx, aggregates, events)
}

func (l ListenerFuncs) AfterCommit(ctx context.Context) {
	if l.Commit != nil {
		l.Commit(ctx)
	}
}

func (l ListenerFuncs) OnRollback(ctx context.Context, cause error) {
	if l.Rollback != nil {
		l.Rollback(ctx, cause)
	}
}

func (l ListenerFuncs) OnCleanup(ctx context.Context) {
	if l.Cleanup != nil {
		l.Cleanup(ctx)
	}
}

var (
	_ Listener = ListenerAdapter{}
	_ Listener = ListenerFuncs{}
)
