package uow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/codewandler/uow-go/core/domain"
	"github.com/codewandler/uow-go/internal/reflector"
)

type (
	aggregateKey struct {
		aggType string
		id      domain.AggregateID
	}

	registration struct {
		key  aggregateKey
		agg  domain.AggregateRoot
		save SaveCallback
	}

	pendingEvent struct {
		event *domain.Event
		bus   EventBus
	}
)

// AggregateTypeOf returns the type name of agg: its AggregateType method when present,
// the reflected type name otherwise.
func AggregateTypeOf(agg any) string {
	if t, ok := agg.(interface{ AggregateType() string }); ok {
		if name := t.AggregateType(); name != "" {
			return name
		}
	}
	return reflector.TypeInfoOf(agg).Short
}

// DefaultUnitOfWork is the standard UnitOfWork. Create it with New and bind it with
// Start, or use a Factory.
type DefaultUnitOfWork struct {
	id       string
	log      *slog.Logger
	registry *Registry
	metrics  Metrics
	policy   DuplicatePolicy

	state   State
	outcome Outcome
	scope   string
	flushed bool

	listeners  []Listener
	aggregates []*registration
	index      map[aggregateKey]*registration
	events     []pendingEvent
}

func New(opts ...Option) *DefaultUnitOfWork {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	id := o.newID()
	return &DefaultUnitOfWork{
		id:       id,
		log:      o.log.With(slog.String("uow", id)),
		registry: o.registry,
		metrics:  o.metrics,
		policy:   o.policy,
		state:    StateCreated,
		index:    map[aggregateKey]*registration{},
	}
}

func (u *DefaultUnitOfWork) ID() string              { return u.id }
func (u *DefaultUnitOfWork) State() State            { return u.state }
func (u *DefaultUnitOfWork) Outcome() Outcome        { return u.outcome }
func (u *DefaultUnitOfWork) Policy() DuplicatePolicy { return u.policy }
func (u *DefaultUnitOfWork) IsStarted() bool         { return u.state == StateStarted }
func (u *DefaultUnitOfWork) SlogAttr() slog.Attr     { return slog.String("uow", u.id) }
func (u *DefaultUnitOfWork) isCurrent() bool         { return u.registry.isTop(u.scope, u) }

func (u *DefaultUnitOfWork) illegal(op string) error {
	return fmt.Errorf("%w: cannot %s unit of work %s in state %s", domain.ErrIllegalState, op, u.id, u.state)
}

// Aggregates returns the registered aggregates in registration order.
func (u *DefaultUnitOfWork) Aggregates() []domain.AggregateRoot {
	out := make([]domain.AggregateRoot, 0, len(u.aggregates))
	for _, r := range u.aggregates {
		out = append(out, r.agg)
	}
	return out
}

func (u *DefaultUnitOfWork) Start(ctx context.Context) (context.Context, error) {
	if u.state != StateCreated {
		return ctx, u.illegal("start")
	}
	ctx, u.scope = ensureScope(ctx)
	u.registry.push(u.scope, u)
	u.state = StateStarted
	u.metrics.Active(1)
	u.log.Debug("started", slog.String("scope", u.scope))
	return ctx, nil
}

func (u *DefaultUnitOfWork) RegisterListener(l Listener) error {
	if l == nil {
		return fmt.Errorf("%w: listener is nil", domain.ErrInvalidArgument)
	}
	if u.state != StateCreated && u.state != StateStarted {
		return u.illegal("register listener on")
	}
	u.listeners = append(u.listeners, l)
	return nil
}

func (u *DefaultUnitOfWork) RegisterAggregate(agg domain.AggregateRoot, save SaveCallback) (domain.AggregateRoot, error) {
	if agg == nil {
		return nil, fmt.Errorf("%w: aggregate is nil", domain.ErrInvalidArgument)
	}
	if agg.AggregateID().IsZero() {
		return nil, fmt.Errorf("%w: aggregate %T has no identifier", domain.ErrInvalidArgument, agg)
	}
	if u.state != StateCreated && u.state != StateStarted {
		return nil, u.illegal("register aggregate on")
	}

	key := aggregateKey{aggType: AggregateTypeOf(agg), id: agg.AggregateID()}
	if existing, ok := u.index[key]; ok {
		if u.policy == FailOnDuplicate {
			return nil, fmt.Errorf(
				"%w: aggregate %s/%s is already registered with unit of work %s",
				domain.ErrIllegalState,
				key.aggType,
				key.id,
				u.id,
			)
		}
		u.log.Debug(
			"aggregate already registered, returning registered instance",
			slog.Group("agg", slog.String("type", key.aggType), key.id.SlogAttr()),
		)
		return existing.agg, nil
	}

	r := &registration{key: key, agg: agg, save: save}
	u.index[key] = r
	u.aggregates = append(u.aggregates, r)
	return agg, nil
}

func (u *DefaultUnitOfWork) PublishEvent(event *domain.Event, bus EventBus) error {
	if event == nil {
		return fmt.Errorf("%w: event is nil", domain.ErrInvalidArgument)
	}
	if bus == nil {
		return fmt.Errorf("%w: event bus is nil", domain.ErrInvalidArgument)
	}
	switch {
	case u.state == StateCreated, u.state == StateStarted:
	case u.state == StateCommitting && !u.flushed:
	default:
		return u.illegal("publish event on")
	}
	u.events = append(u.events, pendingEvent{event: event, bus: bus})
	return nil
}

func (u *DefaultUnitOfWork) Commit(ctx context.Context) (err error) {
	if u.state != StateStarted {
		return u.illegal("commit")
	}
	if !u.isCurrent() {
		return fmt.Errorf("%w: unit of work %s is not the active one in its scope", domain.ErrIllegalState, u.id)
	}

	timer := u.metrics.CommitDuration()
	defer timer.ObserveDuration()

	u.state = StateCommitting
	u.log.Debug("committing", slog.Int("aggregates", len(u.aggregates)), slog.Int("events", len(u.events)))

	defer u.cleanup(ctx, &err)
	defer func() {
		if r := recover(); r != nil {
			if u.state == StateCommitting {
				u.notifyRollback(ctx, fmt.Errorf("panic during commit: %v", r))
			}
			panic(r)
		}
	}()

	if err = u.commitSteps(ctx); err != nil {
		u.notifyRollback(ctx, err)
		return err
	}

	u.state = StateCommitted
	u.outcome = OutcomeCommitted
	u.metrics.Committed()
	for _, l := range u.listeners {
		l.AfterCommit(ctx)
	}
	u.log.Debug("committed")
	return nil
}

func (u *DefaultUnitOfWork) commitSteps(ctx context.Context) error {
	aggregates := u.Aggregates()
	events := make([]*domain.Event, 0, len(u.events))
	for _, agg := range aggregates {
		events = append(events, agg.UncommittedEvents()...)
	}
	for _, pe := range u.events {
		events = append(events, pe.event)
	}
	for _, l := range u.listeners {
		if err := l.OnPrepareCommit(ctx, aggregates, events); err != nil {
			return fmt.Errorf("prepare commit of unit of work %s: %w", u.id, err)
		}
	}

	for _, r := range u.aggregates {
		if r.save != nil {
			if err := r.save(ctx, r.agg); err != nil {
				return fmt.Errorf("save aggregate %s/%s: %w", r.key.aggType, r.key.id, err)
			}
		}
		r.agg.CommitEvents()
	}
	u.metrics.AggregatesSaved(len(u.aggregates))

	// save callbacks and buses may buffer more events while we flush
	for i := 0; i < len(u.events); i++ {
		pe := u.events[i]
		if err := pe.bus.Publish(ctx, pe.event); err != nil {
			return fmt.Errorf("publish event %s: %w", pe.event.ID(), err)
		}
	}
	u.flushed = true
	u.metrics.EventsPublished(len(u.events))
	return nil
}

func (u *DefaultUnitOfWork) Rollback(ctx context.Context, cause error) (err error) {
	if u.state != StateStarted {
		return u.illegal("roll back")
	}
	if !u.isCurrent() {
		return fmt.Errorf("%w: unit of work %s is not the active one in its scope", domain.ErrIllegalState, u.id)
	}
	defer u.cleanup(ctx, &err)
	u.notifyRollback(ctx, cause)
	return nil
}

func (u *DefaultUnitOfWork) notifyRollback(ctx context.Context, cause error) {
	u.state = StateRollingBack
	u.aggregates = nil
	u.index = map[aggregateKey]*registration{}
	u.events = nil
	if cause != nil {
		u.log.Debug("rolling back", slog.Any("cause", cause))
	} else {
		u.log.Debug("rolling back")
	}
	for _, l := range u.listeners {
		l.OnRollback(ctx, cause)
	}
	u.state = StateRolledBack
	u.outcome = OutcomeRolledBack
	u.metrics.RolledBack()
}

func (u *DefaultUnitOfWork) cleanup(ctx context.Context, errp *error) {
	defer func() {
		u.state = StateClosed
		u.aggregates = nil
		u.events = nil
		u.metrics.Active(-1)
		if popErr := u.registry.pop(u.scope, u); popErr != nil {
			*errp = errors.Join(*errp, popErr)
		}
	}()
	for _, l := range u.listeners {
		l.OnCleanup(ctx)
	}
}

var _ UnitOfWork = (*DefaultUnitOfWork)(nil)
