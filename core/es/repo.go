package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/codewandler/uow-go/core/cache"
	"github.com/codewandler/uow-go/core/domain"
	"github.com/codewandler/uow-go/core/lock"
	"github.com/codewandler/uow-go/core/uow"
)

// Repository loads and stores event-sourced aggregates of one type. Every call needs an
// active unit of work in ctx: aggregates are registered with it, locked for it and saved
// when it commits.
type Repository[T AggregateRoot] struct {
	log           *slog.Logger
	store         EventStore
	newAggregate  func() T
	aggType       string
	bus           uow.EventBus
	locks         lock.Manager
	cache         cache.TypedCache[T]
	snapshotEvery int
	metrics       Metrics
	registry      *uow.Registry
}

// NewRepository creates a repository reading and writing store. newAggregate returns an
// empty, uninitialized aggregate; the repository assigns its identifier.
func NewRepository[T AggregateRoot](newAggregate func() T, store EventStore, opts ...RepositoryOption) *Repository[T] {
	options := repoOptions{
		log:      slog.Default(),
		locks:    lock.NewPessimistic(),
		cache:    cache.NewNop(),
		metrics:  NopMetrics(),
		registry: uow.DefaultRegistry(),
	}
	for _, opt := range opts {
		opt.applyToRepository(&options)
	}
	if options.aggType == "" {
		options.aggType = uow.AggregateTypeOf(newAggregate())
	}

	return &Repository[T]{
		log:           options.log.With(slog.String("repo", options.aggType)),
		store:         store,
		newAggregate:  newAggregate,
		aggType:       options.aggType,
		bus:           options.bus,
		locks:         options.locks,
		cache:         cache.NewTyped[T](options.cache),
		snapshotEvery: options.snapshotEvery,
		metrics:       options.metrics,
		registry:      options.registry,
	}
}

func (r *Repository[T]) AggregateType() string { return r.aggType }

// Load returns the aggregate id as registered with the current unit of work.
func (r *Repository[T]) Load(ctx context.Context, id domain.AggregateID, opts ...LoadOption) (out T, err error) {
	if id.IsZero() {
		return out, fmt.Errorf("%w: aggregate identifier is empty", domain.ErrInvalidArgument)
	}
	u, err := r.registry.Current(ctx)
	if err != nil {
		return out, err
	}
	var options loadOptions
	for _, opt := range opts {
		opt.applyToLoad(&options)
	}

	timer := r.metrics.RepoLoadDuration(r.aggType)
	defer timer.ObserveDuration()

	if err = r.lock(ctx, u, id); err != nil {
		return out, err
	}

	agg, err := r.read(ctx, id)
	if err != nil {
		return out, err
	}
	if options.hasExpectedVersion && agg.Version() > options.expectedVersion {
		return out, fmt.Errorf(
			"%w: aggregate %s/%s is at version %d, expected %d",
			ErrConflictingVersion,
			r.aggType,
			id,
			agg.Version(),
			options.expectedVersion,
		)
	}

	return r.register(u, agg)
}

// Add registers a new aggregate with the current unit of work. Its events are stored
// when the unit commits.
func (r *Repository[T]) Add(ctx context.Context, agg T) (out T, err error) {
	if agg.AggregateID().IsZero() {
		return out, fmt.Errorf("%w: aggregate identifier is empty", domain.ErrInvalidArgument)
	}
	if agg.Version().Valid() {
		return out, fmt.Errorf(
			"%w: aggregate %s already has version %d, only new aggregates can be added",
			domain.ErrInvalidArgument,
			agg.AggregateID(),
			agg.Version(),
		)
	}
	u, err := r.registry.Current(ctx)
	if err != nil {
		return out, err
	}
	if err = r.lock(ctx, u, agg.AggregateID()); err != nil {
		return out, err
	}
	return r.register(u, agg)
}

func (r *Repository[T]) cacheKey(id domain.AggregateID) string { return streamKey(r.aggType, id) }

func (r *Repository[T]) lock(ctx context.Context, u uow.UnitOfWork, id domain.AggregateID) error {
	key := r.cacheKey(id)
	if err := r.locks.Obtain(ctx, key, u.ID()); err != nil {
		return fmt.Errorf("lock aggregate %s: %w", key, err)
	}
	err := u.RegisterListener(uow.ListenerFuncs{
		Cleanup: func(context.Context) {
			if err := r.locks.Release(key, u.ID()); err != nil {
				r.log.Error("failed to release lock", slog.String("key", key), slog.Any("error", err))
			}
		},
	})
	if err != nil {
		_ = r.locks.Release(key, u.ID())
		return err
	}
	return nil
}

func (r *Repository[T]) read(ctx context.Context, id domain.AggregateID) (agg T, err error) {
	if cached, ok := r.cache.Get(r.cacheKey(id)); ok {
		r.metrics.CacheHit(r.aggType)
		r.log.Debug("loaded from cache", id.SlogAttr(), cached.Version().SlogAttrWithKey("version"))
		return cached, nil
	}
	r.metrics.CacheMiss(r.aggType)

	stream, err := r.store.ReadEvents(ctx, r.aggType, id)
	if err != nil {
		return agg, err
	}
	agg = r.newAggregate()
	if err = agg.aggregateBase().Init(id); err != nil {
		return agg, err
	}
	if err = InitializeState(agg, stream); err != nil {
		if errors.Is(err, domain.ErrAggregateDeleted) {
			return agg, fmt.Errorf("%w: %w", ErrAggregateNotFound, err)
		}
		return agg, err
	}
	r.log.Debug("loaded", id.SlogAttr(), agg.Version().SlogAttrWithKey("version"))
	return agg, nil
}

func (r *Repository[T]) register(u uow.UnitOfWork, agg T) (T, error) {
	var deleted bool
	registered, err := uow.RegisterAggregate(u, agg, func(ctx context.Context, a T) (err error) {
		deleted, err = r.save(ctx, u, a)
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	if any(registered) != any(agg) {
		return registered, nil
	}

	key := r.cacheKey(agg.AggregateID())
	err = u.RegisterListener(uow.ListenerFuncs{
		Commit: func(context.Context) {
			if deleted {
				r.cache.Delete(key)
				return
			}
			r.cache.Put(key, agg)
		},
		Rollback: func(context.Context, error) { r.cache.Delete(key) },
	})
	return registered, err
}

// save appends the uncommitted events of agg. It reports whether the last of them deletes
// the aggregate.
func (r *Repository[T]) save(ctx context.Context, u uow.UnitOfWork, agg T) (deleted bool, err error) {
	events := agg.UncommittedEvents()
	if len(events) == 0 {
		return false, nil
	}
	deleted = IsDeletion(events[len(events)-1].Payload())

	timer := r.metrics.RepoSaveDuration(r.aggType)
	defer timer.ObserveDuration()

	if err := r.store.AppendEvents(ctx, r.aggType, events); err != nil {
		if errors.Is(err, ErrConcurrencyConflict) {
			r.metrics.ConcurrencyConflict(r.aggType)
		}
		return false, fmt.Errorf("append events of %s/%s: %w", r.aggType, agg.AggregateID(), err)
	}
	r.metrics.EventsAppended(r.aggType, len(events))

	if r.bus != nil {
		for _, ev := range events {
			if err := u.PublishEvent(ev, r.bus); err != nil {
				return false, err
			}
		}
	}

	// a snapshot would hide the deletion marker from later reads
	if !deleted {
		if err := r.maybeSnapshot(ctx, agg); err != nil {
			return false, err
		}
	}

	r.log.Debug(
		"saved",
		slog.Group(
			"agg",
			agg.AggregateID().SlogAttr(),
			agg.aggregateBase().LastSequenceNumber().SlogAttr(),
		),
		slog.Int("num_events", len(events)),
		slog.Bool("deleted", deleted),
	)
	return deleted, nil
}

func (r *Repository[T]) maybeSnapshot(ctx context.Context, agg T) error {
	if r.snapshotEvery <= 0 {
		return nil
	}
	store, ok := r.store.(SnapshotEventStore)
	if !ok {
		return nil
	}
	before := int64(agg.Version()) + 1
	after := int64(agg.aggregateBase().LastSequenceNumber()) + 1
	every := int64(r.snapshotEvery)
	if after/every == before/every {
		return nil
	}

	snapshot, err := CreateSnapshotEvent(agg)
	if err != nil {
		return err
	}
	if err = store.AppendSnapshotEvent(ctx, r.aggType, snapshot); err != nil {
		return fmt.Errorf("append snapshot of %s/%s: %w", r.aggType, agg.AggregateID(), err)
	}
	r.metrics.SnapshotSaved(r.aggType)
	r.log.Debug("snapshot saved", agg.AggregateID().SlogAttr(), snapshot.SequenceNumber().SlogAttr())
	return nil
}
