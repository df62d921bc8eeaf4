package es

import (
	"log/slog"

	"github.com/codewandler/uow-go/core/cache"
	"github.com/codewandler/uow-go/core/domain"
	"github.com/codewandler/uow-go/core/lock"
	"github.com/codewandler/uow-go/core/uow"
)

type (
	repoOptions struct {
		log           *slog.Logger
		bus           uow.EventBus
		locks         lock.Manager
		cache         cache.Cache
		snapshotEvery int
		metrics       Metrics
		aggType       string
		registry      *uow.Registry
	}

	RepositoryOption interface{ applyToRepository(*repoOptions) }

	valueOption[T any] struct{ v T }

	LogOption           valueOption[*slog.Logger]
	EventBusOption      valueOption[uow.EventBus]
	LockManagerOption   valueOption[lock.Manager]
	CacheOption         valueOption[cache.Cache]
	SnapshotEveryOption valueOption[int]
	MetricsOption       valueOption[Metrics]
	AggregateTypeOption valueOption[string]
	RegistryOption      valueOption[*uow.Registry]
)

func WithLog(l *slog.Logger) LogOption { return LogOption{v: l} }

// WithEventBus publishes every saved event on bus through the unit of work.
func WithEventBus(bus uow.EventBus) EventBusOption { return EventBusOption{v: bus} }

// WithLockManager replaces the default pessimistic lock manager.
func WithLockManager(m lock.Manager) LockManagerOption { return LockManagerOption{v: m} }

// WithCache keeps committed aggregates in c between units of work.
func WithCache(c cache.Cache) CacheOption { return CacheOption{v: c} }

// WithSnapshotEvery writes a snapshot event whenever a commit crosses a multiple of n
// events. It needs a SnapshotEventStore. Commits ending in a deletion are not snapshotted.
func WithSnapshotEvery(n int) SnapshotEveryOption { return SnapshotEveryOption{v: n} }

func WithMetrics(m Metrics) MetricsOption { return MetricsOption{v: m} }

// WithAggregateType overrides the stream type name derived from the aggregate.
func WithAggregateType(name string) AggregateTypeOption { return AggregateTypeOption{v: name} }

// WithRegistry looks up units of work in r instead of uow.DefaultRegistry.
func WithRegistry(r *uow.Registry) RegistryOption { return RegistryOption{v: r} }

func (o LogOption) applyToRepository(r *repoOptions) {
	if o.v != nil {
		r.log = o.v
	}
}
func (o EventBusOption) applyToRepository(r *repoOptions) { r.bus = o.v }
func (o LockManagerOption) applyToRepository(r *repoOptions) {
	if o.v != nil {
		r.locks = o.v
	}
}
func (o CacheOption) applyToRepository(r *repoOptions) {
	if o.v != nil {
		r.cache = o.v
	}
}
func (o SnapshotEveryOption) applyToRepository(r *repoOptions) { r.snapshotEvery = o.v }
func (o MetricsOption) applyToRepository(r *repoOptions) {
	if o.v != nil {
		r.metrics = o.v
	}
}
func (o AggregateTypeOption) applyToRepository(r *repoOptions) { r.aggType = o.v }
func (o RegistryOption) applyToRepository(r *repoOptions) {
	if o.v != nil {
		r.registry = o.v
	}
}

type (
	loadOptions struct {
		expectedVersion    domain.SequenceNumber
		hasExpectedVersion bool
	}

	LoadOption interface{ applyToLoad(*loadOptions) }

	ExpectedVersionOption valueOption[domain.SequenceNumber]
)

// WithExpectedVersion fails the load with ErrConflictingVersion when the aggregate has
// moved past v.
func WithExpectedVersion(v domain.SequenceNumber) ExpectedVersionOption {
	return ExpectedVersionOption{v: v}
}

func (o ExpectedVersionOption) applyToLoad(l *loadOptions) {
	l.expectedVersion = o.v
	l.hasExpectedVersion = true
}
