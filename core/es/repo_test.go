package es

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/uow-go/core/cache"
	"github.com/codewandler/uow-go/core/domain"
	"github.com/codewandler/uow-go/core/lock"
	"github.com/codewandler/uow-go/core/uow"
)

type repoFixture struct {
	reg     *uow.Registry
	factory uow.Factory
	store   *InMemoryStore
}

func newRepoFixture() *repoFixture {
	reg := uow.NewRegistry()
	return &repoFixture{
		reg:     reg,
		factory: uow.NewFactory(uow.WithRegistry(reg)),
		store:   NewInMemoryStore(),
	}
}

func (f *repoFixture) repo(opts ...RepositoryOption) *Repository[*account] {
	return NewRepository(newAccount, f.store, append([]RepositoryOption{WithRegistry(f.reg)}, opts...)...)
}

func (f *repoFixture) run(t *testing.T, fn func(ctx context.Context) error) error {
	t.Helper()
	return uow.Run(t.Context(), f.factory, func(ctx context.Context, _ uow.UnitOfWork) error {
		return fn(ctx)
	})
}

func (f *repoFixture) create(t *testing.T, repo *Repository[*account], id domain.AggregateID) {
	t.Helper()
	require.NoError(t, f.run(t, func(ctx context.Context) error {
		_, err := repo.Add(ctx, openAccountNoT(id, "ada"))
		return err
	}))
}

func openAccountNoT(id domain.AggregateID, owner string) *account {
	a := newAccount()
	if err := a.Init(id); err != nil {
		panic(err)
	}
	if err := Apply(a, &accountOpened{Owner: owner}); err != nil {
		panic(err)
	}
	return a
}

type recordingBus struct {
	mu     sync.Mutex
	events []*domain.Event
}

func (b *recordingBus) Publish(_ context.Context, ev *domain.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func TestRepository_AddAndLoad(t *testing.T) {
	f := newRepoFixture()
	repo := f.repo()
	require.Equal(t, "account", repo.AggregateType())
	f.create(t, repo, "acc-1")

	require.NoError(t, f.run(t, func(ctx context.Context) error {
		a, err := repo.Load(ctx, "acc-1")
		require.NoError(t, err)
		require.Equal(t, "ada", a.Owner)
		require.Equal(t, domain.SequenceNumber(0), a.Version())
		return a.issue("c1")
	}))

	require.NoError(t, f.run(t, func(ctx context.Context) error {
		a, err := repo.Load(ctx, "acc-1")
		require.NoError(t, err)
		require.Equal(t, domain.SequenceNumber(1), a.Version())
		require.Contains(t, a.Cards, "c1")
		return nil
	}))
	require.Equal(t, 0, f.reg.Scopes())
}

func TestRepository_RequiresUnitOfWork(t *testing.T) {
	f := newRepoFixture()
	repo := f.repo()
	_, err := repo.Load(t.Context(), "acc-1")
	require.ErrorIs(t, err, uow.ErrNoUnitOfWork)
	_, err = repo.Add(t.Context(), openAccountNoT("acc-1", "ada"))
	require.ErrorIs(t, err, uow.ErrNoUnitOfWork)
}

func TestRepository_LoadMissingOrDeleted(t *testing.T) {
	f := newRepoFixture()
	repo := f.repo()

	err := f.run(t, func(ctx context.Context) error {
		_, err := repo.Load(ctx, "missing")
		return err
	})
	require.ErrorIs(t, err, ErrAggregateNotFound)

	f.create(t, repo, "acc-1")
	require.NoError(t, f.run(t, func(ctx context.Context) error {
		a, err := repo.Load(ctx, "acc-1")
		if err != nil {
			return err
		}
		return Apply(a, &accountClosed{Reason: "done"})
	}))

	err = f.run(t, func(ctx context.Context) error {
		_, err := repo.Load(ctx, "acc-1")
		return err
	})
	require.ErrorIs(t, err, ErrAggregateNotFound)
	require.ErrorIs(t, err, domain.ErrAggregateDeleted)
}

func TestRepository_AddRejectsExistingAggregates(t *testing.T) {
	f := newRepoFixture()
	repo := f.repo()
	a := openAccountNoT("acc-1", "ada")
	a.CommitEvents()

	err := f.run(t, func(ctx context.Context) error {
		_, err := repo.Add(ctx, a)
		return err
	})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestRepository_ExpectedVersion(t *testing.T) {
	f := newRepoFixture()
	repo := f.repo()
	f.create(t, repo, "acc-1")
	require.NoError(t, f.run(t, func(ctx context.Context) error {
		a, err := repo.Load(ctx, "acc-1")
		require.NoError(t, err)
		return a.issue("c1")
	}))

	err := f.run(t, func(ctx context.Context) error {
		_, err := repo.Load(ctx, "acc-1", WithExpectedVersion(0))
		return err
	})
	require.ErrorIs(t, err, ErrConflictingVersion)
	require.ErrorIs(t, err, domain.ErrPreconditionViolation)

	require.NoError(t, f.run(t, func(ctx context.Context) error {
		_, err := repo.Load(ctx, "acc-1", WithExpectedVersion(1))
		return err
	}))
}

func TestRepository_ConcurrentModificationFailsWithoutLocking(t *testing.T) {
	f := newRepoFixture()
	repo := f.repo(WithLockManager(lock.NewNull()))
	f.create(t, repo, "acc-1")

	ctxA, ua, err := f.factory.CreateUnitOfWork(t.Context())
	require.NoError(t, err)
	ctxB, ub, err := f.factory.CreateUnitOfWork(t.Context())
	require.NoError(t, err)

	a, err := repo.Load(ctxA, "acc-1")
	require.NoError(t, err)
	b, err := repo.Load(ctxB, "acc-1")
	require.NoError(t, err)
	require.NotSame(t, a, b)

	require.NoError(t, a.issue("from-a"))
	require.NoError(t, b.issue("from-b"))
	require.NoError(t, ua.Commit(ctxA))
	require.ErrorIs(t, ub.Commit(ctxB), ErrConcurrencyConflict)
}

func TestRepository_PessimisticLockSerializesUnits(t *testing.T) {
	f := newRepoFixture()
	locks := lock.NewPessimistic()
	repo := f.repo(WithLockManager(locks))
	f.create(t, repo, "acc-1")
	require.Equal(t, 0, locks.Len(), "released after the creating unit")

	ctxA, ua, err := f.factory.CreateUnitOfWork(t.Context())
	require.NoError(t, err)
	_, err = repo.Load(ctxA, "acc-1")
	require.NoError(t, err)
	_, err = repo.Load(ctxA, "acc-1")
	require.NoError(t, err, "the lock is reentrant for the same unit")

	waitCtx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	err = uow.Run(waitCtx, f.factory, func(ctx context.Context, _ uow.UnitOfWork) error {
		_, err := repo.Load(ctx, "acc-1")
		return err
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, ua.Commit(ctxA))
	require.Equal(t, 0, locks.Len())
	require.NoError(t, f.run(t, func(ctx context.Context) error {
		_, err := repo.Load(ctx, "acc-1")
		return err
	}))
}

func TestRepository_Cache(t *testing.T) {
	f := newRepoFixture()
	lru := cache.NewLRU(cache.LRUOpts{Size: 8})
	repo := f.repo(WithCache(lru))
	f.create(t, repo, "acc-1")

	var first *account
	require.NoError(t, f.run(t, func(ctx context.Context) error {
		a, err := repo.Load(ctx, "acc-1")
		first = a
		return err
	}))
	require.NoError(t, f.run(t, func(ctx context.Context) error {
		a, err := repo.Load(ctx, "acc-1")
		require.NoError(t, err)
		require.Same(t, first, a, "served from cache")
		return a.issue("c1")
	}))

	err := f.run(t, func(ctx context.Context) error {
		a, err := repo.Load(ctx, "acc-1")
		require.NoError(t, err)
		require.Equal(t, domain.SequenceNumber(1), a.Version())
		require.NoError(t, a.issue("c2"))
		return context.Canceled
	})
	require.ErrorIs(t, err, context.Canceled)

	require.NoError(t, f.run(t, func(ctx context.Context) error {
		a, err := repo.Load(ctx, "acc-1")
		require.NoError(t, err)
		require.NotSame(t, first, a, "rollback evicted the dirty instance")
		require.NotContains(t, a.Cards, "c2")
		require.Equal(t, 0, a.UncommittedEventCount())
		return nil
	}))
}

func TestRepository_PublishesSavedEvents(t *testing.T) {
	f := newRepoFixture()
	bus := &recordingBus{}
	repo := f.repo(WithEventBus(bus))
	f.create(t, repo, "acc-1")

	require.NoError(t, f.run(t, func(ctx context.Context) error {
		a, err := repo.Load(ctx, "acc-1")
		require.NoError(t, err)
		require.NoError(t, a.issue("c1"))
		return a.Cards["c1"].charge(5)
	}))
	_ = f.run(t, func(ctx context.Context) error {
		a, err := repo.Load(ctx, "acc-1")
		require.NoError(t, err)
		require.NoError(t, a.issue("dropped"))
		return context.Canceled
	})

	require.Len(t, bus.events, 3)
	for i, ev := range bus.events {
		require.Equal(t, domain.SequenceNumber(i), ev.SequenceNumber())
	}
	require.IsType(t, &cardCharged{}, bus.events[2].Payload())
}

func TestRepository_SnapshotEvery(t *testing.T) {
	f := newRepoFixture()
	repo := f.repo(WithSnapshotEvery(3))
	f.create(t, repo, "acc-1")

	for _, number := range []string{"c1", "c2", "c3", "c4"} {
		require.NoError(t, f.run(t, func(ctx context.Context) error {
			a, err := repo.Load(ctx, "acc-1")
			require.NoError(t, err)
			return a.issue(number)
		}))
	}

	stream, err := f.store.ReadEvents(t.Context(), "account", "acc-1")
	require.NoError(t, err)
	events := domain.Drain(stream)
	require.Len(t, events, 3, "snapshot of seq 2, then seq 3 and 4")
	require.True(t, isSnapshot(events[0].Payload()))
	require.Equal(t, domain.SequenceNumber(2), events[0].SequenceNumber())

	require.NoError(t, f.run(t, func(ctx context.Context) error {
		a, err := repo.Load(ctx, "acc-1")
		require.NoError(t, err)
		require.Equal(t, domain.SequenceNumber(4), a.Version())
		require.Len(t, a.Cards, 4)
		require.Equal(t, []string{"cardIssued", "cardIssued"}, a.handled)
		return nil
	}))
}

func TestRepository_ReturnsRegisteredInstance(t *testing.T) {
	f := newRepoFixture()
	repo := f.repo()
	f.create(t, repo, "acc-1")

	require.NoError(t, f.run(t, func(ctx context.Context) error {
		a, err := repo.Load(ctx, "acc-1")
		require.NoError(t, err)
		require.NoError(t, a.issue("c1"))
		again, err := repo.Load(ctx, "acc-1")
		require.NoError(t, err)
		require.Same(t, a, again)
		return nil
	}))
}

func TestRepository_DeletionIsNeverSnapshotted(t *testing.T) {
	f := newRepoFixture()
	repo := f.repo(WithSnapshotEvery(2))
	f.create(t, repo, "acc-1")

	require.NoError(t, f.run(t, func(ctx context.Context) error {
		a, err := repo.Load(ctx, "acc-1")
		require.NoError(t, err)
		return Apply(a, &accountClosed{Reason: "done"})
	}))

	stream, err := f.store.ReadEvents(t.Context(), "account", "acc-1")
	require.NoError(t, err)
	events := domain.Drain(stream)
	require.Len(t, events, 2)
	require.False(t, isSnapshot(events[0].Payload()))

	err = f.run(t, func(ctx context.Context) error {
		_, err := repo.Load(ctx, "acc-1")
		return err
	})
	require.ErrorIs(t, err, ErrAggregateNotFound)
	require.ErrorIs(t, err, domain.ErrAggregateDeleted)
}

func TestRepository_DeletedAggregateLeavesCache(t *testing.T) {
	f := newRepoFixture()
	lru := cache.NewLRU(cache.LRUOpts{Size: 8})
	repo := f.repo(WithCache(lru))
	f.create(t, repo, "acc-1")
	require.Equal(t, 1, lru.Len())

	require.NoError(t, f.run(t, func(ctx context.Context) error {
		a, err := repo.Load(ctx, "acc-1")
		require.NoError(t, err)
		return Apply(a, &accountClosed{Reason: "done"})
	}))
	require.Equal(t, 0, lru.Len())

	err := f.run(t, func(ctx context.Context) error {
		_, err := repo.Load(ctx, "acc-1")
		return err
	})
	require.ErrorIs(t, err, domain.ErrAggregateDeleted)
}
