package uow

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/uow-go/core/domain"
)

type testAggregate struct {
	domain.BaseAggregateRoot
}

func newTestAggregate(t *testing.T, id domain.AggregateID) *testAggregate {
	t.Helper()
	a := &testAggregate{}
	require.NoError(t, a.Init(id))
	return a
}

func (a *testAggregate) raise(t *testing.T, payload any) {
	t.Helper()
	require.NoError(t, a.RegisterEvent(domain.NewEvent(payload)))
}

type otherAggregate struct {
	domain.BaseAggregateRoot
}

func (*otherAggregate) AggregateType() string { return "other" }

type recorder struct {
	calls []string
}

func (r *recorder) add(format string, args ...any) { r.calls = append(r.calls, fmt.Sprintf(format, args...)) }

func (r *recorder) listener(name string) Listener {
	return ListenerFuncs{
		PrepareCommit: func(_ context.Context, aggs []domain.AggregateRoot, events []*domain.Event) error {
			r.add("%s.prepare(%d,%d)", name, len(aggs), len(events))
			return nil
		},
		Commit:   func(context.Context) { r.add("%s.commit", name) },
		Rollback: func(_ context.Context, cause error) { r.add("%s.rollback(%v)", name, cause) },
		Cleanup:  func(context.Context) { r.add("%s.cleanup", name) },
	}
}

func (r *recorder) save(name string, err error) SaveCallback {
	return func(context.Context, domain.AggregateRoot) error {
		r.add("save %s", name)
		return err
	}
}

type busFunc func(ctx context.Context, ev *domain.Event) error

func (f busFunc) Publish(ctx context.Context, ev *domain.Event) error { return f(ctx, ev) }

func (r *recorder) bus() EventBus {
	return busFunc(func(_ context.Context, ev *domain.Event) error {
		r.add("publish %v", ev.Payload())
		return nil
	})
}

func startNew(t *testing.T, ctx context.Context, reg *Registry, opts ...Option) (context.Context, *DefaultUnitOfWork) {
	t.Helper()
	u := New(append([]Option{WithRegistry(reg)}, opts...)...)
	ctx, err := u.Start(ctx)
	require.NoError(t, err)
	return ctx, u
}

func TestRegistry_CurrentFollowsLifecycle(t *testing.T) {
	reg := NewRegistry()
	ctx := t.Context()

	_, err := reg.Current(ctx)
	require.ErrorIs(t, err, ErrNoUnitOfWork)
	require.ErrorIs(t, err, domain.ErrIllegalState)
	require.False(t, reg.IsStarted(ctx))

	ctx, u := startNew(t, ctx, reg)
	cur, err := reg.Current(ctx)
	require.NoError(t, err)
	require.Same(t, u, cur)
	require.True(t, reg.IsStarted(ctx))
	require.Equal(t, 1, reg.Scopes())

	require.NoError(t, u.Commit(ctx))
	require.False(t, reg.IsStarted(ctx))
	_, err = reg.Current(ctx)
	require.ErrorIs(t, err, domain.ErrIllegalState)
	require.Equal(t, 0, reg.Scopes())
}

func TestRegistry_DefaultHelpers(t *testing.T) {
	ctx, err := New().Start(t.Context())
	require.NoError(t, err)
	require.True(t, IsStarted(ctx))
	require.NoError(t, CommitCurrent(ctx))
	require.False(t, IsStarted(ctx))
	require.ErrorIs(t, CommitCurrent(ctx), ErrNoUnitOfWork)
}

func TestRegistry_ScopesAreIsolated(t *testing.T) {
	reg := NewRegistry()
	ctxA, a := startNew(t, t.Context(), reg)
	ctxB, b := startNew(t, t.Context(), reg)
	require.Equal(t, 2, reg.Scopes())

	cur, err := reg.Current(ctxA)
	require.NoError(t, err)
	require.Same(t, a, cur)
	cur, err = reg.Current(ctxB)
	require.NoError(t, err)
	require.Same(t, b, cur)

	require.NoError(t, a.Commit(ctxA))
	require.NoError(t, b.Rollback(ctxB, nil))
	require.Equal(t, 0, reg.Scopes())
}

func TestRegistry_PopRequiresTop(t *testing.T) {
	reg := NewRegistry()
	a, b := New(), New()
	reg.push("scope", a)
	reg.push("scope", b)

	require.ErrorIs(t, reg.pop("scope", a), domain.ErrIllegalState)
	require.NoError(t, reg.pop("scope", b))
	require.NoError(t, reg.pop("scope", a))
	require.ErrorIs(t, reg.pop("scope", a), domain.ErrIllegalState)
	require.Equal(t, 0, reg.Scopes())
}

func TestUnitOfWork_NestingResumesOuter(t *testing.T) {
	reg := NewRegistry()
	ctx, outer := startNew(t, t.Context(), reg)
	innerCtx, inner := startNew(t, ctx, reg)

	cur, err := reg.Current(innerCtx)
	require.NoError(t, err)
	require.Same(t, inner, cur)

	require.ErrorIs(t, outer.Commit(ctx), domain.ErrIllegalState, "outer is suspended")
	require.Equal(t, StateStarted, outer.State())

	require.NoError(t, inner.Commit(innerCtx))
	cur, err = reg.Current(ctx)
	require.NoError(t, err)
	require.Same(t, outer, cur)

	require.NoError(t, outer.Commit(ctx))
	require.Equal(t, 0, reg.Scopes())
}

func TestUnitOfWork_CommitOrder(t *testing.T) {
	reg := NewRegistry()
	rec := &recorder{}
	ctx, u := startNew(t, t.Context(), reg)

	a1 := newTestAggregate(t, "a1")
	a1.raise(t, "a1-created")
	a2 := newTestAggregate(t, "a2")
	a2.raise(t, "a2-created")
	a2.raise(t, "a2-renamed")

	require.NoError(t, u.RegisterListener(rec.listener("l1")))
	require.NoError(t, u.RegisterListener(rec.listener("l2")))
	_, err := u.RegisterAggregate(a1, rec.save("a1", nil))
	require.NoError(t, err)
	_, err = u.RegisterAggregate(a2, rec.save("a2", nil))
	require.NoError(t, err)
	require.NoError(t, u.PublishEvent(domain.NewEvent("e1"), rec.bus()))
	require.NoError(t, u.PublishEvent(domain.NewEvent("e2"), rec.bus()))

	require.NoError(t, u.Commit(ctx))
	require.Equal(t, []string{
		"l1.prepare(2,5)",
		"l2.prepare(2,5)",
		"save a1",
		"save a2",
		"publish e1",
		"publish e2",
		"l1.commit",
		"l2.commit",
		"l1.cleanup",
		"l2.cleanup",
	}, rec.calls)

	require.Equal(t, StateClosed, u.State())
	require.Equal(t, OutcomeCommitted, u.Outcome())
	require.Equal(t, domain.SequenceNumber(0), a1.Version())
	require.Equal(t, domain.SequenceNumber(1), a2.Version())
	require.Equal(t, 0, a2.UncommittedEventCount())
}

func TestUnitOfWork_PrepareSeesAggregateEventsFirst(t *testing.T) {
	ctx, u := startNew(t, t.Context(), NewRegistry())
	a := newTestAggregate(t, "a")
	a.raise(t, "from-aggregate")
	_, err := u.RegisterAggregate(a, nil)
	require.NoError(t, err)
	require.NoError(t, u.PublishEvent(domain.NewEvent("buffered"), (&recorder{}).bus()))

	var seen []any
	require.NoError(t, u.RegisterListener(ListenerFuncs{
		PrepareCommit: func(_ context.Context, aggs []domain.AggregateRoot, events []*domain.Event) error {
			require.Len(t, aggs, 1)
			require.Same(t, a, aggs[0])
			for _, ev := range events {
				seen = append(seen, ev.Payload())
			}
			return nil
		},
	}))
	require.NoError(t, u.Commit(ctx))
	require.Equal(t, []any{"from-aggregate", "buffered"}, seen)
}

func TestUnitOfWork_SaveFailureRollsBackListeners(t *testing.T) {
	reg := NewRegistry()
	rec := &recorder{}
	ctx, u := startNew(t, t.Context(), reg)
	boom := errors.New("boom")

	a1 := newTestAggregate(t, "a1")
	a1.raise(t, "x")
	require.NoError(t, u.RegisterListener(rec.listener("l")))
	_, err := u.RegisterAggregate(a1, rec.save("a1", boom))
	require.NoError(t, err)
	require.NoError(t, u.PublishEvent(domain.NewEvent("never"), rec.bus()))

	err = u.Commit(ctx)
	require.ErrorIs(t, err, boom)
	require.Len(t, rec.calls, 4)
	require.Equal(t, "l.prepare(1,2)", rec.calls[0])
	require.Equal(t, "save a1", rec.calls[1])
	require.Contains(t, rec.calls[2], "l.rollback(")
	require.Contains(t, rec.calls[2], "boom")
	require.Equal(t, "l.cleanup", rec.calls[3])

	require.Equal(t, StateClosed, u.State())
	require.Equal(t, OutcomeRolledBack, u.Outcome())
	require.Equal(t, 1, a1.UncommittedEventCount(), "failed save leaves events uncommitted")
	require.Equal(t, 0, reg.Scopes())
}

func TestUnitOfWork_PublishFailureRollsBack(t *testing.T) {
	reg := NewRegistry()
	rec := &recorder{}
	ctx, u := startNew(t, t.Context(), reg)
	require.NoError(t, u.RegisterListener(rec.listener("l")))
	failing := busFunc(func(context.Context, *domain.Event) error { return errors.New("bus down") })
	require.NoError(t, u.PublishEvent(domain.NewEvent("e"), failing))

	err := u.Commit(ctx)
	require.ErrorContains(t, err, "bus down")
	require.Equal(t, "l.cleanup", rec.calls[len(rec.calls)-1])
	require.Equal(t, OutcomeRolledBack, u.Outcome())
	require.Equal(t, 0, reg.Scopes())
}

func TestUnitOfWork_PrepareErrorAbortsCommit(t *testing.T) {
	rec := &recorder{}
	ctx, u := startNew(t, t.Context(), NewRegistry())
	veto := errors.New("veto")
	require.NoError(t, u.RegisterListener(ListenerFuncs{
		PrepareCommit: func(context.Context, []domain.AggregateRoot, []*domain.Event) error { return veto },
	}))
	_, err := u.RegisterAggregate(newTestAggregate(t, "a"), rec.save("a", nil))
	require.NoError(t, err)

	require.ErrorIs(t, u.Commit(ctx), veto)
	require.Empty(t, rec.calls, "nothing saved")
	require.Equal(t, OutcomeRolledBack, u.Outcome())
}

func TestUnitOfWork_PanicDuringSaveStillCleansUp(t *testing.T) {
	reg := NewRegistry()
	rec := &recorder{}
	ctx, u := startNew(t, t.Context(), reg)
	require.NoError(t, u.RegisterListener(rec.listener("l")))
	_, err := u.RegisterAggregate(newTestAggregate(t, "a"), func(context.Context, domain.AggregateRoot) error {
		panic("save exploded")
	})
	require.NoError(t, err)

	require.PanicsWithValue(t, "save exploded", func() { _ = u.Commit(ctx) })
	require.Len(t, rec.calls, 3)
	require.Contains(t, rec.calls[1], "save exploded")
	require.Equal(t, "l.cleanup", rec.calls[2])
	require.Equal(t, StateClosed, u.State())
	require.Equal(t, 0, reg.Scopes())
}

func TestUnitOfWork_Rollback(t *testing.T) {
	reg := NewRegistry()
	rec := &recorder{}
	ctx, u := startNew(t, t.Context(), reg)
	a := newTestAggregate(t, "a")
	a.raise(t, "x")
	require.NoError(t, u.RegisterListener(rec.listener("l")))
	_, err := u.RegisterAggregate(a, rec.save("a", nil))
	require.NoError(t, err)
	require.NoError(t, u.PublishEvent(domain.NewEvent("e"), rec.bus()))

	require.NoError(t, u.Rollback(ctx, errors.New("cancelled")))
	require.Equal(t, []string{"l.rollback(cancelled)", "l.cleanup"}, rec.calls)
	require.Empty(t, u.Aggregates())
	require.Equal(t, domain.NoSequenceNumber, a.Version())
	require.Equal(t, 0, reg.Scopes())
}

func TestUnitOfWork_TerminalTransitions(t *testing.T) {
	reg := NewRegistry()

	u := New(WithRegistry(reg))
	require.ErrorIs(t, u.Commit(t.Context()), domain.ErrIllegalState, "commit before start")
	require.ErrorIs(t, u.Rollback(t.Context(), nil), domain.ErrIllegalState, "rollback before start")

	ctx, err := u.Start(t.Context())
	require.NoError(t, err)
	_, err = u.Start(ctx)
	require.ErrorIs(t, err, domain.ErrIllegalState)

	require.NoError(t, u.Commit(ctx))
	require.ErrorIs(t, u.Commit(ctx), domain.ErrIllegalState)
	require.ErrorIs(t, u.Rollback(ctx, nil), domain.ErrIllegalState)

	_, err = u.RegisterAggregate(newTestAggregate(t, "late"), nil)
	require.ErrorIs(t, err, domain.ErrIllegalState)
	require.ErrorIs(t, u.PublishEvent(domain.NewEvent("late"), (&recorder{}).bus()), domain.ErrIllegalState)
	require.ErrorIs(t, u.RegisterListener(ListenerAdapter{}), domain.ErrIllegalState)

	ctx, v := startNew(t, t.Context(), reg)
	require.NoError(t, v.Rollback(ctx, nil))
	require.ErrorIs(t, v.Rollback(ctx, nil), domain.ErrIllegalState)
	require.ErrorIs(t, v.Commit(ctx), domain.ErrIllegalState)
}

func TestUnitOfWork_DuplicatePolicy(t *testing.T) {
	t.Run("return registered", func(t *testing.T) {
		rec := &recorder{}
		ctx, u := startNew(t, t.Context(), NewRegistry())
		first := newTestAggregate(t, "same")
		second := newTestAggregate(t, "same")

		got, err := u.RegisterAggregate(first, rec.save("first", nil))
		require.NoError(t, err)
		require.Same(t, first, got)
		for i := 0; i < 3; i++ {
			got, err = u.RegisterAggregate(second, rec.save("second", nil))
			require.NoError(t, err)
			require.Same(t, first, got)
		}

		require.NoError(t, u.Commit(ctx))
		require.Equal(t, []string{"save first"}, rec.calls)
	})

	t.Run("fail on duplicate", func(t *testing.T) {
		ctx, u := startNew(t, t.Context(), NewRegistry(), WithDuplicatePolicy(FailOnDuplicate))
		require.Equal(t, FailOnDuplicate, u.Policy())

		_, err := u.RegisterAggregate(newTestAggregate(t, "same"), nil)
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			_, err = u.RegisterAggregate(newTestAggregate(t, "same"), nil)
			require.ErrorIs(t, err, domain.ErrIllegalState)
		}
		require.Len(t, u.Aggregates(), 1)
		require.NoError(t, u.Rollback(ctx, nil))
	})

	t.Run("type is part of the key", func(t *testing.T) {
		ctx, u := startNew(t, t.Context(), NewRegistry(), WithDuplicatePolicy(FailOnDuplicate))
		other := &otherAggregate{}
		require.NoError(t, other.Init("same"))

		_, err := u.RegisterAggregate(newTestAggregate(t, "same"), nil)
		require.NoError(t, err)
		_, err = u.RegisterAggregate(other, nil)
		require.NoError(t, err)
		require.Len(t, u.Aggregates(), 2)
		require.NoError(t, u.Commit(ctx))
	})
}

func TestUnitOfWork_RegisterAggregateArguments(t *testing.T) {
	_, u := startNew(t, t.Context(), NewRegistry())
	_, err := u.RegisterAggregate(nil, nil)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = u.RegisterAggregate(&testAggregate{}, nil)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
	require.ErrorIs(t, u.PublishEvent(nil, (&recorder{}).bus()), domain.ErrInvalidArgument)
	require.ErrorIs(t, u.PublishEvent(domain.NewEvent("x"), nil), domain.ErrInvalidArgument)
	require.ErrorIs(t, u.RegisterListener(nil), domain.ErrInvalidArgument)
}

func TestUnitOfWork_SaveCallbackMayPublish(t *testing.T) {
	rec := &recorder{}
	ctx, u := startNew(t, t.Context(), NewRegistry())
	a := newTestAggregate(t, "a")
	a.raise(t, "created")

	_, err := RegisterAggregate(u, a, func(_ context.Context, agg *testAggregate) error {
		for _, ev := range agg.UncommittedEvents() {
			if err := u.PublishEvent(ev, rec.bus()); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, u.Commit(ctx))
	require.Equal(t, []string{"publish created"}, rec.calls)
}

func TestGenericRegisterAggregate(t *testing.T) {
	ctx, u := startNew(t, t.Context(), NewRegistry())
	first := newTestAggregate(t, "a")
	got, err := RegisterAggregate(u, first, nil)
	require.NoError(t, err)
	require.Same(t, first, got)

	got, err = RegisterAggregate(u, newTestAggregate(t, "a"), nil)
	require.NoError(t, err)
	require.Same(t, first, got)
	require.NoError(t, u.Commit(ctx))
}

func TestRun(t *testing.T) {
	reg := NewRegistry()
	factory := NewFactory(WithRegistry(reg))

	t.Run("commits", func(t *testing.T) {
		rec := &recorder{}
		err := Run(t.Context(), factory, func(ctx context.Context, u UnitOfWork) error {
			require.True(t, reg.IsStarted(ctx))
			return u.RegisterListener(rec.listener("l"))
		})
		require.NoError(t, err)
		require.Equal(t, []string{"l.prepare(0,0)", "l.commit", "l.cleanup"}, rec.calls)
	})

	t.Run("rolls back on error", func(t *testing.T) {
		rec := &recorder{}
		failed := errors.New("handler failed")
		err := Run(t.Context(), factory, func(_ context.Context, u UnitOfWork) error {
			require.NoError(t, u.RegisterListener(rec.listener("l")))
			return failed
		})
		require.ErrorIs(t, err, failed)
		require.Equal(t, []string{"l.rollback(handler failed)", "l.cleanup"}, rec.calls)
	})

	t.Run("rolls back on panic", func(t *testing.T) {
		rec := &recorder{}
		require.Panics(t, func() {
			_ = Run(t.Context(), factory, func(_ context.Context, u UnitOfWork) error {
				require.NoError(t, u.RegisterListener(rec.listener("l")))
				panic("handler exploded")
			})
		})
		require.Equal(t, []string{"l.rollback(panic: handler exploded)", "l.cleanup"}, rec.calls)
	})

	t.Run("nested", func(t *testing.T) {
		err := Run(t.Context(), factory, func(ctx context.Context, outer UnitOfWork) error {
			err := Run(ctx, factory, func(ctx context.Context, inner UnitOfWork) error {
				cur, err := reg.Current(ctx)
				require.NoError(t, err)
				require.Same(t, inner, cur)
				return nil
			})
			require.NoError(t, err)
			cur, err := reg.Current(ctx)
			require.NoError(t, err)
			require.Same(t, outer, cur)
			return nil
		})
		require.NoError(t, err)
	})

	require.Equal(t, 0, reg.Scopes())
}

func TestStateString(t *testing.T) {
	require.Equal(t, "rolling_back", StateRollingBack.String())
	require.Equal(t, "state(42)", State(42).String())
	require.Equal(t, "fail_on_duplicate", FailOnDuplicate.String())
}
