package uow

import (
	"context"
	"fmt"
)

// Factory creates started units of work.
type Factory interface {
	CreateUnitOfWork(ctx context.Context) (context.Context, UnitOfWork, error)
}

type FactoryFunc func(ctx context.Context) (context.Context, UnitOfWork, error)

func (f FactoryFunc) CreateUnitOfWork(ctx context.Context) (context.Context, UnitOfWork, error) {
	return f(ctx)
}

type defaultFactory struct{ opts []Option }

// NewFactory returns a Factory creating DefaultUnitOfWork instances configured with opts.
func NewFactory(opts ...Option) Factory { return &defaultFactory{opts: opts} }

func (f *defaultFactory) CreateUnitOfWork(ctx context.Context) (context.Context, UnitOfWork, error) {
	u := New(f.opts...)
	ctx, err := u.Start(ctx)
	if err != nil {
		return ctx, nil, err
	}
	return ctx, u, nil
}

// Run starts a unit of work, calls fn with it and commits. If fn fails or panics, the
// unit is rolled back and the error returned (or the panic re-raised).
func Run(ctx context.Context, factory Factory, fn func(ctx context.Context, u UnitOfWork) error) (err error) {
	if factory == nil {
		factory = NewFactory()
	}
	ctx, u, err := factory.CreateUnitOfWork(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			if u.IsStarted() {
				_ = u.Rollback(ctx, fmt.Errorf("panic: %v", r))
			}
			panic(r)
		}
	}()

	if err = fn(ctx, u); err != nil {
		if u.IsStarted() {
			if rbErr := u.Rollback(ctx, err); rbErr != nil {
				return fmt.Errorf("%w (rollback: %v)", err, rbErr)
			}
		}
		return err
	}
	if !u.IsStarted() {
		return nil
	}
	return u.Commit(ctx)
}
