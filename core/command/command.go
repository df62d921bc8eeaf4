// Package command dispatches commands to handlers, one unit of work per command.
package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/codewandler/uow-go/core/domain"
	"github.com/codewandler/uow-go/core/uow"
	"github.com/codewandler/uow-go/internal/reflector"
)

var ErrNoHandler = fmt.Errorf("%w: no handler for command", domain.ErrIllegalState)

// Handler handles one command type inside u, which is current in ctx.
type Handler interface {
	Handle(ctx context.Context, cmd any, u uow.UnitOfWork) (any, error)
}

type HandlerFunc func(ctx context.Context, cmd any, u uow.UnitOfWork) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, cmd any, u uow.UnitOfWork) (any, error) {
	return f(ctx, cmd, u)
}

// Chain continues the dispatch with the next interceptor or, after the last one, the
// handler. An interceptor may replace the command it passes on.
type Chain interface {
	Proceed(ctx context.Context, cmd any) (any, error)
}

// Interceptor wraps the handling of every dispatched command.
type Interceptor interface {
	Intercept(ctx context.Context, cmd any, u uow.UnitOfWork, chain Chain) (any, error)
}

type InterceptorFunc func(ctx context.Context, cmd any, u uow.UnitOfWork, chain Chain) (any, error)

func (f InterceptorFunc) Intercept(ctx context.Context, cmd any, u uow.UnitOfWork, chain Chain) (any, error) {
	return f(ctx, cmd, u, chain)
}

// Named lets a command choose its type name instead of the Go type name.
type Named interface {
	CommandName() string
}

// NameOf returns the name handlers for cmd are subscribed under.
func NameOf(cmd any) string {
	if n, ok := cmd.(Named); ok {
		return n.CommandName()
	}
	return reflector.TypeInfoOf(cmd).Name
}

type chain struct {
	interceptors []Interceptor
	handler      Handler
	u            uow.UnitOfWork
}

func (c *chain) Proceed(ctx context.Context, cmd any) (any, error) {
	if len(c.interceptors) == 0 {
		return c.handler.Handle(ctx, cmd, c.u)
	}
	next := &chain{interceptors: c.interceptors[1:], handler: c.handler, u: c.u}
	return c.interceptors[0].Intercept(ctx, cmd, c.u, next)
}

// Validatable commands are checked by ValidationInterceptor before they are handled.
type Validatable interface {
	Validate() error
}

// ValidationInterceptor rejects commands whose Validate method fails with
// domain.ErrInvalidArgument.
func ValidationInterceptor() Interceptor {
	return InterceptorFunc(func(ctx context.Context, cmd any, _ uow.UnitOfWork, chain Chain) (any, error) {
		if v, ok := cmd.(Validatable); ok {
			if err := v.Validate(); err != nil {
				if errors.Is(err, domain.ErrInvalidArgument) {
					return nil, err
				}
				return nil, fmt.Errorf("%w: %s: %w", domain.ErrInvalidArgument, NameOf(cmd), err)
			}
		}
		return chain.Proceed(ctx, cmd)
	})
}
