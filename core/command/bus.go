package command

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/codewandler/uow-go/core/uow"
	"github.com/codewandler/uow-go/internal/reflector"
)

type Config struct {
	Log          *slog.Logger
	Factory      uow.Factory
	Interceptors []Interceptor
	Metrics      Metrics
}

// SimpleBus dispatches commands in the caller's goroutine. Every dispatch runs in its
// own unit of work, nested inside the current one of ctx if there is one.
type SimpleBus struct {
	log          *slog.Logger
	factory      uow.Factory
	interceptors []Interceptor
	metrics      Metrics

	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewSimpleBus(cfg Config) *SimpleBus {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Factory == nil {
		cfg.Factory = uow.NewFactory(uow.WithLog(cfg.Log))
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NopMetrics()
	}
	return &SimpleBus{
		log:          cfg.Log.With(slog.String("component", "command_bus")),
		factory:      cfg.Factory,
		interceptors: cfg.Interceptors,
		metrics:      cfg.Metrics,
		handlers:     map[string]Handler{},
	}
}

// Subscribe registers h for commands named name, replacing a previous handler.
func (b *SimpleBus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.handlers[name]; ok {
		b.log.Warn("replacing command handler", slog.String("command", name))
	}
	b.handlers[name] = h
}

// Unsubscribe removes the handler of name. It reports whether one was registered.
func (b *SimpleBus) Unsubscribe(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.handlers[name]
	delete(b.handlers, name)
	return ok
}

func (b *SimpleBus) handler(name string) (Handler, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	h, ok := b.handlers[name]
	return h, ok
}

// Dispatch handles cmd and returns the handler's result. The unit of work commits when
// the handler succeeds and rolls back when it fails.
func (b *SimpleBus) Dispatch(ctx context.Context, cmd any) (result any, err error) {
	name := NameOf(cmd)
	h, ok := b.handler(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, name)
	}

	timer := b.metrics.DispatchDuration(name)
	defer func() {
		timer.ObserveDuration()
		b.metrics.Dispatched(name, err == nil)
	}()

	err = uow.Run(ctx, b.factory, func(ctx context.Context, u uow.UnitOfWork) error {
		b.log.Debug("dispatching", slog.String("command", name), slog.String("uow", u.ID()))
		c := &chain{interceptors: b.interceptors, handler: h, u: u}
		var err error
		result, err = c.Proceed(ctx, cmd)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Subscribe registers a typed handler for commands of type C.
func Subscribe[C any](b *SimpleBus, h func(ctx context.Context, cmd C, u uow.UnitOfWork) (any, error)) {
	name := reflector.TypeInfoFor[C]().Name
	if n, ok := sample[C]().(Named); ok {
		name = n.CommandName()
	}
	b.Subscribe(name, HandlerFunc(func(ctx context.Context, cmd any, u uow.UnitOfWork) (any, error) {
		typed, ok := cmd.(C)
		if !ok {
			return nil, fmt.Errorf("%w: command %s has type %T", ErrNoHandler, name, cmd)
		}
		return h(ctx, typed, u)
	}))
}

// sample returns a usable C for reading its name, allocating when C is a pointer type.
func sample[C any]() any {
	if t := reflect.TypeFor[C](); t.Kind() == reflect.Pointer {
		return reflect.New(t.Elem()).Interface()
	}
	var zero C
	return zero
}
