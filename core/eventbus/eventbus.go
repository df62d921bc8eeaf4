// Package eventbus provides an in-process event bus for units of work.
package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/codewandler/uow-go/core/domain"
	"github.com/codewandler/uow-go/core/uow"
)

// Listener receives published events.
type Listener interface {
	OnEvent(ctx context.Context, ev *domain.Event) error
}

// ListenerFunc adapts a function to Listener. Function values are not comparable, so
// Subscribe returns a Subscription to remove them.
type ListenerFunc func(ctx context.Context, ev *domain.Event) error

func (f ListenerFunc) OnEvent(ctx context.Context, ev *domain.Event) error { return f(ctx, ev) }

// Subscription removes its listener when canceled.
type Subscription struct {
	bus *SimpleEventBus
	id  uint64
}

func (s Subscription) Cancel() { s.bus.remove(s.id) }

type subscriber struct {
	id uint64
	l  Listener
}

// SimpleEventBus calls its listeners synchronously in subscription order. The first
// listener error stops delivery of that event and is returned to the publisher.
type SimpleEventBus struct {
	log    *slog.Logger
	mu     sync.RWMutex
	nextID uint64
	subs   []subscriber
}

func New(log *slog.Logger) *SimpleEventBus {
	if log == nil {
		log = slog.Default()
	}
	return &SimpleEventBus{log: log.With(slog.String("component", "event_bus"))}
}

func (b *SimpleEventBus) Subscribe(l Listener) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs = append(b.subs, subscriber{id: b.nextID, l: l})
	return Subscription{bus: b, id: b.nextID}
}

// Unsubscribe removes every subscription of l. l must be comparable.
func (b *SimpleEventBus) Unsubscribe(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.subs[:0:0]
	for _, s := range b.subs {
		if s.l != l {
			kept = append(kept, s)
		}
	}
	b.subs = kept
}

func (b *SimpleEventBus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.subs[:0:0]
	for _, s := range b.subs {
		if s.id != id {
			kept = append(kept, s)
		}
	}
	b.subs = kept
}

func (b *SimpleEventBus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *SimpleEventBus) Publish(ctx context.Context, ev *domain.Event) error {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, s := range subs {
		if err := s.l.OnEvent(ctx, ev); err != nil {
			return fmt.Errorf("deliver event %s (%T): %w", ev.ID(), ev.Payload(), err)
		}
	}
	b.log.Debug("published", slog.String("event_id", ev.ID()), slog.Int("listeners", len(subs)))
	return nil
}

var _ uow.EventBus = (*SimpleEventBus)(nil)
