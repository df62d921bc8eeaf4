// Package lock serializes access to aggregates per key while allowing different keys
// to be used concurrently.
//
// Typical use-case: a repository obtains the lock of an aggregate identifier for the unit
// of work that loads it, and releases it when that unit is cleaned up.
package lock

import (
	"context"
	"fmt"
	"sync"

	"github.com/codewandler/uow-go/core/domain"
)

// ErrLockNotHeld is returned when releasing a lock the owner does not hold.
var ErrLockNotHeld = fmt.Errorf("%w: lock not held", domain.ErrIllegalState)

// Manager hands out locks per key. An owner identifies the holder; obtaining a lock the
// owner already holds succeeds immediately and needs one more Release.
type Manager interface {
	Obtain(ctx context.Context, key, owner string) error
	Release(key, owner string) error
}

// Pessimistic grants exclusive, reentrant locks. Waiting honours ctx.
type Pessimistic struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	sem   chan struct{}
	owner string
	holds int
	// refs counts the holder and all waiters; the entry is dropped at zero.
	refs int
}

func NewPessimistic() *Pessimistic {
	return &Pessimistic{locks: make(map[string]*entry)}
}

func (p *Pessimistic) Obtain(ctx context.Context, key, owner string) error {
	if owner == "" {
		return fmt.Errorf("%w: lock owner is empty", domain.ErrInvalidArgument)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	e, ok := p.locks[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		p.locks[key] = e
	}
	if e.holds > 0 && e.owner == owner {
		e.holds++
		p.mu.Unlock()
		return nil
	}
	e.refs++
	p.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		p.mu.Lock()
		p.unrefLocked(key, e)
		p.mu.Unlock()
		return ctx.Err()
	}

	p.mu.Lock()
	e.owner = owner
	e.holds = 1
	p.mu.Unlock()
	return nil
}

func (p *Pessimistic) Release(key, owner string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.locks[key]
	if !ok || e.holds == 0 || e.owner != owner {
		return fmt.Errorf("%w: key=%s owner=%s", ErrLockNotHeld, key, owner)
	}
	e.holds--
	if e.holds > 0 {
		return nil
	}
	e.owner = ""
	p.unrefLocked(key, e)
	<-e.sem
	return nil
}

// IsHeld reports whether any owner holds the lock of key.
func (p *Pessimistic) IsHeld(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.locks[key]
	return ok && e.holds > 0
}

// Len returns the number of keys with a holder or a waiter.
func (p *Pessimistic) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.locks)
}

func (p *Pessimistic) unrefLocked(key string, e *entry) {
	e.refs--
	if e.refs == 0 {
		delete(p.locks, key)
	}
}

// Null does no locking at all.
type Null struct{}

func NewNull() Null { return Null{} }

func (Null) Obtain(ctx context.Context, _, _ string) error { return ctx.Err() }
func (Null) Release(string, string) error                  { return nil }

var (
	_ Manager = (*Pessimistic)(nil)
	_ Manager = Null{}
)
