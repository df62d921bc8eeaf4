package uow

import (
	"context"
	"fmt"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/codewandler/uow-go/core/domain"
)

type scopeKey struct{}

// WithScope returns a context bound to a new execution scope. Every scope owns its own
// stack of units of work; a unit started inside a scope suspends the one below it.
func WithScope(ctx context.Context) context.Context {
	return context.WithValue(ctx, scopeKey{}, gonanoid.Must())
}

// ScopeID returns the execution scope bound to ctx.
func ScopeID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(scopeKey{}).(string)
	return id, ok && id != ""
}

func ensureScope(ctx context.Context) (context.Context, string) {
	if id, ok := ScopeID(ctx); ok {
		return ctx, id
	}
	ctx = WithScope(ctx)
	id, _ := ScopeID(ctx)
	return ctx, id
}

// Registry tracks the active units of work per execution scope. A scope's stack is
// removed as soon as its last unit is popped.
type Registry struct {
	mu     sync.Mutex
	stacks map[string][]UnitOfWork
}

func NewRegistry() *Registry {
	return &Registry{stacks: map[string][]UnitOfWork{}}
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process-wide registry used unless a unit of work is
// configured with WithRegistry.
func DefaultRegistry() *Registry { return defaultRegistry }

// IsStarted reports whether a unit of work is active in the scope of ctx.
func (r *Registry) IsStarted(ctx context.Context) bool {
	_, err := r.Current(ctx)
	return err == nil
}

// Current returns the innermost active unit of work in the scope of ctx.
func (r *Registry) Current(ctx context.Context) (UnitOfWork, error) {
	id, ok := ScopeID(ctx)
	if !ok {
		return nil, ErrNoUnitOfWork
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stack := r.stacks[id]
	if len(stack) == 0 {
		return nil, ErrNoUnitOfWork
	}
	return stack[len(stack)-1], nil
}

// CommitCurrent commits the innermost active unit of work in the scope of ctx.
func (r *Registry) CommitCurrent(ctx context.Context) error {
	u, err := r.Current(ctx)
	if err != nil {
		return err
	}
	return u.Commit(ctx)
}

// Scopes returns the number of scopes with at least one active unit of work.
func (r *Registry) Scopes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stacks)
}

func (r *Registry) isTop(scope string, u UnitOfWork) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	stack := r.stacks[scope]
	return len(stack) > 0 && stack[len(stack)-1] == u
}

func (r *Registry) push(scope string, u UnitOfWork) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stacks[scope] = append(r.stacks[scope], u)
}

func (r *Registry) pop(scope string, u UnitOfWork) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stack := r.stacks[scope]
	if len(stack) == 0 || stack[len(stack)-1] != u {
		return fmt.Errorf("%w: could not clear unit of work %s, it is not the active one", domain.ErrIllegalState, u.ID())
	}
	stack[len(stack)-1] = nil
	stack = stack[:len(stack)-1]
	if len(stack) == 0 {
		delete(r.stacks, scope)
		return nil
	}
	r.stacks[scope] = stack
	return nil
}

// IsStarted reports whether a unit of work is active in the scope of ctx.
func IsStarted(ctx context.Context) bool { return defaultRegistry.IsStarted(ctx) }

// Current returns the innermost active unit of work in the scope of ctx.
func Current(ctx context.Context) (UnitOfWork, error) { return defaultRegistry.Current(ctx) }

// CommitCurrent commits the innermost active unit of work in the scope of ctx.
func CommitCurrent(ctx context.Context) error { return defaultRegistry.CommitCurrent(ctx) }
