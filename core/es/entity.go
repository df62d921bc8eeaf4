package es

import (
	"cmp"
	"fmt"
	"reflect"
	"slices"

	"github.com/codewandler/uow-go/core/domain"
)

// Entity is an event-sourced object owned by an aggregate root. It receives every event
// its owner receives. Embed BaseEntity and implement Handle.
type Entity interface {
	Handler
	entityBase() *BaseEntity
}

// EntityOwner is implemented by roots and entities that own child entities. The order of
// the returned list is the delivery order and must be stable.
type EntityOwner interface {
	ChildEntities() []Entity
}

// BaseEntity is the embeddable part of every entity. It learns its root the first time an
// event is propagated to it.
type BaseEntity struct {
	root AggregateRoot
}

func (e *BaseEntity) entityBase() *BaseEntity { return e }

// Root returns the owning aggregate root, nil while detached.
func (e *BaseEntity) Root() AggregateRoot { return e.root }

func (e *BaseEntity) IsAttached() bool { return e.root != nil }

// Apply applies payloads through the owning root.
func (e *BaseEntity) Apply(payloads ...any) error {
	if e.root == nil {
		return fmt.Errorf("%w: entity is not attached to an aggregate root", domain.ErrIllegalState)
	}
	return Apply(e.root, payloads...)
}

func (e *BaseEntity) registerRoot(root AggregateRoot) error {
	if e.root != nil && e.root != root {
		return fmt.Errorf(
			"%w: entity already belongs to aggregate %s, it cannot join %s",
			domain.ErrIllegalState,
			e.root.AggregateID(),
			root.AggregateID(),
		)
	}
	e.root = root
	return nil
}

// Entities builds a child list from direct references and slices of entities.
func Entities[E Entity](children ...E) []Entity {
	out := make([]Entity, 0, len(children))
	for _, c := range children {
		out = append(out, c)
	}
	return out
}

// MapEntities lists the entities of m ordered by compare on the keys: for each key, the key
// first when it is an entity itself, then the value when it is one.
func MapEntities[K comparable, V any](m map[K]V, compare func(a, b K) int) []Entity {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compare)

	out := make([]Entity, 0, len(m))
	for _, k := range keys {
		if e, ok := any(k).(Entity); ok {
			out = append(out, e)
		}
		if e, ok := any(m[k]).(Entity); ok {
			out = append(out, e)
		}
	}
	return out
}

// SortedMapEntities is MapEntities for maps with ordered keys.
func SortedMapEntities[K cmp.Ordered, V any](m map[K]V) []Entity {
	return MapEntities(m, cmp.Compare[K])
}

func isNilEntity(e Entity) bool {
	if e == nil {
		return true
	}
	v := reflect.ValueOf(e)
	return v.Kind() == reflect.Pointer && v.IsNil()
}
