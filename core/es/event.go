package es

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/codewandler/uow-go/core/domain"
	"github.com/codewandler/uow-go/internal/reflector"
)

// EventRegistry maps event type names to constructors so that persisted events can be
// decoded. The deletion and snapshot markers are always known.
type EventRegistry struct {
	mu   sync.RWMutex
	news map[string]func() any
}

func NewEventRegistry(ctors ...func() any) *EventRegistry {
	r := &EventRegistry{news: map[string]func() any{}}
	r.Register(Event[AggregateDeletedEvent](), Event[AggregateSnapshot]())
	r.Register(ctors...)
	return r
}

// Event returns a constructor for payloads of type T. Decoded payloads are *T.
func Event[T any]() func() any { return func() any { return new(T) } }

// Register adds constructors. Each is called once to derive the type name.
func (r *EventRegistry) Register(ctors ...func() any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ctor := range ctors {
		r.news[EventTypeOf(ctor())] = ctor
	}
}

// RegisterType adds a constructor under an explicit type name.
func (r *EventRegistry) RegisterType(eventType string, ctor func() any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.news[eventType] = ctor
}

func (r *EventRegistry) Known(eventType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.news[eventType]
	return ok
}

// EventTypeOf names a payload: its EventType method when present, the qualified type
// name otherwise.
func EventTypeOf(payload any) string {
	if t, ok := payload.(interface{ EventType() string }); ok {
		return t.EventType()
	}
	return reflector.TypeInfoOf(payload).Name
}

// Encode turns ev into an envelope of aggregate type aggType. Only sequenced events of
// an aggregate can be encoded this way.
func (r *EventRegistry) Encode(aggType string, ev *domain.Event) (Envelope, error) {
	env, err := r.envelope(aggType, ev)
	if err != nil {
		return env, err
	}
	return env, env.Validate()
}

// EncodeMessage turns any event into an envelope, including events published on their
// own outside an aggregate. Transports use it; stores use Encode.
func (r *EventRegistry) EncodeMessage(ev *domain.Event) (Envelope, error) {
	return r.envelope("", ev)
}

func (r *EventRegistry) envelope(aggType string, ev *domain.Event) (Envelope, error) {
	data, err := json.Marshal(ev.Payload())
	if err != nil {
		return Envelope{}, fmt.Errorf("encode event %s: %w", ev.ID(), err)
	}
	return Envelope{
		ID:            ev.ID(),
		AggregateType: aggType,
		AggregateID:   ev.AggregateID().String(),
		Seq:           ev.SequenceNumber(),
		Type:          EventTypeOf(ev.Payload()),
		OccurredAt:    ev.Timestamp(),
		Data:          data,
	}, nil
}

// Decode rebuilds the event stored in env.
func (r *EventRegistry) Decode(env Envelope) (*domain.Event, error) {
	r.mu.RLock()
	ctor, ok := r.news[env.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, env.Type)
	}
	payload := ctor()
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, payload); err != nil {
			return nil, fmt.Errorf("decode event %s of type %s: %w", env.ID, env.Type, err)
		}
	}
	return domain.NewEvent(
		payload,
		domain.WithEventID(env.ID),
		domain.WithAggregateID(domain.AggregateID(env.AggregateID)),
		domain.WithSequenceNumber(env.Seq),
		domain.WithTimestamp(env.OccurredAt),
	), nil
}
