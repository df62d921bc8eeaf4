package es

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/codewandler/uow-go/core/domain"
)

// InMemoryStore keeps streams and snapshots in memory. It is meant for tests and demos.
type InMemoryStore struct {
	mu        sync.Mutex
	log       *slog.Logger
	streams   map[string][]*domain.Event
	snapshots map[string]*domain.Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		log:       slog.Default().With(slog.String("store", "memory")),
		streams:   map[string][]*domain.Event{},
		snapshots: map[string]*domain.Event{},
	}
}

func (s *InMemoryStore) AppendEvents(_ context.Context, aggType string, events []*domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := streamKey(aggType, events[0].AggregateID())
	stream := s.streams[key]
	last := domain.NoSequenceNumber
	if len(stream) > 0 {
		last = stream[len(stream)-1].SequenceNumber()
	}
	if err := ValidateAppend(last, events); err != nil {
		return err
	}
	s.streams[key] = append(stream, events...)

	s.log.Debug(
		"appended",
		slog.String("stream", key),
		events[len(events)-1].SequenceNumber().SlogAttrWithKey("last_seq"),
		slog.Int("num_events", len(events)),
	)
	return nil
}

func (s *InMemoryStore) AppendSnapshotEvent(_ context.Context, aggType string, snapshot *domain.Event) error {
	if err := ValidateSnapshot(snapshot); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := streamKey(aggType, snapshot.AggregateID())
	if cur, ok := s.snapshots[key]; ok && cur.SequenceNumber() > snapshot.SequenceNumber() {
		return nil
	}
	s.snapshots[key] = snapshot
	return nil
}

func (s *InMemoryStore) ReadEvents(_ context.Context, aggType string, id domain.AggregateID) (domain.EventStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := streamKey(aggType, id)
	stream := s.streams[key]
	snap, hasSnap := s.snapshots[key]
	if len(stream) == 0 && !hasSnap {
		return nil, fmt.Errorf("%w: %s", ErrAggregateNotFound, key)
	}

	out := make([]*domain.Event, 0, len(stream)+1)
	if hasSnap {
		out = append(out, snap)
		i, _ := slices.BinarySearchFunc(stream, snap.SequenceNumber()+1, func(ev *domain.Event, seq domain.SequenceNumber) int {
			return int(ev.SequenceNumber() - seq)
		})
		stream = stream[i:]
	}
	out = append(out, stream...)
	return domain.NewEventStream(out...), nil
}

var _ SnapshotEventStore = (*InMemoryStore)(nil)
