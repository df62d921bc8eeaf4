package es

import (
	"encoding/json"
	"fmt"

	"github.com/codewandler/uow-go/core/domain"
)

type (
	// AggregateDeletedEvent marks the end of an aggregate's life. Embed it into a domain
	// event to make that event a deletion marker.
	AggregateDeletedEvent struct{}

	// AggregateSnapshot carries the state of an aggregate as of its sequence number. A
	// snapshot event replaces all events up to and including that number during replay.
	AggregateSnapshot struct {
		Encoding string `json:"encoding"`
		Data     []byte `json:"data"`
	}

	// Snapshottable aggregates encode their state themselves. Other aggregates are
	// snapshotted as JSON.
	Snapshottable interface {
		Snapshot() (data []byte, err error)
		RestoreSnapshot(data []byte) error
	}

	deletionMarker interface{ aggregateDeleted() }
)

const (
	EncodingJSON   = "json"
	EncodingCustom = "custom"
)

func (AggregateDeletedEvent) aggregateDeleted() {}

// IsDeletion reports whether payload is, or embeds, an AggregateDeletedEvent.
func IsDeletion(payload any) bool {
	_, ok := payload.(deletionMarker)
	return ok
}

func isSnapshot(payload any) bool {
	_, ok := snapshotOf(payload)
	return ok
}

func snapshotOf(payload any) (*AggregateSnapshot, bool) {
	switch s := payload.(type) {
	case *AggregateSnapshot:
		return s, s != nil
	case AggregateSnapshot:
		return &s, true
	}
	return nil, false
}

// CreateSnapshotEvent captures the current state of agg in a snapshot event numbered like
// the last event applied to it.
func CreateSnapshotEvent(agg AggregateRoot) (*domain.Event, error) {
	last := agg.aggregateBase().LastSequenceNumber()
	if !last.Valid() {
		return nil, fmt.Errorf("%w: aggregate %s has no events to snapshot", domain.ErrIllegalState, agg.AggregateID())
	}

	snap := &AggregateSnapshot{}
	var err error
	if s, ok := agg.(Snapshottable); ok {
		snap.Encoding = EncodingCustom
		snap.Data, err = s.Snapshot()
	} else {
		snap.Encoding = EncodingJSON
		snap.Data, err = json.Marshal(agg)
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot aggregate %s: %w", agg.AggregateID(), err)
	}

	return domain.NewEvent(
		snap,
		domain.WithAggregateID(agg.AggregateID()),
		domain.WithSequenceNumber(last),
	), nil
}

func restoreSnapshot(agg AggregateRoot, ev *domain.Event) error {
	snap, _ := snapshotOf(ev.Payload())
	var err error
	switch snap.Encoding {
	case EncodingCustom:
		s, ok := agg.(Snapshottable)
		if !ok {
			return fmt.Errorf("restore snapshot of aggregate %s: %T is not snapshottable", agg.AggregateID(), agg)
		}
		err = s.RestoreSnapshot(snap.Data)
	case EncodingJSON, "":
		err = json.Unmarshal(snap.Data, agg)
	default:
		err = fmt.Errorf("unsupported encoding %q", snap.Encoding)
	}
	if err != nil {
		return fmt.Errorf("restore snapshot of aggregate %s: %w", agg.AggregateID(), err)
	}
	return attach(agg, agg)
}
