package es

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/codewandler/uow-go/core/domain"
)

// Envelope is the persisted and transported form of a domain event.
type Envelope struct {
	// ID is the unique identifier of the event.
	ID string `json:"id"`
	// AggregateType and AggregateID identify the stream the event belongs to.
	AggregateType string `json:"aggregate"`
	AggregateID   string `json:"aggregate_id"`
	// Seq is the zero-based position of the event within its stream.
	Seq domain.SequenceNumber `json:"seq"`
	// Type routes decoding, see EventRegistry.
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

func (e Envelope) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: envelope id is empty", domain.ErrInvalidArgument)
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("%w: envelope occurred at is zero", domain.ErrInvalidArgument)
	}
	if e.AggregateID == "" {
		return fmt.Errorf("%w: envelope aggregate id is empty", domain.ErrInvalidArgument)
	}
	if e.AggregateType == "" {
		return fmt.Errorf("%w: envelope aggregate type is empty", domain.ErrInvalidArgument)
	}
	if e.Type == "" {
		return fmt.Errorf("%w: envelope type is empty", domain.ErrInvalidArgument)
	}
	if !e.Seq.Valid() {
		return fmt.Errorf("%w: envelope sequence number is unset", domain.ErrInvalidArgument)
	}
	return nil
}
