package domain

import (
	"log/slog"

	"github.com/google/uuid"
)

// AggregateID names one aggregate instance. The zero value means "not assigned".
type AggregateID string

// NewAggregateID returns a fresh random identifier.
func NewAggregateID() AggregateID { return AggregateID(uuid.NewString()) }

func (id AggregateID) String() string      { return string(id) }
func (id AggregateID) IsZero() bool        { return id == "" }
func (id AggregateID) SlogAttr() slog.Attr { return slog.String("aggregate_id", string(id)) }

// SequenceNumber is the zero-based ordinal of an event within its aggregate.
// NoSequenceNumber marks the absence of a number.
type SequenceNumber int64

const NoSequenceNumber SequenceNumber = -1

func (s SequenceNumber) Valid() bool                          { return s >= 0 }
func (s SequenceNumber) Int64() int64                         { return int64(s) }
func (s SequenceNumber) SlogAttr() slog.Attr                  { return newSlogSeqAttr("seq", s) }
func (s SequenceNumber) SlogAttrWithKey(key string) slog.Attr { return newSlogSeqAttr(key, s) }
func newSlogSeqAttr(key string, s SequenceNumber) slog.Attr   { return slog.Int64(key, int64(s)) }

// next returns the number that follows s, 0 if s is unset.
func (s SequenceNumber) next() SequenceNumber {
	if !s.Valid() {
		return 0
	}
	return s + 1
}
