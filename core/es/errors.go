package es

import (
	"errors"
	"fmt"

	"github.com/codewandler/uow-go/core/domain"
)

var (
	ErrAggregateNotFound   = errors.New("aggregate not found")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrUnknownEventType    = errors.New("unknown event type")
	ErrConflictingVersion  = fmt.Errorf("%w: conflicting aggregate version", domain.ErrPreconditionViolation)
)
