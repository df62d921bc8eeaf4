package domain

import "errors"

var (
	// ErrPreconditionViolation is returned when an event does not fit the sequence or the
	// identity of the aggregate it is added to.
	ErrPreconditionViolation = errors.New("precondition violation")
	// ErrIllegalState signals misuse of a lifecycle (double commit, re-initialisation, ...).
	ErrIllegalState = errors.New("illegal state")
	// ErrInvalidArgument is returned for arguments that can never be valid.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrAggregateDeleted is returned when replaying a stream proves the aggregate no longer exists.
	ErrAggregateDeleted = errors.New("aggregate deleted")
)
