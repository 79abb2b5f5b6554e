package repository

import "errors"

var (
	// ErrNotFound is returned when no row matches.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateReference is returned when a transaction reference already exists.
	ErrDuplicateReference = errors.New("duplicate reference")
	// ErrStaleStatus is returned when a status update lost a race: the record
	// is no longer in the expected status.
	ErrStaleStatus = errors.New("transaction status changed concurrently")
	// ErrUnknownUser is returned when a record references a user that does not exist.
	ErrUnknownUser = errors.New("unknown user")
	// ErrInvalidTransition is returned for a status change the state machine forbids.
	ErrInvalidTransition = errors.New("invalid status transition")
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)
