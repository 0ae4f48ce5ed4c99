package store

import "errors"

var (
	// ErrMemoryNotFound is returned when a memory ID does not exist.
	ErrMemoryNotFound = errors.New("memory not found")

	// ErrInvalidState is returned when a status transition is not allowed,
	// e.g. completing work that was never claimed.
	ErrInvalidState = errors.New("invalid status transition")

	// ErrConstraintViolation is returned when a uniqueness or foreign key
	// constraint rejects a write.
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrAlreadyConsolidated is returned when a memory that has already been
	// folded into a derived memory is used where a live memory is required.
	ErrAlreadyConsolidated = errors.New("memory is a consolidated original")
)
