package store

import "errors"

// Common store errors.
var (
	// ErrNotFound is returned when an entity is not found.
	ErrNotFound = errors.New("entity not found")

	// ErrRunTerminal is returned when a mutation targets a run whose status
	// is already absorbing.
	ErrRunTerminal = errors.New("run is in a terminal status")
)
