package identity

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an entity or reservation doesn't exist.
	ErrNotFound = errors.New("lattice: not found")

	// ErrDuplicateValue is returned when a uniqueness reservation is already held.
	// Errors carrying the offending value are of type *DuplicateValueError and
	// unwrap to this sentinel.
	ErrDuplicateValue = errors.New("lattice: duplicate value")

	// ErrConcurrentModification is returned when optimistic concurrency fails
	// (version mismatch or concurrent delete).
	ErrConcurrentModification = errors.New("lattice: modified concurrently")

	// ErrStoreClosed is returned when a store is used after Close.
	ErrStoreClosed = errors.New("lattice: store is closed")

	// ErrNilEntity is returned when a required entity argument is nil.
	ErrNilEntity = errors.New("lattice: entity must not be nil")

	// ErrEmptyValue is returned when a required string argument is empty.
	ErrEmptyValue = errors.New("lattice: value must not be empty")
)

// DuplicateValueError reports that a value protected by a uniqueness
// reservation was already taken. Value is the value as the caller supplied
// it, not its normalized form.
type DuplicateValueError struct {
	Kind  string
	Value string
}

func (e *DuplicateValueError) Error() string {
	return fmt.Sprintf("lattice: duplicate %s %q", e.Kind, e.Value)
}

func (e *DuplicateValueError) Unwrap() error { return ErrDuplicateValue }

// ConflictError reports an optimistic concurrency conflict at the session
// level, identifying the staged document whose condition failed. Stores
// translate it into *DuplicateValueError or ErrConcurrentModification; it is
// exported for callers staging writes on a Session directly.
type ConflictError struct {
	// DocumentID is the id of the staged document that caused the conflict.
	DocumentID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("lattice: write conflict on document %q", e.DocumentID)
}

func (e *ConflictError) Unwrap() error { return ErrConcurrentModification }
