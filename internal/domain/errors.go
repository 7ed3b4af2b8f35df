package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrApartmentUnavailable = errors.New("apartment is not available for booking")
	ErrForbidden            = errors.New("forbidden")
	ErrAlreadyCancelled     = errors.New("reservation already cancelled")
	ErrApartmentInUse       = errors.New("apartment has reservations")
	ErrDuplicateEmail       = errors.New("email already in use")
	ErrInvalidCredentials   = errors.New("invalid email or password")
	ErrIdempotencyKeyReused = errors.New("idempotency key was already used for a different booking request")
)

// ValidationError lists every constraint a request violated
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Violations, "; ")
}

// NotFoundError reports a missing entity
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	if e.ID == 0 {
		return e.Entity + " not found"
	}
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

// ConflictError is returned when a booking overlaps active reservations
type ConflictError struct {
	Conflicts []*Reservation
}

func (e *ConflictError) Error() string {
	if len(e.Conflicts) == 0 {
		return "dates overlap an existing reservation"
	}
	ids := make([]string, 0, len(e.Conflicts))
	for _, r := range e.Conflicts {
		ids = append(ids, fmt.Sprintf("%d", r.ID))
	}
	return "dates overlap existing reservations: " + strings.Join(ids, ", ")
}

// StoreError wraps a persistence failure. Callers may retry the whole
// operation; the core never retries on its own.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a NotFoundError for any entity
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
