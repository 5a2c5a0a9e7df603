package domain

import (
	"errors"
	"fmt"
)

var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrRestaurantNotFound = errors.New("restaurant not found")
	ErrCustomerNotFound   = errors.New("customer not found")

	// ErrForbidden means the actor is authenticated but is not a party to the
	// order (or not the owning restaurant). Distinct from not-found so callers
	// can tell "doesn't exist" from "not yours".
	ErrForbidden = errors.New("actor is not a party to this order")

	// ErrUnavailable means a store call timed out; the outcome is unknown and
	// the caller must re-read current state before retrying.
	ErrUnavailable = errors.New("store unavailable, outcome unknown")

	ErrValidation = errors.New("invalid request")
)

// ConflictError signals a transition attempted against a stale expected state.
// Current carries the actual status so the caller can decide whether to retry
// with updated input.
type ConflictError struct {
	Current Status
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflicting transition: order is %s", e.Current)
}

// Conflict wraps the given status in a ConflictError.
func Conflict(current Status) error { return &ConflictError{Current: current} }

// AsConflict unwraps a ConflictError if err carries one.
func AsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// Invalid returns a validation error with a formatted reason.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
