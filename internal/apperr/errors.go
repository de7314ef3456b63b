package apperr

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrAlreadyAccepted    = errors.New("route already accepted")
	ErrRoutingUnavailable = errors.New("routing service unavailable")
)

// ValidationError rejects malformed input before any state change happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func Validation(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// StateTransitionError reports an operation that is not legal from the
// entity's current status.
type StateTransitionError struct {
	Entity string
	From   string
	Op     string
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition: %s %q not allowed from status %s", e.Entity, e.Op, e.From)
}

func InvalidTransition(entity, from, op string) *StateTransitionError {
	return &StateTransitionError{Entity: entity, From: from, Op: op}
}

// InsufficientStockError is raised when an export asks for more than the sum
// of available batches; the export is never partially applied.
type InsufficientStockError struct {
	ItemID    uuid.UUID
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for item %s: requested %d, available %d", e.ItemID, e.Requested, e.Available)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsInvalidTransition(err error) bool {
	var te *StateTransitionError
	return errors.As(err, &te)
}

func IsInsufficientStock(err error) bool {
	var se *InsufficientStockError
	return errors.As(err, &se)
}
