package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrBadVersion means the code version does not match the schema
	// version recorded in system_module; the scheduler pass is skipped.
	ErrBadVersion = errors.New("code version does not match database version")

	// ErrBadModuleState means a module is mid-install or mid-upgrade.
	ErrBadModuleState = errors.New("modules are in a transient state")

	// ErrJobNotReady is returned by an acquisition attempt whose ready
	// predicate no longer holds (another worker advanced nextcall).
	ErrJobNotReady = errors.New("cron job is not ready")

	// ErrJobLocked means another worker currently holds the job row.
	ErrJobLocked = errors.New("cron job is locked by another worker")

	// ErrOrderpointBusy is the user-facing contention error raised when
	// an operator write collides with a running replenishment cycle.
	ErrOrderpointBusy = errors.New("orderpoint is being processed, try again later")

	// ErrNotFound is the generic missing-record error.
	ErrNotFound = errors.New("record not found")
)

// ValidationError rejects invalid data at write time.
type ValidationError struct {
	Reason string
}

func NewValidationError(reason string) *ValidationError {
	return &ValidationError{Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
