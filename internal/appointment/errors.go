package appointment

import (
	"errors"
	"fmt"
)

// Reason is the machine-readable rejection code surfaced to callers.
type Reason string

const (
	ReasonValidation          Reason = "ValidationError"
	ReasonOutsideAvailability Reason = "OutsideAvailability"
	ReasonPastDateTime        Reason = "PastDateTime"
	ReasonSlotTaken           Reason = "SlotTaken"
	ReasonInvalidTransition   Reason = "InvalidTransition"
	ReasonNotFound            Reason = "NotFound"
	ReasonAccessDenied        Reason = "AccessDenied"
	ReasonUnavailable         Reason = "Unavailable"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrOutsideAvailability = errors.New("outside provider availability")
	ErrPastDateTime        = errors.New("date and time is in the past")
	ErrSlotTaken           = errors.New("slot already taken")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrNotFound            = errors.New("not found")
	ErrAccessDenied        = errors.New("access denied")

	// ErrRetryable marks storage failures that are safe to retry as a whole
	// unit (serialization failures, deadlocks, lock timeouts).
	ErrRetryable = errors.New("temporary storage failure")
)

var (
	ErrPatientNotFound     = fmt.Errorf("patient %w", ErrNotFound)
	ErrProviderNotFound    = fmt.Errorf("provider %w", ErrNotFound)
	ErrServiceNotFound     = fmt.Errorf("service %w", ErrNotFound)
	ErrAppointmentNotFound = fmt.Errorf("appointment %w", ErrNotFound)
)

// ReasonOf maps an error returned by this package to its rejection reason.
// The second result is false for unexpected failures.
func ReasonOf(err error) (Reason, bool) {
	switch {
	case err == nil:
		return "", false
	case errors.Is(err, ErrValidation):
		return ReasonValidation, true
	case errors.Is(err, ErrPastDateTime):
		return ReasonPastDateTime, true
	case errors.Is(err, ErrOutsideAvailability):
		return ReasonOutsideAvailability, true
	case errors.Is(err, ErrSlotTaken):
		return ReasonSlotTaken, true
	case errors.Is(err, ErrInvalidTransition):
		return ReasonInvalidTransition, true
	case errors.Is(err, ErrNotFound):
		return ReasonNotFound, true
	case errors.Is(err, ErrAccessDenied):
		return ReasonAccessDenied, true
	case errors.Is(err, ErrRetryable):
		return ReasonUnavailable, true
	}
	return "", false
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
