package dispatch

import "errors"

// The dispatch error taxonomy. All of these are returned to the caller as
// typed, wrappable sentinels; none are swallowed.
var (
	// ErrNoEligibleDriver: recoverable; the job stays in DRAFT and can be
	// retried on the next cycle or assigned manually.
	ErrNoEligibleDriver = errors.New("no eligible driver")

	// ErrAssignmentConflict: recoverable; a concurrent attempt already
	// bound this job. Callers should re-fetch and retry or abandon.
	ErrAssignmentConflict = errors.New("assignment conflict")

	// ErrInvalidStatusTransition: caller ordering error; state unchanged.
	ErrInvalidStatusTransition = errors.New("invalid status transition")

	// ErrEligibilityViolation: a manual assignment named a driver who
	// fails a hard constraint. Operators override ranking, not constraints.
	ErrEligibilityViolation = errors.New("driver fails eligibility")

	// ErrValidation: malformed input, rejected before any mutation.
	ErrValidation = errors.New("validation failed")

	// ErrAutoAssignDisabled: the process-wide flag is off; assignment must
	// be manual until an operator re-enables it.
	ErrAutoAssignDisabled = errors.New("auto-assign disabled")

	// ErrJobNotFound and ErrAssignmentNotFound map unknown identifiers.
	ErrJobNotFound        = errors.New("job not found")
	ErrAssignmentNotFound = errors.New("assignment not found")
)
