package orchestrator

import "errors"

// Transition guards. These are deliberately typed so callers can decide
// that a duplicate or out-of-order callback is benign instead of relying
// on log output.
var (
	// ErrSagaNotActive is returned when forward execution is requested on a
	// saga that already reached a terminal or compensating state.
	ErrSagaNotActive = errors.New("saga is not active")

	// ErrStepNotPending is returned when a dispatch is attempted on a step
	// that is not PENDING (duplicate trigger).
	ErrStepNotPending = errors.New("step is not pending")

	// ErrStepNotRunning is returned when a completion or failure callback
	// targets a step that is not RUNNING (duplicate or out-of-order callback).
	ErrStepNotRunning = errors.New("step is not running")

	// ErrAlreadyCompensating is returned when compensation is requested on a
	// saga that is already compensating or compensated.
	ErrAlreadyCompensating = errors.New("saga compensation already started")
)

// IsBenign reports whether the error is a duplicate/out-of-order transition
// that the API boundary treats as a no-op rather than a failure.
func IsBenign(err error) bool {
	return errors.Is(err, ErrSagaNotActive) ||
		errors.Is(err, ErrStepNotPending) ||
		errors.Is(err, ErrStepNotRunning) ||
		errors.Is(err, ErrAlreadyCompensating)
}
