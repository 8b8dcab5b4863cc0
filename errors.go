package ignition

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidOption is returned for invalid configuration values.
	ErrInvalidOption = errors.New("invalid option")
	// ErrEmptySignalName is returned when a registration has no name.
	ErrEmptySignalName = errors.New("empty signal name")
	// ErrDuplicateSignal is returned when two registrations share a name.
	ErrDuplicateSignal = errors.New("duplicate signal name")
	// ErrUnknownPrerequisite is returned when a prerequisite reference does
	// not resolve to a registered signal.
	ErrUnknownPrerequisite = errors.New("unknown prerequisite")
	// ErrCycleDetected is returned when the prerequisite relation contains a
	// cycle; the error message names a cycle path.
	ErrCycleDetected = errors.New("dependency cycle detected")
	// ErrNegativeStage is returned for a negative stage index.
	ErrNegativeStage = errors.New("negative stage index")
	// ErrNotStarted is returned by Result before WaitAll has entered the
	// running state.
	ErrNotStarted = errors.New("coordinator has not started")
)

// TimeoutError is the synthesized failure attached to a timed-out signal.
type TimeoutError struct {
	// SignalName is the signal whose deadline expired.
	SignalName string
	// Timeout is the effective timeout that was exceeded; zero when the
	// global deadline caused the timeout.
	Timeout time.Duration
	// Global reports whether the hard global deadline, rather than the
	// per-signal timer, fired.
	Global bool
}

func (e *TimeoutError) Error() string {
	if e.Global {
		return fmt.Sprintf("signal %q timed out: global deadline exceeded", e.SignalName)
	}
	return fmt.Sprintf("signal %q timed out after %v", e.SignalName, e.Timeout)
}

// CoordinationError is the composite failure raised by WaitAll under
// fail-fast. It exposes every captured non-success.
type CoordinationError struct {
	// Failures holds one entry per non-successful signal, each wrapped with
	// the signal name.
	Failures []error
}

func (e *CoordinationError) Error() string {
	msgs := make([]string, 0, len(e.Failures))
	for _, err := range e.Failures {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("startup coordination failed: %s", strings.Join(msgs, "; "))
}

// Unwrap supports errors.Is/As against the captured failures.
func (e *CoordinationError) Unwrap() []error {
	return e.Failures
}
