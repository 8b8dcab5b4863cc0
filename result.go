package ignition

import (
	"time"

	"github.com/samber/lo"
	"github.com/veggerby/ignition/scope"
)

// SignalResult is the terminal record of a single signal.
type SignalResult struct {
	// Name is the signal name.
	Name string
	// Status is the terminal status.
	Status Status
	// StartedAt and FinishedAt bound the signal's envelope. For signals that
	// never entered the running state both carry the classification time.
	StartedAt  time.Time
	FinishedAt time.Time
	// Duration is the wall-clock time from start to terminal.
	Duration time.Duration
	// EffectiveTimeout is the per-signal timeout applied, zero when none.
	EffectiveTimeout time.Duration
	// Err is the captured failure for StatusFailed, or the synthesized
	// *TimeoutError for StatusTimedOut.
	Err error
	// FailedPrerequisites names the direct prerequisites that were
	// non-successful, for StatusSkipped in dependency mode.
	FailedPrerequisites []string
	// CancelReason and CancelTrigger describe the scope cancellation, for
	// StatusCanceled.
	CancelReason  scope.Reason
	CancelTrigger string
	// Stage is the stage index the signal was registered with.
	Stage int
}

// StageResult summarizes one stage in ModeStaged.
type StageResult struct {
	// Stage is the stage index.
	Stage int
	// StartedAt and FinishedAt bound the stage's dispatch window.
	StartedAt  time.Time
	FinishedAt time.Time
	// Counts holds the number of signals per terminal status.
	Counts map[Status]int
	// Terminal reports whether this stage halted the run (later stages were
	// skipped because of it).
	Terminal bool
}

// Result is the aggregate outcome of a coordinator run. It is constructed
// exactly once when the coordinator reaches a terminal state and is
// immutable thereafter.
type Result struct {
	// RunID identifies the run in events, logs and exports.
	RunID string
	// StartedAt is when WaitAll began.
	StartedAt time.Time
	// Duration is the total wall-clock duration of the run.
	Duration time.Duration
	// TimedOut reports whether any timeout was observed: a per-signal
	// deadline, or the global deadline when it is hard.
	TimedOut bool
	// GlobalDeadlineObserved reports whether the global deadline expired,
	// regardless of whether it was soft or hard.
	GlobalDeadlineObserved bool
	// Signals holds one result per registered signal, in registration order.
	Signals []SignalResult
	// Stages holds per-stage summaries in ModeStaged, nil otherwise.
	Stages []StageResult
}

// Succeeded reports whether every signal succeeded.
func (r *Result) Succeeded() bool {
	return lo.EveryBy(r.Signals, func(s SignalResult) bool {
		return s.Status == StatusSucceeded
	})
}

// CountByStatus returns the number of signals per terminal status.
func (r *Result) CountByStatus() map[Status]int {
	return lo.CountValuesBy(r.Signals, func(s SignalResult) Status { return s.Status })
}

// Signal returns the result for the named signal.
func (r *Result) Signal(name string) (SignalResult, bool) {
	return lo.Find(r.Signals, func(s SignalResult) bool { return s.Name == name })
}

// failures collects the captured non-success errors, wrapped with the signal
// name, for the fail-fast composite.
func (r *Result) failures() []error {
	var errs []error
	for _, s := range r.Signals {
		if s.Status == StatusSucceeded {
			continue
		}
		if s.Err != nil {
			errs = append(errs, &signalError{name: s.Name, status: s.Status, err: s.Err})
		}
	}
	return errs
}

// signalError wraps a captured failure with its signal name.
type signalError struct {
	name   string
	status Status
	err    error
}

func (e *signalError) Error() string {
	return "signal \"" + e.name + "\" " + e.status.String() + ": " + e.err.Error()
}

func (e *signalError) Unwrap() error { return e.err }
