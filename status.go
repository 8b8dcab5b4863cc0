package ignition

// Status is the lifecycle status of a single signal slot. The zero value is
// StatusNone (not started). Every registered signal ends in exactly one of
// the terminal statuses.
type Status int

const (
	StatusNone Status = iota
	StatusRunning
	StatusSucceeded
	StatusFailed
	StatusTimedOut
	StatusSkipped
	StatusCanceled
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusTimedOut:
		return "timed-out"
	case StatusSkipped:
		return "skipped"
	case StatusCanceled:
		return "canceled"
	case StatusNone:
		fallthrough
	default:
		return "not started"
	}
}

// Terminal reports whether the status is absorbing.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusTimedOut, StatusSkipped, StatusCanceled:
		return true
	default:
		return false
	}
}

// State is the public lifecycle of the coordinator.
type State int

const (
	StateNotStarted State = iota
	StateRunning
	StateCompleted
	StateFailed
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed-out"
	case StateNotStarted:
		fallthrough
	default:
		return "not started"
	}
}

// Terminal reports whether the coordinator state is absorbing.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateTimedOut
}
