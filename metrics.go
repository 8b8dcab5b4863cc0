package ignition

import "time"

// MetricsSink receives measurements as signals are classified. The sink is
// invoked from the classifying worker; implementations must be non-blocking
// or arrange their own buffering.
type MetricsSink interface {
	// ObserveSignal records a signal's terminal status and wall-clock duration.
	ObserveSignal(name string, status Status, duration time.Duration)
	// ObserveRun records the aggregate duration and terminal state.
	ObserveRun(state State, duration time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) ObserveSignal(string, Status, time.Duration) {}
func (nopMetrics) ObserveRun(State, time.Duration)             {}

// NopMetrics returns a sink that discards everything.
func NopMetrics() MetricsSink { return nopMetrics{} }
