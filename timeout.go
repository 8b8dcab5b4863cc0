package ignition

import "time"

// TimeoutStrategy decides the effective timeout for a signal and whether
// exceeding it cancels the signal's token. It must be a pure function of its
// inputs: classification is deterministic only when the strategy is.
type TimeoutStrategy func(sig Signal, cfg Config) (timeout time.Duration, cancelOnExceed bool)

// DefaultTimeoutStrategy uses the per-signal timeout when present (zero
// otherwise) and takes cancel-on-exceed from CancelIndividualOnTimeout.
func DefaultTimeoutStrategy(sig Signal, cfg Config) (time.Duration, bool) {
	return sig.SignalTimeout(), cfg.CancelIndividualOnTimeout
}

// ScaledTimeoutStrategy multiplies every effective timeout by factor. It
// keeps the default cancel-on-exceed behavior.
func ScaledTimeoutStrategy(factor float64) TimeoutStrategy {
	return func(sig Signal, cfg Config) (time.Duration, bool) {
		timeout, cancel := DefaultTimeoutStrategy(sig, cfg)
		return time.Duration(float64(timeout) * factor), cancel
	}
}
