package ignition

import (
	"fmt"
	"time"
)

// Mode selects how the plan is derived from the registrations.
type Mode int

const (
	// ModeParallel runs every signal concurrently in a single wave.
	ModeParallel Mode = iota
	// ModeSequential runs one signal at a time in registration order.
	ModeSequential
	// ModeStaged partitions signals into stages by stage index.
	ModeStaged
	// ModeDependency layers signals by their prerequisite graph.
	ModeDependency
)

func (m Mode) String() string {
	switch m {
	case ModeSequential:
		return "sequential"
	case ModeStaged:
		return "staged"
	case ModeDependency:
		return "dependency-aware"
	case ModeParallel:
		fallthrough
	default:
		return "parallel"
	}
}

// ParseMode parses a mode name as used in option profiles.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "parallel":
		return ModeParallel, nil
	case "sequential":
		return ModeSequential, nil
	case "staged":
		return ModeStaged, nil
	case "dependency-aware", "dependency":
		return ModeDependency, nil
	default:
		return ModeParallel, fmt.Errorf("%w: execution-mode %q", ErrInvalidOption, s)
	}
}

// Policy is the coordinator-level failure policy.
type Policy int

const (
	// PolicyBestEffort dispatches every wave and never raises for
	// signal-level non-success.
	PolicyBestEffort Policy = iota
	// PolicyFailFast stops dispatching after the first non-success and
	// raises a composite failure from WaitAll.
	PolicyFailFast
	// PolicyContinueOnTimeout behaves like best-effort but tolerates the
	// global deadline; the distinction is in logging emphasis only.
	PolicyContinueOnTimeout
)

func (p Policy) String() string {
	switch p {
	case PolicyFailFast:
		return "fail-fast"
	case PolicyContinueOnTimeout:
		return "continue-on-timeout"
	case PolicyBestEffort:
		fallthrough
	default:
		return "best-effort"
	}
}

// ParsePolicy parses a policy name as used in option profiles.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "best-effort":
		return PolicyBestEffort, nil
	case "fail-fast":
		return PolicyFailFast, nil
	case "continue-on-timeout":
		return PolicyContinueOnTimeout, nil
	default:
		return PolicyBestEffort, fmt.Errorf("%w: policy %q", ErrInvalidOption, s)
	}
}

// StagePolicy decides whether the next stage runs in ModeStaged.
type StagePolicy int

const (
	// StageAllMustSucceed runs the next stage only when every signal in the
	// current stage succeeded.
	StageAllMustSucceed StagePolicy = iota
	// StageBestEffort runs subsequent stages unconditionally.
	StageBestEffort
	// StageFailFast aborts remaining dispatch in the stage on the first
	// non-success and skips all later stages.
	StageFailFast
	// StageEarlyPromotion starts the next stage once a success fraction
	// threshold is met; the remainder continues alongside.
	StageEarlyPromotion
)

func (p StagePolicy) String() string {
	switch p {
	case StageBestEffort:
		return "best-effort"
	case StageFailFast:
		return "fail-fast"
	case StageEarlyPromotion:
		return "early-promotion"
	case StageAllMustSucceed:
		fallthrough
	default:
		return "all-must-succeed"
	}
}

// ParseStagePolicy parses a stage policy name as used in option profiles.
func ParseStagePolicy(s string) (StagePolicy, error) {
	switch s {
	case "all-must-succeed":
		return StageAllMustSucceed, nil
	case "best-effort":
		return StageBestEffort, nil
	case "fail-fast":
		return StageFailFast, nil
	case "early-promotion":
		return StageEarlyPromotion, nil
	default:
		return StageAllMustSucceed, fmt.Errorf("%w: stage-policy %q", ErrInvalidOption, s)
	}
}

// DefaultGlobalTimeout applies when Config.GlobalTimeout is zero.
const DefaultGlobalTimeout = 30 * time.Second

// Config is the options bundle consumed at construction. The zero value is
// usable: parallel mode, best-effort policy, 30 s soft global timeout.
type Config struct {
	// GlobalTimeout is the deadline for the whole run, measured from the
	// start of WaitAll. Zero means DefaultGlobalTimeout; negative disables
	// the global deadline entirely.
	GlobalTimeout time.Duration

	// Mode is the execution mode.
	Mode Mode

	// Policy is the coordinator-level failure policy.
	Policy Policy

	// StagePolicy applies in ModeStaged only.
	StagePolicy StagePolicy

	// EarlyPromotionThreshold is the success fraction in (0,1] that opens
	// the next stage under StageEarlyPromotion.
	EarlyPromotionThreshold float64

	// MaxParallel bounds concurrent signal execution. Zero means unbounded.
	MaxParallel int

	// CancelOnGlobalTimeout makes the global deadline hard: on expiry the
	// root scope is cancelled and in-flight signals are timed out.
	CancelOnGlobalTimeout bool

	// CancelIndividualOnTimeout cancels a signal's token when its per-signal
	// timeout expires, so cooperating signals return promptly.
	CancelIndividualOnTimeout bool

	// CancelDependentsOnFailure raises scope cancellation for dependents
	// sharing a scope with a failed prerequisite (ModeDependency only).
	CancelDependentsOnFailure bool

	// TimeoutStrategy overrides the per-signal timeout decision. Nil uses
	// DefaultTimeoutStrategy. Strategies must be pure functions.
	TimeoutStrategy TimeoutStrategy

	// Metrics receives per-signal and aggregate measurements. Nil means no-op.
	Metrics MetricsSink
}

// Validate checks the option combination without building a coordinator.
// New runs the same checks; this is for callers assembling options from
// external sources.
func (c Config) Validate() error { return c.validate() }

func (c Config) validate() error {
	if c.MaxParallel < 0 {
		return fmt.Errorf("%w: max-degree-of-parallelism %d", ErrInvalidOption, c.MaxParallel)
	}
	if c.Mode == ModeStaged && c.StagePolicy == StageEarlyPromotion {
		if c.EarlyPromotionThreshold <= 0 || c.EarlyPromotionThreshold > 1 {
			return fmt.Errorf("%w: early-promotion-threshold %v not in (0,1]", ErrInvalidOption, c.EarlyPromotionThreshold)
		}
	}
	return nil
}

// globalTimeout resolves the configured global deadline. Zero disables it.
func (c Config) globalTimeout() time.Duration {
	if c.GlobalTimeout == 0 {
		return DefaultGlobalTimeout
	}
	if c.GlobalTimeout < 0 {
		return 0
	}
	return c.GlobalTimeout
}

func (c Config) metrics() MetricsSink {
	if c.Metrics == nil {
		return NopMetrics()
	}
	return c.Metrics
}

func (c Config) timeoutStrategy() TimeoutStrategy {
	if c.TimeoutStrategy == nil {
		return DefaultTimeoutStrategy
	}
	return c.TimeoutStrategy
}
