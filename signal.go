package ignition

import (
	"context"
	"time"

	"github.com/veggerby/ignition/scope"
)

// Signal is a uniquely named asynchronous readiness operation. The
// coordinator invokes Wait at most once; implementations should honor the
// context when practical. Cancellation latency degrades for signals that
// ignore it, but correctness does not.
type Signal interface {
	// Name returns the unique, stable name of the signal.
	Name() string

	// SignalTimeout returns the per-signal timeout, or zero when none is set.
	SignalTimeout() time.Duration

	// Wait blocks until the readiness condition holds, a failure occurs, or
	// the context is done.
	Wait(ctx context.Context) error
}

// WaitFunc adapts a plain function to the signal wait contract.
type WaitFunc func(ctx context.Context) error

type funcSignal struct {
	name    string
	timeout time.Duration
	fn      WaitFunc
}

func (s *funcSignal) Name() string                { return s.name }
func (s *funcSignal) SignalTimeout() time.Duration { return s.timeout }
func (s *funcSignal) Wait(ctx context.Context) error {
	return s.fn(ctx)
}

// NewSignal creates a signal from a wait function.
func NewSignal(name string, fn WaitFunc) Signal {
	return &funcSignal{name: name, fn: fn}
}

// NewTimedSignal creates a signal with a per-signal timeout.
func NewTimedSignal(name string, timeout time.Duration, fn WaitFunc) Signal {
	return &funcSignal{name: name, timeout: timeout, fn: fn}
}

// FromChannel creates a signal that waits for a single error value on ch. A
// closed channel counts as success.
func FromChannel(name string, ch <-chan error) Signal {
	return NewSignal(name, func(ctx context.Context) error {
		select {
		case err := <-ch:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// Registration binds a signal to its scheduling attributes. The zero values
// describe a plain unscoped signal in stage 0 with no prerequisites.
type Registration struct {
	// Signal is the readiness operation. Required.
	Signal Signal

	// Scope optionally places the signal in a cancellation scope.
	Scope *scope.Scope

	// CancelScopeOnFailure cancels the owning scope when this signal fails.
	// Ignored when Scope is nil.
	CancelScopeOnFailure bool

	// Stage is the stage index for ModeStaged. Must be non-negative.
	Stage int

	// DependsOn names the prerequisite signals for ModeDependency.
	DependsOn []string
}

// Register is a convenience constructor for a plain registration.
func Register(sig Signal) Registration {
	return Registration{Signal: sig}
}
