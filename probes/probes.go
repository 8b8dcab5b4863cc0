// Package probes builds readiness signals that poll external dependencies
// until they answer. Concrete dependency checks live in the subpackages;
// this package owns the polling envelope.
package probes

import (
	"context"
	"time"

	"github.com/veggerby/ignition"
	"github.com/veggerby/ignition/internal/backoff"
)

// Check reports whether the dependency is ready right now. A nil return
// means ready; any error schedules another attempt.
type Check func(ctx context.Context) error

const (
	defaultInterval = 250 * time.Millisecond
)

type options struct {
	interval    time.Duration
	timeout     time.Duration
	maxAttempts int
}

// Option customizes a polled probe.
type Option func(*options)

// WithInterval sets the delay between attempts.
func WithInterval(d time.Duration) Option {
	return func(o *options) { o.interval = d }
}

// WithTimeout sets the per-signal timeout of the produced signal.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithMaxAttempts bounds the number of attempts. Zero means unlimited; the
// signal then ends only by success, timeout or cancellation.
func WithMaxAttempts(n int) Option {
	return func(o *options) { o.maxAttempts = n }
}

// Poll wraps a check into a signal that retries on a constant interval until
// the check passes, the attempts run out, or the context is done.
func Poll(name string, check Check, opts ...Option) ignition.Signal {
	o := options{interval: defaultInterval}
	for _, opt := range opts {
		opt(&o)
	}

	policy := backoff.NewConstantBackoffPolicy(o.interval)
	if o.maxAttempts > 0 {
		policy.MaxRetries = o.maxAttempts - 1
	}

	return ignition.NewTimedSignal(name, o.timeout, func(ctx context.Context) error {
		return backoff.Retry(ctx, backoff.Operation(check), policy, nil)
	})
}
