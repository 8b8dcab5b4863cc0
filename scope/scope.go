// Package scope implements a tree of one-shot cancellation latches.
//
// A Scope is a named node in a cancellation hierarchy. Cancelling a scope
// cancels all of its descendants; a child can never cancel its parent. The
// first cancellation wins and fixes the (reason, trigger) pair for the
// lifetime of the scope.
package scope

import (
	"context"
	"sync"
)

// Reason tags why a scope was cancelled.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonGlobalTimeout
	ReasonSignalTimeout
	ReasonSignalFailure
	ReasonDependencyFailure
	ReasonManual
)

func (r Reason) String() string {
	switch r {
	case ReasonGlobalTimeout:
		return "global-timeout"
	case ReasonSignalTimeout:
		return "signal-timeout"
	case ReasonSignalFailure:
		return "signal-failure"
	case ReasonDependencyFailure:
		return "dependency-failure"
	case ReasonManual:
		return "manual"
	case ReasonNone:
		fallthrough
	default:
		return "none"
	}
}

// Cancellation is the immutable (reason, trigger) pair recorded by the first
// cancellation of a scope. Trigger names the signal that caused it, if any.
type Cancellation struct {
	Reason  Reason
	Trigger string
}

// Scope is a node in the cancellation tree.
type Scope struct {
	name   string
	parent *Scope
	done   chan struct{}

	mu       sync.Mutex
	children []*Scope
	cause    Cancellation
	canceled bool
	disposed bool
}

// NewRoot creates a root scope with the given name.
func NewRoot(name string) *Scope {
	return &Scope{
		name: name,
		done: make(chan struct{}),
	}
}

// Name returns the scope's name.
func (s *Scope) Name() string { return s.name }

// Parent returns the parent scope, or nil for a root.
func (s *Scope) Parent() *Scope { return s.parent }

// NewChild creates a child scope that inherits cancellation from s. If s is
// already cancelled the child is born cancelled with the same cause.
func (s *Scope) NewChild(name string) *Scope {
	child := &Scope{
		name:   name,
		parent: s,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	if s.canceled {
		cause := s.cause
		s.mu.Unlock()
		child.cancel(cause)
		return child
	}
	s.children = append(s.children, child)
	s.mu.Unlock()

	return child
}

// Cancel cancels the scope and all of its descendants with the given reason
// and triggering signal name. Subsequent calls are no-ops; the first
// cancellation's (reason, trigger) pair is retained.
func (s *Scope) Cancel(reason Reason, trigger string) {
	s.cancel(Cancellation{Reason: reason, Trigger: trigger})
}

func (s *Scope) cancel(cause Cancellation) {
	s.mu.Lock()
	if s.canceled {
		s.mu.Unlock()
		return
	}
	s.canceled = true
	s.cause = cause
	children := s.children
	s.mu.Unlock()

	close(s.done)

	// Propagation is strictly parent to child; the cause is adopted as-is.
	for _, child := range children {
		child.cancel(cause)
	}
}

// Done returns a channel closed when the scope is cancelled.
func (s *Scope) Done() <-chan struct{} { return s.done }

// Canceled reports whether the scope has been cancelled.
func (s *Scope) Canceled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canceled
}

// Cause returns the cancellation cause. Before cancellation it returns the
// zero Cancellation (ReasonNone, ""). The returned pair is always consistent;
// there are no torn reads.
func (s *Scope) Cause() Cancellation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

// Context derives a context that is cancelled when either the scope is
// cancelled or the ambient parent context is done. The returned CancelFunc
// must be called to release the watcher.
func (s *Scope) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// Dispose releases the scope and all of its children. Children are torn down
// first. Dispose does not cancel; a live scope can be disposed.
func (s *Scope) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	children := s.children
	s.children = nil
	s.mu.Unlock()

	for _, child := range children {
		child.Dispose()
	}

	if s.parent != nil {
		s.parent.removeChild(s)
	}
}

func (s *Scope) removeChild(child *Scope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.children {
		if c == child {
			s.children = append(s.children[:i], s.children[i+1:]...)
			return
		}
	}
}
