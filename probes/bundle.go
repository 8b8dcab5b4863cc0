package probes

import (
	"github.com/veggerby/ignition"
	"github.com/veggerby/ignition/scope"
)

// Bundle groups related readiness signals under a shared stage and
// cancellation scope, so a subsystem ("storage", "messaging") registers as
// one unit.
type Bundle struct {
	name  string
	stage int
	scope *scope.Scope
	regs  []ignition.Registration
}

// NewBundle creates an empty bundle. The name is used for the bundle's
// cancellation scope when one is attached.
func NewBundle(name string) *Bundle {
	return &Bundle{name: name}
}

// WithStage places every signal of the bundle in the given stage.
func (b *Bundle) WithStage(stage int) *Bundle {
	b.stage = stage
	return b
}

// WithScope creates a child scope of parent named after the bundle and
// attaches every signal to it.
func (b *Bundle) WithScope(parent *scope.Scope) *Bundle {
	b.scope = parent.NewChild(b.name)
	return b
}

// Scope returns the bundle's scope, or nil when none was attached.
func (b *Bundle) Scope() *scope.Scope { return b.scope }

// Add registers a signal with the bundle's stage and scope.
func (b *Bundle) Add(sig ignition.Signal) *Bundle {
	b.regs = append(b.regs, ignition.Registration{
		Signal: sig,
		Scope:  b.scope,
		Stage:  b.stage,
	})
	return b
}

// AddCheck wraps a check through Poll and adds it.
func (b *Bundle) AddCheck(name string, check Check, opts ...Option) *Bundle {
	return b.Add(Poll(name, check, opts...))
}

// Registrations returns the accumulated registrations.
func (b *Bundle) Registrations() []ignition.Registration {
	return append([]ignition.Registration(nil), b.regs...)
}
