package ignition

import (
	"sync"
	"time"
)

// Event is the sum of coordinator lifecycle notifications. Handlers run
// synchronously on the emitting goroutine; a panic in one handler does not
// affect others or the coordinator's progress.
type Event interface {
	event()
}

// SignalStarted fires when a signal's envelope begins.
type SignalStarted struct {
	RunID     string
	Name      string
	StartedAt time.Time
}

// SignalCompleted fires when a signal reaches a terminal status.
type SignalCompleted struct {
	RunID    string
	Name     string
	Status   Status
	Duration time.Duration
}

// GlobalTimeoutFired fires at most once, when the global deadline expires.
type GlobalTimeoutFired struct {
	RunID string
	At    time.Time
}

// CoordinatorCompleted fires exactly once, strictly after every per-signal
// completion.
type CoordinatorCompleted struct {
	RunID    string
	State    State
	Duration time.Duration
}

func (SignalStarted) event()        {}
func (SignalCompleted) event()      {}
func (GlobalTimeoutFired) event()   {}
func (CoordinatorCompleted) event() {}

// EventHandler receives lifecycle events.
type EventHandler func(Event)

// eventBus is a minimal add/remove callback registry.
type eventBus struct {
	mu       sync.Mutex
	nextID   int
	handlers map[int]EventHandler
}

func newEventBus() *eventBus {
	return &eventBus{handlers: make(map[int]EventHandler)}
}

func (b *eventBus) subscribe(h EventHandler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = h
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

func (b *eventBus) emit(ev Event) {
	b.mu.Lock()
	handlers := make([]EventHandler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		invokeHandler(h, ev)
	}
}

// invokeHandler isolates handler panics from the scheduler and from the
// other handlers.
func invokeHandler(h EventHandler, ev Event) {
	defer func() {
		_ = recover()
	}()
	h(ev)
}
