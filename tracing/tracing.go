// Package tracing bridges coordinator lifecycle events to OpenTelemetry
// spans: one span for the run, one child span per signal.
package tracing

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/veggerby/ignition"
)

const instrumentationName = "github.com/veggerby/ignition/tracing"

// Listener converts coordinator events into spans. Attach it before calling
// WaitAll; detach (or coordinator completion) ends the run span.
type Listener struct {
	tracer trace.Tracer

	mu      sync.Mutex
	runCtx  context.Context
	runSpan trace.Span
	spans   map[string]trace.Span
	ended   bool
}

// Attach subscribes a tracing listener to the coordinator and starts the run
// span under ctx. The returned function unsubscribes and ends any span still
// open.
func Attach(ctx context.Context, coord *ignition.Coordinator, tp trace.TracerProvider) func() {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	l := &Listener{
		tracer: tp.Tracer(instrumentationName),
		spans:  make(map[string]trace.Span),
	}
	l.runCtx, l.runSpan = l.tracer.Start(ctx, "ignition.run",
		trace.WithAttributes(attribute.String("ignition.run_id", coord.RunID())))

	unsubscribe := coord.Subscribe(l.handle)
	return func() {
		unsubscribe()
		l.finish(0, false)
	}
}

func (l *Listener) handle(ev ignition.Event) {
	switch e := ev.(type) {
	case ignition.SignalStarted:
		l.mu.Lock()
		_, span := l.tracer.Start(l.runCtx, "ignition.signal",
			trace.WithAttributes(attribute.String("ignition.signal", e.Name)))
		l.spans[e.Name] = span
		l.mu.Unlock()

	case ignition.SignalCompleted:
		l.mu.Lock()
		span, ok := l.spans[e.Name]
		delete(l.spans, e.Name)
		l.mu.Unlock()
		if !ok {
			return
		}
		span.SetAttributes(
			attribute.String("ignition.status", e.Status.String()),
			attribute.Int64("ignition.duration_ms", e.Duration.Milliseconds()),
		)
		if e.Status != ignition.StatusSucceeded {
			span.SetStatus(codes.Error, e.Status.String())
		}
		span.End()

	case ignition.GlobalTimeoutFired:
		l.mu.Lock()
		l.runSpan.AddEvent("global timeout fired")
		l.mu.Unlock()

	case ignition.CoordinatorCompleted:
		l.finish(e.State, true)
	}
}

// finish ends the run span once, along with any signal span left open.
func (l *Listener) finish(state ignition.State, terminal bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ended {
		return
	}
	l.ended = true

	for name, span := range l.spans {
		span.SetStatus(codes.Error, "never completed")
		span.End()
		delete(l.spans, name)
	}

	if terminal {
		l.runSpan.SetAttributes(attribute.String("ignition.state", state.String()))
		if state != ignition.StateCompleted {
			l.runSpan.SetStatus(codes.Error, state.String())
		}
	}
	l.runSpan.End()
}
