package ignition

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veggerby/ignition/internal/logger"
	"github.com/veggerby/ignition/scope"
)

// Coordinator runs a fixed set of registered signals to a terminal state.
// Construction validates the registrations and precomputes the execution
// plan; WaitAll executes it exactly once.
type Coordinator struct {
	cfg   Config
	plan  *plan
	bus   *eventBus
	root  *scope.Scope
	sched *scheduler
	runID string

	startOnce sync.Once
	doneCh    chan struct{}

	mu        sync.Mutex
	state     State
	startedAt time.Time
	result    *Result
	waitErr   error
}

// New builds a coordinator for the given registrations. Invalid options,
// empty or duplicate names, unresolved prerequisites and dependency cycles
// are all reported here, before anything runs.
func New(cfg Config, regs ...Registration) (*Coordinator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	p, err := newPlan(cfg, regs)
	if err != nil {
		return nil, err
	}

	c := &Coordinator{
		cfg:    cfg,
		plan:   p,
		bus:    newEventBus(),
		root:   scope.NewRoot("run"),
		runID:  uuid.NewString(),
		doneCh: make(chan struct{}),
		state:  StateNotStarted,
	}
	c.sched = newScheduler(cfg, p, c.root, c.bus, c.runID)
	return c, nil
}

// RunID identifies this coordinator's run in events, logs and exports.
func (c *Coordinator) RunID() string { return c.runID }

// Subscribe registers an event handler and returns its remove function.
// Handlers run synchronously on the emitting goroutine.
func (c *Coordinator) Subscribe(h EventHandler) func() {
	return c.bus.subscribe(h)
}

// InFlight returns the number of signals currently executing.
func (c *Coordinator) InFlight() int64 {
	return c.sched.inFlight.Load()
}

// State returns the coordinator's lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Result returns the cached aggregate once the run is terminal. Before that
// it returns ErrNotStarted.
func (c *Coordinator) Result() (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result == nil {
		return nil, ErrNotStarted
	}
	return c.result, nil
}

// WaitAll runs every registered signal to a terminal status and returns the
// aggregate. The first call executes the plan; every later call observes the
// same completed run and returns the identical result, never re-running any
// signal. Callers whose context expires while another call is still driving
// the run get the context error; the run itself is unaffected.
//
// Under PolicyFailFast the returned error is a *CoordinationError wrapping
// every captured non-success; otherwise signal-level failure is reported
// through the result alone.
func (c *Coordinator) WaitAll(ctx context.Context) (*Result, error) {
	started := false
	c.startOnce.Do(func() {
		started = true
		c.execute(ctx)
	})
	if started {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.result, c.waitErr
	}

	select {
	case <-c.doneCh:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.result, c.waitErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Coordinator) execute(ctx context.Context) {
	startedAt := time.Now()
	ctx = logger.WithValues(ctx, "run_id", c.runID)

	c.mu.Lock()
	c.state = StateRunning
	c.startedAt = startedAt
	c.mu.Unlock()

	logger.Info(ctx, "Startup coordination started",
		"mode", c.cfg.Mode.String(),
		"policy", c.cfg.Policy.String(),
		"signals", len(c.plan.nodes))

	c.sched.run(ctx)

	res := c.assembleResult(startedAt)
	state := finalState(res)
	var waitErr error
	if c.cfg.Policy == PolicyFailFast && !res.Succeeded() {
		waitErr = &CoordinationError{Failures: res.failures()}
	}

	c.mu.Lock()
	c.state = state
	c.result = res
	c.waitErr = waitErr
	c.mu.Unlock()

	c.cfg.metrics().ObserveRun(state, res.Duration)
	c.bus.emit(CoordinatorCompleted{RunID: c.runID, State: state, Duration: res.Duration})
	c.root.Dispose()

	logger.Info(ctx, "Startup coordination finished",
		"state", state.String(),
		"duration", res.Duration,
		"succeeded", res.Succeeded())

	close(c.doneCh)
}

// assembleResult snapshots every node into the immutable aggregate, in
// registration order.
func (c *Coordinator) assembleResult(startedAt time.Time) *Result {
	res := &Result{
		RunID:                  c.runID,
		StartedAt:              startedAt,
		Duration:               time.Since(startedAt),
		GlobalDeadlineObserved: c.sched.globalObserved.Load(),
		Signals:                make([]SignalResult, 0, len(c.plan.nodes)),
		Stages:                 c.sched.stageResults(),
	}

	anySignalTimeout := false
	for _, n := range c.plan.nodes {
		sr := n.result()
		if sr.Status == StatusTimedOut {
			anySignalTimeout = true
		}
		res.Signals = append(res.Signals, sr)
	}
	res.TimedOut = anySignalTimeout || (res.GlobalDeadlineObserved && c.cfg.CancelOnGlobalTimeout)

	return res
}

// finalState maps the aggregate to the coordinator's terminal state. The
// observed global deadline dominates, soft or hard.
func finalState(res *Result) State {
	switch {
	case res.GlobalDeadlineObserved:
		return StateTimedOut
	case !res.Succeeded():
		return StateFailed
	default:
		return StateCompleted
	}
}
