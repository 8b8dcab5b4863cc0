package ignition

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/veggerby/ignition/internal/logger"
	"github.com/veggerby/ignition/scope"
)

// scheduler drives the plan wave by wave, observing the concurrency bound,
// the global deadline and the cancellation hierarchy. It writes each node's
// terminal slot exactly once.
type scheduler struct {
	cfg     Config
	plan    *plan
	root    *scope.Scope
	bus     *eventBus
	metrics MetricsSink
	runID   string

	sem *semaphore.Weighted

	inFlight       atomic.Int64
	globalObserved atomic.Bool
	globalHard     atomic.Bool
	halt           atomic.Bool

	// terminalStage is the index (into plan.waves) of the stage that halted
	// the run, or -1.
	terminalStage int
}

func newScheduler(cfg Config, p *plan, root *scope.Scope, bus *eventBus, runID string) *scheduler {
	s := &scheduler{
		cfg:           cfg,
		plan:          p,
		root:          root,
		bus:           bus,
		metrics:       cfg.metrics(),
		runID:         runID,
		terminalStage: -1,
	}
	if cfg.MaxParallel > 0 {
		s.sem = semaphore.NewWeighted(int64(cfg.MaxParallel))
	}
	return s
}

// run executes the plan. On return every node has a terminal status.
func (s *scheduler) run(ctx context.Context) {
	var wg sync.WaitGroup

	if d := s.cfg.globalTimeout(); d > 0 {
		timer := time.AfterFunc(d, func() {
			s.globalObserved.Store(true)
			s.bus.emit(GlobalTimeoutFired{RunID: s.runID, At: time.Now()})
			if s.cfg.CancelOnGlobalTimeout {
				s.globalHard.Store(true)
				logger.Warn(ctx, "Global deadline exceeded; cancelling root scope", "timeout", d)
				s.root.Cancel(scope.ReasonGlobalTimeout, "")
			} else if s.cfg.Policy == PolicyContinueOnTimeout {
				logger.Info(ctx, "Global deadline exceeded; continuing", "timeout", d)
			} else {
				logger.Warn(ctx, "Global deadline exceeded", "timeout", d)
			}
		})
		defer timer.Stop()
	}

	// The ambient token cancels the root scope with reason = manual.
	watcherDone := make(chan struct{})
	defer close(watcherDone)
	go func() {
		select {
		case <-ctx.Done():
			s.root.Cancel(scope.ReasonManual, "")
		case <-watcherDone:
		}
	}()

	for wi, wave := range s.plan.waves {
		if s.halt.Load() || s.globalHard.Load() {
			break
		}
		s.runWave(ctx, wi, wave, &wg)
	}

	// Early-promotion remainders may still be in flight.
	wg.Wait()

	// Anything never dispatched settles as skipped.
	for _, n := range s.plan.nodes {
		if s.markUndispatched(n) {
			s.metrics.ObserveSignal(n.name(), n.currentStatus(), 0)
		}
	}
}

// runWave dispatches one wave and blocks on its barrier. For early
// promotion the barrier is the success-fraction threshold instead of full
// settlement.
func (s *scheduler) runWave(ctx context.Context, wi int, wave []*node, wg *sync.WaitGroup) {
	var (
		waveAbort atomic.Bool
		settled   atomic.Int64
		succeeded atomic.Int64
		barrier   = make(chan struct{})
		closeOnce sync.Once
	)

	earlyPromotion := s.cfg.Mode == ModeStaged && s.cfg.StagePolicy == StageEarlyPromotion
	stageFailFast := s.cfg.Mode == ModeStaged && s.cfg.StagePolicy == StageFailFast
	threshold := len(wave)
	if earlyPromotion {
		threshold = int(math.Ceil(s.cfg.EarlyPromotionThreshold * float64(len(wave))))
	}

	release := func() { closeOnce.Do(func() { close(barrier) }) }

	onSettled := func(st Status) {
		if st == StatusSucceeded {
			succeeded.Add(1)
		} else {
			if stageFailFast {
				waveAbort.Store(true)
			}
			if s.cfg.Policy == PolicyFailFast {
				s.halt.Store(true)
			}
		}
		done := settled.Add(1)
		if int(done) >= len(wave) || (earlyPromotion && int(succeeded.Load()) >= threshold) {
			release()
		}
		// Fail-fast dominates early promotion: stop waiting for the
		// threshold once the run is halted.
		if s.halt.Load() {
			release()
		}
	}

	for _, n := range wave {
		if s.dispatchShortCircuit(n) {
			onSettled(n.currentStatus())
			continue
		}

		wg.Add(1)
		go func(n *node) {
			defer wg.Done()
			s.runSignal(ctx, n, &waveAbort)
			onSettled(n.currentStatus())
		}(n)
	}

	if len(wave) == 0 {
		return
	}
	<-barrier

	if s.cfg.Mode == ModeStaged {
		s.applyStagePolicy(wi, wave)
	}
}

// dispatchShortCircuit settles a node without invoking its callable when the
// plan or the cancellation state already determines its outcome. Returns
// true when the node was settled here.
func (s *scheduler) dispatchShortCircuit(n *node) bool {
	now := time.Now()

	// Hard global timeout: signals that had not yet begun are skipped.
	if s.globalHard.Load() {
		if n.setSkipped(nil, now) {
			s.metrics.ObserveSignal(n.name(), StatusSkipped, 0)
		}
		return true
	}

	// Dependency mode: a signal with any non-successful prerequisite is
	// skipped, recording the direct offenders.
	if s.plan.mode == ModeDependency && len(n.prereqs) > 0 {
		var failed []string
		for _, preID := range n.prereqs {
			pre := s.plan.nodes[preID]
			if st := pre.currentStatus(); st.Terminal() && st != StatusSucceeded {
				failed = append(failed, pre.name())
			}
		}
		if len(failed) > 0 {
			if n.setSkipped(failed, now) {
				logger.Info(context.Background(), "Signal skipped; prerequisites not successful",
					"signal", n.name(), "failed_prerequisites", failed)
				s.metrics.ObserveSignal(n.name(), StatusSkipped, 0)
			}
			return true
		}
	}

	// A cancelled owning scope settles the signal before it starts.
	if owning := n.reg.Scope; owning != nil && owning.Canceled() {
		if n.setCanceled(owning.Cause(), nil, now) {
			s.metrics.ObserveSignal(n.name(), StatusCanceled, 0)
		}
		return true
	}
	if s.root.Canceled() {
		if n.setCanceled(s.root.Cause(), nil, now) {
			s.metrics.ObserveSignal(n.name(), StatusCanceled, 0)
		}
		return true
	}

	return false
}

// runSignal is the per-signal execution envelope, applied uniformly
// regardless of mode.
func (s *scheduler) runSignal(ctx context.Context, n *node, waveAbort *atomic.Bool) {
	sig := n.reg.Signal
	owning := n.reg.Scope

	if s.sem != nil {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			s.settleUnstarted(n)
			return
		}
		defer s.sem.Release(1)
	}

	// Dispatch aborted while this signal waited for a permit.
	if waveAbort != nil && waveAbort.Load() {
		if n.setSkipped(nil, time.Now()) {
			s.metrics.ObserveSignal(n.name(), StatusSkipped, 0)
		}
		return
	}
	if s.globalHard.Load() {
		if n.setSkipped(nil, time.Now()) {
			s.metrics.ObserveSignal(n.name(), StatusSkipped, 0)
		}
		return
	}

	effectiveTimeout, cancelOnExceed := s.cfg.timeoutStrategy()(sig, s.cfg)

	// Compose the effective token: ambient + root scope + owning scope +
	// per-signal timer.
	waitCtx, cancelWait := s.root.Context(ctx)
	defer cancelWait()
	if owning != nil {
		var cancelOwning context.CancelFunc
		waitCtx, cancelOwning = owning.Context(waitCtx)
		defer cancelOwning()
	}
	if effectiveTimeout > 0 {
		timer := time.AfterFunc(effectiveTimeout, func() {
			n.markTimerExpired()
			if cancelOnExceed {
				cancelWait()
			}
		})
		defer timer.Stop()
	}

	startedAt := time.Now()
	if !n.setRunning(startedAt, effectiveTimeout) {
		return
	}
	s.inFlight.Add(1)
	logger.Debug(ctx, "Signal execution started", "signal", sig.Name())
	s.bus.emit(SignalStarted{RunID: s.runID, Name: sig.Name(), StartedAt: startedAt})

	err := s.invoke(waitCtx, sig)

	s.classify(ctx, n, err, effectiveTimeout)
	s.inFlight.Add(-1)

	res := n.result()
	s.bus.emit(SignalCompleted{RunID: s.runID, Name: sig.Name(), Status: res.Status, Duration: res.Duration})
	s.metrics.ObserveSignal(sig.Name(), res.Status, res.Duration)
}

// invoke runs the callable, converting panics into failures.
func (s *scheduler) invoke(ctx context.Context, sig Signal) (err error) {
	defer func() {
		if panicObj := recover(); panicObj != nil {
			stack := string(debug.Stack())
			err = fmt.Errorf("panic recovered: %v\n%s", panicObj, stack)
			logger.Error(ctx, "Panic in signal", "signal", sig.Name(), "error", err)
		}
	}()
	return sig.Wait(ctx)
}

// classify assigns the terminal status. Precedence when several conditions
// hold: signal-failure > signal-timeout > cancelled-by-scope.
func (s *scheduler) classify(ctx context.Context, n *node, err error, effectiveTimeout time.Duration) {
	now := time.Now()
	owning := n.reg.Scope
	cancellationErr := errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)

	switch {
	case err != nil && !cancellationErr:
		n.finish(StatusFailed, err, now)
		logger.Error(ctx, "Signal failed", "signal", n.name(), "error", err)
		s.cascadeFailure(n)

	case n.timerHasExpired():
		n.finish(StatusTimedOut, &TimeoutError{SignalName: n.name(), Timeout: effectiveTimeout}, now)
		logger.Warn(ctx, "Signal timed out", "signal", n.name(), "timeout", effectiveTimeout)

	case s.globalHard.Load():
		n.finish(StatusTimedOut, &TimeoutError{SignalName: n.name(), Global: true}, now)
		logger.Warn(ctx, "Signal timed out at global deadline", "signal", n.name())

	case owning != nil && owning.Canceled():
		n.setCanceled(owning.Cause(), err, now)
		logger.Info(ctx, "Signal canceled", "signal", n.name(), "reason", owning.Cause().Reason.String())

	case s.root.Canceled():
		n.setCanceled(s.root.Cause(), err, now)
		logger.Info(ctx, "Signal canceled", "signal", n.name(), "reason", s.root.Cause().Reason.String())

	case err != nil:
		// A cancellation-shaped error with no cancelled supervisor is a
		// plain failure.
		n.finish(StatusFailed, err, now)
		s.cascadeFailure(n)

	default:
		n.finish(StatusSucceeded, nil, now)
		logger.Debug(ctx, "Signal succeeded", "signal", n.name())
	}
}

// cascadeFailure raises scope cancellations mandated by the registration
// and the coordinator options.
func (s *scheduler) cascadeFailure(n *node) {
	owning := n.reg.Scope
	if owning == nil {
		return
	}
	if n.reg.CancelScopeOnFailure {
		owning.Cancel(scope.ReasonSignalFailure, n.name())
		return
	}
	if s.cfg.CancelDependentsOnFailure {
		for _, depID := range n.dependents {
			if s.plan.nodes[depID].reg.Scope == owning {
				owning.Cancel(scope.ReasonDependencyFailure, n.name())
				return
			}
		}
	}
}

// settleUnstarted classifies a node whose permit acquisition was interrupted.
func (s *scheduler) settleUnstarted(n *node) {
	now := time.Now()
	if s.globalHard.Load() {
		if n.setSkipped(nil, now) {
			s.metrics.ObserveSignal(n.name(), StatusSkipped, 0)
		}
		return
	}
	cause := s.root.Cause()
	if owning := n.reg.Scope; owning != nil && owning.Canceled() {
		cause = owning.Cause()
	}
	if n.setCanceled(cause, nil, now) {
		s.metrics.ObserveSignal(n.name(), StatusCanceled, 0)
	}
}

// markUndispatched settles leftover nodes after dispatch halted.
func (s *scheduler) markUndispatched(n *node) bool {
	if n.currentStatus() != StatusNone {
		return false
	}
	now := time.Now()
	if s.globalHard.Load() {
		return n.setSkipped(nil, now)
	}
	// Fail-fast and stage-policy halts report undispatched signals as
	// skipped with no failed prerequisites, so every registered signal has
	// exactly one result entry.
	return n.setSkipped(nil, now)
}

// applyStagePolicy decides whether later stages may run, and records the
// stage that halted the run.
func (s *scheduler) applyStagePolicy(wi int, wave []*node) {
	anyNonSuccess := false
	for _, n := range wave {
		if st := n.currentStatus(); st.Terminal() && st != StatusSucceeded {
			anyNonSuccess = true
			break
		}
	}
	if !anyNonSuccess {
		return
	}

	switch s.cfg.StagePolicy {
	case StageAllMustSucceed, StageFailFast:
		if !s.halt.Load() {
			s.halt.Store(true)
		}
		if s.terminalStage < 0 {
			s.terminalStage = wi
		}
	case StageBestEffort, StageEarlyPromotion:
		// Later stages run unconditionally; coordinator-level fail-fast is
		// handled in the wave settlement callback.
	}
}

// stageResults summarizes the waves of a staged plan from the settled nodes.
func (s *scheduler) stageResults() []StageResult {
	if s.cfg.Mode != ModeStaged {
		return nil
	}

	results := make([]StageResult, 0, len(s.plan.waves))
	for wi, wave := range s.plan.waves {
		sr := StageResult{
			Stage:    s.plan.stages[wi],
			Counts:   make(map[Status]int, len(wave)),
			Terminal: wi == s.terminalStage,
		}
		for _, n := range wave {
			res := n.result()
			sr.Counts[res.Status]++
			if sr.StartedAt.IsZero() || res.StartedAt.Before(sr.StartedAt) {
				sr.StartedAt = res.StartedAt
			}
			if res.FinishedAt.After(sr.FinishedAt) {
				sr.FinishedAt = res.FinishedAt
			}
		}
		results = append(results, sr)
	}
	return results
}
