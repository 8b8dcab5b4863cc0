package ignition

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/veggerby/ignition/scope"
)

// node is the per-signal slot. Its terminal fields are written exactly once
// by the classifying worker; readers after classification observe a stable
// value.
type node struct {
	reg        Registration
	id         int
	prereqs    []int
	dependents []int

	mu               sync.Mutex
	status           Status
	startedAt        time.Time
	finishedAt       time.Time
	err              error
	effectiveTimeout time.Duration
	failedPrereqs    []string
	cancellation     scope.Cancellation
	timerExpired     bool
}

func (n *node) name() string { return n.reg.Signal.Name() }

func (n *node) currentStatus() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status
}

func (n *node) setRunning(at time.Time, effectiveTimeout time.Duration) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.status != StatusNone {
		return false
	}
	n.status = StatusRunning
	n.startedAt = at
	n.effectiveTimeout = effectiveTimeout
	return true
}

func (n *node) markTimerExpired() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.timerExpired = true
}

func (n *node) timerHasExpired() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.timerExpired
}

// finish assigns the terminal status once. Later calls are no-ops, which
// keeps the first classification authoritative.
func (n *node) finish(status Status, err error, at time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.status.Terminal() {
		return false
	}
	n.status = status
	n.err = err
	n.finishedAt = at
	if n.startedAt.IsZero() {
		n.startedAt = at
	}
	return true
}

func (n *node) setSkipped(failedPrereqs []string, at time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.status.Terminal() {
		return false
	}
	n.status = StatusSkipped
	n.failedPrereqs = failedPrereqs
	n.finishedAt = at
	if n.startedAt.IsZero() {
		n.startedAt = at
	}
	return true
}

func (n *node) setCanceled(cause scope.Cancellation, err error, at time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.status.Terminal() {
		return false
	}
	n.status = StatusCanceled
	n.cancellation = cause
	n.err = err
	n.finishedAt = at
	if n.startedAt.IsZero() {
		n.startedAt = at
	}
	return true
}

func (n *node) result() SignalResult {
	n.mu.Lock()
	defer n.mu.Unlock()

	var duration time.Duration
	if !n.finishedAt.IsZero() && !n.startedAt.IsZero() {
		duration = n.finishedAt.Sub(n.startedAt)
	}

	return SignalResult{
		Name:                n.name(),
		Status:              n.status,
		StartedAt:           n.startedAt,
		FinishedAt:          n.finishedAt,
		Duration:            duration,
		EffectiveTimeout:    n.effectiveTimeout,
		Err:                 n.err,
		FailedPrerequisites: append([]string(nil), n.failedPrereqs...),
		CancelReason:        n.cancellation.Reason,
		CancelTrigger:       n.cancellation.Trigger,
		Stage:               n.reg.Stage,
	}
}

// plan is the precomputed schedule: signals arranged into execution waves.
// All four modes reduce to waves; they differ only in how waves are derived
// and how failures propagate.
type plan struct {
	mode   Mode
	nodes  []*node
	byName map[string]*node
	waves  [][]*node
	// stages holds the stage index of each wave in ModeStaged.
	stages []int
}

func newPlan(cfg Config, regs []Registration) (*plan, error) {
	p := &plan{
		mode:   cfg.Mode,
		byName: make(map[string]*node, len(regs)),
	}

	for i, reg := range regs {
		if reg.Signal == nil || reg.Signal.Name() == "" {
			return nil, fmt.Errorf("%w: registration %d", ErrEmptySignalName, i)
		}
		if reg.Stage < 0 {
			return nil, fmt.Errorf("%w: signal %q stage %d", ErrNegativeStage, reg.Signal.Name(), reg.Stage)
		}
		if _, ok := p.byName[reg.Signal.Name()]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateSignal, reg.Signal.Name())
		}
		n := &node{reg: reg, id: i}
		p.nodes = append(p.nodes, n)
		p.byName[reg.Signal.Name()] = n
	}

	if err := p.buildEdges(); err != nil {
		return nil, err
	}

	switch cfg.Mode {
	case ModeSequential:
		for _, n := range p.nodes {
			p.waves = append(p.waves, []*node{n})
		}
	case ModeStaged:
		p.buildStageWaves()
	case ModeDependency:
		if err := p.buildDependencyWaves(); err != nil {
			return nil, err
		}
	case ModeParallel:
		fallthrough
	default:
		if len(p.nodes) > 0 {
			p.waves = append(p.waves, p.nodes)
		}
	}

	return p, nil
}

// buildEdges resolves prerequisite names to node edges. Unresolved references
// are construction-time errors regardless of mode.
func (p *plan) buildEdges() error {
	for _, n := range p.nodes {
		for _, dep := range n.reg.DependsOn {
			depNode, ok := p.byName[dep]
			if !ok {
				return fmt.Errorf("%w: %q (required by %q)", ErrUnknownPrerequisite, dep, n.name())
			}
			n.prereqs = append(n.prereqs, depNode.id)
			depNode.dependents = append(depNode.dependents, n.id)
		}
	}
	return nil
}

// buildStageWaves partitions by stage index, ascending. Gaps in the index
// space are legal; empty waves are simply not produced.
func (p *plan) buildStageWaves() {
	groups := lo.GroupBy(p.nodes, func(n *node) int { return n.reg.Stage })
	stages := lo.Keys(groups)
	sort.Ints(stages)

	for _, stage := range stages {
		p.waves = append(p.waves, groups[stage])
		p.stages = append(p.stages, stage)
	}
}

// buildDependencyWaves layers the DAG Kahn-style: signals with no
// unprocessed prerequisites form a wave, are removed, and the process
// repeats. Anything left over is part of a cycle.
func (p *plan) buildDependencyWaves() error {
	inDegree := make([]int, len(p.nodes))
	for _, n := range p.nodes {
		inDegree[n.id] = len(n.prereqs)
	}

	remaining := len(p.nodes)
	frontier := lo.Filter(p.nodes, func(n *node, _ int) bool { return inDegree[n.id] == 0 })

	for len(frontier) > 0 {
		p.waves = append(p.waves, frontier)
		remaining -= len(frontier)

		var next []*node
		for _, n := range frontier {
			for _, depID := range n.dependents {
				inDegree[depID]--
				if inDegree[depID] == 0 {
					next = append(next, p.nodes[depID])
				}
			}
		}
		frontier = next
	}

	if remaining > 0 {
		return fmt.Errorf("%w: %s", ErrCycleDetected, p.cyclePath(inDegree))
	}
	return nil
}

// cyclePath walks prerequisite edges among the unlayered nodes until a node
// repeats, producing a diagnostic like "a -> b -> c -> a".
func (p *plan) cyclePath(inDegree []int) string {
	var start *node
	for _, n := range p.nodes {
		if inDegree[n.id] > 0 {
			start = n
			break
		}
	}
	if start == nil {
		return "unknown"
	}

	seen := make(map[int]int) // node id -> position in path
	var path []string
	curr := start
	for {
		if pos, ok := seen[curr.id]; ok {
			path = append(path[pos:], curr.name())
			return strings.Join(path, " -> ")
		}
		seen[curr.id] = len(path)
		path = append(path, curr.name())

		// Follow any prerequisite that is itself stuck in the cycle.
		next := curr
		for _, preID := range curr.prereqs {
			if inDegree[preID] > 0 {
				next = p.nodes[preID]
				break
			}
		}
		curr = next
	}
}
