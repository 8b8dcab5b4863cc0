package ignition_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/veggerby/ignition"
	"github.com/veggerby/ignition/scope"
)

func okSignal(name string) ignition.Signal {
	return ignition.NewSignal(name, func(ctx context.Context) error { return nil })
}

func sleepSignal(name string, d time.Duration) ignition.Signal {
	return ignition.NewSignal(name, func(ctx context.Context) error {
		select {
		case <-time.After(d):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// stubbornSignal sleeps for d regardless of the context.
func stubbornSignal(name string, d time.Duration) ignition.Signal {
	return ignition.NewSignal(name, func(ctx context.Context) error {
		time.Sleep(d)
		return nil
	})
}

func failSignal(name string, err error) ignition.Signal {
	return ignition.NewSignal(name, func(ctx context.Context) error { return err })
}

func TestParallelBestEffort(t *testing.T) {
	t.Parallel()

	boom := errors.New("cache connect refused")
	coord, err := ignition.New(ignition.Config{},
		ignition.Register(okSignal("db")),
		ignition.Register(failSignal("cache", boom)),
		ignition.Register(sleepSignal("warmup", 20*time.Millisecond)),
	)
	require.NoError(t, err)

	res, err := coord.WaitAll(context.Background())
	require.NoError(t, err, "best-effort never raises for signal failure")
	require.False(t, res.Succeeded())
	require.Len(t, res.Signals, 3)

	db, ok := res.Signal("db")
	require.True(t, ok)
	require.Equal(t, ignition.StatusSucceeded, db.Status)

	cache, ok := res.Signal("cache")
	require.True(t, ok)
	require.Equal(t, ignition.StatusFailed, cache.Status)
	require.ErrorIs(t, cache.Err, boom)

	warmup, ok := res.Signal("warmup")
	require.True(t, ok)
	require.Equal(t, ignition.StatusSucceeded, warmup.Status)

	require.Equal(t, ignition.StateFailed, coord.State())
}

func TestSequentialFailFast(t *testing.T) {
	t.Parallel()

	var ran []string
	var mu sync.Mutex
	mark := func(name string) ignition.WaitFunc {
		return func(ctx context.Context) error {
			mu.Lock()
			ran = append(ran, name)
			mu.Unlock()
			return nil
		}
	}

	boom := errors.New("migrations failed")
	coord, err := ignition.New(ignition.Config{
		Mode:   ignition.ModeSequential,
		Policy: ignition.PolicyFailFast,
	},
		ignition.Register(ignition.NewSignal("a", mark("a"))),
		ignition.Register(failSignal("b", boom)),
		ignition.Register(ignition.NewSignal("c", mark("c"))),
		ignition.Register(ignition.NewSignal("d", mark("d"))),
	)
	require.NoError(t, err)

	res, err := coord.WaitAll(context.Background())

	var coordErr *ignition.CoordinationError
	require.ErrorAs(t, err, &coordErr)
	require.ErrorIs(t, err, boom)

	mu.Lock()
	require.Equal(t, []string{"a"}, ran, "nothing after the failure may run")
	mu.Unlock()

	require.Len(t, res.Signals, 4, "one result entry per registered signal")
	for _, name := range []string{"c", "d"} {
		sr, ok := res.Signal(name)
		require.True(t, ok)
		require.Equal(t, ignition.StatusSkipped, sr.Status)
		require.Empty(t, sr.FailedPrerequisites)
	}
}

func TestStagedAllMustSucceed(t *testing.T) {
	t.Parallel()

	coord, err := ignition.New(ignition.Config{Mode: ignition.ModeStaged},
		ignition.Registration{Signal: okSignal("config"), Stage: 0},
		ignition.Registration{Signal: okSignal("db"), Stage: 1},
		ignition.Registration{Signal: failSignal("queue", errors.New("broker down")), Stage: 1},
		ignition.Registration{Signal: okSignal("http"), Stage: 2},
	)
	require.NoError(t, err)

	res, err := coord.WaitAll(context.Background())
	require.NoError(t, err)

	httpRes, ok := res.Signal("http")
	require.True(t, ok)
	require.Equal(t, ignition.StatusSkipped, httpRes.Status)

	require.Len(t, res.Stages, 3)
	require.False(t, res.Stages[0].Terminal)
	require.True(t, res.Stages[1].Terminal, "the failing stage halts the run")
	require.Equal(t, 1, res.Stages[1].Counts[ignition.StatusFailed])
	require.Equal(t, 1, res.Stages[2].Counts[ignition.StatusSkipped])
}

func TestStagedBestEffortRunsAllStages(t *testing.T) {
	t.Parallel()

	coord, err := ignition.New(ignition.Config{
		Mode:        ignition.ModeStaged,
		StagePolicy: ignition.StageBestEffort,
	},
		ignition.Registration{Signal: failSignal("flaky", errors.New("nope")), Stage: 0},
		ignition.Registration{Signal: okSignal("later"), Stage: 3},
	)
	require.NoError(t, err)

	res, err := coord.WaitAll(context.Background())
	require.NoError(t, err)

	later, ok := res.Signal("later")
	require.True(t, ok)
	require.Equal(t, ignition.StatusSucceeded, later.Status)
	require.Equal(t, 3, res.Stages[1].Stage, "stage indexes with gaps are preserved")
}

func TestDependencySkipRecordsDirectPrerequisites(t *testing.T) {
	t.Parallel()

	boom := errors.New("schema mismatch")
	coord, err := ignition.New(ignition.Config{Mode: ignition.ModeDependency},
		ignition.Register(okSignal("db")),
		ignition.Registration{Signal: failSignal("migrations", boom), DependsOn: []string{"db"}},
		ignition.Registration{Signal: okSignal("cache")},
		ignition.Registration{Signal: okSignal("api"), DependsOn: []string{"migrations", "cache"}},
	)
	require.NoError(t, err)

	res, err := coord.WaitAll(context.Background())
	require.NoError(t, err)

	api, ok := res.Signal("api")
	require.True(t, ok)
	require.Equal(t, ignition.StatusSkipped, api.Status)
	require.Equal(t, []string{"migrations"}, api.FailedPrerequisites,
		"only the direct non-successful prerequisites are recorded")

	cache, ok := res.Signal("cache")
	require.True(t, ok)
	require.Equal(t, ignition.StatusSucceeded, cache.Status)
}

func TestPerSignalTimeoutCancelsToken(t *testing.T) {
	t.Parallel()

	coord, err := ignition.New(ignition.Config{
		GlobalTimeout:             -1,
		CancelIndividualOnTimeout: true,
	},
		ignition.Register(ignition.NewTimedSignal("slow", 30*time.Millisecond,
			func(ctx context.Context) error {
				select {
				case <-time.After(time.Second):
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})),
	)
	require.NoError(t, err)

	start := time.Now()
	res, err := coord.WaitAll(context.Background())
	require.NoError(t, err)
	require.Less(t, time.Since(start), 500*time.Millisecond, "cooperating signal must return promptly")

	slow, ok := res.Signal("slow")
	require.True(t, ok)
	require.Equal(t, ignition.StatusTimedOut, slow.Status)

	var timeoutErr *ignition.TimeoutError
	require.ErrorAs(t, slow.Err, &timeoutErr)
	require.Equal(t, "slow", timeoutErr.SignalName)
	require.Equal(t, 30*time.Millisecond, timeoutErr.Timeout)
	require.False(t, timeoutErr.Global)
	require.True(t, res.TimedOut)
}

func TestPerSignalTimeoutLatchOnly(t *testing.T) {
	t.Parallel()

	// Without cancel-on-exceed the signal runs to natural completion but the
	// classification is fixed the moment the timer fires.
	coord, err := ignition.New(ignition.Config{GlobalTimeout: -1},
		ignition.Register(ignition.NewTimedSignal("lagging", 10*time.Millisecond,
			func(ctx context.Context) error {
				time.Sleep(60 * time.Millisecond)
				return nil
			})),
	)
	require.NoError(t, err)

	res, err := coord.WaitAll(context.Background())
	require.NoError(t, err)

	lagging, ok := res.Signal("lagging")
	require.True(t, ok)
	require.Equal(t, ignition.StatusTimedOut, lagging.Status)
	require.GreaterOrEqual(t, lagging.Duration, 60*time.Millisecond,
		"duration reflects natural completion")
}

func TestHardGlobalTimeout(t *testing.T) {
	t.Parallel()

	coord, err := ignition.New(ignition.Config{
		Mode:                  ignition.ModeSequential,
		GlobalTimeout:         60 * time.Millisecond,
		CancelOnGlobalTimeout: true,
	},
		ignition.Register(sleepSignal("cooperative", time.Second)),
		ignition.Register(okSignal("never-begun")),
	)
	require.NoError(t, err)

	res, err := coord.WaitAll(context.Background())
	require.NoError(t, err)

	coop, ok := res.Signal("cooperative")
	require.True(t, ok)
	require.Equal(t, ignition.StatusTimedOut, coop.Status)
	var timeoutErr *ignition.TimeoutError
	require.ErrorAs(t, coop.Err, &timeoutErr)
	require.True(t, timeoutErr.Global)

	skipped, ok := res.Signal("never-begun")
	require.True(t, ok)
	require.Equal(t, ignition.StatusSkipped, skipped.Status)
	require.Empty(t, skipped.FailedPrerequisites)

	require.True(t, res.TimedOut)
	require.True(t, res.GlobalDeadlineObserved)
	require.Equal(t, ignition.StateTimedOut, coord.State())
}

func TestSoftGlobalTimeoutFlagsOnly(t *testing.T) {
	t.Parallel()

	coord, err := ignition.New(ignition.Config{GlobalTimeout: 20 * time.Millisecond},
		ignition.Register(stubbornSignal("slow-but-fine", 80*time.Millisecond)),
	)
	require.NoError(t, err)

	res, err := coord.WaitAll(context.Background())
	require.NoError(t, err)

	slow, ok := res.Signal("slow-but-fine")
	require.True(t, ok)
	require.Equal(t, ignition.StatusSucceeded, slow.Status, "a soft deadline never interrupts")
	require.True(t, res.GlobalDeadlineObserved)
	require.False(t, res.TimedOut)
	require.Equal(t, ignition.HealthDegraded, ignition.HealthOf(res))
}

func TestScopeCancelOnFailure(t *testing.T) {
	t.Parallel()

	sc := scope.NewRoot("storage")
	defer sc.Dispose()

	coord, err := ignition.New(ignition.Config{GlobalTimeout: -1},
		ignition.Registration{
			Signal:               failSignal("primary", errors.New("refused")),
			Scope:                sc,
			CancelScopeOnFailure: true,
		},
		ignition.Registration{
			Signal: sleepSignal("replica", time.Second),
			Scope:  sc,
		},
	)
	require.NoError(t, err)

	start := time.Now()
	res, err := coord.WaitAll(context.Background())
	require.NoError(t, err)
	require.Less(t, time.Since(start), 500*time.Millisecond)

	replica, ok := res.Signal("replica")
	require.True(t, ok)
	require.Equal(t, ignition.StatusCanceled, replica.Status)
	require.Equal(t, scope.ReasonSignalFailure, replica.CancelReason)
	require.Equal(t, "primary", replica.CancelTrigger)
}

func TestMaxParallelBoundsConcurrency(t *testing.T) {
	t.Parallel()

	var current, peak atomic.Int64
	tracked := func(name string) ignition.Signal {
		return ignition.NewSignal(name, func(ctx context.Context) error {
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			current.Add(-1)
			return nil
		})
	}

	coord, err := ignition.New(ignition.Config{MaxParallel: 2},
		ignition.Register(tracked("s1")),
		ignition.Register(tracked("s2")),
		ignition.Register(tracked("s3")),
		ignition.Register(tracked("s4")),
		ignition.Register(tracked("s5")),
	)
	require.NoError(t, err)

	res, err := coord.WaitAll(context.Background())
	require.NoError(t, err)
	require.True(t, res.Succeeded())
	require.LessOrEqual(t, peak.Load(), int64(2))
}

func TestEarlyPromotionOpensNextStage(t *testing.T) {
	t.Parallel()

	var slowDone, nextStarted atomic.Int64
	coord, err := ignition.New(ignition.Config{
		Mode:                    ignition.ModeStaged,
		StagePolicy:             ignition.StageEarlyPromotion,
		EarlyPromotionThreshold: 0.5,
	},
		ignition.Registration{Signal: okSignal("fast1"), Stage: 0},
		ignition.Registration{Signal: okSignal("fast2"), Stage: 0},
		ignition.Registration{Signal: ignition.NewSignal("slow", func(ctx context.Context) error {
			time.Sleep(150 * time.Millisecond)
			slowDone.Store(time.Now().UnixNano())
			return nil
		}), Stage: 0},
		ignition.Registration{Signal: ignition.NewSignal("promoted", func(ctx context.Context) error {
			nextStarted.Store(time.Now().UnixNano())
			return nil
		}), Stage: 1},
	)
	require.NoError(t, err)

	res, err := coord.WaitAll(context.Background())
	require.NoError(t, err)
	require.True(t, res.Succeeded(), "the promotion remainder still settles")
	require.NotZero(t, nextStarted.Load())
	require.Less(t, nextStarted.Load(), slowDone.Load(),
		"stage 1 must begin before the stage 0 straggler finishes")
}

func TestWaitAllIsIdempotent(t *testing.T) {
	t.Parallel()

	var invocations atomic.Int64
	coord, err := ignition.New(ignition.Config{},
		ignition.Register(ignition.NewSignal("once", func(ctx context.Context) error {
			invocations.Add(1)
			time.Sleep(10 * time.Millisecond)
			return nil
		})),
	)
	require.NoError(t, err)

	const callers = 5
	results := make([]*ignition.Result, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := coord.WaitAll(context.Background())
			require.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	require.EqualValues(t, 1, invocations.Load(), "the callable runs at most once")
	for i := 1; i < callers; i++ {
		require.Same(t, results[0], results[i], "every caller observes the same aggregate")
	}
}

func TestResultBeforeStart(t *testing.T) {
	t.Parallel()

	coord, err := ignition.New(ignition.Config{}, ignition.Register(okSignal("s")))
	require.NoError(t, err)

	_, err = coord.Result()
	require.ErrorIs(t, err, ignition.ErrNotStarted)
	require.Equal(t, ignition.StateNotStarted, coord.State())
}

func TestPanicInSignalIsFailure(t *testing.T) {
	t.Parallel()

	coord, err := ignition.New(ignition.Config{},
		ignition.Register(ignition.NewSignal("bad", func(ctx context.Context) error {
			panic("boom")
		})),
		ignition.Register(okSignal("good")),
	)
	require.NoError(t, err)

	res, err := coord.WaitAll(context.Background())
	require.NoError(t, err)

	bad, ok := res.Signal("bad")
	require.True(t, ok)
	require.Equal(t, ignition.StatusFailed, bad.Status)
	require.Contains(t, bad.Err.Error(), "panic recovered")

	good, ok := res.Signal("good")
	require.True(t, ok)
	require.Equal(t, ignition.StatusSucceeded, good.Status)
}

func TestAmbientCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	coord, err := ignition.New(ignition.Config{GlobalTimeout: -1},
		ignition.Register(sleepSignal("waiting", time.Second)),
	)
	require.NoError(t, err)

	res, err := coord.WaitAll(ctx)
	require.NoError(t, err, "the driving caller still receives the aggregate")

	waiting, ok := res.Signal("waiting")
	require.True(t, ok)
	require.Equal(t, ignition.StatusCanceled, waiting.Status)
	require.Equal(t, scope.ReasonManual, waiting.CancelReason)
}
