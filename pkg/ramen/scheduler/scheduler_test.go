package scheduler_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jamesainslie/ramen/pkg/ramen/scheduler"
	"github.com/jamesainslie/ramen/pkg/ramen/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func targets(n int) []*target.Target {
	out := make([]*target.Target, n)
	for i := range out {
		out[i] = &target.Target{Host: fmt.Sprintf("host-%02d", i), Product: "ftp"}
	}
	return out
}

// recorder counts events per target.
type recorder struct {
	mu     sync.Mutex
	events []scheduler.Event
}

func (r *recorder) on(ev scheduler.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) count(kind scheduler.EventKind, key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind && (key == "" || ev.Target == key) {
			n++
		}
	}
	return n
}

func fastOptions(workers int, rec *recorder) scheduler.Options {
	opts := scheduler.Options{
		Workers:      workers,
		PopTimeout:   50 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
		MaxAttempts:  3,
	}
	if rec != nil {
		opts.OnEvent = rec.on
	}
	return opts
}

func TestTwoTargetsTwoWorkers(t *testing.T) {
	rec := &recorder{}
	s := scheduler.New(fastOptions(2, rec))

	var scanned sync.Map
	rep, err := s.Run(context.Background(), targets(2), func(ctx context.Context, tg *target.Target) error {
		scanned.Store(tg.Key(), true)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Done)
	assert.Zero(t, rep.Failed)
	assert.Zero(t, rep.Pending)

	for _, o := range rep.Outcomes {
		assert.Equal(t, scheduler.StateDone, o.State, o.Target)
		assert.Equal(t, 1, o.Attempts)
		assert.Equal(t, 1, rec.count(scheduler.TargetDone, o.Target))
		_, ok := scanned.Load(o.Target)
		assert.True(t, ok)
	}
	assert.LessOrEqual(t, rep.WorkersStarted, 2)
	assert.Equal(t, rec.count(scheduler.WorkerStarted, ""), rec.count(scheduler.WorkerExited, ""))
}

func TestLivenessUnderWorkerCrashes(t *testing.T) {
	const k, n = 30, 4
	rec := &recorder{}
	s := scheduler.New(fastOptions(n, rec))

	var mu sync.Mutex
	attempts := make(map[string]int)
	successes := make(map[string]int)
	var live, peak atomic.Int32

	scan := func(ctx context.Context, tg *target.Target) error {
		cur := live.Add(1)
		defer live.Add(-1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}

		mu.Lock()
		attempts[tg.Key()]++
		attempt := attempts[tg.Key()]
		mu.Unlock()

		// Every third target crashes its worker on the first attempt.
		var idx int
		fmt.Sscanf(tg.Host, "host-%d", &idx)
		if idx%3 == 0 && attempt == 1 {
			panic("injected fault in " + tg.Key())
		}
		time.Sleep(time.Millisecond)

		mu.Lock()
		successes[tg.Key()]++
		mu.Unlock()
		return nil
	}

	rep, err := s.Run(context.Background(), targets(k), scan)
	require.NoError(t, err)

	assert.Equal(t, k, rep.Done)
	assert.Zero(t, rep.Failed)
	assert.Zero(t, rep.Pending)
	assert.Equal(t, 10, rep.Crashes)
	assert.LessOrEqual(t, peak.Load(), int32(n), "never more than N scans at once")

	for _, o := range rep.Outcomes {
		assert.Equal(t, 1, successes[o.Target], "%s scanned to completion exactly once", o.Target)
		assert.Equal(t, 1, rec.count(scheduler.TargetDone, o.Target), o.Target)
		assert.Zero(t, rec.count(scheduler.TargetFailed, o.Target), o.Target)
	}
	assert.Equal(t, 10, rec.count(scheduler.TargetRequeued, ""))
	assert.Equal(t, 10, rec.count(scheduler.WorkerCrashed, ""))
}

func TestPersistentCrashFailsTarget(t *testing.T) {
	rec := &recorder{}
	s := scheduler.New(fastOptions(2, rec))

	rep, err := s.Run(context.Background(), targets(3), func(ctx context.Context, tg *target.Target) error {
		if tg.Host == "host-01" {
			panic("always broken")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Done)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 3, rep.Crashes)

	for _, o := range rep.Outcomes {
		if o.Target == "host-01/ftp" {
			assert.Equal(t, scheduler.StateFailed, o.State)
			assert.Equal(t, 3, o.Attempts)
			assert.Error(t, o.Err)
		}
	}
	assert.Equal(t, 1, rec.count(scheduler.TargetFailed, "host-01/ftp"))
}

func TestScanErrorMarksFailed(t *testing.T) {
	s := scheduler.New(fastOptions(1, nil))
	boom := errors.New("listing refused")

	rep, err := s.Run(context.Background(), targets(2), func(ctx context.Context, tg *target.Target) error {
		if tg.Host == "host-00" {
			return boom
		}
		return nil
	})
	require.NoError(t, err)
	require.Len(t, rep.Outcomes, 2)
	assert.Equal(t, scheduler.StateFailed, rep.Outcomes[0].State)
	assert.ErrorIs(t, rep.Outcomes[0].Err, boom)
	assert.Equal(t, 1, rep.Outcomes[0].Attempts, "scan errors are not retried")
	assert.Equal(t, scheduler.StateDone, rep.Outcomes[1].State)
}

func TestSubmitDuringRun(t *testing.T) {
	s := scheduler.New(fastOptions(2, nil))

	var scanned sync.Map
	rep, err := s.Run(context.Background(), targets(1), func(ctx context.Context, tg *target.Target) error {
		scanned.Store(tg.Key(), true)
		if tg.Host == "host-00" {
			assert.True(t, s.Submit(&target.Target{Host: "found-1", Product: "http"}))
			assert.True(t, s.Submit(&target.Target{Host: "found-2", Product: "http"}))
			assert.False(t, s.Submit(&target.Target{Host: "found-1", Product: "http"}), "duplicate key")
			assert.False(t, s.Submit(tg))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Done)

	for _, key := range []string{"host-00/ftp", "found-1/http", "found-2/http"} {
		_, ok := scanned.Load(key)
		assert.True(t, ok, key)
	}
}

func TestNewWaveAfterWorkersExit(t *testing.T) {
	rec := &recorder{}
	var s *scheduler.Scheduler
	var once sync.Once
	opts := fastOptions(1, nil)
	opts.OnEvent = func(ev scheduler.Event) {
		rec.on(ev)
		// Work arriving after the only target finished must still run.
		if ev.Kind == scheduler.TargetDone {
			once.Do(func() {
				s.Submit(&target.Target{Host: "late", Product: "ftp"})
			})
		}
	}
	s = scheduler.New(opts)

	rep, err := s.Run(context.Background(), targets(1), func(context.Context, *target.Target) error {
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Done)
	assert.Equal(t, 1, rec.count(scheduler.TargetDone, "late/ftp"))
}

func TestFatalAbortsRun(t *testing.T) {
	s := scheduler.New(fastOptions(2, nil))
	storeDown := errors.New("store unavailable")

	rep, err := s.Run(context.Background(), targets(6), func(ctx context.Context, tg *target.Target) error {
		if tg.Host == "host-00" {
			return scheduler.Fatal(storeDown)
		}
		<-ctx.Done()
		return ctx.Err()
	})
	require.Error(t, err)
	assert.True(t, scheduler.IsFatal(err))
	assert.ErrorIs(t, err, storeDown)
	assert.Equal(t, 1, rep.Failed)
	assert.Zero(t, rep.Done)
	assert.Equal(t, 5, rep.Pending, "aborted targets are not marked done or failed")
}

func TestCancelReturnsPartialReport(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := scheduler.New(fastOptions(2, nil))
	var started atomic.Int32

	rep, err := s.Run(ctx, targets(10), func(ctx context.Context, tg *target.Target) error {
		if started.Add(1) == 3 {
			cancel()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
			return nil
		}
	})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, rep)
	assert.Positive(t, rep.Pending)
	assert.Equal(t, 10, rep.Done+rep.Failed+rep.Pending)
}

func TestRunTwiceConcurrently(t *testing.T) {
	s := scheduler.New(fastOptions(1, nil))
	release := make(chan struct{})
	started := make(chan struct{})

	errc := make(chan error, 1)
	go func() {
		_, err := s.Run(context.Background(), targets(1), func(context.Context, *target.Target) error {
			close(started)
			<-release
			return nil
		})
		errc <- err
	}()

	<-started
	_, err := s.Run(context.Background(), nil, nil)
	assert.ErrorIs(t, err, scheduler.ErrRunning)
	close(release)
	require.NoError(t, <-errc)
}

func TestOptionsDefaults(t *testing.T) {
	var o scheduler.Options
	require.NoError(t, o.Validate())
	assert.Equal(t, 1, o.Workers)
	assert.Equal(t, 5*time.Second, o.PopTimeout)
	assert.Equal(t, 3, o.MaxAttempts)
	assert.Equal(t, "target_requeued", scheduler.TargetRequeued.String())
}
