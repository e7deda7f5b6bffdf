// Package scheduler runs scan jobs on a supervised pool of workers.
//
// Workers pop targets from a shared queue and exit after an idle wait. The
// supervisor replaces workers that crash, requeues the target they were
// scanning, keeps the pool topped up while work remains and re-checks the
// queue before declaring the run finished, so targets submitted during the
// run are picked up by a new wave of workers.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/jamesainslie/ramen/pkg/ramen/logging"
	"github.com/jamesainslie/ramen/pkg/ramen/target"
)

// ErrRunning is returned when Run is called on a scheduler already running.
var ErrRunning = errors.New("scheduler already running")

// ScanFunc scans one target.
type ScanFunc func(ctx context.Context, t *target.Target) error

type fatalError struct{ err error }

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal marks err as fatal for the whole run: the scheduler stops handing
// out work and Run returns err.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err was marked with Fatal.
func IsFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe)
}

// State is a target's position in the run.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateDone      State = "done"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether s is DONE or FAILED.
func (s State) Terminal() bool { return s == StateDone || s == StateFailed }

// Options configures a Scheduler.
type Options struct {
	// Workers is the pool size.
	Workers int
	// PopTimeout is how long an idle worker waits before exiting.
	PopTimeout time.Duration
	// PollInterval is how often the supervisor re-checks the pool.
	PollInterval time.Duration
	// MaxAttempts bounds how often a target is retried after worker crashes.
	MaxAttempts int
	// OnEvent receives lifecycle events. Calls are serialized.
	OnEvent func(Event)
}

// Validate applies defaults.
func (o *Options) Validate() error {
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.PopTimeout <= 0 {
		o.PopTimeout = 5 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 250 * time.Millisecond
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	return nil
}

type job struct {
	target   *target.Target
	state    State
	attempts int
	err      error
}

// Scheduler distributes targets over workers.
type Scheduler struct {
	opts  Options
	queue *Queue[*job]
	log   *logging.Logger

	mu          sync.Mutex
	jobs        map[string]*job
	order       []string
	outstanding int
	fatal       error
	cancelRun   context.CancelFunc
	running     bool

	emitMu sync.Mutex
}

// New returns a Scheduler.
func New(opts Options) *Scheduler {
	_ = opts.Validate()
	return &Scheduler{
		opts:  opts,
		queue: NewQueue[*job](),
		log:   logging.Get("scheduler"),
		jobs:  make(map[string]*job),
	}
}

// Submit queues t unless a target with the same key was already submitted.
// It is safe to call from scans in progress.
func (s *Scheduler) Submit(t *target.Target) bool {
	s.mu.Lock()
	key := t.Key()
	if _, ok := s.jobs[key]; ok {
		s.mu.Unlock()
		return false
	}
	j := &job{target: t, state: StateQueued}
	s.jobs[key] = j
	s.order = append(s.order, key)
	s.outstanding++
	s.mu.Unlock()

	s.queue.Push(j)
	s.log.Debug("target queued", "target", key)
	return true
}

// Pending returns the number of queued or running targets.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outstanding
}

type handle struct {
	id      int
	started time.Time
	cancel  context.CancelFunc
}

type exit struct {
	id    int
	job   *job
	panic any
	stack []byte
}

// Run submits targets and processes the queue until every target reached a
// terminal state. On cancellation it waits for in-flight scans to return and
// reports ctx.Err() together with a partial report.
func (s *Scheduler) Run(ctx context.Context, targets []*target.Target, scan ScanFunc) (*Report, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrRunning
	}
	s.running = true
	s.fatal = nil
	s.cancelRun = cancel
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.cancelRun = nil
		s.mu.Unlock()
	}()

	start := time.Now()
	for _, t := range targets {
		s.Submit(t)
	}

	rep := &Report{}
	workers := make(map[int]*handle)
	exits := make(chan exit)
	nextID := 0

	launch := func() {
		nextID++
		wctx, wcancel := context.WithCancel(runCtx)
		h := &handle{id: nextID, started: time.Now(), cancel: wcancel}
		workers[h.id] = h
		rep.WorkersStarted++
		s.emit(Event{Kind: WorkerStarted, Worker: h.id})
		go s.work(wctx, runCtx, h.id, scan, exits)
	}

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	done := runCtx.Done()

	for {
		if runCtx.Err() == nil {
			for n := s.queue.Len(); n > 0 && len(workers) < s.opts.Workers; n-- {
				launch()
			}
		}

		if len(workers) == 0 {
			// Re-check: a finished wave may have left new work behind.
			if runCtx.Err() != nil || (s.Pending() == 0 && s.queue.Len() == 0) {
				break
			}
			if s.queue.Len() > 0 {
				s.log.Debug("new wave", "queued", s.queue.Len())
				continue
			}
		} else if s.Pending() == 0 {
			// Nothing left to scan; release idle workers early.
			for _, h := range workers {
				h.cancel()
			}
		}

		select {
		case ex := <-exits:
			h := workers[ex.id]
			delete(workers, ex.id)
			h.cancel()
			s.reap(runCtx, ex, rep)
		case <-ticker.C:
		case <-done:
			done = nil
			s.log.Warn("run cancelled", "workers", len(workers))
		}
	}

	rep.Duration = time.Since(start)
	s.fill(rep)

	s.mu.Lock()
	fatal := s.fatal
	s.mu.Unlock()

	switch {
	case fatal != nil:
		return rep, fatal
	case ctx.Err() != nil:
		return rep, ctx.Err()
	}
	return rep, nil
}

// work is one worker goroutine. A panic ends the worker; the supervisor
// learns which target it was holding from the exit record.
func (s *Scheduler) work(popCtx, runCtx context.Context, id int, scan ScanFunc, exits chan<- exit) {
	var current *job
	defer func() {
		ex := exit{id: id, job: current}
		if r := recover(); r != nil {
			ex.panic = r
			ex.stack = debug.Stack()
		}
		exits <- ex
	}()

	for {
		j, err := s.queue.Pop(popCtx, s.opts.PopTimeout)
		if err != nil {
			return
		}
		if !s.start(runCtx, id, j) {
			continue
		}
		current = j
		err = scan(runCtx, j.target)
		current = nil
		s.finish(runCtx, id, j, err)
	}
}

func (s *Scheduler) start(runCtx context.Context, worker int, j *job) bool {
	s.mu.Lock()
	if runCtx.Err() != nil {
		j.state = StateCancelled
		s.outstanding--
		s.mu.Unlock()
		return false
	}
	j.state = StateRunning
	j.attempts++
	attempt := j.attempts
	s.mu.Unlock()

	s.emit(Event{Kind: TargetStarted, Worker: worker, Target: j.target.Key(), Attempt: attempt})
	return true
}

func (s *Scheduler) finish(runCtx context.Context, worker int, j *job, err error) {
	s.mu.Lock()
	if j.state != StateRunning {
		s.mu.Unlock()
		return
	}
	s.outstanding--
	j.err = err

	kind := TargetDone
	switch {
	case err == nil:
		j.state = StateDone
	case IsFatal(err):
		j.state = StateFailed
		kind = TargetFailed
		if s.fatal == nil {
			s.fatal = err
			s.cancelRun()
		}
	case runCtx.Err() != nil:
		j.state = StateCancelled
		kind = TargetCancelled
	default:
		j.state = StateFailed
		kind = TargetFailed
	}
	attempt := j.attempts
	s.mu.Unlock()

	if kind == TargetFailed {
		s.log.Warn("target failed", "target", j.target.Key(), "error", err)
	}
	s.emit(Event{Kind: kind, Worker: worker, Target: j.target.Key(), Attempt: attempt, Err: err})
}

// reap handles a worker exit: crashed workers give back their target.
func (s *Scheduler) reap(runCtx context.Context, ex exit, rep *Report) {
	if ex.panic == nil {
		s.emit(Event{Kind: WorkerExited, Worker: ex.id})
		return
	}

	rep.Crashes++
	err := fmt.Errorf("worker %d crashed: %v", ex.id, ex.panic)
	s.log.Error("worker crashed", "worker", ex.id, "panic", ex.panic, "stack", string(ex.stack))
	s.emit(Event{Kind: WorkerCrashed, Worker: ex.id, Err: err})

	j := ex.job
	if j == nil {
		return
	}

	s.mu.Lock()
	if j.state != StateRunning {
		s.mu.Unlock()
		return
	}
	j.err = err
	var kind EventKind
	switch {
	case runCtx.Err() != nil:
		j.state = StateCancelled
		s.outstanding--
		kind = TargetCancelled
	case j.attempts >= s.opts.MaxAttempts:
		j.state = StateFailed
		s.outstanding--
		kind = TargetFailed
	default:
		j.state = StateQueued
		kind = TargetRequeued
	}
	attempt := j.attempts
	s.mu.Unlock()

	if kind == TargetRequeued {
		s.queue.Push(j)
	}
	s.emit(Event{Kind: kind, Worker: ex.id, Target: j.target.Key(), Attempt: attempt, Err: err})
}

func (s *Scheduler) emit(ev Event) {
	if s.opts.OnEvent == nil {
		return
	}
	ev.Time = time.Now()
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.opts.OnEvent(ev)
}
