package scheduler

import (
	"time"
)

// EventKind identifies a lifecycle event.
type EventKind int

const (
	WorkerStarted EventKind = iota
	WorkerExited
	WorkerCrashed
	TargetStarted
	TargetDone
	TargetFailed
	TargetRequeued
	TargetCancelled
)

var eventNames = map[EventKind]string{
	WorkerStarted:   "worker_started",
	WorkerExited:    "worker_exited",
	WorkerCrashed:   "worker_crashed",
	TargetStarted:   "target_started",
	TargetDone:      "target_done",
	TargetFailed:    "target_failed",
	TargetRequeued:  "target_requeued",
	TargetCancelled: "target_cancelled",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return "unknown"
}

// Event is emitted on every worker and target transition.
type Event struct {
	Kind    EventKind
	Time    time.Time
	Worker  int
	Target  string
	Attempt int
	Err     error
}

// Outcome is the final state of one target.
type Outcome struct {
	Target   string
	State    State
	Attempts int
	Err      error
}

// Report summarizes a run.
type Report struct {
	// Outcomes are listed in submission order.
	Outcomes       []Outcome
	Done           int
	Failed         int
	Pending        int
	WorkersStarted int
	Crashes        int
	Duration       time.Duration
}

// fill records the state of every submitted target.
func (s *Scheduler) fill(rep *Report) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rep.Outcomes = make([]Outcome, 0, len(s.order))
	for _, key := range s.order {
		j := s.jobs[key]
		rep.Outcomes = append(rep.Outcomes, Outcome{
			Target:   key,
			State:    j.state,
			Attempts: j.attempts,
			Err:      j.err,
		})
		switch j.state {
		case StateDone:
			rep.Done++
		case StateFailed:
			rep.Failed++
		default:
			rep.Pending++
		}
	}
}
