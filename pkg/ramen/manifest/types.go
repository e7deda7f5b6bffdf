// Package manifest keeps a history of crawl runs on the filesystem.
package manifest

import "time"

// Status is how a run ended.
type Status string

const (
	// StatusCompleted means every target reached a terminal state.
	StatusCompleted Status = "completed"
	// StatusCancelled means the run was interrupted.
	StatusCancelled Status = "cancelled"
	// StatusAborted means a fatal error stopped the run.
	StatusAborted Status = "aborted"
)

// Entry records one run.
type Entry struct {
	ID         string         `json:"id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Status     Status         `json:"status"`
	StorePath  string         `json:"store_path"`
	Workers    int            `json:"workers"`
	Targets    []TargetRecord `json:"targets"`
	Summary    Summary        `json:"summary"`
	Error      string         `json:"error,omitempty"`
}

// TargetRecord is the outcome of one target.
type TargetRecord struct {
	Target   string `json:"target"`
	State    string `json:"state"`
	Attempts int    `json:"attempts"`
	Folders  int    `json:"folders"`
	Files    int    `json:"files"`
	Errors   int    `json:"errors"`
	Error    string `json:"error,omitempty"`
}

// Summary totals a run.
type Summary struct {
	Targets int `json:"targets"`
	Done    int `json:"done"`
	Failed  int `json:"failed"`
	Pending int `json:"pending"`
	Folders int `json:"folders"`
	Files   int `json:"files"`
	Errors  int `json:"errors"`
}

// Summarize recomputes e.Summary from e.Targets.
func (e *Entry) Summarize() {
	s := Summary{Targets: len(e.Targets)}
	for _, t := range e.Targets {
		switch t.State {
		case "done":
			s.Done++
		case "failed":
			s.Failed++
		default:
			s.Pending++
		}
		s.Folders += t.Folders
		s.Files += t.Files
		s.Errors += t.Errors
	}
	e.Summary = s
}

// Duration returns how long the run took.
func (e *Entry) Duration() time.Duration {
	if e.FinishedAt.IsZero() {
		return 0
	}
	return e.FinishedAt.Sub(e.StartedAt)
}
