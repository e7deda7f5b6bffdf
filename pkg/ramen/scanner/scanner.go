// Package scanner crawls one target and persists every entry it finds.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gobwas/glob"
	"github.com/jamesainslie/ramen/pkg/ramen/entry"
	"github.com/jamesainslie/ramen/pkg/ramen/fsys"
	"github.com/jamesainslie/ramen/pkg/ramen/logging"
	"github.com/jamesainslie/ramen/pkg/ramen/plugin"
	"github.com/jamesainslie/ramen/pkg/ramen/store"
	"github.com/jamesainslie/ramen/pkg/ramen/target"
)

// ErrTooManyErrors ends a target whose walker keeps failing.
var ErrTooManyErrors = errors.New("too many consecutive walk errors")

// State is the terminal state of one scan.
type State string

const (
	StateDone      State = "done"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Writer receives the records of one subtree.
type Writer interface {
	Write(rec *entry.Record) error
	Commit() error
}

// Sink hands out subtree writers.
type Sink interface {
	Subtree(host, product string) (Writer, error)
}

type storeSink struct{ s *store.Store }

func (s storeSink) Subtree(host, product string) (Writer, error) {
	return s.s.GetOrCreateSubtree(host, product)
}

// StoreSink adapts a Store to a Sink.
func StoreSink(s *store.Store) Sink { return storeSink{s: s} }

// Options configures a Worker.
type Options struct {
	Store    Sink
	Pipeline *plugin.Pipeline
	RunID    string
	// Exclude holds glob patterns matched against full paths and base names.
	Exclude []string
	// MaxConsecutiveErrors consecutive walk errors fail the target.
	MaxConsecutiveErrors int
	// CommitEvery commits after this many writes. Zero commits only at the end.
	CommitEvery int
	Clock       func() time.Time
}

// Validate checks the options and applies defaults.
func (o *Options) Validate() error {
	if o.Store == nil {
		return errors.New("scanner needs a store")
	}
	if o.MaxConsecutiveErrors <= 0 {
		o.MaxConsecutiveErrors = 100
	}
	if o.CommitEvery < 0 {
		o.CommitEvery = 0
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return nil
}

// Result summarizes one scan.
type Result struct {
	Target   string
	Folders  int
	Files    int
	Excluded int
	Errors   int
	Duration time.Duration
	State    State
}

// Worker scans targets. A Worker holds no per-scan state and may serve
// several goroutines.
type Worker struct {
	opts    Options
	exclude []glob.Glob
	log     *logging.Logger
}

// New returns a Worker.
func New(opts Options) (*Worker, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	w := &Worker{opts: opts, log: logging.Get("scanner")}
	for _, p := range opts.Exclude {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", p, err)
		}
		w.exclude = append(w.exclude, g)
	}
	return w, nil
}

// scan carries the state of one Scan call.
type scan struct {
	*Worker
	t       *target.Target
	sub     Writer
	res     *Result
	pending int
	log     *logging.Logger
}

// Scan walks t from its root and writes every folder and file to the store.
// Per-entry failures are counted and skipped. The subtree is committed on
// every exit path; a cancelled context still commits what was written.
func (w *Worker) Scan(ctx context.Context, t *target.Target) (*Result, error) {
	start := w.opts.Clock()
	res := &Result{Target: t.Key()}
	log := w.log.With("target", t.Key())

	sub, err := w.opts.Store.Subtree(t.Host, t.Product)
	if err != nil {
		res.State = StateFailed
		return res, fmt.Errorf("open subtree %s: %w", t.Key(), err)
	}

	s := &scan{Worker: w, t: t, sub: sub, res: res, log: log}
	log.Info("scan started")

	err = s.walk(ctx)
	res.Duration = w.opts.Clock().Sub(start)

	if cerr := sub.Commit(); cerr != nil {
		res.State = StateFailed
		log.Error("commit failed", "error", cerr)
		return res, errors.Join(err, cerr)
	}

	switch {
	case err == nil:
		res.State = StateDone
		log.Info("scan finished", "folders", res.Folders, "files", res.Files,
			"errors", res.Errors, "duration", res.Duration)
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		res.State = StateCancelled
		log.Warn("scan cancelled", "folders", res.Folders, "files", res.Files)
	default:
		res.State = StateFailed
		log.Error("scan failed", "error", err)
	}
	return res, err
}

func (s *scan) walk(ctx context.Context) error {
	walker := s.t.FS.Walk(ctx, "/")
	consecutive := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		step, err := walker.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.res.Errors++
			consecutive++
			s.log.Warn("walk error", "error", err)
			if consecutive >= s.opts.MaxConsecutiveErrors {
				return fmt.Errorf("%w: last: %v", ErrTooManyErrors, err)
			}
			continue
		}
		consecutive = 0

		if err := s.step(ctx, step); err != nil {
			return err
		}
	}
}

// step records one folder and its files. Excluded child folders are pruned
// from step so the walker never descends into them.
func (s *scan) step(ctx context.Context, step *fsys.Step) error {
	dir := entry.Clean(step.Path)

	kept := step.Dirs[:0]
	for _, d := range step.Dirs {
		if s.excluded(entry.Join(dir, d)) {
			s.res.Excluded++
			continue
		}
		kept = append(kept, d)
	}
	step.Dirs = kept

	if err := s.record(ctx, dir, true); err != nil {
		return err
	}

	for _, name := range step.Files {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p := entry.Join(dir, name)
		if s.excluded(p) {
			s.res.Excluded++
			continue
		}
		if err := s.record(ctx, p, false); err != nil {
			return err
		}
	}
	return nil
}

// record stats p, runs the pipeline and writes the result. Only store
// failures are returned.
func (s *scan) record(ctx context.Context, p string, isDir bool) error {
	st, _, err := s.t.FS.Stat(ctx, p)
	if err != nil {
		s.res.Errors++
		s.log.Debug("stat failed", "path", p, "error", err)
		return nil
	}

	rec := entry.New(s.t.Host, s.t.Product, p, isDir, st)
	rec.RunID = s.opts.RunID
	rec.ScannedAt = s.opts.Clock().UTC()
	rec = s.opts.Pipeline.Run(ctx, rec, s.t.FS)

	if err := s.sub.Write(rec); err != nil {
		return err
	}
	if isDir {
		s.res.Folders++
	} else {
		s.res.Files++
	}

	s.pending++
	if s.opts.CommitEvery > 0 && s.pending >= s.opts.CommitEvery {
		if err := s.sub.Commit(); err != nil {
			return err
		}
		s.pending = 0
	}
	return nil
}

func (s *scan) excluded(p string) bool {
	if p == "/" {
		return false
	}
	base := entry.Base(p)
	for _, g := range s.exclude {
		if g.Match(p) || g.Match(base) {
			return true
		}
	}
	return false
}
