package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jamesainslie/ramen/pkg/ramen/config"
	"github.com/jamesainslie/ramen/pkg/ramen/fsys"
	"github.com/jamesainslie/ramen/pkg/ramen/fsys/ftp"
	"github.com/jamesainslie/ramen/pkg/ramen/fsys/httpfs"
	"github.com/jamesainslie/ramen/pkg/ramen/fsys/local"
	"github.com/jamesainslie/ramen/pkg/ramen/fsys/webdav"
	"github.com/jamesainslie/ramen/pkg/ramen/logging"
	"github.com/jamesainslie/ramen/pkg/ramen/manifest"
	"github.com/jamesainslie/ramen/pkg/ramen/output"
	"github.com/jamesainslie/ramen/pkg/ramen/plugin"
	"github.com/jamesainslie/ramen/pkg/ramen/plugin/builtin"
	"github.com/jamesainslie/ramen/pkg/ramen/scanner"
	"github.com/jamesainslie/ramen/pkg/ramen/scheduler"
	"github.com/jamesainslie/ramen/pkg/ramen/store"
	"github.com/jamesainslie/ramen/pkg/ramen/target"
	"github.com/jamesainslie/ramen/pkg/ramen/tuner"
)

var (
	errNoTargets      = errors.New("target list is empty")
	errNoValidTargets = errors.New("no target passed validation")
	errNotValid       = errors.New("target failed validation")
)

// buildRegistry registers every adapter with its configured settings.
// onDiscover receives sibling hosts found by the http adapter.
func buildRegistry(fc config.FilesystemsConfig, onDiscover func(host string)) *fsys.Registry {
	reg := fsys.NewRegistry()
	reg.Register(local.Product, local.Factory(fc.LocalDisk))
	reg.Register(ftp.Product, ftp.Factory(fc.FTP))
	reg.Register(httpfs.Product, httpfs.Factory(fc.HTTP, onDiscover))
	reg.Register(webdav.Product, webdav.Factory(webdav.Product, fc.WebDAV))
	reg.Register(webdav.ProductSharePoint, webdav.Factory(webdav.ProductSharePoint, fc.SharePoint))
	return reg
}

// crawl wires the resolver, scheduler, scanner and store for one run.
type crawl struct {
	cfg      *config.Config
	tuned    tuner.OptimalConfig
	store    *store.Store
	registry *fsys.Registry
	resolver *target.Resolver
	sched    *scheduler.Scheduler
	worker   *scanner.Worker
	runID    string
	out      io.Writer
	log      *logging.Logger

	mu        sync.Mutex
	results   map[string]*scanner.Result
	validated map[string]bool
	opened    []*target.Target
	parseErrs []error
}

// newCrawl prepares a run writing to st. Progress lines go to out; a nil
// out disables them.
func newCrawl(cfg *config.Config, st *store.Store, tuned tuner.OptimalConfig, out io.Writer) (*crawl, error) {
	c := &crawl{
		cfg:       cfg,
		tuned:     tuned,
		store:     st,
		runID:     manifest.NewRunID(),
		out:       out,
		log:       logging.Get("cli"),
		results:   make(map[string]*scanner.Result),
		validated: make(map[string]bool),
	}

	c.sched = scheduler.New(scheduler.Options{
		Workers:      tuned.Workers,
		PopTimeout:   cfg.Scheduler.PopTimeout,
		PollInterval: cfg.Scheduler.PollInterval,
		MaxAttempts:  cfg.Scheduler.MaxAttempts,
		OnEvent:      c.onEvent,
	})

	c.registry = buildRegistry(cfg.Filesystems, c.discover)
	c.resolver = target.NewResolver(c.registry, cfg.Resolver.MaxExpand)

	bc, err := cfg.Builtin()
	if err != nil {
		return nil, err
	}
	plugins, errs := plugin.Load(cfg.Plugins.Actions, cfg.Plugins.Extensions, builtin.Catalog(bc))
	for _, err := range errs {
		c.warn("plugin: %v", err)
	}

	commitEvery := cfg.Scanner.CommitEvery
	if commitEvery == 0 {
		commitEvery = tuned.CommitEvery
	}
	c.worker, err = scanner.New(scanner.Options{
		Store:                scanner.StoreSink(st),
		Pipeline:             plugins.Pipeline(),
		RunID:                c.runID,
		Exclude:              cfg.Scanner.Exclude,
		MaxConsecutiveErrors: cfg.Scanner.MaxConsecutiveErrors,
		CommitEvery:          commitEvery,
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// run resolves, validates and crawls the targets listed in r.
func (c *crawl) run(ctx context.Context, r io.Reader) (*scheduler.Report, error) {
	targets, errs := c.resolver.Parse(r)
	c.parseErrs = errs
	for _, err := range errs {
		c.warn("%v", err)
	}
	c.track(targets...)
	defer c.closeAll()

	if len(targets) == 0 {
		return nil, errNoTargets
	}

	valid := targets
	if c.cfg.Validate.Enabled {
		concurrency := c.cfg.Validate.Concurrency
		if concurrency == 0 {
			concurrency = c.tuned.ValidateConcurrency
		}
		valid = c.resolver.ValidateAll(ctx, targets, target.ValidateOptions{
			Concurrency: concurrency,
			Timeout:     c.cfg.Validate.Timeout,
			ProbePorts:  c.cfg.Validate.ProbePorts,
			Ports:       c.cfg.Validate.Ports,
		})
		c.mu.Lock()
		for _, t := range valid {
			c.validated[t.Key()] = true
		}
		c.mu.Unlock()
		c.info("%s of %d targets passed validation",
			output.ValueStyle.Render(fmt.Sprint(len(valid))), len(targets))
	}
	if len(valid) == 0 {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errNoValidTargets
	}

	return c.sched.Run(ctx, valid, c.scan)
}

// scan is the scheduler's ScanFunc.
func (c *crawl) scan(ctx context.Context, t *target.Target) error {
	if c.cfg.Validate.Enabled && !c.isValidated(t.Key()) {
		vctx, cancel := context.WithTimeout(ctx, c.cfg.Validate.Timeout)
		ok := t.FS.Validate(vctx, t.Endpoint())
		cancel()
		if !ok {
			return fmt.Errorf("%s: %w", t.Key(), errNotValid)
		}
	}

	res, err := c.worker.Scan(ctx, t)
	if res != nil {
		c.mu.Lock()
		c.results[t.Key()] = res
		c.mu.Unlock()
	}
	if errors.Is(err, store.ErrUnavailable) {
		return scheduler.Fatal(err)
	}
	if err != nil || !c.cfg.Store.PruneStale {
		return err
	}

	n, err := c.store.PruneStale(t.Host, t.Product, c.runID)
	if err != nil {
		return scheduler.Fatal(err)
	}
	if n > 0 {
		c.log.Info("pruned stale entries", "target", t.Key(), "count", n)
	}
	return nil
}

// discover submits a sibling host found while crawling a web server.
func (c *crawl) discover(host string) {
	fs, err := c.registry.New(httpfs.Product, host)
	if err != nil {
		c.log.Warn("discovered host rejected", "host", host, "error", err)
		return
	}
	t := &target.Target{Host: host, Product: httpfs.Product, FS: fs}
	if !c.sched.Submit(t) {
		_ = fs.Close()
		return
	}
	c.track(t)
	c.info("%s discovered %s", output.MutedStyle.Render("+"), output.PathStyle.Render(t.Key()))
}

func (c *crawl) isValidated(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.validated[key]
}

func (c *crawl) track(ts ...*target.Target) {
	c.mu.Lock()
	c.opened = append(c.opened, ts...)
	c.mu.Unlock()
}

// closeAll releases every adapter session opened during the run.
func (c *crawl) closeAll() {
	c.mu.Lock()
	opened := c.opened
	c.opened = nil
	c.mu.Unlock()

	for _, t := range opened {
		if t.FS == nil {
			continue
		}
		if err := t.FS.Close(); err != nil {
			c.log.Debug("closing adapter", "target", t.Key(), "error", err)
		}
	}
}

func (c *crawl) result(key string) *scanner.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.results[key]
}

// onEvent prints one progress line per target transition.
func (c *crawl) onEvent(ev scheduler.Event) {
	switch ev.Kind {
	case scheduler.TargetStarted:
		c.info("%s %s", output.MutedStyle.Render("▸"), output.PathStyle.Render(ev.Target))
	case scheduler.TargetDone:
		detail := ""
		if res := c.result(ev.Target); res != nil {
			detail = fmt.Sprintf("%s folders, %s files in %s",
				humanize.Comma(int64(res.Folders)), humanize.Comma(int64(res.Files)),
				res.Duration.Round(time.Millisecond))
			if res.Errors > 0 {
				detail += output.WarningStyle.Render(fmt.Sprintf(" (%d errors)", res.Errors))
			}
		}
		c.info("%s %s  %s", output.SuccessStyle.Render("✓"), output.PathStyle.Render(ev.Target), output.MutedStyle.Render(detail))
	case scheduler.TargetFailed:
		c.info("%s %s  %s", output.ErrorStyle.Render("✗"), output.PathStyle.Render(ev.Target), output.ErrorStyle.Render(fmt.Sprint(ev.Err)))
	case scheduler.TargetRequeued:
		c.info("%s %s  %s", output.WarningStyle.Render("↻"), output.PathStyle.Render(ev.Target),
			output.WarningStyle.Render(fmt.Sprintf("requeued after worker crash (attempt %d)", ev.Attempt)))
	}
}

func (c *crawl) info(format string, args ...any) {
	if c.out != nil {
		fmt.Fprintf(c.out, format+"\n", args...)
	}
}

func (c *crawl) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	c.log.Warn(msg)
	c.info("%s %s", output.WarningStyle.Render("!"), output.WarningStyle.Render(msg))
}

// manifestEntry records the outcome of a run.
func (c *crawl) manifestEntry(rep *scheduler.Report, started time.Time, runErr error) *manifest.Entry {
	e := &manifest.Entry{
		ID:         c.runID,
		StartedAt:  started.UTC(),
		FinishedAt: time.Now().UTC(),
		Status:     manifest.StatusCompleted,
		StorePath:  c.cfg.Store.Path,
		Workers:    c.tuned.Workers,
	}
	switch {
	case scheduler.IsFatal(runErr):
		e.Status = manifest.StatusAborted
	case runErr != nil:
		e.Status = manifest.StatusCancelled
	}
	if runErr != nil {
		e.Error = runErr.Error()
	}
	if rep == nil {
		return e
	}

	for _, o := range rep.Outcomes {
		tr := manifest.TargetRecord{
			Target:   o.Target,
			State:    string(o.State),
			Attempts: o.Attempts,
		}
		if o.Err != nil {
			tr.Error = o.Err.Error()
		}
		if res := c.result(o.Target); res != nil {
			tr.Folders = res.Folders
			tr.Files = res.Files
			tr.Errors = res.Errors
		}
		e.Targets = append(e.Targets, tr)
	}
	return e
}
