// Package plugin runs the enrichment chain applied to every scanned entry.
//
// A pipeline holds actions, which run on every record, and extensions,
// which run only when their Match predicate accepts the record. Each plugin
// works on a private copy: a plugin that fails or panics leaves the record
// exactly as the previous stage produced it.
package plugin

import (
	"context"
	"fmt"

	"github.com/jamesainslie/ramen/pkg/ramen/entry"
	"github.com/jamesainslie/ramen/pkg/ramen/fsys"
	"github.com/jamesainslie/ramen/pkg/ramen/logging"
)

// Action enriches a record in place.
type Action interface {
	Name() string
	Run(ctx context.Context, rec *entry.Record, fs fsys.Filesystem) error
}

// Extension is an Action gated by a predicate.
type Extension interface {
	Action
	Match(rec *entry.Record) bool
}

// Pipeline is an ordered, immutable plugin chain.
type Pipeline struct {
	actions    []Action
	extensions []Extension
	log        *logging.Logger
}

// NewPipeline returns a pipeline running actions then extensions, each in
// the given order.
func NewPipeline(actions []Action, extensions []Extension) *Pipeline {
	return &Pipeline{
		actions:    append([]Action(nil), actions...),
		extensions: append([]Extension(nil), extensions...),
		log:        logging.Get("plugin"),
	}
}

// Actions returns the configured action names.
func (p *Pipeline) Actions() []string {
	names := make([]string, len(p.actions))
	for i, a := range p.actions {
		names[i] = a.Name()
	}
	return names
}

// Extensions returns the configured extension names.
func (p *Pipeline) Extensions() []string {
	names := make([]string, len(p.extensions))
	for i, e := range p.extensions {
		names[i] = e.Name()
	}
	return names
}

// Run passes rec through every plugin and returns the result. It never
// fails; a nil pipeline returns rec unchanged.
func (p *Pipeline) Run(ctx context.Context, rec *entry.Record, fs fsys.Filesystem) *entry.Record {
	if p == nil {
		return rec
	}
	for _, a := range p.actions {
		rec = p.apply(ctx, a, rec, fs)
	}
	for _, e := range p.extensions {
		if !p.match(e, rec) {
			continue
		}
		rec = p.apply(ctx, e, rec, fs)
	}
	return rec
}

func (p *Pipeline) apply(ctx context.Context, a Action, rec *entry.Record, fs fsys.Filesystem) *entry.Record {
	if ctx.Err() != nil {
		return rec
	}
	next := rec.Clone()
	if err := invoke(ctx, a, next, fs); err != nil {
		p.log.Warn("plugin failed", "plugin", a.Name(), "path", rec.Path, "error", err)
		return rec
	}
	return next
}

func (p *Pipeline) match(e Extension, rec *entry.Record) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Warn("plugin failed", "plugin", e.Name(), "path", rec.Path,
				"error", fmt.Errorf("panic in match: %v", r))
			ok = false
		}
	}()
	return e.Match(rec)
}

// invoke converts a panic into an error.
func invoke(ctx context.Context, a Action, rec *entry.Record, fs fsys.Filesystem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return a.Run(ctx, rec, fs)
}
