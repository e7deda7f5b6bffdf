package plugin

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownPlugin is returned for names missing from the catalog.
var ErrUnknownPlugin = errors.New("unknown plugin")

// Constructor builds a plugin. It returns either an Action or an Extension.
type Constructor func() (Action, error)

// Catalog maps plugin names to constructors.
type Catalog map[string]Constructor

// Names returns the catalog's plugin names, sorted.
func (c Catalog) Names() []string {
	names := make([]string, 0, len(c))
	for n := range c {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Registry is the set of plugins loaded at startup.
type Registry struct {
	actions    []Action
	extensions []Extension
}

// Load builds the named actions and extensions from catalog. Unknown names
// and constructor failures are skipped and reported in the returned errors.
// A name listed as an extension must build a plugin implementing Extension.
func Load(actions, extensions []string, catalog Catalog) (*Registry, []error) {
	reg := &Registry{}
	var errs []error

	for _, name := range actions {
		a, err := build(name, catalog)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		reg.actions = append(reg.actions, a)
	}

	for _, name := range extensions {
		a, err := build(name, catalog)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ext, ok := a.(Extension)
		if !ok {
			errs = append(errs, fmt.Errorf("plugin %q: not an extension", name))
			continue
		}
		reg.extensions = append(reg.extensions, ext)
	}

	return reg, errs
}

func build(name string, catalog Catalog) (Action, error) {
	ctor, ok := catalog[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlugin, name)
	}
	a, err := ctor()
	if err != nil {
		return nil, fmt.Errorf("plugin %q: %w", name, err)
	}
	return a, nil
}

// Pipeline returns a pipeline over the loaded plugins.
func (r *Registry) Pipeline() *Pipeline {
	return NewPipeline(r.actions, r.extensions)
}

// Len returns the number of loaded plugins.
func (r *Registry) Len() int {
	return len(r.actions) + len(r.extensions)
}
