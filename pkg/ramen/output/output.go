// Package output renders stored listings in several formats (pretty,
// plain, json, yaml, template, tree). Formatters are looked up by name from a
// registry so the CLI can select one at runtime:
//
//	formatter, err := output.Get("pretty")
//	if err != nil {
//	    return err
//	}
//	var buf bytes.Buffer
//	if err := formatter.Format(&buf, result); err != nil {
//	    return err
//	}
package output

import (
	"bytes"
	"fmt"
	"io/fs"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jamesainslie/ramen/pkg/ramen/entry"
)

// unknownField is shown for stat fields an adapter could not supply.
const unknownField = "?"

// Row is one stored entry prepared for display.
type Row struct {
	Path      string            `json:"path" yaml:"path"`
	Name      string            `json:"name" yaml:"name"`
	IsDir     bool              `json:"is_dir" yaml:"is_dir"`
	Size      int64             `json:"size" yaml:"size"`
	SizeHuman string            `json:"size_human" yaml:"size_human"`
	Perms     string            `json:"perms" yaml:"perms"`
	ModTime   time.Time         `json:"mod_time,omitempty" yaml:"mod_time,omitempty"`
	Owner     string            `json:"owner,omitempty" yaml:"owner,omitempty"`
	Group     string            `json:"group,omitempty" yaml:"group,omitempty"`
	ScannedAt time.Time         `json:"scanned_at" yaml:"scanned_at"`
	Fields    map[string]string `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// FromRecord converts a stored record into a Row.
func FromRecord(rec *entry.Record) Row {
	row := Row{
		Path:      rec.Path,
		Name:      rec.Name,
		IsDir:     rec.IsDir,
		Size:      rec.Stat.Size,
		SizeHuman: unknownField,
		Perms:     unknownField,
		ScannedAt: rec.ScannedAt,
		Fields:    rec.Fields,
	}
	if rec.Stat.HasSize() {
		row.SizeHuman = humanize.IBytes(uint64(rec.Stat.Size))
	}
	if rec.Stat.HasMode() {
		mode := fs.FileMode(rec.Stat.Mode).Perm()
		if rec.IsDir {
			mode |= fs.ModeDir
		}
		row.Perms = mode.String()
	}
	if rec.Stat.HasModTime() {
		row.ModTime = rec.Stat.ModTime
	}
	if rec.Stat.Owner != entry.Unknown {
		row.Owner = rec.Stat.Owner
	}
	if rec.Stat.Group != entry.Unknown {
		row.Group = rec.Stat.Group
	}
	return row
}

// Stats totals a listing.
type Stats struct {
	Folders   int   `json:"folders" yaml:"folders"`
	Files     int   `json:"files" yaml:"files"`
	TotalSize int64 `json:"total_size" yaml:"total_size"`
}

// Result is a listing of one subtree.
type Result struct {
	Host    string `json:"host" yaml:"host"`
	Product string `json:"product" yaml:"product"`
	Prefix  string `json:"prefix" yaml:"prefix"`
	Rows    []Row  `json:"entries" yaml:"entries"`
	Stats   Stats  `json:"stats" yaml:"stats"`
	// LastCommit is when the subtree was last committed.
	LastCommit time.Time `json:"last_commit,omitempty" yaml:"last_commit,omitempty"`
}

// Add appends a record and updates the totals.
func (r *Result) Add(rec *entry.Record) {
	r.Rows = append(r.Rows, FromRecord(rec))
	if rec.IsDir {
		r.Stats.Folders++
		return
	}
	r.Stats.Files++
	if rec.Stat.HasSize() {
		r.Stats.TotalSize += rec.Stat.Size
	}
}

// Formatter renders a Result.
type Formatter interface {
	// Format writes the formatted output to the buffer.
	Format(w *bytes.Buffer, r *Result) error
}

// FormatterFactory is a function that creates a new Formatter instance.
type FormatterFactory func() Formatter

// Registry manages formatter registration and lookup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]FormatterFactory
}

// NewRegistry creates a new formatter registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]FormatterFactory),
	}
}

// Register adds a formatter factory, replacing any with the same name.
func (r *Registry) Register(name string, factory FormatterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Get returns a new formatter instance by name.
func (r *Registry) Get(name string) (Formatter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown formatter: %s", name)
	}
	return factory(), nil
}

// Available returns a sorted list of all registered formatter names.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry is the global formatter registry.
var DefaultRegistry = NewRegistry()

// Register adds a formatter factory to the default registry.
func Register(name string, factory FormatterFactory) {
	DefaultRegistry.Register(name, factory)
}

// Get returns a new formatter instance from the default registry.
func Get(name string) (Formatter, error) {
	return DefaultRegistry.Get(name)
}

// Available returns all formatter names from the default registry.
func Available() []string {
	return DefaultRegistry.Available()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return unknownField
	}
	return t.Local().Format("2006-01-02 15:04")
}
