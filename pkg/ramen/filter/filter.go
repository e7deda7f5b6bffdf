package filter

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/jamesainslie/ramen/pkg/ramen/entry"
)

// Filter defines criteria for selecting, sorting and limiting records.
type Filter struct {
	// Base is the listing prefix that depth is measured from.
	Base string

	// Kind restricts the listing to files or folders.
	Kind Kind

	// MinSize excludes records smaller than this. Records of unknown size
	// are excluded when MinSize is set.
	MinSize int64

	// Include contains glob patterns. If non-empty, records must match one.
	Include []string

	// Exclude contains glob patterns. Matching records are excluded.
	Exclude []string

	// Extensions lists lower-case extensions with a leading dot.
	Extensions []string

	// OlderThan and NewerThan bound the modification time. Records with
	// an unknown time are excluded when either is set.
	OlderThan time.Duration
	NewerThan time.Duration

	// MaxDepth limits depth below Base. 0 means unlimited.
	MaxDepth int

	// Field requires a plugin field to be present, e.g. "secrets".
	Field string

	SortBy         SortField
	SortDescending bool

	// Limit is the maximum number of records returned. 0 means unlimited.
	Limit int

	include []glob.Glob
	exclude []glob.Glob
	now     func() time.Time
}

// Option is a functional option for configuring a Filter.
type Option func(*Filter)

// New creates a Filter listing everything in path order.
func New(opts ...Option) (*Filter, error) {
	f := &Filter{Base: "/", now: time.Now}
	for _, opt := range opts {
		opt(f)
	}

	var err error
	if f.include, err = compile(f.Include); err != nil {
		return nil, err
	}
	if f.exclude, err = compile(f.Exclude); err != nil {
		return nil, err
	}
	return f, nil
}

func compile(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		out = append(out, g)
	}
	return out, nil
}

// WithBase sets the prefix depth is measured from.
func WithBase(base string) Option {
	return func(f *Filter) { f.Base = entry.Clean(base) }
}

// WithKind restricts records to files or folders.
func WithKind(k Kind) Option {
	return func(f *Filter) { f.Kind = k }
}

// WithLimit sets the maximum number of records. Negative means unlimited.
func WithLimit(limit int) Option {
	return func(f *Filter) { f.Limit = max(limit, 0) }
}

// WithMinSize sets the minimum size in bytes.
func WithMinSize(minSize int64) Option {
	return func(f *Filter) { f.MinSize = max(minSize, 0) }
}

// WithInclude sets the include glob patterns.
func WithInclude(patterns ...string) Option {
	return func(f *Filter) { f.Include = patterns }
}

// WithExclude sets the exclude glob patterns.
func WithExclude(patterns ...string) Option {
	return func(f *Filter) { f.Exclude = patterns }
}

// WithExtensions adds extensions, normalized to lower case with a dot.
func WithExtensions(extensions ...string) Option {
	return func(f *Filter) {
		for _, ext := range extensions {
			ext = strings.ToLower(ext)
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			f.Extensions = append(f.Extensions, ext)
		}
	}
}

// WithTypeGroups adds the extensions of the named groups. Unknown names
// are ignored.
func WithTypeGroups(groups ...string) Option {
	return func(f *Filter) {
		for _, g := range groups {
			f.Extensions = append(f.Extensions, TypeGroups[g]...)
		}
	}
}

// WithOlderThan keeps records last modified more than d ago.
func WithOlderThan(d time.Duration) Option {
	return func(f *Filter) { f.OlderThan = d }
}

// WithNewerThan keeps records last modified less than d ago.
func WithNewerThan(d time.Duration) Option {
	return func(f *Filter) { f.NewerThan = d }
}

// WithMaxDepth limits depth below the base.
func WithMaxDepth(depth int) Option {
	return func(f *Filter) { f.MaxDepth = max(depth, 0) }
}

// WithField requires the plugin field key to be set.
func WithField(key string) Option {
	return func(f *Filter) { f.Field = key }
}

// WithSort sets the sort field and direction.
func WithSort(field SortField, descending bool) Option {
	return func(f *Filter) {
		f.SortBy = field
		f.SortDescending = descending
	}
}

// WithClock overrides the time source for age checks.
func WithClock(now func() time.Time) Option {
	return func(f *Filter) { f.now = now }
}

// Streaming reports whether matches can be emitted in store order and the
// listing stopped once Limit is reached.
func (f *Filter) Streaming() bool {
	return f.SortBy == SortPath && !f.SortDescending
}

// Match reports whether rec passes every criterion.
func (f *Filter) Match(rec *entry.Record) bool {
	return f.matchKind(rec) &&
		f.matchSize(rec) &&
		f.matchExtension(rec) &&
		f.matchDepth(rec) &&
		f.matchAge(rec) &&
		f.matchField(rec) &&
		f.matchPatterns(rec)
}

func (f *Filter) matchKind(rec *entry.Record) bool {
	switch f.Kind {
	case KindFiles:
		return !rec.IsDir
	case KindFolders:
		return rec.IsDir
	}
	return true
}

func (f *Filter) matchSize(rec *entry.Record) bool {
	if f.MinSize <= 0 {
		return true
	}
	return rec.Stat.HasSize() && rec.Stat.Size >= f.MinSize
}

func (f *Filter) matchExtension(rec *entry.Record) bool {
	if len(f.Extensions) == 0 {
		return true
	}
	if rec.IsDir {
		return false
	}
	name := strings.ToLower(rec.Name)
	for _, ext := range f.Extensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

func (f *Filter) matchDepth(rec *entry.Record) bool {
	return f.MaxDepth <= 0 || Depth(f.Base, rec.Path) <= f.MaxDepth
}

func (f *Filter) matchAge(rec *entry.Record) bool {
	if f.OlderThan <= 0 && f.NewerThan <= 0 {
		return true
	}
	if !rec.Stat.HasModTime() {
		return false
	}
	now := f.now()
	if f.OlderThan > 0 && rec.Stat.ModTime.After(now.Add(-f.OlderThan)) {
		return false
	}
	if f.NewerThan > 0 && rec.Stat.ModTime.Before(now.Add(-f.NewerThan)) {
		return false
	}
	return true
}

func (f *Filter) matchField(rec *entry.Record) bool {
	if f.Field == "" {
		return true
	}
	_, ok := rec.Field(f.Field)
	return ok
}

func (f *Filter) matchPatterns(rec *entry.Record) bool {
	if matchAny(f.exclude, rec) {
		return false
	}
	return len(f.include) == 0 || matchAny(f.include, rec)
}

// matchAny tests the full path and the base name.
func matchAny(globs []glob.Glob, rec *entry.Record) bool {
	for _, g := range globs {
		if g.Match(rec.Path) || g.Match(rec.Name) {
			return true
		}
	}
	return false
}

// Depth returns how many levels p lies below base. The base itself is 0.
func Depth(base, p string) int {
	base, p = entry.Clean(base), entry.Clean(p)
	rel := strings.TrimPrefix(p, base)
	rel = strings.Trim(rel, "/")
	if rel == "" {
		return 0
	}
	return strings.Count(rel, "/") + 1
}

// Sort returns a sorted copy of recs. Ties keep path order.
func (f *Filter) Sort(recs []*entry.Record) []*entry.Record {
	sorted := slices.Clone(recs)
	slices.SortStableFunc(sorted, func(a, b *entry.Record) int {
		var result int
		switch f.SortBy {
		case SortSize:
			result = cmp.Compare(a.Stat.Size, b.Stat.Size)
		case SortAge:
			result = a.Stat.ModTime.Compare(b.Stat.ModTime)
		case SortName:
			result = cmp.Compare(a.Name, b.Name)
		default:
			result = cmp.Compare(a.Path, b.Path)
		}
		if f.SortDescending {
			return -result
		}
		return result
	})
	return sorted
}

// Apply runs Match, Sort and Limit over recs.
func (f *Filter) Apply(recs []*entry.Record) []*entry.Record {
	var matched []*entry.Record
	for _, rec := range recs {
		if f.Match(rec) {
			matched = append(matched, rec)
		}
	}
	sorted := f.Sort(matched)
	if f.Limit > 0 && len(sorted) > f.Limit {
		return sorted[:f.Limit]
	}
	return sorted
}
