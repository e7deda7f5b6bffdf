// Package entry provides the record stored for every file and folder that a
// crawl visits, together with the protocol-normalized stat snapshot.
package entry

import (
	"io/fs"
	"path"
	"strings"
	"time"
)

// Sentinels for stat fields an adapter cannot supply.
const (
	// Unknown marks an owner or group that the protocol does not expose.
	Unknown = "unknown"

	// SizeUnknown marks a size that the protocol does not expose.
	SizeUnknown int64 = -1

	// ModeUnknown marks permission bits that the protocol does not expose.
	ModeUnknown = ^fs.FileMode(0)
)

// Stat is a protocol-normalized metadata snapshot.
// A zero ModTime means the modification time is unknown.
type Stat struct {
	Mode    fs.FileMode `json:"mode"`
	Size    int64       `json:"size"`
	ModTime time.Time   `json:"mod_time"`
	Owner   string      `json:"owner"`
	Group   string      `json:"group"`
}

// UnknownStat returns a Stat with every field set to its sentinel.
func UnknownStat() Stat {
	return Stat{
		Mode:  ModeUnknown,
		Size:  SizeUnknown,
		Owner: Unknown,
		Group: Unknown,
	}
}

// HasMode reports whether the permission bits are known.
func (s Stat) HasMode() bool { return s.Mode != ModeUnknown }

// HasSize reports whether the size is known.
func (s Stat) HasSize() bool { return s.Size != SizeUnknown }

// HasModTime reports whether the modification time is known.
func (s Stat) HasModTime() bool { return !s.ModTime.IsZero() }

// Record is one scanned filesystem node.
type Record struct {
	// Name is the base name; the root is named "/".
	Name string `json:"name"`

	// Path is absolute and "/"-rooted. The root is exactly "/".
	Path string `json:"path"`

	// Parent is the materialized path of the containing folder, empty for the root.
	Parent string `json:"parent"`

	IsDir bool `json:"is_dir"`
	Stat  Stat `json:"stat"`

	ScannedAt time.Time `json:"scanned_at"`
	RunID     string    `json:"run_id,omitempty"`

	// Host and Product identify the owning target. They are lookup keys only.
	Host    string `json:"host"`
	Product string `json:"product"`

	// Fields holds values attached by plugins.
	Fields map[string]string `json:"fields,omitempty"`
}

// New builds a record for p with its lineage filled in from the path.
func New(host, product, p string, isDir bool, st Stat) *Record {
	p = Clean(p)
	return &Record{
		Name:    Base(p),
		Path:    p,
		Parent:  Parent(p),
		IsDir:   isDir,
		Stat:    st,
		Host:    host,
		Product: product,
	}
}

// Set attaches a plugin field.
func (r *Record) Set(key, value string) {
	if r.Fields == nil {
		r.Fields = make(map[string]string)
	}
	r.Fields[key] = value
}

// Field returns a plugin field.
func (r *Record) Field(key string) (string, bool) {
	v, ok := r.Fields[key]
	return v, ok
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	c := *r
	if r.Fields != nil {
		c.Fields = make(map[string]string, len(r.Fields))
		for k, v := range r.Fields {
			c.Fields[k] = v
		}
	}
	return &c
}

// Clean normalizes p to an absolute slash path. Splitting "/" yields a
// leading empty segment; that case and the empty path both map to "/".
func Clean(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	if p == "" || strings.Trim(p, "/") == "" {
		return "/"
	}
	return path.Clean("/" + p)
}

// Join joins a folder path and a child name.
func Join(dir, name string) string {
	return Clean(path.Join(Clean(dir), name))
}

// Parent returns the parent of p, or "" when p is the root.
func Parent(p string) string {
	p = Clean(p)
	if p == "/" {
		return ""
	}
	return path.Dir(p)
}

// Base returns the last element of p; the root is "/".
func Base(p string) string {
	p = Clean(p)
	if p == "/" {
		return "/"
	}
	return path.Base(p)
}
