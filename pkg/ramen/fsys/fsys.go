// Package fsys defines the filesystem adapter contract shared by every
// protocol ramen can crawl, plus the registry that builds adapters by
// product name.
//
// An adapter is created once per target. The scan worker drives it through
// Walk, calling Stat on every folder and file it yields, and plugins read
// content through Open.
//
//	fs, err := registry.New("ftp", "ftp.example.com")
//	if err != nil {
//	    return err
//	}
//	defer fs.Close()
//
//	w := fs.Walk(ctx, "/")
//	for {
//	    step, err := w.Next()
//	    if errors.Is(err, io.EOF) {
//	        break
//	    }
//	    ...
//	}
package fsys

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jamesainslie/ramen/pkg/ramen/entry"
)

var (
	// ErrNotFound is returned by Stat and Open when a path does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnsupported is returned for operations a protocol cannot perform.
	ErrUnsupported = errors.New("operation not supported")

	// ErrUnknownProduct is returned by the registry for unregistered products.
	ErrUnknownProduct = errors.New("unknown filesystem product")
)

// Endpoint describes the network location an adapter validates against.
type Endpoint struct {
	Host string

	// Ports holds ports discovered open by the resolver's probe.
	// It is empty when probing is disabled.
	Ports []int
}

// Step is one folder yielded by a walk.
//
// Callers may remove names from Dirs before the next call to Next to stop
// the walker from descending into them.
type Step struct {
	Path  string
	Dirs  []string
	Files []string
}

// Walker yields folders top-down. Next returns io.EOF once the walk is
// exhausted. Any other error describes a single failed step; the walker
// stays usable and the following Next continues with the remaining folders.
// A walk can only be restarted by calling Filesystem.Walk again.
type Walker interface {
	Next() (*Step, error)
}

// Filesystem is the capability every protocol adapter provides.
type Filesystem interface {
	// Product returns the adapter's product tag, e.g. "ftp".
	Product() string

	// Validate performs a cheap reachability and protocol check.
	// Failures collapse to false.
	Validate(ctx context.Context, ep Endpoint) bool

	// Stat returns normalized metadata for path and whether it is a folder.
	Stat(ctx context.Context, path string) (entry.Stat, bool, error)

	// Walk starts a top-down traversal from root.
	Walk(ctx context.Context, root string) Walker

	// Open returns a sequential reader over a file's content. Readers
	// return io.EOF at end of stream and other errors for failed reads.
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// Close releases connections held by the adapter.
	Close() error
}

// WalkError reports a failed walk step.
type WalkError struct {
	Path string
	Err  error
}

func (e *WalkError) Error() string {
	return fmt.Sprintf("walk %s: %v", e.Path, e.Err)
}

func (e *WalkError) Unwrap() error {
	return e.Err
}

// PathError reports a failed operation on a single path.
type PathError struct {
	Op   string
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PathError) Unwrap() error {
	return e.Err
}
