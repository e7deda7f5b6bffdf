// Package local implements the local_disk adapter on top of afero.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"

	"github.com/jamesainslie/ramen/pkg/ramen/entry"
	"github.com/jamesainslie/ramen/pkg/ramen/fsys"
	"github.com/spf13/afero"
)

// Product is the adapter's product tag.
const Product = "local_disk"

// Config configures the local_disk adapter.
type Config struct {
	// Root is the host directory exposed as "/". Empty means "/".
	Root string `mapstructure:"root"`
}

// FS is a local_disk adapter.
type FS struct {
	fs    afero.Fs
	names *idNames
}

// New returns an adapter over the real filesystem rooted at cfg.Root.
func New(cfg Config) *FS {
	var base afero.Fs = afero.NewOsFs()
	if cfg.Root != "" && cfg.Root != "/" {
		base = afero.NewBasePathFs(base, cfg.Root)
	}
	return &FS{fs: base, names: newIDNames()}
}

// NewWithFs returns an adapter over an arbitrary afero filesystem.
func NewWithFs(afs afero.Fs) *FS {
	return &FS{fs: afs, names: newIDNames()}
}

// Factory returns a registry factory. The host is informational: every
// local_disk target reads the machine ramen runs on.
func Factory(cfg Config) fsys.Factory {
	return func(string) (fsys.Filesystem, error) {
		return New(cfg), nil
	}
}

// Product implements fsys.Filesystem.
func (l *FS) Product() string { return Product }

// Validate implements fsys.Filesystem. The local disk is always reachable.
func (l *FS) Validate(context.Context, fsys.Endpoint) bool { return true }

// Stat implements fsys.Filesystem.
func (l *FS) Stat(_ context.Context, p string) (entry.Stat, bool, error) {
	p = entry.Clean(p)
	info, err := l.lstat(p)
	if err != nil {
		return entry.Stat{}, false, l.wrap("stat", p, err)
	}
	return l.toStat(info), info.IsDir(), nil
}

func (l *FS) lstat(p string) (os.FileInfo, error) {
	if ls, ok := l.fs.(afero.Lstater); ok {
		info, _, err := ls.LstatIfPossible(p)
		return info, err
	}
	return l.fs.Stat(p)
}

// Walk implements fsys.Filesystem.
func (l *FS) Walk(ctx context.Context, root string) fsys.Walker {
	return fsys.NewTreeWalker(ctx, root, l.readDir)
}

func (l *FS) readDir(_ context.Context, dir string) ([]string, []string, error) {
	infos, err := afero.ReadDir(l.fs, dir)
	if err != nil {
		return nil, nil, l.wrap("readdir", dir, err)
	}

	var dirs, files []string
	for _, info := range infos {
		// Symlinked folders are recorded as files so the walk never loops.
		if info.IsDir() {
			dirs = append(dirs, info.Name())
		} else {
			files = append(files, info.Name())
		}
	}
	sort.Strings(dirs)
	sort.Strings(files)
	return dirs, files, nil
}

// Open implements fsys.Filesystem.
func (l *FS) Open(_ context.Context, p string) (io.ReadCloser, error) {
	p = entry.Clean(p)
	f, err := l.fs.Open(p)
	if err != nil {
		return nil, l.wrap("open", p, err)
	}
	return f, nil
}

// Close implements fsys.Filesystem.
func (l *FS) Close() error { return nil }

func (l *FS) wrap(op, p string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		err = fmt.Errorf("%w: %v", fsys.ErrNotFound, err)
	}
	return &fsys.PathError{Op: op, Path: p, Err: err}
}

func (l *FS) toStat(info os.FileInfo) entry.Stat {
	owner, group := l.ownership(info)
	return entry.Stat{
		Mode:    info.Mode(),
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Owner:   owner,
		Group:   group,
	}
}
