// Package ftp implements the ftp adapter using recursive LIST queries.
package ftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/jamesainslie/ramen/pkg/ramen/entry"
	"github.com/jamesainslie/ramen/pkg/ramen/fsys"
	"github.com/jamesainslie/ramen/pkg/ramen/logging"
	"github.com/jlaffaye/ftp"
)

// Product is the adapter's product tag.
const Product = "ftp"

// listingCacheSize bounds the number of folder listings kept for Stat.
const listingCacheSize = 64

// Config configures the ftp adapter.
type Config struct {
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// DefaultConfig returns anonymous login on port 21.
func DefaultConfig() Config {
	return Config{
		Port:     21,
		Username: "anonymous",
		Password: "anonymous@",
		Timeout:  10 * time.Second,
	}
}

// Conn is the subset of an FTP session the adapter uses.
type Conn interface {
	List(path string) ([]*ftp.Entry, error)
	Retr(path string) (io.ReadCloser, error)
	Quit() error
}

// DialFunc opens a logged-in session to addr.
type DialFunc func(ctx context.Context, addr string) (Conn, error)

// FS is an ftp adapter for one host.
type FS struct {
	cfg  Config
	addr string
	dial DialFunc
	log  *logging.Logger

	mu       sync.Mutex
	ctrl     Conn
	listings map[string]map[string]*ftp.Entry
}

// New returns an adapter for host using the jlaffaye/ftp client.
func New(host string, cfg Config) *FS {
	return NewWithDialer(host, cfg, Dialer(cfg))
}

// NewWithDialer returns an adapter that opens sessions through dial.
func NewWithDialer(host string, cfg Config, dial DialFunc) *FS {
	if cfg.Port == 0 {
		cfg.Port = DefaultConfig().Port
	}
	return &FS{
		cfg:      cfg,
		addr:     address(host, cfg.Port),
		dial:     dial,
		log:      logging.Get("fsys.ftp").With("host", host),
		listings: make(map[string]map[string]*ftp.Entry),
	}
}

// Factory returns a registry factory.
func Factory(cfg Config) fsys.Factory {
	return func(host string) (fsys.Filesystem, error) {
		return New(host, cfg), nil
	}
}

// Dialer returns a DialFunc backed by ftp.Dial.
func Dialer(cfg Config) DialFunc {
	return func(ctx context.Context, addr string) (Conn, error) {
		opts := []ftp.DialOption{ftp.DialWithContext(ctx)}
		if cfg.Timeout > 0 {
			opts = append(opts, ftp.DialWithTimeout(cfg.Timeout))
		}
		c, err := ftp.Dial(addr, opts...)
		if err != nil {
			return nil, fmt.Errorf("dialing %s: %w", addr, err)
		}
		if err := c.Login(cfg.Username, cfg.Password); err != nil {
			_ = c.Quit()
			return nil, fmt.Errorf("login to %s: %w", addr, err)
		}
		return serverConn{c}, nil
	}
}

type serverConn struct {
	*ftp.ServerConn
}

func (c serverConn) Retr(p string) (io.ReadCloser, error) {
	return c.ServerConn.Retr(p)
}

func address(host string, port int) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Product implements fsys.Filesystem.
func (f *FS) Product() string { return Product }

// Validate connects, logs in and lists the root on a fresh session.
func (f *FS) Validate(ctx context.Context, _ fsys.Endpoint) bool {
	c, err := f.dial(ctx, f.addr)
	if err != nil {
		f.log.Debug("validate dial failed", "error", err)
		return false
	}
	defer func() { _ = c.Quit() }()

	if _, err := c.List("/"); err != nil {
		f.log.Debug("validate list failed", "error", err)
		return false
	}
	return true
}

// Stat implements fsys.Filesystem. Servers without MLST are common, so the
// entry is looked up in its parent's listing.
func (f *FS) Stat(ctx context.Context, p string) (entry.Stat, bool, error) {
	p = entry.Clean(p)
	if p == "/" {
		return entry.UnknownStat(), true, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	parent := entry.Parent(p)
	listing, ok := f.listings[parent]
	if !ok {
		var err error
		if listing, err = f.list(ctx, parent); err != nil {
			return entry.Stat{}, false, f.wrap("stat", p, err)
		}
	}

	e, ok := listing[entry.Base(p)]
	if !ok {
		return entry.Stat{}, false, &fsys.PathError{Op: "stat", Path: p, Err: fsys.ErrNotFound}
	}
	return toStat(e), e.Type == ftp.EntryTypeFolder, nil
}

// Walk implements fsys.Filesystem.
func (f *FS) Walk(ctx context.Context, root string) fsys.Walker {
	return fsys.NewTreeWalker(ctx, root, f.readDir)
}

func (f *FS) readDir(ctx context.Context, dir string) ([]string, []string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	listing, err := f.list(ctx, dir)
	if err != nil {
		return nil, nil, f.wrap("list", dir, err)
	}

	var dirs, files []string
	for name, e := range listing {
		if e.Type == ftp.EntryTypeFolder {
			dirs = append(dirs, name)
		} else {
			files = append(files, name)
		}
	}
	sort.Strings(dirs)
	sort.Strings(files)
	return dirs, files, nil
}

// list runs LIST on the control session and caches the result.
// Must be called with f.mu held.
func (f *FS) list(ctx context.Context, dir string) (map[string]*ftp.Entry, error) {
	if f.ctrl == nil {
		c, err := f.dial(ctx, f.addr)
		if err != nil {
			return nil, err
		}
		f.ctrl = c
	}

	entries, err := f.ctrl.List(dir)
	if err != nil {
		if !isNotFound(err) {
			// The session may be broken; the next call redials.
			_ = f.ctrl.Quit()
			f.ctrl = nil
		}
		return nil, err
	}

	listing := make(map[string]*ftp.Entry, len(entries))
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." || e.Name == "" {
			continue
		}
		listing[e.Name] = e
	}

	if len(f.listings) >= listingCacheSize {
		f.listings = make(map[string]map[string]*ftp.Entry)
	}
	f.listings[dir] = listing
	return listing, nil
}

// Open retrieves p on a dedicated session so reads never interleave with
// listings on the control session.
func (f *FS) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	p = entry.Clean(p)
	c, err := f.dial(ctx, f.addr)
	if err != nil {
		return nil, f.wrap("open", p, err)
	}
	rc, err := c.Retr(p)
	if err != nil {
		_ = c.Quit()
		return nil, f.wrap("open", p, err)
	}
	return &stream{ReadCloser: rc, conn: c}, nil
}

type stream struct {
	io.ReadCloser
	conn Conn
}

func (s *stream) Close() error {
	err := s.ReadCloser.Close()
	if qerr := s.conn.Quit(); err == nil {
		err = qerr
	}
	return err
}

// Close implements fsys.Filesystem.
func (f *FS) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ctrl == nil {
		return nil
	}
	err := f.ctrl.Quit()
	f.ctrl = nil
	return err
}

func (f *FS) wrap(op, p string, err error) error {
	if isNotFound(err) {
		err = fmt.Errorf("%w: %v", fsys.ErrNotFound, err)
	}
	return &fsys.PathError{Op: op, Path: p, Err: err}
}

func isNotFound(err error) bool {
	var tp *textproto.Error
	return errors.As(err, &tp) && tp.Code == ftp.StatusFileUnavailable
}

func toStat(e *ftp.Entry) entry.Stat {
	st := entry.UnknownStat()
	if e.Type != ftp.EntryTypeFolder {
		st.Size = int64(e.Size)
	}
	st.ModTime = e.Time
	return st
}
