// Package webdav implements the webdav and sharepoint adapters. Both list
// folders with depth-1 PROPFIND; they differ only in the response header
// Validate looks for.
package webdav

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jamesainslie/ramen/pkg/ramen/entry"
	"github.com/jamesainslie/ramen/pkg/ramen/fsys"
	"github.com/jamesainslie/ramen/pkg/ramen/logging"
	"github.com/studio-b12/gowebdav"
)

// Product tags.
const (
	Product           = "webdav"
	ProductSharePoint = "sharepoint"
)

// Fingerprint headers checked by Validate.
const (
	headerDAV        = "DAV"
	headerSharePoint = "MicrosoftSharePointTeamServices"
)

const listingCacheSize = 64

// Config configures a webdav or sharepoint adapter.
type Config struct {
	Scheme   string        `mapstructure:"scheme"`
	Port     int           `mapstructure:"port"`
	Path     string        `mapstructure:"path"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// DefaultConfig returns the adapter defaults.
func DefaultConfig() Config {
	return Config{
		Scheme:  "https",
		Path:    "/",
		Timeout: 15 * time.Second,
	}
}

// FS is a WebDAV adapter for one host.
type FS struct {
	product string
	header  string
	cfg     Config
	host    string
	base    *url.URL
	client  *gowebdav.Client
	http    *http.Client
	log     *logging.Logger

	mu       sync.Mutex
	listings map[string]map[string]os.FileInfo
}

// New returns a webdav adapter for host.
func New(host string, cfg Config) (*FS, error) {
	return newFS(Product, headerDAV, host, cfg, nil)
}

// NewSharePoint returns a sharepoint adapter for host.
func NewSharePoint(host string, cfg Config) (*FS, error) {
	return newFS(ProductSharePoint, headerSharePoint, host, cfg, nil)
}

// NewWithTransport returns an adapter whose requests go through rt.
func NewWithTransport(product, host string, cfg Config, rt http.RoundTripper) (*FS, error) {
	header := headerDAV
	if product == ProductSharePoint {
		header = headerSharePoint
	}
	return newFS(product, header, host, cfg, rt)
}

func newFS(product, header, host string, cfg Config, rt http.RoundTripper) (*FS, error) {
	def := DefaultConfig()
	if cfg.Scheme == "" {
		cfg.Scheme = def.Scheme
	}
	if cfg.Path == "" {
		cfg.Path = def.Path
	}

	base, err := baseURL(cfg.Scheme, host, cfg.Port, cfg.Path)
	if err != nil {
		return nil, err
	}

	client := gowebdav.NewClient(base.String(), cfg.Username, cfg.Password)
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	hc := &http.Client{Timeout: cfg.Timeout}
	if rt != nil {
		client.SetTransport(rt)
		hc.Transport = rt
	}

	return &FS{
		product:  product,
		header:   header,
		cfg:      cfg,
		host:     host,
		base:     base,
		client:   client,
		http:     hc,
		log:      logging.Get("fsys." + product).With("host", host),
		listings: make(map[string]map[string]os.FileInfo),
	}, nil
}

func baseURL(scheme, host string, port int, root string) (*url.URL, error) {
	hostport := host
	if port > 0 {
		if h, _, err := net.SplitHostPort(host); err == nil {
			hostport = h
		}
		hostport = net.JoinHostPort(strings.Trim(hostport, "[]"), strconv.Itoa(port))
	}
	u, err := url.Parse(scheme + "://" + hostport)
	if err != nil {
		return nil, fmt.Errorf("invalid host %q: %w", host, err)
	}
	u.Path = path.Clean("/" + root)
	return u, nil
}

// Factory returns a registry factory for product.
func Factory(product string, cfg Config) fsys.Factory {
	return func(host string) (fsys.Filesystem, error) {
		if product == ProductSharePoint {
			return NewSharePoint(host, cfg)
		}
		return New(host, cfg)
	}
}

// Product implements fsys.Filesystem.
func (w *FS) Product() string { return w.product }

// Validate sends OPTIONS to each candidate port and looks for the
// product's fingerprint header.
func (w *FS) Validate(ctx context.Context, ep fsys.Endpoint) bool {
	for _, u := range w.candidates(ep) {
		req, err := http.NewRequestWithContext(ctx, http.MethodOptions, u.String(), nil)
		if err != nil {
			continue
		}
		if w.cfg.Username != "" {
			req.SetBasicAuth(w.cfg.Username, w.cfg.Password)
		}

		resp, err := w.http.Do(req)
		if err != nil {
			w.log.Debug("validate probe failed", "url", u.String(), "error", err)
			continue
		}
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()

		if resp.Header.Get(w.header) != "" {
			return true
		}
	}
	return false
}

// candidates lists probe URLs: the configured base first, then one per
// discovered web port.
func (w *FS) candidates(ep fsys.Endpoint) []*url.URL {
	out := []*url.URL{w.base}
	seen := map[string]bool{w.base.Host: true}

	hostname := w.base.Hostname()
	for _, p := range ep.Ports {
		scheme := w.cfg.Scheme
		switch p {
		case 80, 8080:
			scheme = "http"
		case 443, 8443:
			scheme = "https"
		}
		u := *w.base
		u.Scheme = scheme
		u.Host = net.JoinHostPort(hostname, strconv.Itoa(p))
		if seen[u.Host] {
			continue
		}
		seen[u.Host] = true
		out = append(out, &u)
	}
	return out
}

// Stat implements fsys.Filesystem. Entries seen in a listing are answered
// from cache; others use a depth-0 PROPFIND.
func (w *FS) Stat(_ context.Context, p string) (entry.Stat, bool, error) {
	p = entry.Clean(p)

	if p != "/" {
		w.mu.Lock()
		listing, ok := w.listings[entry.Parent(p)]
		w.mu.Unlock()
		if ok {
			info, found := listing[entry.Base(p)]
			if !found {
				return entry.Stat{}, false, &fsys.PathError{Op: "stat", Path: p, Err: fsys.ErrNotFound}
			}
			return toStat(info), info.IsDir(), nil
		}
	}

	info, err := w.client.Stat(p)
	if err != nil {
		return entry.Stat{}, false, w.wrap("stat", p, err)
	}
	return toStat(info), info.IsDir(), nil
}

// Walk implements fsys.Filesystem.
func (w *FS) Walk(ctx context.Context, root string) fsys.Walker {
	return fsys.NewTreeWalker(ctx, root, w.readDir)
}

func (w *FS) readDir(_ context.Context, dir string) ([]string, []string, error) {
	infos, err := w.client.ReadDir(dir)
	if err != nil {
		return nil, nil, w.wrap("propfind", dir, err)
	}

	listing := make(map[string]os.FileInfo, len(infos))
	var dirs, files []string
	for _, info := range infos {
		name := info.Name()
		if name == "" || name == "." || name == ".." {
			continue
		}
		listing[name] = info
		if info.IsDir() {
			dirs = append(dirs, name)
		} else {
			files = append(files, name)
		}
	}
	sort.Strings(dirs)
	sort.Strings(files)

	w.mu.Lock()
	if len(w.listings) >= listingCacheSize {
		w.listings = make(map[string]map[string]os.FileInfo)
	}
	w.listings[dir] = listing
	w.mu.Unlock()

	return dirs, files, nil
}

// Open implements fsys.Filesystem.
func (w *FS) Open(_ context.Context, p string) (io.ReadCloser, error) {
	p = entry.Clean(p)
	rc, err := w.client.ReadStream(p)
	if err != nil {
		return nil, w.wrap("open", p, err)
	}
	return rc, nil
}

// Close implements fsys.Filesystem.
func (w *FS) Close() error {
	w.http.CloseIdleConnections()
	return nil
}

func (w *FS) wrap(op, p string, err error) error {
	if gowebdav.IsErrNotFound(err) || errors.Is(err, fs.ErrNotExist) {
		err = fmt.Errorf("%w: %v", fsys.ErrNotFound, err)
	}
	return &fsys.PathError{Op: op, Path: p, Err: err}
}

// toStat keeps only what PROPFIND reports. Permission bits and ownership
// are not part of the protocol.
func toStat(info os.FileInfo) entry.Stat {
	st := entry.UnknownStat()
	if !info.IsDir() {
		st.Size = info.Size()
	}
	st.ModTime = info.ModTime()
	return st
}
