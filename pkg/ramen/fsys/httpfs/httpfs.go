// Package httpfs implements the http adapter. A web server has no native
// folder listing, so the adapter crawls links from "/" and arranges the
// pages it finds into a tree built from URL path segments: "/a/b.html" is
// file "b.html" in folder "/a", and "/a/" is the folder "/a" itself.
// Folders that were only implied by deeper pages carry unknown stat fields.
package httpfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jamesainslie/ramen/pkg/ramen/entry"
	"github.com/jamesainslie/ramen/pkg/ramen/fsys"
	"github.com/jamesainslie/ramen/pkg/ramen/logging"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

// Product is the adapter's product tag.
const Product = "http"

// maxBodyBytes caps how much of a page is read for link extraction.
const maxBodyBytes = 8 << 20

// pageMode is the permission analogue reported for every page.
const pageMode = 0o444

// Config configures the http adapter.
type Config struct {
	Scheme            string        `mapstructure:"scheme"`
	Port              int           `mapstructure:"port"`
	MaxPages          int           `mapstructure:"max_pages"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	UserAgent         string        `mapstructure:"user_agent"`
	Username          string        `mapstructure:"username"`
	Password          string        `mapstructure:"password"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxRedirects      int           `mapstructure:"max_redirects"`

	// ClockSkew is the server/local clock difference that triggers an
	// advisory warning.
	ClockSkew time.Duration `mapstructure:"clock_skew"`

	// DiscoverSiblings reports links to other hosts under the same
	// registrable domain.
	DiscoverSiblings bool `mapstructure:"discover_siblings"`
}

// DefaultConfig returns the adapter defaults.
func DefaultConfig() Config {
	return Config{
		Scheme:            "http",
		MaxPages:          10000,
		RequestsPerSecond: 10,
		Burst:             1,
		UserAgent:         "ramen-crawler/1.0",
		Timeout:           15 * time.Second,
		MaxRedirects:      10,
		ClockSkew:         5 * time.Minute,
	}
}

type page struct {
	stat  entry.Stat
	isDir bool
}

// FS is an http adapter for one host.
type FS struct {
	cfg     Config
	base    *url.URL
	client  *http.Client
	limiter *rate.Limiter
	log     *logging.Logger

	now        func() time.Time
	onDiscover func(host string)

	mu         sync.Mutex
	pages      map[string]page
	dirs       map[string]*node
	discovered map[string]bool
	skewWarned bool
}

type node struct {
	dirs  map[string]bool
	files map[string]bool
}

// Option customizes an FS.
type Option func(*FS)

// WithClient replaces the HTTP client. Its CheckRedirect is overridden.
func WithClient(c *http.Client) Option {
	return func(f *FS) { f.client = c }
}

// WithClock replaces the request clock.
func WithClock(now func() time.Time) Option {
	return func(f *FS) { f.now = now }
}

// WithDiscover registers a callback for sibling hosts found while crawling.
func WithDiscover(fn func(host string)) Option {
	return func(f *FS) { f.onDiscover = fn }
}

// New returns an adapter for host.
func New(host string, cfg Config, opts ...Option) (*FS, error) {
	def := DefaultConfig()
	if cfg.Scheme == "" {
		cfg.Scheme = def.Scheme
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = def.MaxPages
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = def.MaxRedirects
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}

	hostport := host
	if cfg.Port > 0 {
		if h, _, err := net.SplitHostPort(host); err == nil {
			hostport = h
		}
		hostport = net.JoinHostPort(strings.Trim(hostport, "[]"), strconv.Itoa(cfg.Port))
	}
	base, err := url.Parse(cfg.Scheme + "://" + hostport + "/")
	if err != nil {
		return nil, fmt.Errorf("invalid host %q: %w", host, err)
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	f := &FS{
		cfg:        cfg,
		base:       base,
		client:     &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, burst),
		log:        logging.Get("fsys.http").With("host", base.Host),
		now:        time.Now,
		pages:      make(map[string]page),
		discovered: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(f)
	}

	client := *f.client
	client.CheckRedirect = f.checkRedirect
	f.client = &client

	return f, nil
}

// Factory returns a registry factory. onDiscover may be nil.
func Factory(cfg Config, onDiscover func(host string)) fsys.Factory {
	return func(host string) (fsys.Filesystem, error) {
		var opts []Option
		if onDiscover != nil {
			opts = append(opts, WithDiscover(onDiscover))
		}
		return New(host, cfg, opts...)
	}
}

// Product implements fsys.Filesystem.
func (f *FS) Product() string { return Product }

// Validate issues GET / on the first open web port and accepts 2xx, 3xx,
// 401 and 403 answers. A passing probe moves the crawl to that port.
func (f *FS) Validate(ctx context.Context, ep fsys.Endpoint) bool {
	base := f.probeBase(ep)
	if base == nil {
		return false
	}

	prev := f.base
	f.base = base
	resp, _, err := f.do(ctx, http.MethodGet, base)
	if err != nil {
		f.base = prev
		f.log.Debug("validate failed", "url", base.String(), "error", err)
		return false
	}
	drain(resp)
	if !acceptedStatus(resp.StatusCode) {
		f.base = prev
		f.log.Debug("validate rejected", "url", base.String(), "status", resp.StatusCode)
		return false
	}
	return true
}

// fallbackPorts are tried in order when the configured port is closed.
var fallbackPorts = []int{80, 443, 8080, 8443}

// probeBase picks the URL to validate: the configured base when its port is
// open or nothing is known about the ports, else the first open web port.
func (f *FS) probeBase(ep fsys.Endpoint) *url.URL {
	if len(ep.Ports) == 0 || containsPort(ep.Ports, f.port()) {
		return f.base
	}
	for _, p := range fallbackPorts {
		if !containsPort(ep.Ports, p) {
			continue
		}
		scheme := "http"
		if p == 443 || p == 8443 {
			scheme = "https"
		}
		u := *f.base
		u.Scheme = scheme
		if p == 80 || p == 443 {
			u.Host = f.base.Hostname()
			if strings.Contains(u.Host, ":") {
				u.Host = "[" + u.Host + "]"
			}
		} else {
			u.Host = net.JoinHostPort(f.base.Hostname(), strconv.Itoa(p))
		}
		return &u
	}
	return nil
}

func acceptedStatus(code int) bool {
	switch {
	case code >= 200 && code < 400:
		return true
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return true
	}
	return false
}

func (f *FS) port() int {
	if p := f.base.Port(); p != "" {
		n, _ := strconv.Atoi(p)
		return n
	}
	if f.base.Scheme == "https" {
		return 443
	}
	return 80
}

func containsPort(ports []int, p int) bool {
	for _, q := range ports {
		if q == p {
			return true
		}
	}
	return false
}

// Stat implements fsys.Filesystem. Pages seen by the crawl are answered from
// cache; other paths are fetched with HEAD.
func (f *FS) Stat(ctx context.Context, p string) (entry.Stat, bool, error) {
	p = entry.Clean(p)

	f.mu.Lock()
	pg, ok := f.pages[p]
	_, implied := f.dirs[p]
	f.mu.Unlock()

	if ok {
		return pg.stat, pg.isDir, nil
	}
	if implied {
		st := entry.UnknownStat()
		st.Mode = pageMode
		return st, true, nil
	}

	resp, requested, err := f.do(ctx, http.MethodHead, f.urlFor(p, false))
	if err != nil {
		return entry.Stat{}, false, &fsys.PathError{Op: "stat", Path: p, Err: err}
	}
	drain(resp)
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return entry.Stat{}, false, &fsys.PathError{Op: "stat", Path: p, Err: fsys.ErrNotFound}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return entry.Stat{}, false, &fsys.PathError{Op: "stat", Path: p, Err: fmt.Errorf("status %s", resp.Status)}
	}

	st := f.statFrom(resp, requested, -1)
	isDir := p == "/"
	f.mu.Lock()
	f.pages[p] = page{stat: st, isDir: isDir}
	f.mu.Unlock()
	return st, isDir, nil
}

// Walk implements fsys.Filesystem. The crawl runs on the first Next.
func (f *FS) Walk(ctx context.Context, root string) fsys.Walker {
	return fsys.NewSliceWalker(ctx, func() ([]*fsys.Step, error) {
		if err := f.crawl(ctx); err != nil {
			return nil, err
		}
		return f.steps(entry.Clean(root)), nil
	})
}

// Open implements fsys.Filesystem.
func (f *FS) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	p = entry.Clean(p)
	resp, _, err := f.do(ctx, http.MethodGet, f.urlFor(p, false))
	if err != nil {
		return nil, &fsys.PathError{Op: "open", Path: p, Err: err}
	}
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		drain(resp)
		return nil, &fsys.PathError{Op: "open", Path: p, Err: fsys.ErrNotFound}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		drain(resp)
		return nil, &fsys.PathError{Op: "open", Path: p, Err: fmt.Errorf("status %s", resp.Status)}
	}
	return resp.Body, nil
}

// Close implements fsys.Filesystem.
func (f *FS) Close() error {
	f.client.CloseIdleConnections()
	return nil
}

func (f *FS) urlFor(p string, dir bool) *url.URL {
	u := *f.base
	u.Path = p
	if dir && p != "/" {
		u.Path += "/"
	}
	return &u
}

// do performs one rate-limited request and returns the request time.
func (f *FS) do(ctx context.Context, method string, u *url.URL) (*http.Response, time.Time, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, time.Time{}, err
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, time.Time{}, err
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	if f.cfg.Username != "" {
		req.SetBasicAuth(f.cfg.Username, f.cfg.Password)
	}

	requested := f.now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, requested, err
	}
	return resp, requested, nil
}

// checkRedirect follows redirects only while they stay on the target's
// scheme and host.
func (f *FS) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= f.cfg.MaxRedirects {
		return fmt.Errorf("stopped after %d redirects", len(via))
	}
	if !sameOrigin(f.base, req.URL) {
		f.log.Debug("redirect out of scope", "to", req.URL.String())
		return http.ErrUseLastResponse
	}
	return nil
}

func (f *FS) statFrom(resp *http.Response, requested time.Time, bodyLen int64) entry.Stat {
	st := entry.UnknownStat()
	st.Mode = pageMode
	switch {
	case resp.ContentLength >= 0:
		st.Size = resp.ContentLength
	case bodyLen >= 0:
		st.Size = bodyLen
	}
	st.ModTime = ModTime(resp.Header, requested)
	f.checkSkew(resp.Header)
	return st
}

// ModTime derives a modification time from response headers.
// Precedence: Last-Modified, then Date (or the request time) minus Age,
// then Date, then the request time.
func ModTime(h http.Header, requested time.Time) time.Time {
	if lm, err := http.ParseTime(h.Get("Last-Modified")); err == nil {
		return lm.UTC()
	}

	date, dateErr := http.ParseTime(h.Get("Date"))
	if age, err := strconv.ParseInt(strings.TrimSpace(h.Get("Age")), 10, 64); err == nil && age >= 0 {
		origin := requested
		if dateErr == nil {
			origin = date
		}
		return origin.Add(-time.Duration(age) * time.Second).UTC()
	}

	if dateErr == nil {
		return date.UTC()
	}
	return requested.UTC()
}

func (f *FS) checkSkew(h http.Header) {
	if f.cfg.ClockSkew <= 0 {
		return
	}
	date, err := http.ParseTime(h.Get("Date"))
	if err != nil {
		return
	}
	skew := f.now().Sub(date)
	if skew < 0 {
		skew = -skew
	}
	if skew <= f.cfg.ClockSkew {
		return
	}

	f.mu.Lock()
	warned := f.skewWarned
	f.skewWarned = true
	f.mu.Unlock()
	if !warned {
		f.log.Warn("server clock skew", "skew", skew.Round(time.Second).String())
	}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	_ = resp.Body.Close()
}

func sameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) &&
		strings.EqualFold(a.Hostname(), b.Hostname()) &&
		effectivePort(a) == effectivePort(b)
}

func effectivePort(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	if strings.EqualFold(u.Scheme, "https") {
		return "443"
	}
	return "80"
}

// sibling reports whether u is another host under base's registrable domain.
func sibling(base, u *url.URL) bool {
	h := strings.ToLower(u.Hostname())
	bh := strings.ToLower(base.Hostname())
	if h == "" || h == bh || net.ParseIP(h) != nil || net.ParseIP(bh) != nil {
		return false
	}
	d1, err := publicsuffix.EffectiveTLDPlusOne(h)
	if err != nil {
		return false
	}
	d2, err := publicsuffix.EffectiveTLDPlusOne(bh)
	if err != nil {
		return false
	}
	return d1 == d2
}

var errNoPages = errors.New("no pages reachable")

// sortedKeys returns the keys of m in order.
func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
