package httpfs

import (
	"context"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/jamesainslie/ramen/pkg/ramen/entry"
	"github.com/jamesainslie/ramen/pkg/ramen/fsys"
	"golang.org/x/net/html"
)

// crawl fetches pages breadth-first from "/" until the frontier is empty or
// MaxPages pages were fetched, then rebuilds the folder tree.
func (f *FS) crawl(ctx context.Context) error {
	queue := []string{"/"}
	seen := map[string]bool{"/": true}
	fetched := 0
	recorded := 0

	f.mu.Lock()
	f.pages = make(map[string]page)
	f.dirs = nil
	f.mu.Unlock()

	for len(queue) > 0 && fetched < f.cfg.MaxPages {
		if err := ctx.Err(); err != nil {
			return err
		}

		raw := queue[0]
		queue = queue[1:]
		fetched++

		u := *f.base
		u.Path = raw

		resp, requested, err := f.do(ctx, http.MethodGet, &u)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.log.Debug("fetch failed", "path", raw, "error", err)
			continue
		}

		final := resp.Request.URL
		if !sameOrigin(f.base, final) {
			final = &u
		}
		if final.Path != raw {
			seen[final.Path] = true
		}

		body, n := readBody(resp)
		// Redirects that left the target's scope end here unfollowed.
		if resp.StatusCode >= http.StatusMultipleChoices {
			f.log.Debug("page skipped", "path", raw, "status", resp.StatusCode)
			continue
		}

		p, isDir := pagePath(final.Path)
		f.mu.Lock()
		f.pages[p] = page{stat: f.statFrom(resp, requested, n), isDir: isDir}
		f.mu.Unlock()
		recorded++

		if !isHTML(resp.Header) {
			continue
		}
		for _, link := range extractLinks(strings.NewReader(body)) {
			next, ok := f.resolve(final, link)
			if !ok || seen[next] {
				continue
			}
			seen[next] = true
			queue = append(queue, next)
		}
	}

	if len(queue) > 0 {
		f.log.Warn("crawl truncated", "max_pages", f.cfg.MaxPages, "pending", len(queue))
	}

	f.buildTree()

	if recorded == 0 {
		return errNoPages
	}
	return nil
}

func readBody(resp *http.Response) (string, int64) {
	defer resp.Body.Close()
	var b strings.Builder
	n, err := io.Copy(&b, io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil || n == maxBodyBytes {
		n = -1
	}
	return b.String(), n
}

func isHTML(h http.Header) bool {
	ct := h.Get("Content-Type")
	if ct == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(ct)
	return err == nil && (mt == "text/html" || mt == "application/xhtml+xml")
}

// resolve turns a link into an in-scope URL path. Links to other hosts are
// reported to the discover callback when they are siblings.
func (f *FS) resolve(from *url.URL, link string) (string, bool) {
	link = strings.TrimSpace(link)
	if link == "" || strings.HasPrefix(link, "#") {
		return "", false
	}

	ref, err := url.Parse(link)
	if err != nil {
		return "", false
	}
	switch strings.ToLower(ref.Scheme) {
	case "", "http", "https":
	default:
		// mailto:, javascript:, data:, tel: and friends.
		return "", false
	}

	u := from.ResolveReference(ref)
	if !sameOrigin(f.base, u) {
		f.discover(u)
		return "", false
	}

	p := u.Path
	if p == "" {
		p = "/"
	}
	return p, true
}

func (f *FS) discover(u *url.URL) {
	if !f.cfg.DiscoverSiblings || f.onDiscover == nil || !sibling(f.base, u) {
		return
	}
	host := strings.ToLower(u.Hostname())

	f.mu.Lock()
	known := f.discovered[host]
	f.discovered[host] = true
	f.mu.Unlock()

	if !known {
		f.log.Info("sibling host discovered", "sibling", host)
		f.onDiscover(host)
	}
}

// extractLinks returns every href and src attribute value in an HTML document.
func extractLinks(r io.Reader) []string {
	var links []string
	z := html.NewTokenizer(r)
	for {
		switch z.Next() {
		case html.ErrorToken:
			return links
		case html.StartTagToken, html.SelfClosingTagToken:
			_, hasAttr := z.TagName()
			for hasAttr {
				var key, val []byte
				key, val, hasAttr = z.TagAttr()
				switch string(key) {
				case "href", "src":
					links = append(links, string(val))
				}
			}
		}
	}
}

// pagePath maps a URL path to a record path and reports whether it names a folder.
func pagePath(urlPath string) (string, bool) {
	if urlPath == "" || strings.HasSuffix(urlPath, "/") {
		return entry.Clean(urlPath), true
	}
	return entry.Clean(urlPath), false
}

// buildTree arranges crawled pages into folders. A path that is both a page
// and the parent of other pages is a folder.
func (f *FS) buildTree() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.dirs = map[string]*node{"/": newNode()}

	var ensure func(p string) *node
	ensure = func(p string) *node {
		if n, ok := f.dirs[p]; ok {
			return n
		}
		n := newNode()
		f.dirs[p] = n
		parent := ensure(entry.Parent(p))
		parent.dirs[entry.Base(p)] = true
		return n
	}

	for p, pg := range f.pages {
		if pg.isDir {
			ensure(p)
			continue
		}
		ensure(entry.Parent(p))
	}

	for p, pg := range f.pages {
		if _, isDir := f.dirs[p]; isDir {
			if !pg.isDir {
				pg.isDir = true
				f.pages[p] = pg
			}
			continue
		}
		f.dirs[entry.Parent(p)].files[entry.Base(p)] = true
	}
}

func newNode() *node {
	return &node{dirs: make(map[string]bool), files: make(map[string]bool)}
}

// steps lists folders under root top-down, parents before children.
func (f *FS) steps(root string) []*fsys.Step {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.dirs[root]; !ok {
		return nil
	}

	var out []*fsys.Step
	var visit func(p string)
	visit = func(p string) {
		n := f.dirs[p]
		step := &fsys.Step{Path: p, Dirs: sortedKeys(n.dirs), Files: sortedKeys(n.files)}
		out = append(out, step)
		for _, d := range step.Dirs {
			visit(entry.Join(p, d))
		}
	}
	visit(root)
	return out
}
