// Package target turns a target list into validated crawl targets.
package target

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"strings"

	"github.com/jamesainslie/ramen/pkg/ramen/fsys"
	"github.com/jamesainslie/ramen/pkg/ramen/logging"
)

// DefaultMaxExpand bounds how many addresses one CIDR line may produce.
const DefaultMaxExpand = 4096

// ErrTooManyAddresses is returned for CIDR blocks larger than MaxExpand.
var ErrTooManyAddresses = errors.New("network expands to too many addresses")

// Target is one (host, product) pair to crawl.
type Target struct {
	Host    string
	Product string
	// Ports holds open ports found by the probe, if it ran.
	Ports []int
	FS    fsys.Filesystem
}

// Key identifies the target.
func (t *Target) Key() string {
	return t.Host + "/" + t.Product
}

// Endpoint returns what adapters need to validate the target.
func (t *Target) Endpoint() fsys.Endpoint {
	return fsys.Endpoint{Host: t.Host, Ports: t.Ports}
}

func (t *Target) String() string { return t.Key() }

// LineError reports a problem with one line of a target list.
type LineError struct {
	Line int
	Text string
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d %q: %v", e.Line, e.Text, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// Resolver builds targets from target list lines.
type Resolver struct {
	registry  *fsys.Registry
	maxExpand int
	log       *logging.Logger
}

// NewResolver returns a resolver creating adapters from registry.
// maxExpand <= 0 selects DefaultMaxExpand.
func NewResolver(registry *fsys.Registry, maxExpand int) *Resolver {
	if maxExpand <= 0 {
		maxExpand = DefaultMaxExpand
	}
	return &Resolver{registry: registry, maxExpand: maxExpand, log: logging.Get("target")}
}

// Parse reads one target per line in the form "host[ \t]product[,product]".
// Blank lines and lines starting with '#' are ignored. A line without a
// product yields one target per registered adapter. Problems with a line
// are returned as *LineError values and never stop parsing.
func (r *Resolver) Parse(in io.Reader) ([]*Target, []error) {
	var targets []*Target
	var errs []error
	seen := make(map[string]bool)

	sc := bufio.NewScanner(in)
	n := 0
	for sc.Scan() {
		n++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		hostField, products := splitLine(text)
		hosts, err := r.expand(hostField)
		if err != nil {
			errs = append(errs, &LineError{Line: n, Text: text, Err: err})
			continue
		}
		if len(products) == 0 {
			products = r.registry.Products()
		}

		for _, product := range products {
			if !r.registry.Has(product) {
				errs = append(errs, &LineError{Line: n, Text: text,
					Err: fmt.Errorf("%w: %q", fsys.ErrUnknownProduct, product)})
				continue
			}
			for _, host := range hosts {
				t := &Target{Host: host, Product: product}
				if seen[t.Key()] {
					continue
				}
				fs, err := r.registry.New(product, host)
				if err != nil {
					errs = append(errs, &LineError{Line: n, Text: text, Err: err})
					continue
				}
				t.FS = fs
				seen[t.Key()] = true
				targets = append(targets, t)
			}
		}
	}
	if err := sc.Err(); err != nil {
		errs = append(errs, fmt.Errorf("read target list: %w", err))
	}

	for _, err := range errs {
		r.log.Warn("target skipped", "error", err)
	}
	r.log.Info("targets parsed", "targets", len(targets), "skipped", len(errs))
	return targets, errs
}

// splitLine separates the host from the comma separated product list.
func splitLine(text string) (string, []string) {
	host, rest := text, ""
	if i := strings.IndexAny(text, " \t"); i >= 0 {
		host, rest = text[:i], text[i+1:]
	}

	var products []string
	for _, p := range strings.Split(rest, ",") {
		if p = strings.TrimSpace(p); p != "" {
			products = append(products, strings.ToLower(p))
		}
	}
	return host, products
}

// expand returns the hosts named by field: itself, or every usable address
// of a CIDR block.
func (r *Resolver) expand(field string) ([]string, error) {
	if !strings.Contains(field, "/") {
		return []string{field}, nil
	}
	prefix, err := netip.ParsePrefix(field)
	if err != nil {
		return nil, fmt.Errorf("invalid network: %w", err)
	}
	prefix = prefix.Masked()

	hostBits := prefix.Addr().BitLen() - prefix.Bits()
	if hostBits >= 31 || 1<<hostBits > r.maxExpand+2 {
		return nil, fmt.Errorf("%w: %s (limit %d)", ErrTooManyAddresses, field, r.maxExpand)
	}

	// Network and broadcast addresses are not hosts in IPv4 blocks
	// larger than /31.
	skipEdges := prefix.Addr().Is4() && prefix.Bits() < 31

	var out []string
	first := prefix.Addr()
	for a := first; prefix.Contains(a); a = a.Next() {
		if skipEdges && (a == first || !prefix.Contains(a.Next())) {
			continue
		}
		out = append(out, a.String())
		if len(out) > r.maxExpand {
			return nil, fmt.Errorf("%w: %s (limit %d)", ErrTooManyAddresses, field, r.maxExpand)
		}
		if !a.Next().IsValid() {
			break
		}
	}
	return out, nil
}
