package target

import (
	"context"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ValidateOptions configures ValidateAll.
type ValidateOptions struct {
	// Concurrency bounds simultaneous validations.
	Concurrency int
	// Timeout bounds one target's probe plus validation.
	Timeout time.Duration
	// ProbePorts enables the TCP port probe before validation.
	ProbePorts bool
	// Ports are the ports probed when ProbePorts is set.
	Ports []int
	// DialTimeout bounds each probe connection.
	DialTimeout time.Duration
}

// DefaultPorts are the ports probed by default.
var DefaultPorts = []int{21, 80, 443, 8080, 8443}

// Validate applies defaults.
func (o *ValidateOptions) Validate() error {
	if o.Concurrency <= 0 {
		o.Concurrency = 16
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if len(o.Ports) == 0 {
		o.Ports = DefaultPorts
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 2 * time.Second
	}
	return nil
}

// Probe returns the ports of host accepting TCP connections, sorted.
func Probe(ctx context.Context, host string, ports []int, timeout time.Duration) []int {
	var mu sync.Mutex
	var open []int

	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	d := net.Dialer{Timeout: timeout}
	var g errgroup.Group
	for _, port := range ports {
		g.Go(func() error {
			conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
			if err != nil {
				return nil
			}
			_ = conn.Close()
			mu.Lock()
			open = append(open, port)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Ints(open)
	return open
}

// ValidateAll keeps the targets whose adapter accepts them, in input order.
// Rejected targets have their adapter closed.
func (r *Resolver) ValidateAll(ctx context.Context, targets []*Target, opts ValidateOptions) []*Target {
	_ = opts.Validate()

	// Hosts are probed once however many products they carry.
	var probesMu sync.Mutex
	probes := make(map[string]func() []int)
	probe := func(host string) []int {
		probesMu.Lock()
		fn, ok := probes[host]
		if !ok {
			fn = sync.OnceValue(func() []int {
				return Probe(ctx, host, opts.Ports, opts.DialTimeout)
			})
			probes[host] = fn
		}
		probesMu.Unlock()
		return fn()
	}

	ok := make([]bool, len(targets))
	var g errgroup.Group
	g.SetLimit(opts.Concurrency)
	for i, t := range targets {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			tctx, cancel := context.WithTimeout(ctx, opts.Timeout)
			defer cancel()

			if opts.ProbePorts {
				t.Ports = probe(t.Host)
			}
			ok[i] = t.FS.Validate(tctx, t.Endpoint())
			return nil
		})
	}
	_ = g.Wait()

	var valid []*Target
	for i, t := range targets {
		if ok[i] {
			valid = append(valid, t)
			continue
		}
		r.log.Info("target failed validation", "target", t.Key(), "ports", t.Ports)
		if err := t.FS.Close(); err != nil {
			r.log.Debug("close adapter", "target", t.Key(), "error", err)
		}
	}

	r.log.Info("targets validated", "valid", len(valid), "rejected", len(targets)-len(valid))
	return valid
}
