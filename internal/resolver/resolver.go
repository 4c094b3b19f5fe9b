// SPDX-FileCopyrightText: 2025 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/xmidt-org/culvert/internal/metrics"
)

var (
	// ErrNoAddresses indicates a lookup succeeded but returned zero
	// addresses for the hostname.
	ErrNoAddresses = errors.New("hostname resolved to zero addresses")

	ipv4Literal = regexp.MustCompile(`^(?:\d{1,3}\.){3}\d{1,3}$`)
)

// Lookuper is the DNS query surface the pool depends on.  net.DefaultResolver
// satisfies it.
type Lookuper interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

type cacheEntry struct {
	addrs   []string
	expires time.Time
}

// Pool resolves configured endpoint URIs into a flat list of concrete
// delivery targets.  IPv4 literal hosts pass through unchanged; short
// hostnames are resolved through a TTL cache shared by every flush.
//
// The cache tolerates concurrent refresh of the same hostname; last writer
// wins, which is acceptable because every writer stores a fresh result.
type Pool struct {
	mutex   sync.RWMutex
	entries map[string]cacheEntry

	ttl      time.Duration
	lookup   Lookuper
	logger   *zap.Logger
	now      func() time.Time
	failures *prometheus.CounterVec
}

// Option configures a Pool beyond its required arguments.
type Option func(*Pool)

// WithLookuper overrides the DNS resolver, primarily for tests.
func WithLookuper(l Lookuper) Option {
	return func(p *Pool) {
		p.lookup = l
	}
}

// WithFailureCounter records resolution failures by reason.
func WithFailureCounter(c *prometheus.CounterVec) Option {
	return func(p *Pool) {
		p.failures = c
	}
}

// WithNow overrides the clock, primarily for tests.
func WithNow(now func() time.Time) Option {
	return func(p *Pool) {
		p.now = now
	}
}

func New(ttl time.Duration, logger *zap.Logger, opts ...Option) *Pool {
	p := &Pool{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		lookup:  net.DefaultResolver,
		logger:  logger,
		now:     time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Addresses converts the configured endpoint URIs into the host pool for one
// delivery attempt.  A URI whose host fails to parse or resolve is logged
// and skipped; the caller receives a degraded (possibly empty) pool rather
// than an error.
func (p *Pool) Addresses(ctx context.Context, configured []string) []string {
	pool := make([]string, 0, len(configured))

	for _, raw := range configured {
		u, err := url.Parse(raw)
		if err != nil {
			p.logger.Warn("skipping unparseable endpoint", zap.String("endpoint", raw), zap.Error(err))
			continue
		}

		host := u.Hostname()
		if ipv4Literal.MatchString(host) {
			pool = append(pool, raw)
			continue
		}

		addrs, err := p.resolve(ctx, host)
		if err != nil {
			p.logger.Warn("hostname resolution failed", zap.String("host", host), zap.Error(err))
			if p.failures != nil {
				p.failures.With(prometheus.Labels{
					metrics.ReasonLabel: metrics.GetDoErrReason(err),
				}).Add(1)
			}
			continue
		}

		for _, addr := range addrs {
			pool = append(pool, rewriteHost(u, addr))
		}
	}

	return pool
}

// resolve returns the cached addresses for hostname, refreshing the entry if
// it is missing or expired.
func (p *Pool) resolve(ctx context.Context, hostname string) ([]string, error) {
	now := p.now()

	p.mutex.RLock()
	entry, ok := p.entries[hostname]
	p.mutex.RUnlock()
	if ok && now.Before(entry.expires) {
		return entry.addrs, nil
	}

	addrs, err := p.lookup.LookupHost(ctx, hostname)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoAddresses, hostname)
	}

	p.mutex.Lock()
	p.entries[hostname] = cacheEntry{addrs: addrs, expires: now.Add(p.ttl)}
	p.mutex.Unlock()

	return addrs, nil
}

// rewriteHost reproduces the original URI with its host component replaced
// by the resolved address, keeping scheme, port, and path intact.
func rewriteHost(u *url.URL, addr string) string {
	clone := *u
	if port := u.Port(); port != "" {
		clone.Host = net.JoinHostPort(addr, port)
	} else {
		clone.Host = addr
	}
	return clone.String()
}
