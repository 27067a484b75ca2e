// Package rate paces requests to each archive host.
package rate

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// PerHost keeps one token bucket per host. A non-positive rate disables pacing.
type PerHost struct {
	mu        sync.Mutex
	m         map[string]*rate.Limiter
	perSecond float64
	burst     int
}

func New(perSecond float64, burst int) *PerHost {
	if burst < 1 {
		burst = 1
	}
	return &PerHost{
		m:         make(map[string]*rate.Limiter),
		perSecond: perSecond,
		burst:     burst,
	}
}

// Enabled reports whether requests are actually paced.
func (p *PerHost) Enabled() bool { return p != nil && p.perSecond > 0 }

func (p *PerHost) limiter(host string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.m[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(p.perSecond), p.burst)
		p.m[host] = l
	}
	return l
}

func (p *PerHost) Allow(host string) bool {
	if !p.Enabled() {
		return true
	}
	return p.limiter(host).Allow()
}

// Wait blocks until host may be contacted or ctx is done.
func (p *PerHost) Wait(ctx context.Context, host string) error {
	if !p.Enabled() {
		return ctx.Err()
	}
	return p.limiter(host).Wait(ctx)
}
