package auth

import (
	"sync"

	"golang.org/x/time/rate"
)

// LimiterPool hands out per-identity rate limiters for inbound frames.
// Over-limit frames are dropped by the caller; the pool itself never blocks.
type LimiterPool struct {
	mu    sync.Mutex
	m     map[string]*rate.Limiter
	rps   float64
	burst int
}

// NewLimiterPool builds a pool with the given per-identity rate. Zero or
// negative values fall back to defaults.
func NewLimiterPool(rps float64, burst int) *LimiterPool {
	if rps <= 0 {
		rps = 50
	}
	if burst <= 0 {
		burst = 100
	}
	return &LimiterPool{rps: rps, burst: burst}
}

func (p *LimiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m == nil {
		p.m = make(map[string]*rate.Limiter)
	}
	if l, ok := p.m[key]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(p.rps), p.burst)
	p.m[key] = l
	return l
}

// Allow reports whether the identity may process another inbound frame.
func (p *LimiterPool) Allow(key string) bool {
	return p.get(key).Allow()
}

// Forget drops the limiter for an identity; called on session teardown so
// the pool does not grow unbounded.
func (p *LimiterPool) Forget(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.m, key)
}
