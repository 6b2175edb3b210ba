// Package ratelimit implements C1: a registry of per-host token-bucket
// limiters, created lazily on first use and held for the process lifetime.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

const (
	// DefaultRate is the default steady-state rate for an arbitrary host:
	// 5 requests per second, per spec §4.1.
	DefaultRate = 5
	// LocalhostRate is the override applied to loopback hosts (e.g. a local
	// bypass service), per spec §4.1.
	LocalhostRate = 300
)

// Registry is a map from host to limiter, guarded by a mutex for lazy
// creation. Limiters survive for the process lifetime (spec §4.1).
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{limiters: make(map[string]*rate.Limiter)}
}

func isLocalhost(host string) bool {
	return host == "127.0.0.1" || host == "localhost" || host == "::1"
}

// limiterFor lazily creates (or returns) the limiter for host.
func (r *Registry) limiterFor(host string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[host]; ok {
		return l
	}
	rps := DefaultRate
	if isLocalhost(host) {
		rps = LocalhostRate
	}
	l := rate.NewLimiter(rate.Limit(rps), rps)
	r.limiters[host] = l
	return l
}

// Acquire blocks cooperatively for one token on host's bucket, honoring
// ctx cancellation (FIFO per host, per spec §5).
func (r *Registry) Acquire(ctx context.Context, host string) error {
	return r.limiterFor(host).Wait(ctx)
}

// Remove drops a host's limiter, e.g. when a config change widens its rate.
func (r *Registry) Remove(host string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.limiters, host)
}
