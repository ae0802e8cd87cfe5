// Package ratelimit throttles the callback ingestion endpoint. The teacher
// used a Redis+Lua tiered limiter shared across a fleet of stateless HTTP
// instances; this control plane owns a single coordinator process per
// execution set and has no need to coordinate limit state across nodes, so
// an in-process token bucket (golang.org/x/time/rate) covers the same
// requirement without a Redis round trip on every callback.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// CallbackLimiter rate-limits inbound task callbacks, both globally and
// per-server, so a single misbehaving worker can't starve the others.
type CallbackLimiter struct {
	global *rate.Limiter

	mu       sync.Mutex
	perSrv   map[string]*rate.Limiter
	rps      float64
	burst    int
}

// NewCallbackLimiter builds a limiter allowing rps events per second with
// burst headroom, applied both to the aggregate callback stream and to each
// server address individually.
func NewCallbackLimiter(rps float64, burst int) *CallbackLimiter {
	return &CallbackLimiter{
		global: rate.NewLimiter(rate.Limit(rps), burst),
		perSrv: make(map[string]*rate.Limiter),
		rps:    rps,
		burst:  burst,
	}
}

// Allow reports whether a callback from serverAddr may proceed right now.
// It consumes a token from both the global and the per-server bucket; the
// call only succeeds if both have capacity.
func (l *CallbackLimiter) Allow(serverAddr string) bool {
	if !l.global.Allow() {
		return false
	}
	return l.serverLimiter(serverAddr).Allow()
}

func (l *CallbackLimiter) serverLimiter(serverAddr string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.perSrv[serverAddr]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.rps), l.burst)
		l.perSrv[serverAddr] = lim
	}
	return lim
}
