// Package tenant enforces per-tenant request rate limits on the HTTP API.
package tenant

import (
	"errors"
	"sync"

	"golang.org/x/time/rate"
)

var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrTenantMissing     = errors.New("tenant id missing")
)

// Limiter hands out one token bucket per tenant, created on first use.
type Limiter struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewLimiter creates a Limiter. rps <= 0 disables limiting.
func NewLimiter(rps float64, burst int) *Limiter {
	if burst <= 0 {
		burst = int(rps * 2)
		if burst < 1 {
			burst = 1
		}
	}
	return &Limiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow consumes one token for tenantID.
func (l *Limiter) Allow(tenantID string) error {
	if l == nil || l.rps <= 0 {
		return nil
	}
	if tenantID == "" {
		return ErrTenantMissing
	}
	if !l.get(tenantID).Allow() {
		return ErrRateLimitExceeded
	}
	return nil
}

// Limit reports the configured burst, used for X-RateLimit-Limit.
func (l *Limiter) Limit() int {
	if l == nil {
		return 0
	}
	return l.burst
}

func (l *Limiter) get(tenantID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[tenantID]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[tenantID] = lim
	}
	return lim
}
