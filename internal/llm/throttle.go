package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Throttled limits completion calls with a process-wide token bucket.
type Throttled struct {
	Provider
	limiter *rate.Limiter
}

// NewThrottled wraps p. rps <= 0 disables throttling.
func NewThrottled(p Provider, rps float64, burst int) *Throttled {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	return &Throttled{Provider: p, limiter: rate.NewLimiter(limit, burst)}
}

// Generate waits for a token, then delegates. If ctx ends first it returns
// ErrRateLimited.
func (t *Throttled) Generate(ctx context.Context, req *Request) (*Response, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		throttled.Add(ctx, 1)
		return nil, fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	return t.Provider.Generate(ctx, req)
}
