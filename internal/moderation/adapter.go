package moderation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	cmzotel "github.com/nortal/cmz-chatbots/internal/otel"
)

var tracer = cmzotel.Tracer("github.com/nortal/cmz-chatbots/internal/moderation")

// Defaults for Adapter.
const (
	DefaultTimeout  = 2 * time.Second
	DefaultAttempts = 3
	DefaultCacheTTL = 30 * time.Second
	cacheSize       = 1024
)

// Adapter adds timeouts, retries and caching around a Provider.
type Adapter struct {
	provider       Provider
	timeout        time.Duration
	attempts       int
	initialBackoff time.Duration
	cache          *expirable.LRU[string, *Result]
	group          singleflight.Group
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithAttempts sets the total number of attempts.
func WithAttempts(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.attempts = n
		}
	}
}

// WithCacheTTL sets how long identical content reuses a result. Zero disables the cache.
func WithCacheTTL(ttl time.Duration) Option {
	return func(a *Adapter) {
		if ttl <= 0 {
			a.cache = nil
			return
		}
		a.cache = expirable.NewLRU[string, *Result](cacheSize, nil, ttl)
	}
}

// WithInitialBackoff sets the first retry delay before jitter.
func WithInitialBackoff(d time.Duration) Option {
	return func(a *Adapter) { a.initialBackoff = d }
}

// NewAdapter wraps provider with the default policy, then applies opts.
func NewAdapter(provider Provider, opts ...Option) *Adapter {
	a := &Adapter{
		provider:       provider,
		timeout:        DefaultTimeout,
		attempts:       DefaultAttempts,
		initialBackoff: 100 * time.Millisecond,
		cache:          expirable.NewLRU[string, *Result](cacheSize, nil, DefaultCacheTTL),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Moderate returns the provider verdict for content. When every attempt
// fails it returns an *UnavailableError.
func (a *Adapter) Moderate(ctx context.Context, content string) (*Result, error) {
	key := digest(content)
	ctx, span := tracer.Start(ctx, "moderation.moderate",
		trace.WithAttributes(
			attribute.String("moderation.provider", a.provider.Name()),
			attribute.String("moderation.content_digest", key[:16]),
		))
	defer span.End()

	if a.cache != nil {
		if cached, ok := a.cache.Get(key); ok {
			cacheHits.Add(ctx, 1)
			span.SetAttributes(attribute.Bool("moderation.cached", true))
			out := *cached
			out.Cached = true
			return &out, nil
		}
	}

	// The shared call outlives any one caller's cancellation; each caller
	// still stops waiting on its own ctx.
	ch := a.group.DoChan(key, func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.retryBudget())
		defer cancel()
		res, err := a.classifyWithRetry(callCtx, content, key)
		if err == nil && a.cache != nil {
			a.cache.Add(key, res)
		}
		return res, err
	})

	var v interface{}
	select {
	case r := <-ch:
		span.SetAttributes(attribute.Bool("moderation.shared", r.Shared))
		if r.Err != nil {
			span.RecordError(r.Err)
			span.SetStatus(codes.Error, "moderation unavailable")
			return nil, r.Err
		}
		v = r.Val
	case <-ctx.Done():
		err := &UnavailableError{Provider: a.provider.Name(), Err: ctx.Err()}
		span.RecordError(err)
		span.SetStatus(codes.Error, "caller gave up")
		return nil, err
	}
	res := v.(*Result)
	span.SetAttributes(
		attribute.Bool("moderation.flagged", res.Flagged),
		attribute.Float64("moderation.max_score", res.MaxScore),
	)
	return res, nil
}

// retryBudget bounds a shared call: every attempt timing out plus the
// largest backoff between attempts.
func (a *Adapter) retryBudget() time.Duration {
	return time.Duration(a.attempts) * 2 * a.timeout
}

func (a *Adapter) classifyWithRetry(ctx context.Context, content, key string) (*Result, error) {
	start := time.Now()
	attempts := 0

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.initialBackoff
	b.RandomizationFactor = 0.5
	b.Multiplier = 2
	b.MaxInterval = a.timeout

	op := func() (*Result, error) {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		res, err := a.provider.Classify(attemptCtx, content)
		if err == nil {
			return res, nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return nil, backoff.Permanent(perm.err)
		}
		log.Debug().Err(err).Int("attempt", attempts).Str("content_digest", key[:16]).Msg("moderation_attempt_failed")
		return nil, err
	}

	res, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(a.attempts)),
	)
	requestDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	if err != nil {
		unavailableTotal.Add(ctx, 1)
		log.Warn().
			Err(err).
			Str("provider", a.provider.Name()).
			Int("attempts", attempts).
			Str("content_digest", key[:16]).
			Func(cmzotel.LogTraceFields(ctx)).
			Msg("moderation_unavailable")
		return nil, &UnavailableError{Provider: a.provider.Name(), Attempts: attempts, Err: err}
	}
	return res, nil
}

// digest keys the cache and logs so raw content never appears in either.
func digest(content string) string {
	h := sha256.Sum256([]byte(content))
	return hex.EncodeToString(h[:])
}
