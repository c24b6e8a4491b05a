package guardrails

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultPropagationDelay bounds how stale a resolved config may be.
const DefaultPropagationDelay = 2 * time.Second

// ActiveSource is the read side of Store used by Resolver.
type ActiveSource interface {
	Active(ctx context.Context, scope Scope) (*Config, error)
}

// Resolver picks the most specific active config for a conversation scope,
// caching lookups for a short propagation delay.
type Resolver struct {
	source ActiveSource
	cache  *expirable.LRU[string, *Config]
}

// NewResolver creates a Resolver. ttl <= 0 uses DefaultPropagationDelay.
func NewResolver(source ActiveSource, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = DefaultPropagationDelay
	}
	return &Resolver{
		source: source,
		cache:  expirable.NewLRU[string, *Config](256, nil, ttl),
	}
}

// Resolve walks the scope candidates (exact, age group, animal, default)
// and returns the first active config. It returns ErrConfigurationMissing
// when none exists. A candidate whose active version fails signature
// verification stops the walk: it also yields ErrConfigurationMissing
// rather than falling back to a less specific config.
func (r *Resolver) Resolve(ctx context.Context, scope Scope) (*Config, error) {
	scope = scope.Normalize()
	if cfg, ok := r.cache.Get(scope.Key()); ok {
		return cfg, nil
	}

	ctx, span := tracer.Start(ctx, "guardrails.resolve",
		trace.WithAttributes(attribute.String("guardrails.scope", scope.Key())))
	defer span.End()

	for i, candidate := range scope.Candidates() {
		cfg, err := r.source.Active(ctx, candidate)
		if errors.Is(err, ErrSignatureInvalid) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "signature invalid")
			log.Error().
				Str("requested_scope", scope.Key()).
				Str("tampered_scope", candidate.Key()).
				Msg("guardrails_resolve_refused")
			if errors.Is(err, ErrConfigurationMissing) {
				return nil, fmt.Errorf("resolving guardrails for %s: %w", scope.Key(), err)
			}
			return nil, fmt.Errorf("resolving guardrails for %s: %w: %w", scope.Key(), ErrConfigurationMissing, err)
		}
		if errors.Is(err, ErrConfigurationMissing) {
			continue
		}
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("resolving guardrails for %s: %w", scope.Key(), err)
		}
		if i > 0 {
			resolveFallbacks.Add(ctx, 1)
			log.Debug().
				Str("requested_scope", scope.Key()).
				Str("resolved_scope", candidate.Key()).
				Msg("guardrails_scope_fallback")
		}
		span.SetAttributes(attribute.String("guardrails.resolved_scope", candidate.Key()))
		r.cache.Add(scope.Key(), cfg)
		return cfg, nil
	}
	return nil, fmt.Errorf("%w for scope %s or any fallback", ErrConfigurationMissing, scope.Key())
}

// Invalidate drops cached resolutions so a new version is seen immediately.
func (r *Resolver) Invalidate() {
	r.cache.Purge()
}
