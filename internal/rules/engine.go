package rules

import (
	"context"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nortal/cmz-chatbots/internal/classifier"
	"github.com/nortal/cmz-chatbots/internal/guardrails"
	cmzotel "github.com/nortal/cmz-chatbots/internal/otel"
)

var tracer = cmzotel.Tracer("github.com/nortal/cmz-chatbots/internal/rules")

type compiledRule struct {
	rule    guardrails.Rule
	matcher matcher
}

// Engine evaluates active rules. Compiled matchers are cached per config version.
type Engine struct {
	scanner *classifier.Scanner
	cache   *lru.Cache[string, []compiledRule]
	now     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source used for DetectedAt.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine. scanner backs the pii match method and may be
// nil when no config uses it.
func NewEngine(scanner *classifier.Scanner, opts ...Option) *Engine {
	cache, _ := lru.New[string, []compiledRule](64)
	e := &Engine{
		scanner: scanner,
		cache:   cache,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Evaluate returns one TriggeredRule per active rule that matches content,
// in deterministic order. Rules are independent; several may trigger.
func (e *Engine) Evaluate(ctx context.Context, content string, cfg *guardrails.Config) ([]TriggeredRule, error) {
	ctx, span := tracer.Start(ctx, "rules.evaluate",
		trace.WithAttributes(
			cmzotel.GuardrailConfigID.String(cfg.ID),
			attribute.Int("guardrails.version", cfg.Version),
		))
	defer span.End()

	compiled, err := e.compile(cfg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "compile failed")
		return nil, err
	}

	lower := strings.ToLower(content)
	detectedAt := e.now()
	triggered := []TriggeredRule{}
	for _, cr := range compiled {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("evaluating rules: %w", err)
		}
		m, ok := cr.matcher.match(ctx, content, lower)
		if !ok {
			continue
		}
		triggered = append(triggered, TriggeredRule{
			RuleID:         cr.rule.ID,
			RuleVersion:    cr.rule.Version,
			RuleType:       cr.rule.Type,
			Severity:       cr.rule.Severity,
			Confidence:     clamp01(m.confidence),
			Category:       cr.rule.Category,
			Priority:       cr.rule.Priority,
			TriggerContext: m.context,
			DetectedAt:     detectedAt,
		})
	}
	Sort(triggered)

	span.SetAttributes(
		attribute.Int("rules.evaluated", len(compiled)),
		attribute.Int("rules.triggered", len(triggered)),
	)
	return triggered, nil
}

func (e *Engine) compile(cfg *guardrails.Config) ([]compiledRule, error) {
	key := cfg.CacheKey()
	if cached, ok := e.cache.Get(key); ok {
		return cached, nil
	}
	active := cfg.ActiveRules()
	out := make([]compiledRule, 0, len(active))
	for _, r := range active {
		m, err := compileMatcher(r.Match, e.scanner)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.ID, err)
		}
		out = append(out, compiledRule{rule: r, matcher: m})
	}
	e.cache.Add(key, out)
	return out, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
