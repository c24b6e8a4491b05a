package validator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/nortal/cmz-chatbots/internal/analytics"
	"github.com/nortal/cmz-chatbots/internal/guardrails"
	"github.com/nortal/cmz-chatbots/internal/moderation"
	cmzotel "github.com/nortal/cmz-chatbots/internal/otel"
	"github.com/nortal/cmz-chatbots/internal/rules"
)

var tracer = cmzotel.Tracer("github.com/nortal/cmz-chatbots/internal/validator")

// Moderator returns the external moderation verdict.
type Moderator interface {
	Moderate(ctx context.Context, content string) (*moderation.Result, error)
}

// RuleEvaluator runs the custom rules of a config.
type RuleEvaluator interface {
	Evaluate(ctx context.Context, content string, cfg *guardrails.Config) ([]rules.TriggeredRule, error)
}

// ConfigResolver selects the active config for a scope.
type ConfigResolver interface {
	Resolve(ctx context.Context, scope guardrails.Scope) (*guardrails.Config, error)
}

// EventSink receives one analytics event per triggered rule.
type EventSink interface {
	Emit(ctx context.Context, ev analytics.Event)
}

// Validator is the content validator.
type Validator struct {
	moderator Moderator
	rules     RuleEvaluator
	configs   ConfigResolver
	decisions *DecisionEngine
	sink      EventSink
	now       func() time.Time
}

// Option configures a Validator.
type Option func(*Validator)

// WithEventSink sets where trigger events are emitted.
func WithEventSink(s EventSink) Option {
	return func(v *Validator) { v.sink = s }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// New creates a Validator.
func New(moderator Moderator, evaluator RuleEvaluator, configs ConfigResolver, decisions *DecisionEngine, opts ...Option) *Validator {
	v := &Validator{
		moderator: moderator,
		rules:     evaluator,
		configs:   configs,
		decisions: decisions,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// signals collects the concurrent checks.
type signals struct {
	mod       *moderation.Result
	modErr    error
	triggered []rules.TriggeredRule
}

// Validate classifies content for the conversation in vc.
//
// It returns ErrEmptyContent for blank input and an error wrapping
// guardrails.ErrConfigurationMissing when no config applies. Every other
// failure, including the caller's deadline, produces an escalated fallback
// outcome instead of an error.
func (v *Validator) Validate(ctx context.Context, content string, vc Context) (*Outcome, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}

	start := v.now()
	id := "val_" + strings.ReplaceAll(uuid.New().String(), "-", "")
	scope := vc.Scope()
	ctx, span := tracer.Start(ctx, "validator.validate",
		trace.WithAttributes(
			cmzotel.GuardrailValidationID.String(id),
			cmzotel.GuardrailAgeGroup.String(scope.AgeGroup),
			cmzotel.GuardrailAnimalID.String(scope.AnimalID),
			attribute.Int("validator.content_length", len(content)),
		))
	defer span.End()

	cfg, err := v.configs.Resolve(ctx, scope)
	if err != nil {
		if ctx.Err() != nil {
			return v.finish(ctx, span, v.fallback(id, start, nil, fallbackDeadline), vc), nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "configuration missing")
		log.Error().Err(err).Str("validation_id", id).Str("scope", scope.Key()).Msg("validation_config_missing")
		if errors.Is(err, guardrails.ErrConfigurationMissing) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", guardrails.ErrConfigurationMissing, err)
	}
	span.SetAttributes(
		cmzotel.GuardrailConfigID.String(cfg.ID),
		attribute.Int("guardrails.version", cfg.Version),
	)

	sig, err := v.gather(ctx, content, cfg)
	if err != nil {
		reason := fallbackRulesFailed
		if ctx.Err() != nil {
			reason = fallbackDeadline
		}
		log.Warn().Err(err).Str("validation_id", id).Str("reason", reason).Msg("validation_fallback")
		return v.finish(ctx, span, v.fallback(id, start, cfg, reason), vc), nil
	}

	degraded := sig.modErr != nil
	if degraded {
		degradedTotal.Add(ctx, 1)
		if cfg.Params.FailClosedOnModerationOutage {
			return v.finish(ctx, span, v.fallback(id, start, cfg, fallbackModerationOutage), vc), nil
		}
	}

	rules.Sort(sig.triggered)
	blocking, advisory := rules.Split(sig.triggered)
	highest := rules.HighestSeverity(blocking)
	risk := riskScore(sig.mod, highest, degraded, cfg.Params.ModerationSafetyMargin)

	decision, err := v.decisions.Decide(ctx, blocking, sig.mod, risk, cfg.Params)
	if err != nil {
		span.RecordError(err)
		reason := fallbackDecisionFailed
		if ctx.Err() != nil {
			reason = fallbackDeadline
		}
		log.Error().Err(err).Str("validation_id", id).Msg("validation_decision_failed")
		return v.finish(ctx, span, v.fallback(id, start, cfg, reason), vc), nil
	}

	out := &Outcome{
		ValidationID:       id,
		Timestamp:          start,
		Moderation:         sig.mod,
		TriggeredRules:     blocking,
		AdvisoryRules:      advisory,
		HighestSeverity:    highest,
		Result:             decision.Result,
		RiskScore:          risk,
		RequiresEscalation: decision.Result == ResultEscalated,
		Valid:              decision.Result == ResultApproved || decision.Result == ResultFlagged,
		Degraded:           degraded,
		ConfigID:           cfg.ID,
		ConfigVersion:      cfg.Version,
		Reasons:            decision.Reasons,
	}
	out.Summary = summary(out)
	out.UserMessage = userMessage(out, cfg.Params)
	out.ProcessingTimeMS = v.now().Sub(start).Milliseconds()

	v.emit(ctx, out)
	return v.finish(ctx, span, out, vc), nil
}

// gather runs moderation and rules concurrently. Moderation failures are
// reported in signals; a rules failure or the caller's deadline is returned
// as an error. gather never waits past ctx.
func (v *Validator) gather(ctx context.Context, content string, cfg *guardrails.Config) (*signals, error) {
	sig := &signals{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sig.mod, sig.modErr = v.moderator.Moderate(gctx, content)
		if sig.modErr != nil {
			sig.mod = nil
			log.Warn().Err(sig.modErr).Msg("validation_moderation_degraded")
		}
		return nil
	})
	g.Go(func() error {
		var err error
		sig.triggered, err = v.rules.Evaluate(gctx, content, cfg)
		return err
	})

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			return nil, err
		}
		return sig, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// riskScore is max(moderation max score, severity weight), plus the safety
// margin when moderation was unavailable, clamped to [0,1].
func riskScore(mod *moderation.Result, highest guardrails.Severity, degraded bool, margin float64) float64 {
	risk := highest.Weight()
	if mod != nil && mod.MaxScore > risk {
		risk = mod.MaxScore
	}
	if degraded {
		risk += margin
	}
	switch {
	case risk < 0:
		return 0
	case risk > 1:
		return 1
	}
	return risk
}

// fallback is the safe outcome used when a full decision is not possible.
func (v *Validator) fallback(id string, start time.Time, cfg *guardrails.Config, reason string) *Outcome {
	fallbackTotal.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
	msg := guardrails.DefaultEscalatedMessage
	out := &Outcome{
		ValidationID:       id,
		Timestamp:          start,
		TriggeredRules:     []rules.TriggeredRule{},
		AdvisoryRules:      []rules.TriggeredRule{},
		HighestSeverity:    guardrails.SeverityNone,
		Result:             ResultEscalated,
		RiskScore:          1.0,
		RequiresEscalation: true,
		Degraded:           true,
		Fallback:           true,
		Summary:            "escalated for review: " + reason,
	}
	if cfg != nil {
		out.ConfigID = cfg.ID
		out.ConfigVersion = cfg.Version
		if cfg.Params.EscalatedMessage != "" {
			msg = cfg.Params.EscalatedMessage
		}
	}
	out.UserMessage = msg
	out.ProcessingTimeMS = v.now().Sub(start).Milliseconds()
	return out
}

func (v *Validator) finish(ctx context.Context, span trace.Span, out *Outcome, vc Context) *Outcome {
	validationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", string(out.Result))))
	validationDuration.Record(ctx, float64(out.ProcessingTimeMS))
	span.SetAttributes(
		cmzotel.GuardrailResult.String(string(out.Result)),
		cmzotel.GuardrailRiskScore.Float64(out.RiskScore),
		cmzotel.GuardrailDegraded.Bool(out.Degraded),
		attribute.Int("validator.triggered_rules", len(out.TriggeredRules)),
		attribute.Int("validator.advisory_rules", len(out.AdvisoryRules)),
	)
	log.Info().
		Str("validation_id", out.ValidationID).
		Str("conversation_id", vc.ConversationID).
		Str("result", string(out.Result)).
		Float64("risk_score", out.RiskScore).
		Str("highest_severity", out.HighestSeverity.String()).
		Int("triggered_rules", len(out.TriggeredRules)).
		Bool("degraded", out.Degraded).
		Int64("processing_time_ms", out.ProcessingTimeMS).
		Func(cmzotel.LogTraceFields(ctx)).
		Msg("validation_completed")
	return out
}

// emit sends one event per triggered rule. Only blocking rules are credited
// with the block or escalation. The sink must not block.
func (v *Validator) emit(ctx context.Context, out *Outcome) {
	if v.sink == nil {
		return
	}
	all := make([]rules.TriggeredRule, 0, len(out.TriggeredRules)+len(out.AdvisoryRules))
	all = append(all, out.TriggeredRules...)
	all = append(all, out.AdvisoryRules...)
	for _, t := range all {
		decisive := t.RuleType.Blocking()
		v.sink.Emit(ctx, analytics.Event{
			ValidationID: out.ValidationID,
			RuleID:       t.RuleID,
			RuleVersion:  t.RuleVersion,
			RuleType:     t.RuleType,
			Severity:     t.Severity,
			Confidence:   t.Confidence,
			DetectedAt:   t.DetectedAt,
			Blocked:      decisive && out.Result == ResultBlocked,
			Escalated:    decisive && out.Result == ResultEscalated,
		})
	}
}

func summary(out *Outcome) string {
	var b strings.Builder
	b.WriteString(string(out.Result))
	if n := len(out.TriggeredRules); n > 0 {
		fmt.Fprintf(&b, ": %d rule(s) triggered, highest severity %s", n, out.HighestSeverity)
	} else {
		b.WriteString(": no rules triggered")
	}
	if n := len(out.AdvisoryRules); n > 0 {
		fmt.Fprintf(&b, ", %d advisory", n)
	}
	if out.Moderation != nil && out.Moderation.Flagged {
		b.WriteString(", moderation flagged")
	}
	if out.Degraded {
		b.WriteString(", moderation unavailable")
	}
	return b.String()
}

// userMessage picks the text shown to the child. Internal details never
// reach it.
func userMessage(out *Outcome, p guardrails.Params) string {
	pick := func(msg, def string) string {
		if msg != "" {
			return msg
		}
		return def
	}
	switch out.Result {
	case ResultBlocked:
		return pick(p.BlockedMessage, guardrails.DefaultBlockedMessage)
	case ResultEscalated:
		return pick(p.EscalatedMessage, guardrails.DefaultEscalatedMessage)
	}
	for _, a := range out.AdvisoryRules {
		if a.RuleType == guardrails.RuleDiscourage {
			return pick(p.AdvisoryMessage, guardrails.DefaultAdvisoryMessage)
		}
	}
	return ""
}
