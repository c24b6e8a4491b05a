package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nortal/cmz-chatbots/internal/guardrails"
	cmzotel "github.com/nortal/cmz-chatbots/internal/otel"
)

var tracer = cmzotel.Tracer("github.com/nortal/cmz-chatbots/internal/analytics")

// Defaults for Aggregator.
const (
	DefaultDedupWindow      = 48 * time.Hour
	DefaultVolumeSaturation = 100
	DefaultRetention        = 30 * 24 * time.Hour
)

// ErrRuleRequired is returned by Effectiveness for an empty rule id.
var ErrRuleRequired = errors.New("analytics: rule_id is required")

// Store persists hourly buckets. Ingest must be atomic: the dedup check and
// the additive bucket update happen together or not at all.
type Store interface {
	// Ingest applies ev to its hour bucket unless (validation_id, rule_id)
	// was already seen within dedupWindow. It reports whether ev was applied.
	Ingest(ctx context.Context, ev Event, dedupWindow time.Duration) (bool, error)
	// Buckets returns non-empty buckets for ruleID with from <= hour < to, oldest first.
	Buckets(ctx context.Context, ruleID string, from, to time.Time) ([]Bucket, error)
	// Prune drops buckets older than bucketsBefore and dedup keys older than seenBefore.
	Prune(ctx context.Context, bucketsBefore, seenBefore time.Time) (int64, error)
	Close() error
}

// Aggregator ingests trigger events and answers effectiveness queries.
type Aggregator struct {
	store       Store
	dedupWindow time.Duration
	saturation  float64
	retention   time.Duration
	now         func() time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithDedupWindow sets how long a (validation_id, rule_id) pair is remembered.
func WithDedupWindow(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.dedupWindow = d
		}
	}
}

// WithVolumeSaturation sets the trigger count at which the volume factor reaches 1.
func WithVolumeSaturation(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.saturation = float64(n)
		}
	}
}

// WithRetention sets how long hourly buckets are kept.
func WithRetention(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.retention = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// NewAggregator creates an Aggregator over store.
func NewAggregator(store Store, opts ...Option) *Aggregator {
	a := &Aggregator{
		store:       store,
		dedupWindow: DefaultDedupWindow,
		saturation:  DefaultVolumeSaturation,
		retention:   DefaultRetention,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Record ingests one event. Replaying an event with the same
// (validation_id, rule_id) inside the dedup window is a no-op.
func (a *Aggregator) Record(ctx context.Context, ev Event) error {
	ctx, span := tracer.Start(ctx, "analytics.record",
		trace.WithAttributes(
			cmzotel.GuardrailRuleID.String(ev.RuleID),
			cmzotel.GuardrailValidationID.String(ev.ValidationID),
		))
	defer span.End()

	if err := ev.validate(); err != nil {
		ingestFailures.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid event")
		return err
	}
	ev.DetectedAt = ev.DetectedAt.UTC()

	applied, err := a.store.Ingest(ctx, ev, a.dedupWindow)
	if err != nil {
		ingestFailures.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "ingest failed")
		return fmt.Errorf("ingesting event: %w", err)
	}
	span.SetAttributes(attribute.Bool("analytics.duplicate", !applied))
	if !applied {
		ingestDuplicates.Add(ctx, 1)
		log.Debug().
			Str("validation_id", ev.ValidationID).
			Str("rule_id", ev.RuleID).
			Msg("analytics_event_duplicate")
		return nil
	}
	ingested.Add(ctx, 1)
	return nil
}

// Effectiveness scores ruleID over window. With detail set, the hourly
// buckets of the window are included.
func (a *Aggregator) Effectiveness(ctx context.Context, ruleID string, window Window, detail bool) (*Effectiveness, error) {
	if ruleID == "" {
		return nil, ErrRuleRequired
	}
	if _, err := ParseWindow(string(window)); err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "analytics.effectiveness",
		trace.WithAttributes(
			cmzotel.GuardrailRuleID.String(ruleID),
			attribute.String("analytics.window", string(window)),
		))
	defer span.End()

	to := HourBucket(a.now()).Add(time.Hour)
	from := to.Add(-window.Duration())
	prevFrom := from.Add(-window.Duration())

	current, err := a.store.Buckets(ctx, ruleID, from, to)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("loading buckets: %w", err)
	}
	previous, err := a.store.Buckets(ctx, ruleID, prevFrom, from)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("loading previous buckets: %w", err)
	}

	eff := summarize(current, window.Hours())
	prev := summarize(previous, window.Hours())
	eff.RuleID = ruleID
	eff.Window = window
	eff.From = from
	eff.To = to
	eff.EffectivenessScore = score(eff, a.saturation)
	eff.PreviousTriggerCount = prev.TriggerCount
	eff.Trend = trend(eff.TriggerCount, prev.TriggerCount)
	if detail {
		eff.Hourly = current
		if eff.Hourly == nil {
			eff.Hourly = []Bucket{}
		}
	}

	span.SetAttributes(
		attribute.Int64("analytics.trigger_count", eff.TriggerCount),
		attribute.Float64("analytics.effectiveness_score", eff.EffectivenessScore),
	)
	return &eff, nil
}

// Prune applies the retention period to buckets and the dedup window to
// dedup keys.
func (a *Aggregator) Prune(ctx context.Context) (int64, error) {
	now := a.now()
	n, err := a.store.Prune(ctx, HourBucket(now.Add(-a.retention)), now.Add(-a.dedupWindow))
	if err != nil {
		return 0, fmt.Errorf("pruning analytics: %w", err)
	}
	if n > 0 {
		log.Info().Int64("removed", n).Dur("retention", a.retention).Msg("analytics_retention_applied")
	}
	return n, nil
}

// severityField names the counter incremented for s.
func severityField(s guardrails.Severity) string {
	switch s {
	case guardrails.SeverityCritical:
		return "critical"
	case guardrails.SeverityHigh:
		return "high"
	case guardrails.SeverityMedium:
		return "medium"
	default:
		return "low"
	}
}
