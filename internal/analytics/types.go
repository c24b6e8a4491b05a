// Package analytics aggregates rule trigger events into hourly buckets and
// scores how useful each rule is.
package analytics

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nortal/cmz-chatbots/internal/guardrails"
)

var (
	ErrInvalidEvent  = errors.New("analytics: invalid event")
	ErrUnknownWindow = errors.New("analytics: unknown window")
)

// Event is one triggered rule in one validation.
type Event struct {
	ValidationID string              `json:"validation_id"`
	RuleID       string              `json:"rule_id"`
	RuleVersion  int                 `json:"rule_version"`
	RuleType     guardrails.RuleType `json:"rule_type"`
	Severity     guardrails.Severity `json:"severity"`
	Confidence   float64             `json:"confidence_score"`
	DetectedAt   time.Time           `json:"detected_at"`
	Blocked      bool                `json:"blocked"`
	Escalated    bool                `json:"escalated"`
}

func (e Event) validate() error {
	switch {
	case e.ValidationID == "":
		return fmt.Errorf("%w: missing validation_id", ErrInvalidEvent)
	case e.RuleID == "":
		return fmt.Errorf("%w: missing rule_id", ErrInvalidEvent)
	case e.DetectedAt.IsZero():
		return fmt.Errorf("%w: missing detected_at", ErrInvalidEvent)
	case e.Confidence < 0 || e.Confidence > 1:
		return fmt.Errorf("%w: confidence %v out of range", ErrInvalidEvent, e.Confidence)
	}
	return nil
}

// HourBucket floors t to the UTC hour.
func HourBucket(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// Bucket holds the additive counters of one rule in one hour.
type Bucket struct {
	RuleID          string    `json:"rule_id"`
	Hour            time.Time `json:"hour_bucket"`
	TriggerCount    int64     `json:"trigger_count"`
	ConfidenceSum   float64   `json:"confidence_sum"`
	Critical        int64     `json:"critical"`
	High            int64     `json:"high"`
	Medium          int64     `json:"medium"`
	Low             int64     `json:"low"`
	EscalationCount int64     `json:"escalation_count"`
	BlockCount      int64     `json:"block_count"`
}

// AverageConfidence is confidence_sum / trigger_count, or 0 for an empty bucket.
func (b Bucket) AverageConfidence() float64 {
	if b.TriggerCount == 0 {
		return 0
	}
	return b.ConfidenceSum / float64(b.TriggerCount)
}

// Window is a supported effectiveness lookback.
type Window string

const (
	Window1h  Window = "1h"
	Window24h Window = "24h"
	Window7d  Window = "7d"
	Window30d Window = "30d"
)

// ParseWindow accepts 1h, 24h, 7d and 30d. Empty means 24h.
func ParseWindow(s string) (Window, error) {
	switch w := Window(strings.ToLower(strings.TrimSpace(s))); w {
	case "":
		return Window24h, nil
	case Window1h, Window24h, Window7d, Window30d:
		return w, nil
	}
	return "", fmt.Errorf("%w %q (want 1h, 24h, 7d or 30d)", ErrUnknownWindow, s)
}

// Duration of the window.
func (w Window) Duration() time.Duration {
	switch w {
	case Window1h:
		return time.Hour
	case Window7d:
		return 7 * 24 * time.Hour
	case Window30d:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Hours is the number of hourly buckets in the window.
func (w Window) Hours() int {
	return int(w.Duration() / time.Hour)
}

// Trend compares a window with the one before it.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// Effectiveness is the answer to an effectiveness query.
type Effectiveness struct {
	RuleID               string    `json:"rule_id"`
	Window               Window    `json:"window"`
	From                 time.Time `json:"from"`
	To                   time.Time `json:"to"`
	TriggerCount         int64     `json:"trigger_count"`
	AverageConfidence    float64   `json:"average_confidence"`
	HourlyConfidence     float64   `json:"hourly_confidence"`
	BlockCount           int64     `json:"block_count"`
	EscalationCount      int64     `json:"escalation_count"`
	BlockRate            float64   `json:"block_rate"`
	EscalationRate       float64   `json:"escalation_rate"`
	SeverityBreakdown    Severity  `json:"severity_breakdown"`
	EffectivenessScore   float64   `json:"effectiveness_score"`
	Trend                Trend     `json:"trend"`
	PreviousTriggerCount int64     `json:"previous_trigger_count"`
	Hourly               []Bucket  `json:"hourly,omitempty"`
}

// Severity is a per-severity trigger breakdown.
type Severity struct {
	Critical int64 `json:"critical"`
	High     int64 `json:"high"`
	Medium   int64 `json:"medium"`
	Low      int64 `json:"low"`
}
