// Package rules evaluates the custom rules of a guardrails config against text.
package rules

import (
	"sort"
	"time"

	"github.com/nortal/cmz-chatbots/internal/guardrails"
)

// Default confidences per match method.
const (
	KeywordConfidence = 0.9
	PhraseConfidence  = 0.85
	RegexConfidence   = 0.8
	DefaultSimilarity = 0.6
	maxTriggerContext = 48
)

// TriggeredRule records one rule match in one validation. It references the
// rule version that was active at evaluation time.
type TriggeredRule struct {
	RuleID         string              `json:"rule_id"`
	RuleVersion    int                 `json:"rule_version"`
	RuleType       guardrails.RuleType `json:"rule_type"`
	Severity       guardrails.Severity `json:"severity"`
	Confidence     float64             `json:"confidence_score"`
	Category       string              `json:"category"`
	Priority       int                 `json:"priority"`
	TriggerContext string              `json:"trigger_context"`
	DetectedAt     time.Time           `json:"detected_at"`
}

// Sort orders triggered rules by severity desc, priority asc, rule id asc.
func Sort(triggered []TriggeredRule) {
	sort.SliceStable(triggered, func(i, j int) bool {
		a, b := triggered[i], triggered[j]
		if a.Severity != b.Severity {
			return a.Severity > b.Severity
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.RuleID < b.RuleID
	})
}

// Split separates blocking (ALWAYS/NEVER) matches from advisory ones.
func Split(triggered []TriggeredRule) (blocking, advisory []TriggeredRule) {
	blocking = []TriggeredRule{}
	advisory = []TriggeredRule{}
	for _, t := range triggered {
		if t.RuleType.Blocking() {
			blocking = append(blocking, t)
		} else {
			advisory = append(advisory, t)
		}
	}
	return blocking, advisory
}

// HighestSeverity returns the maximum severity among triggered, or none.
func HighestSeverity(triggered []TriggeredRule) guardrails.Severity {
	highest := guardrails.SeverityNone
	for _, t := range triggered {
		if t.Severity > highest {
			highest = t.Severity
		}
	}
	return highest
}

// CountSeverity counts triggered rules with exactly severity s.
func CountSeverity(triggered []TriggeredRule, s guardrails.Severity) int {
	n := 0
	for _, t := range triggered {
		if t.Severity == s {
			n++
		}
	}
	return n
}
