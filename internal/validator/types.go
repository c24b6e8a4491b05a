// Package validator classifies chat content against the active guardrails
// of a conversation and decides whether it may be shown.
package validator

import (
	"errors"
	"time"

	"github.com/nortal/cmz-chatbots/internal/guardrails"
	"github.com/nortal/cmz-chatbots/internal/moderation"
	"github.com/nortal/cmz-chatbots/internal/rules"
)

// ErrEmptyContent is returned for empty or whitespace-only content.
var ErrEmptyContent = errors.New("validator: content is empty")

// Result is the validation verdict.
type Result string

const (
	ResultApproved  Result = "approved"
	ResultFlagged   Result = "flagged"
	ResultBlocked   Result = "blocked"
	ResultEscalated Result = "escalated"
)

func (r Result) valid() bool {
	switch r {
	case ResultApproved, ResultFlagged, ResultBlocked, ResultEscalated:
		return true
	}
	return false
}

// Context identifies the conversation content belongs to. AgeGroup and
// AnimalID select the guardrails scope.
type Context struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
	AnimalID       string `json:"animal_id"`
	AgeGroup       string `json:"age_group"`
}

// Scope is the guardrails lookup scope of the conversation.
func (c Context) Scope() guardrails.Scope {
	return guardrails.Scope{AgeGroup: c.AgeGroup, AnimalID: c.AnimalID}.Normalize()
}

// Fallback reasons recorded in Outcome.Summary.
const (
	fallbackDeadline         = "deadline_exceeded"
	fallbackRulesFailed      = "rules_unavailable"
	fallbackModerationOutage = "moderation_unavailable"
	fallbackDecisionFailed   = "decision_unavailable"
)

// Outcome is the full validation report.
type Outcome struct {
	ValidationID       string                `json:"validation_id"`
	Timestamp          time.Time             `json:"timestamp"`
	ProcessingTimeMS   int64                 `json:"processing_time_ms"`
	Moderation         *moderation.Result    `json:"moderation_result"`
	TriggeredRules     []rules.TriggeredRule `json:"triggered_rules"`
	AdvisoryRules      []rules.TriggeredRule `json:"advisory_rules"`
	HighestSeverity    guardrails.Severity   `json:"highest_severity"`
	Result             Result                `json:"result"`
	RiskScore          float64               `json:"risk_score"`
	RequiresEscalation bool                  `json:"requires_escalation"`
	Valid              bool                  `json:"valid"`
	Degraded           bool                  `json:"degraded"`
	Fallback           bool                  `json:"fallback,omitempty"`
	ConfigID           string                `json:"config_id,omitempty"`
	ConfigVersion      int                   `json:"config_version,omitempty"`
	Reasons            []string              `json:"reasons,omitempty"`
	Summary            string                `json:"summary"`
	UserMessage        string                `json:"user_message,omitempty"`
}
