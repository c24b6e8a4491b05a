// Package profile keeps a compact per-user personalization profile. The
// extractor pulls signals from a conversation turn, the summarizer merges
// them and recompresses under a token ceiling, and the store persists
// profiles and write-once archives.
package profile

import (
	"errors"
	"time"
)

var (
	// ErrQualityFloor means a compression lost too many key quotes or
	// interests. It is recorded in Report and recovered by truncation.
	ErrQualityFloor = errors.New("profile: compression below quality floor")

	ErrNotFound        = errors.New("profile: not found")
	ErrVersionConflict = errors.New("profile: version conflict")
	ErrArchiveExists   = errors.New("profile: archive already exists")
	ErrUserRequired    = errors.New("profile: user id required")
)

// LearningLevel is a coarse reading-level estimate.
type LearningLevel string

const (
	LevelUnknown      LearningLevel = ""
	LevelBeginner     LearningLevel = "beginner"
	LevelIntermediate LearningLevel = "intermediate"
	LevelAdvanced     LearningLevel = "advanced"
)

// Profile is the durable personalization record of one user.
type Profile struct {
	UserID             string        `json:"user_id"`
	Interests          []string      `json:"interests"`
	LearningLevel      LearningLevel `json:"learning_level,omitempty"`
	RecentSummary      string        `json:"recent_summary"`
	HistoricalSummary  string        `json:"historical_summary"`
	KeyQuotes          []string      `json:"key_quotes"`
	TokenCountEstimate int           `json:"token_count_estimate"`
	ConversationCount  int           `json:"conversation_count"`
	LastConversationID string        `json:"last_conversation_id,omitempty"`
	Version            int           `json:"version"`
	LastUpdated        time.Time     `json:"last_updated"`
}

func (p *Profile) clone() *Profile {
	c := *p
	c.Interests = append([]string(nil), p.Interests...)
	c.KeyQuotes = append([]string(nil), p.KeyQuotes...)
	return &c
}

// Archive is a write-once snapshot of a displaced historical summary.
type Archive struct {
	UserID            string    `json:"user_id"`
	ArchivedAt        time.Time `json:"archived_at"`
	Summary           string    `json:"summary"`
	TokenCount        int       `json:"token_count"`
	ConversationCount int       `json:"conversation_count"`
	Reason            string    `json:"reason"`
}

// Turn is one user message and the persona's reply.
type Turn struct {
	UserID           string `json:"user_id"`
	ConversationID   string `json:"conversation_id"`
	AnimalID         string `json:"animal_id"`
	UserMessage      string `json:"user_message"`
	AssistantMessage string `json:"assistant_message"`
	// ConversationCount overrides the counter kept on the profile when > 0.
	ConversationCount int `json:"conversation_count,omitempty"`
}

// Signals are the personalization hints found in one turn.
type Signals struct {
	Interests     []string      `json:"interests"`
	Preferences   []string      `json:"preferences"`
	Quotes        []string      `json:"quotes"`
	LearningLevel LearningLevel `json:"learning_level,omitempty"`
	Summary       string        `json:"summary"`
}

// Empty reports whether the turn carried nothing worth keeping.
func (s Signals) Empty() bool {
	return len(s.Interests) == 0 && len(s.Preferences) == 0 && len(s.Quotes) == 0 && s.Summary == ""
}

// Report describes what Summarize did.
type Report struct {
	Compressed   bool    `json:"compressed"`
	Truncated    bool    `json:"truncated"`
	Reason       string  `json:"reason,omitempty"`
	QualityScore float64 `json:"quality_score"`
	TokensBefore int     `json:"tokens_before"`
	TokensAfter  int     `json:"tokens_after"`
	Error        string  `json:"error,omitempty"`

	// Archive must be written before the profile it displaces.
	Archive *Archive `json:"archive,omitempty"`
	Err     error    `json:"-"`
}

// Truncation reasons.
const (
	ReasonQualityFloor      = "quality_floor"
	ReasonCompletionFailed  = "completion_failed"
	ReasonCompletionTimeout = "completion_timeout"
	ReasonRateLimited       = "rate_limited"
	ReasonNoCompleter       = "no_completion_service"
	ReasonOverBudget        = "compression_over_budget"
)
