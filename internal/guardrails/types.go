// Package guardrails models versioned rule sets and their storage.
//
// A Config is immutable once written. Creating a new version for a scope
// deactivates the previous one in the same transaction, so at most one
// version is active per (age_group, animal_id) scope.
package guardrails

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Severity is an ordinal from none to critical.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = [...]string{"none", "low", "medium", "high", "critical"}

// ParseSeverity converts a name such as "high" to a Severity.
func ParseSeverity(s string) (Severity, error) {
	for i, n := range severityNames {
		if strings.EqualFold(s, n) {
			return Severity(i), nil
		}
	}
	return SeverityNone, fmt.Errorf("unknown severity %q", s)
}

func (s Severity) String() string {
	if s < SeverityNone || s > SeverityCritical {
		return "none"
	}
	return severityNames[s]
}

// Weight is the risk contribution of the severity.
func (s Severity) Weight() float64 {
	switch s {
	case SeverityCritical:
		return 1.0
	case SeverityHigh:
		return 0.75
	case SeverityMedium:
		return 0.5
	case SeverityLow:
		return 0.25
	default:
		return 0
	}
}

func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Severity) UnmarshalText(b []byte) error {
	v, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// RuleType is the closed set of rule kinds.
type RuleType string

const (
	RuleAlways     RuleType = "ALWAYS"
	RuleNever      RuleType = "NEVER"
	RuleEncourage  RuleType = "ENCOURAGE"
	RuleDiscourage RuleType = "DISCOURAGE"
)

// Blocking reports whether matches of this type take part in block and
// escalation decisions. ENCOURAGE and DISCOURAGE are advisory only.
func (t RuleType) Blocking() bool {
	return t == RuleAlways || t == RuleNever
}

// Valid reports whether t is one of the known rule types.
func (t RuleType) Valid() bool {
	switch t {
	case RuleAlways, RuleNever, RuleEncourage, RuleDiscourage:
		return true
	}
	return false
}

// MatchMethod selects how a rule is evaluated against content.
type MatchMethod string

const (
	MatchKeyword    MatchMethod = "keyword"
	MatchPhrase     MatchMethod = "phrase"
	MatchRegex      MatchMethod = "regex"
	MatchSimilarity MatchMethod = "similarity"
	MatchPII        MatchMethod = "pii"
)

// MatchSpec describes the match criteria of a rule.
type MatchSpec struct {
	Method     MatchMethod `json:"method" yaml:"method"`
	Terms      []string    `json:"terms,omitempty" yaml:"terms,omitempty"`
	Pattern    string      `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Threshold  float64     `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	Entities   []string    `json:"entities,omitempty" yaml:"entities,omitempty"`
	Confidence *float64    `json:"confidence,omitempty" yaml:"confidence,omitempty"`
}

// Rule is one custom guardrail.
type Rule struct {
	ID          string    `json:"rule_id" yaml:"rule_id"`
	Type        RuleType  `json:"type" yaml:"type"`
	Category    string    `json:"category" yaml:"category"`
	Severity    Severity  `json:"severity" yaml:"severity"`
	Match       MatchSpec `json:"match" yaml:"match"`
	Priority    int       `json:"priority" yaml:"priority"`
	IsActive    bool      `json:"is_active" yaml:"is_active"`
	Version     int       `json:"version" yaml:"version"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
}

// UnmarshalYAML defaults IsActive to true and Version to 1.
func (r *Rule) UnmarshalYAML(n *yaml.Node) error {
	type plain Rule
	p := plain{IsActive: true, Version: 1}
	if err := n.Decode(&p); err != nil {
		return err
	}
	*r = Rule(p)
	return nil
}

func (r *Rule) UnmarshalJSON(b []byte) error {
	type plain Rule
	p := plain{IsActive: true, Version: 1}
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*r = Rule(p)
	return nil
}

// Wildcard matches any age group or animal in a Scope.
const Wildcard = "*"

// Scope selects which conversations a config applies to.
type Scope struct {
	AgeGroup string `json:"age_group" yaml:"age_group"`
	AnimalID string `json:"animal_id" yaml:"animal_id"`
}

// Normalize replaces empty fields with the wildcard.
func (s Scope) Normalize() Scope {
	if strings.TrimSpace(s.AgeGroup) == "" {
		s.AgeGroup = Wildcard
	}
	if strings.TrimSpace(s.AnimalID) == "" {
		s.AnimalID = Wildcard
	}
	return s
}

// Key is the storage key of the scope.
func (s Scope) Key() string {
	n := s.Normalize()
	return n.AgeGroup + "|" + n.AnimalID
}

// Candidates lists scopes from most to least specific:
// exact, age group only, animal only, default.
func (s Scope) Candidates() []Scope {
	n := s.Normalize()
	out := []Scope{n}
	add := func(c Scope) {
		for _, existing := range out {
			if existing == c {
				return
			}
		}
		out = append(out, c)
	}
	add(Scope{AgeGroup: n.AgeGroup, AnimalID: Wildcard})
	add(Scope{AgeGroup: Wildcard, AnimalID: n.AnimalID})
	add(Scope{AgeGroup: Wildcard, AnimalID: Wildcard})
	return out
}

// Params shape decisions and user-facing text.
type Params struct {
	EscalationThreshold          float64  `json:"escalation_threshold" yaml:"escalation_threshold"`
	MaxHighRules                 int      `json:"max_high_rules" yaml:"max_high_rules"`
	ModerationSafetyMargin       float64  `json:"moderation_safety_margin" yaml:"moderation_safety_margin"`
	HardBlockCategories          []string `json:"hard_block_categories" yaml:"hard_block_categories"`
	FailClosedOnModerationOutage bool     `json:"fail_closed_on_moderation_outage" yaml:"fail_closed_on_moderation_outage"`
	AdvisoryMessage              string   `json:"advisory_message,omitempty" yaml:"advisory_message,omitempty"`
	BlockedMessage               string   `json:"blocked_message,omitempty" yaml:"blocked_message,omitempty"`
	EscalatedMessage             string   `json:"escalated_message,omitempty" yaml:"escalated_message,omitempty"`
}

// Default messages shown to end users.
const (
	DefaultBlockedMessage   = "Let's talk about something else! Ask me about animals and where they live."
	DefaultEscalatedMessage = "Let's pause here for a moment. A grown-up will take a look and help us continue."
	DefaultAdvisoryMessage  = "Try asking about how animals eat, sleep or play!"
)

// DefaultParams returns the params used when a document omits them.
func DefaultParams() Params {
	return Params{
		EscalationThreshold:    0.8,
		MaxHighRules:           1,
		ModerationSafetyMargin: 0.15,
		HardBlockCategories:    []string{"sexual/minors", "self-harm/instructions", "violence/graphic"},
		AdvisoryMessage:        DefaultAdvisoryMessage,
		BlockedMessage:         DefaultBlockedMessage,
		EscalatedMessage:       DefaultEscalatedMessage,
	}
}

// Document is the user-authored form of a config version.
type Document struct {
	ConfigID string `json:"config_id,omitempty" yaml:"config_id,omitempty"`
	Name     string `json:"name" yaml:"name"`
	Scope    Scope  `json:"scope" yaml:"scope"`
	Rules    []Rule `json:"rules" yaml:"rules"`
	Params   Params `json:"params" yaml:"params"`
}

// Config is one immutable, signed version.
type Config struct {
	ID        string    `json:"config_id"`
	Version   int       `json:"version"`
	Name      string    `json:"name"`
	Scope     Scope     `json:"scope"`
	Rules     []Rule    `json:"rules"`
	Params    Params    `json:"params"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by"`
	Hash      string    `json:"hash"`
	Signature string    `json:"signature,omitempty"`
}

// ActiveRules returns the rules with IsActive set, in document order.
func (c *Config) ActiveRules() []Rule {
	out := make([]Rule, 0, len(c.Rules))
	for _, r := range c.Rules {
		if r.IsActive {
			out = append(out, r)
		}
	}
	return out
}

// CacheKey identifies this version for compiled-matcher caches.
func (c *Config) CacheKey() string {
	return fmt.Sprintf("%s@%d", c.ID, c.Version)
}
