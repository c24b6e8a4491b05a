// Package moderation wraps an external content-moderation service with a
// per-attempt timeout, jittered retries, a short-lived result cache and a
// typed unavailable error.
package moderation

import (
	"context"
	"errors"
	"fmt"

	"github.com/nortal/cmz-chatbots/internal/guardrails"
)

// ErrUnavailable matches any *UnavailableError via errors.Is.
var ErrUnavailable = errors.New("moderation: upstream unavailable")

// UnavailableError reports that the provider could not produce a result
// within the retry budget.
type UnavailableError struct {
	Provider string
	Attempts int
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("moderation provider %s unavailable after %d attempt(s): %v", e.Provider, e.Attempts, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrUnavailable) true.
func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

// Category is one moderation category score.
type Category struct {
	Name     string              `json:"name"`
	Score    float64             `json:"score"`
	Severity guardrails.Severity `json:"severity"`
	Flagged  bool                `json:"flagged"`
}

// Result is the normalized provider verdict.
type Result struct {
	Flagged    bool       `json:"flagged"`
	Categories []Category `json:"categories"`
	MaxScore   float64    `json:"max_score"`
	Provider   string     `json:"provider"`
	Cached     bool       `json:"cached,omitempty"`
}

// FlaggedCategory reports whether a category with this name was flagged.
func (r *Result) FlaggedCategory(name string) bool {
	for _, c := range r.Categories {
		if c.Flagged && c.Name == name {
			return true
		}
	}
	return false
}

// Provider is one moderation backend. Implementations make a single attempt;
// retries and caching live in Adapter.
type Provider interface {
	Name() string
	Classify(ctx context.Context, content string) (*Result, error)
}

// SeverityForScore maps a category score to a severity.
func SeverityForScore(score float64) guardrails.Severity {
	switch {
	case score >= 0.9:
		return guardrails.SeverityCritical
	case score >= 0.7:
		return guardrails.SeverityHigh
	case score >= 0.4:
		return guardrails.SeverityMedium
	default:
		return guardrails.SeverityLow
	}
}

// permanentError marks provider failures that retrying cannot fix (4xx).
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Adapter does not retry it.
func Permanent(err error) error { return &permanentError{err: err} }
