// Package classifier detects and redacts personal data in conversation text.
package classifier

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	cmzotel "github.com/nortal/cmz-chatbots/internal/otel"
)

var tracer = cmzotel.Tracer("github.com/nortal/cmz-chatbots/internal/classifier")

const (
	// DefaultMinScore is the minimum confidence for a match to count.
	DefaultMinScore = 0.5

	// ContextSimilarityFactor is added to a match's score when one of the
	// recognizer's context words appears nearby.
	ContextSimilarityFactor = 0.35

	// ContextWindowChars is how far before and after a match to look for context words.
	ContextWindowChars = 100
)

// PIIEntity is one detected PII instance.
type PIIEntity struct {
	Entity      string  `json:"entity"`
	Value       string  `json:"-"`
	Position    int     `json:"position"`
	Length      int     `json:"length"`
	Confidence  float64 `json:"confidence"`
	Sensitivity int     `json:"sensitivity"`
}

// Classification holds the result of PII scanning.
type Classification struct {
	HasPII   bool        `json:"has_pii"`
	Entities []PIIEntity `json:"entities"`
}

// MaxConfidence returns the highest entity confidence, or 0.
func (c *Classification) MaxConfidence() float64 {
	var best float64
	for _, e := range c.Entities {
		if e.Confidence > best {
			best = e.Confidence
		}
	}
	return best
}

// Scanner detects PII in text using configurable regex recognizers.
type Scanner struct {
	patterns []PIIPattern
	minScore float64
}

// ScannerOption configures a Scanner.
type ScannerOption func(*scannerConfig)

type scannerConfig struct {
	enabledEntities   []string
	customRecognizers []RecognizerConfig
	minScore          float64
}

// WithMinScore overrides the default minimum confidence threshold.
func WithMinScore(score float64) ScannerOption {
	return func(c *scannerConfig) { c.minScore = score }
}

// WithEnabledEntities restricts the scanner to the given entity types.
func WithEnabledEntities(entities []string) ScannerOption {
	return func(c *scannerConfig) { c.enabledEntities = entities }
}

// WithCustomRecognizers layers extra recognizers over the embedded defaults.
func WithCustomRecognizers(recognizers []RecognizerConfig) ScannerOption {
	return func(c *scannerConfig) { c.customRecognizers = recognizers }
}

// NewScanner creates a PII scanner from the embedded defaults plus options.
func NewScanner(opts ...ScannerOption) (*Scanner, error) {
	var cfg scannerConfig
	for _, o := range opts {
		o(&cfg)
	}
	defaults, err := DefaultRecognizers()
	if err != nil {
		return nil, fmt.Errorf("loading default recognizers: %w", err)
	}
	merged := MergeRecognizers(defaults, cfg.customRecognizers)
	merged = FilterByEntities(merged, cfg.enabledEntities)

	compiled, err := CompilePIIPatterns(merged)
	if err != nil {
		return nil, fmt.Errorf("compiling patterns: %w", err)
	}
	minScore := DefaultMinScore
	if cfg.minScore > 0 {
		minScore = cfg.minScore
	}
	return &Scanner{patterns: compiled, minScore: minScore}, nil
}

// MustNewScanner is like NewScanner but panics on error. The embedded
// defaults are expected to always compile.
func MustNewScanner(opts ...ScannerOption) *Scanner {
	s, err := NewScanner(opts...)
	if err != nil {
		panic(fmt.Sprintf("classifier.NewScanner: %v", err))
	}
	return s
}

// Scan finds PII in text. Card numbers must pass the Luhn check; scores are
// boosted by nearby context words and filtered by the minimum score.
func (s *Scanner) Scan(ctx context.Context, text string) *Classification {
	_, span := tracer.Start(ctx, "classifier.scan")
	defer span.End()

	result := &Classification{Entities: []PIIEntity{}}
	for _, p := range s.patterns {
		for _, m := range p.Pattern.FindAllStringIndex(text, -1) {
			value := text[m[0]:m[1]]
			if p.ValidateLuhn && !luhnValid(stripNonDigits(value)) {
				continue
			}
			confidence := enhanceScoreWithContext(text, m[0], p.Score, p.ContextWords)
			if confidence < s.minScore {
				continue
			}
			if confidence > 1 {
				confidence = 1
			}
			result.Entities = append(result.Entities, PIIEntity{
				Entity:      p.Entity,
				Value:       value,
				Position:    m[0],
				Length:      m[1] - m[0],
				Confidence:  confidence,
				Sensitivity: p.Sensitivity,
			})
		}
	}
	result.HasPII = len(result.Entities) > 0

	span.SetAttributes(
		attribute.Bool("pii.detected", result.HasPII),
		attribute.Int("pii.entity_count", len(result.Entities)),
	)
	return result
}

// Redact replaces PII with entity placeholders such as "[EMAIL_ADDRESS]".
// Overlapping matches merge, keeping the more sensitive entity name.
func (s *Scanner) Redact(ctx context.Context, text string) string {
	ctx, span := tracer.Start(ctx, "classifier.redact")
	defer span.End()

	c := s.Scan(ctx, text)
	if !c.HasPII {
		return text
	}

	type region struct {
		start, end  int
		entity      string
		sensitivity int
	}
	matches := make([]region, len(c.Entities))
	for i, e := range c.Entities {
		matches[i] = region{start: e.Position, end: e.Position + e.Length, entity: e.Entity, sensitivity: e.Sensitivity}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].start != matches[j].start {
			return matches[i].start < matches[j].start
		}
		return matches[i].end-matches[i].start > matches[j].end-matches[j].start
	})

	var merged []region
	for _, m := range matches {
		if n := len(merged); n > 0 && m.start < merged[n-1].end {
			last := &merged[n-1]
			if m.sensitivity > last.sensitivity {
				last.entity, last.sensitivity = m.entity, m.sensitivity
			}
			if m.end > last.end {
				last.end = m.end
			}
			continue
		}
		merged = append(merged, m)
	}

	var b strings.Builder
	prev := 0
	for _, m := range merged {
		b.WriteString(text[prev:m.start])
		b.WriteString("[" + m.entity + "]")
		prev = m.end
	}
	b.WriteString(text[prev:])
	return b.String()
}

// luhnValid checks whether a digit string passes the Luhn algorithm.
func luhnValid(number string) bool {
	n := len(number)
	if n < 2 {
		return false
	}
	sum := 0
	alt := false
	for i := n - 1; i >= 0; i-- {
		d := int(number[i] - '0')
		if d < 0 || d > 9 {
			return false
		}
		if alt {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		alt = !alt
	}
	return sum%10 == 0
}

func enhanceScoreWithContext(text string, position int, baseScore float64, contextWords []string) float64 {
	if len(contextWords) == 0 {
		return baseScore
	}
	start := position - ContextWindowChars
	if start < 0 {
		start = 0
	}
	end := position + ContextWindowChars
	if end > len(text) {
		end = len(text)
	}
	window := strings.ToLower(text[start:end])
	for _, cw := range contextWords {
		if strings.Contains(window, strings.ToLower(cw)) {
			return baseScore + ContextSimilarityFactor
		}
	}
	return baseScore
}

func stripNonDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, ch := range s {
		if ch >= '0' && ch <= '9' {
			b.WriteRune(ch)
		}
	}
	return b.String()
}
