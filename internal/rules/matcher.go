package rules

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/nortal/cmz-chatbots/internal/classifier"
	"github.com/nortal/cmz-chatbots/internal/guardrails"
	"github.com/nortal/cmz-chatbots/internal/textutil"
)

// match is the outcome of one matcher against one piece of content.
type match struct {
	confidence float64
	context    string
}

type matcher interface {
	match(ctx context.Context, content, lower string) (match, bool)
}

func compileMatcher(spec guardrails.MatchSpec, scanner *classifier.Scanner) (matcher, error) {
	fixed := func(def float64) float64 {
		if spec.Confidence != nil {
			return *spec.Confidence
		}
		return def
	}
	switch spec.Method {
	case guardrails.MatchKeyword:
		terms := nonBlank(spec.Terms)
		if len(terms) == 0 {
			return noMatch{}, nil
		}
		quoted := make([]string, 0, len(terms))
		for _, t := range terms {
			quoted = append(quoted, regexp.QuoteMeta(strings.ToLower(t)))
		}
		re, err := regexp.Compile(`\b(?:` + strings.Join(quoted, "|") + `)\b`)
		if err != nil {
			return nil, fmt.Errorf("compiling keyword matcher: %w", err)
		}
		return &regexMatcher{re: re, confidence: fixed(KeywordConfidence), onLower: true, label: "keyword"}, nil
	case guardrails.MatchPhrase:
		terms := nonBlank(spec.Terms)
		for i, t := range terms {
			terms[i] = strings.ToLower(t)
		}
		return &phraseMatcher{terms: terms, confidence: fixed(PhraseConfidence)}, nil
	case guardrails.MatchRegex:
		re, err := regexp.Compile(spec.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compiling regex matcher: %w", err)
		}
		return &regexMatcher{re: re, confidence: fixed(RegexConfidence), label: "regex"}, nil
	case guardrails.MatchSimilarity:
		threshold := spec.Threshold
		if threshold <= 0 {
			threshold = DefaultSimilarity
		}
		return &similarityMatcher{terms: nonBlank(spec.Terms), threshold: threshold}, nil
	case guardrails.MatchPII:
		if scanner == nil {
			return nil, fmt.Errorf("pii matcher requires a classifier")
		}
		allowed := make(map[string]bool, len(spec.Entities))
		for _, e := range spec.Entities {
			allowed[strings.ToUpper(e)] = true
		}
		return &piiMatcher{scanner: scanner, entities: allowed, override: spec.Confidence}, nil
	}
	return nil, fmt.Errorf("unknown match method %q", spec.Method)
}

// nonBlank returns the trimmed terms, dropping any that are empty.
func nonBlank(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

type noMatch struct{}

func (noMatch) match(context.Context, string, string) (match, bool) { return match{}, false }

type regexMatcher struct {
	re         *regexp.Regexp
	confidence float64
	onLower    bool
	label      string
}

func (m *regexMatcher) match(_ context.Context, content, lower string) (match, bool) {
	text := content
	if m.onLower {
		text = lower
	}
	loc := m.re.FindStringIndex(text)
	if loc == nil {
		return match{}, false
	}
	return match{confidence: m.confidence, context: m.label + ":" + clip(text[loc[0]:loc[1]])}, true
}

type phraseMatcher struct {
	terms      []string
	confidence float64
}

func (m *phraseMatcher) match(_ context.Context, _, lower string) (match, bool) {
	for _, t := range m.terms {
		if strings.Contains(lower, t) {
			return match{confidence: m.confidence, context: "phrase:" + clip(t)}, true
		}
	}
	return match{}, false
}

// similarityMatcher scores the share of a term's keywords found in the
// content and keeps the best-scoring term.
type similarityMatcher struct {
	terms     []string
	threshold float64
}

func (m *similarityMatcher) match(_ context.Context, content, _ string) (match, bool) {
	best, bestTerm := 0.0, ""
	for _, t := range m.terms {
		if s := textutil.Coverage(t, content); s > best {
			best, bestTerm = s, t
		}
	}
	if best < m.threshold {
		return match{}, false
	}
	return match{confidence: best, context: fmt.Sprintf("similarity:%.2f:%s", best, clip(bestTerm))}, true
}

type piiMatcher struct {
	scanner  *classifier.Scanner
	entities map[string]bool
	override *float64
}

func (m *piiMatcher) match(ctx context.Context, content, _ string) (match, bool) {
	c := m.scanner.Scan(ctx, content)
	best, entity := 0.0, ""
	for _, e := range c.Entities {
		if len(m.entities) > 0 && !m.entities[e.Entity] {
			continue
		}
		if e.Confidence > best {
			best, entity = e.Confidence, e.Entity
		}
	}
	if entity == "" {
		return match{}, false
	}
	if m.override != nil {
		best = *m.override
	}
	// the entity name only; the matched value is personal data
	return match{confidence: best, context: "pii:" + entity}, true
}

func clip(s string) string {
	r := []rune(s)
	if len(r) > maxTriggerContext {
		return string(r[:maxTriggerContext]) + "…"
	}
	return s
}
