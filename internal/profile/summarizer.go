package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/nortal/cmz-chatbots/internal/llm"
	cmzotel "github.com/nortal/cmz-chatbots/internal/otel"
	"github.com/nortal/cmz-chatbots/internal/textutil"
)

var tracer = cmzotel.Tracer("github.com/nortal/cmz-chatbots/internal/profile")

// Summarizer defaults.
const (
	DefaultTokenCeiling   = 1200
	DefaultReductionRatio = 0.6
	DefaultQualityFloor   = 0.5
	DefaultMaxInterests   = 20
	DefaultMaxQuotes      = 10
	DefaultTimeout        = 20 * time.Second
	DefaultModel          = "gpt-4o-mini"
)

const compressPrompt = `You compress the history of a child's chats with zoo animal characters into a short summary used to personalize future chats.
Keep every interest and every memorable thing the child said. Drop greetings and repetition.
Never include names, contact details or locations. Reply with the summary text only.`

// Summarizer merges signals into profiles and keeps them under a token
// ceiling.
type Summarizer struct {
	completion   llm.Provider
	model        string
	counter      TokenCounter
	ceiling      int
	ratio        float64
	floor        float64
	maxInterests int
	maxQuotes    int
	timeout      time.Duration
	now          func() time.Time
}

// SummarizerOption configures a Summarizer.
type SummarizerOption func(*Summarizer)

// WithTokenCeiling sets the profile size that triggers compression.
func WithTokenCeiling(n int) SummarizerOption {
	return func(s *Summarizer) {
		if n > 0 {
			s.ceiling = n
		}
	}
}

// WithReductionRatio sets the share of summary tokens compression aims to remove.
func WithReductionRatio(r float64) SummarizerOption {
	return func(s *Summarizer) {
		if r > 0 && r < 1 {
			s.ratio = r
		}
	}
}

// WithQualityFloor sets the minimum quality score a compression must keep.
func WithQualityFloor(f float64) SummarizerOption {
	return func(s *Summarizer) {
		if f >= 0 && f <= 1 {
			s.floor = f
		}
	}
}

// WithCaps bounds how many interests and quotes a profile keeps.
func WithCaps(interests, quotes int) SummarizerOption {
	return func(s *Summarizer) {
		if interests > 0 {
			s.maxInterests = interests
		}
		if quotes > 0 {
			s.maxQuotes = quotes
		}
	}
}

// WithCompletionTimeout bounds a single compression call.
func WithCompletionTimeout(d time.Duration) SummarizerOption {
	return func(s *Summarizer) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithModel sets the completion model.
func WithModel(m string) SummarizerOption {
	return func(s *Summarizer) {
		if m != "" {
			s.model = m
		}
	}
}

// WithTokenCounter replaces the tiktoken counter.
func WithTokenCounter(c TokenCounter) SummarizerOption {
	return func(s *Summarizer) { s.counter = c }
}

// WithSummarizerClock overrides the time source.
func WithSummarizerClock(now func() time.Time) SummarizerOption {
	return func(s *Summarizer) { s.now = now }
}

// NewSummarizer creates a Summarizer. completion may be nil, in which case
// over-ceiling profiles are always truncated.
func NewSummarizer(completion llm.Provider, opts ...SummarizerOption) *Summarizer {
	s := &Summarizer{
		completion:   completion,
		model:        DefaultModel,
		ceiling:      DefaultTokenCeiling,
		ratio:        DefaultReductionRatio,
		floor:        DefaultQualityFloor,
		maxInterests: DefaultMaxInterests,
		maxQuotes:    DefaultMaxQuotes,
		timeout:      DefaultTimeout,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	if s.counter == nil {
		s.counter = NewTokenCounter()
	}
	return s
}

// Summarize merges sig into existing and returns the new profile. existing is
// not modified. When the merged profile exceeds the token ceiling the
// historical summary is archived (see Report.Archive) and the summaries are
// recompressed; compression failures and quality-floor misses fall back to
// truncation and are recorded in the report, never returned.
func (s *Summarizer) Summarize(ctx context.Context, existing *Profile, sig Signals, conversationCount int) (*Profile, *Report, error) {
	if existing == nil || strings.TrimSpace(existing.UserID) == "" {
		return nil, nil, ErrUserRequired
	}
	ctx, span := tracer.Start(ctx, "profile.summarize",
		trace.WithAttributes(attribute.Int("profile.version", existing.Version)))
	defer span.End()

	p := existing.clone()
	s.merge(p, sig, conversationCount)
	p.LastUpdated = s.now()

	report := &Report{TokensBefore: s.estimate(p)}
	if report.TokensBefore <= s.ceiling {
		p.TokenCountEstimate = report.TokensBefore
		report.TokensAfter = report.TokensBefore
		report.QualityScore = 1
		return p, report, nil
	}

	if p.HistoricalSummary != "" {
		report.Archive = &Archive{
			UserID:            p.UserID,
			ArchivedAt:        p.LastUpdated,
			Summary:           p.HistoricalSummary,
			TokenCount:        s.counter.Count(p.HistoricalSummary),
			ConversationCount: p.ConversationCount,
			Reason:            "recompressed",
		}
	}

	source := joinSummaries(p.HistoricalSummary, p.RecentSummary)
	budget := s.summaryBudget(p)
	target := int(float64(s.counter.Count(source)) * (1 - s.ratio))
	if target > budget {
		target = budget
	}
	if target < 1 {
		target = 1
	}

	compressed, reason, err := s.compress(ctx, p, source, target)
	if err == nil {
		report.QualityScore = s.retention(p, source, compressed)
		switch {
		case report.QualityScore < s.floor:
			reason, err = ReasonQualityFloor, fmt.Errorf("%w: score %.2f below %.2f", ErrQualityFloor, report.QualityScore, s.floor)
		case s.counter.Count(compressed) > budget:
			reason, err = ReasonOverBudget, fmt.Errorf("compressed summary exceeds %d tokens", budget)
		}
	}
	if err != nil {
		compressed = truncateOldest(source, budget, s.counter)
		report.Truncated = true
		report.Reason = reason
		report.Err = err
		report.Error = err.Error()
		report.QualityScore = s.retention(p, source, compressed)
		truncations.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
	}

	p.HistoricalSummary = compressed
	p.RecentSummary = ""
	p.TokenCountEstimate = s.estimate(p)
	report.Compressed = true
	report.TokensAfter = p.TokenCountEstimate
	compressions.Add(ctx, 1)

	span.SetAttributes(
		attribute.Int("profile.tokens_before", report.TokensBefore),
		attribute.Int("profile.tokens_after", report.TokensAfter),
		attribute.Bool("profile.truncated", report.Truncated),
	)
	log.Info().
		Str("user_id", p.UserID).
		Int("tokens_before", report.TokensBefore).
		Int("tokens_after", report.TokensAfter).
		Float64("quality_score", report.QualityScore).
		Bool("truncated", report.Truncated).
		Str("reason", report.Reason).
		Func(cmzotel.LogTraceFields(ctx)).
		Msg("context_compressed")
	return p, report, nil
}

// merge is idempotent: applying the same signals twice changes nothing.
func (s *Summarizer) merge(p *Profile, sig Signals, conversationCount int) {
	p.Interests = mergeUnique(p.Interests, sig.Interests, s.maxInterests)
	fresh := make([]string, 0, len(sig.Preferences)+len(sig.Quotes))
	fresh = append(fresh, sig.Preferences...)
	fresh = append(fresh, sig.Quotes...)
	p.KeyQuotes = mergeUnique(p.KeyQuotes, fresh, s.maxQuotes)
	if sig.LearningLevel != LevelUnknown {
		p.LearningLevel = sig.LearningLevel
	}
	if line := strings.TrimSpace(sig.Summary); line != "" && !strings.Contains(p.RecentSummary, line) {
		p.RecentSummary = joinSentences(p.RecentSummary, line)
	}
	if conversationCount > 0 {
		p.ConversationCount = conversationCount
	}
}

func (s *Summarizer) estimate(p *Profile) int {
	return s.counter.Count(p.RecentSummary) +
		s.counter.Count(p.HistoricalSummary) +
		s.counter.Count(strings.Join(p.KeyQuotes, "\n")) +
		s.counter.Count(strings.Join(p.Interests, ", "))
}

// summaryBudget is what the summaries may use once quotes and interests are
// counted, never less than a quarter of the ceiling and always below it.
func (s *Summarizer) summaryBudget(p *Profile) int {
	other := s.counter.Count(strings.Join(p.KeyQuotes, "\n")) + s.counter.Count(strings.Join(p.Interests, ", "))
	budget := s.ceiling - other - 1
	if floor := s.ceiling / 4; budget < floor {
		budget = floor
	}
	if budget >= s.ceiling {
		budget = s.ceiling - 1
	}
	return budget
}

// retention compares the compressed text with the source it replaced, so
// signals the source never carried do not count against it.
func (s *Summarizer) retention(p *Profile, source, compressed string) float64 {
	base := QualityScore(p.KeyQuotes, p.Interests, source)
	if base == 0 {
		return 1
	}
	q := QualityScore(p.KeyQuotes, p.Interests, compressed) / base
	if q > 1 {
		q = 1
	}
	return q
}

func (s *Summarizer) compress(ctx context.Context, p *Profile, source string, target int) (string, string, error) {
	if s.completion == nil {
		return "", ReasonNoCompleter, errors.New("no completion service configured")
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	words := target * 3 / 4
	if words < 1 {
		words = 1
	}
	user := fmt.Sprintf("Interests: %s\nThings the child said:\n%s\n\nHistory, oldest first:\n%s\n\nWrite at most %d words.",
		strings.Join(p.Interests, ", "), strings.Join(p.KeyQuotes, "\n"), source, words)
	resp, err := s.completion.Generate(ctx, &llm.Request{
		Model: s.model,
		Messages: []llm.Message{
			{Role: "system", Content: compressPrompt},
			{Role: "user", Content: user},
		},
		Temperature: 0.2,
		MaxTokens:   target,
	})
	switch {
	case err == nil:
	case errors.Is(err, llm.ErrRateLimited):
		return "", ReasonRateLimited, err
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "", ReasonCompletionTimeout, err
	default:
		return "", ReasonCompletionFailed, err
	}
	out := strings.TrimSpace(resp.Content)
	if out == "" {
		return "", ReasonCompletionFailed, errors.New("completion returned empty summary")
	}
	return out, "", nil
}

// truncateOldest drops whole sentences from the front, then words from the
// front of the last sentence, until text fits budget.
func truncateOldest(text string, budget int, counter TokenCounter) string {
	sentences := textutil.Sentences(text)
	for len(sentences) > 1 && counter.Count(strings.Join(sentences, " ")) > budget {
		sentences = sentences[1:]
	}
	out := strings.Join(sentences, " ")
	if counter.Count(out) <= budget {
		return out
	}
	words := strings.Fields(out)
	for len(words) > 0 && counter.Count(strings.Join(words, " ")) > budget {
		words = words[1:]
	}
	return strings.Join(words, " ")
}

func mergeUnique(existing, fresh []string, limit int) []string {
	seen := make(map[string]bool, len(existing)+len(fresh))
	out := make([]string, 0, len(existing)+len(fresh))
	for _, list := range [][]string{existing, fresh} {
		for _, v := range list {
			v = strings.TrimSpace(v)
			k := strings.ToLower(v)
			if v == "" || seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, v)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func joinSummaries(historical, recent string) string {
	historical, recent = strings.TrimSpace(historical), strings.TrimSpace(recent)
	switch {
	case historical == "":
		return recent
	case recent == "":
		return historical
	}
	return historical + "\n\n" + recent
}

func joinSentences(a, b string) string {
	if a = strings.TrimSpace(a); a == "" {
		return b
	}
	return a + " " + b
}
