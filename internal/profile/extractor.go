package profile

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog/log"

	"github.com/nortal/cmz-chatbots/internal/classifier"
	cmzotel "github.com/nortal/cmz-chatbots/internal/otel"
	"github.com/nortal/cmz-chatbots/internal/textutil"
)

const (
	maxQuoteLen       = 160
	maxQuotesPerTurn  = 3
	maxInterestWords  = 3
	minQuoteWords     = 4
	summaryKeywordCap = 3
)

var (
	likeRe       = regexp.MustCompile(`(?i)\bi\s+(?:really\s+|also\s+)?(?:like|love|adore|enjoy)\s+([a-z][a-z' -]*)`)
	preferenceRe = regexp.MustCompile(`(?i)\b(?:i\s+(?:really\s+)?(?:like|love|adore|enjoy|prefer|hate|don't like|do not like)|my\s+favou?rite)\b`)
	spaceRe      = regexp.MustCompile(`\s+`)
)

// topics maps lexicon words to the interest recorded for them.
var topics = map[string]string{
	"lion": "lions", "lions": "lions", "tiger": "tigers", "tigers": "tigers",
	"penguin": "penguins", "penguins": "penguins", "elephant": "elephants", "elephants": "elephants",
	"giraffe": "giraffes", "giraffes": "giraffes", "gorilla": "gorillas", "gorillas": "gorillas",
	"bear": "bears", "bears": "bears", "snake": "reptiles", "snakes": "reptiles", "reptile": "reptiles", "reptiles": "reptiles",
	"bird": "birds", "birds": "birds", "fish": "fish", "shark": "sharks", "sharks": "sharks",
	"frog": "amphibians", "frogs": "amphibians", "insect": "insects", "insects": "insects", "bug": "insects", "bugs": "insects",
	"habitat": "habitats", "habitats": "habitats", "conservation": "conservation", "endangered": "conservation",
	"ocean": "oceans", "oceans": "oceans", "rainforest": "rainforests", "jungle": "rainforests", "savanna": "savannas",
	"food": "animal diets", "eat": "animal diets", "eats": "animal diets", "diet": "animal diets",
	"baby": "baby animals", "babies": "baby animals", "cub": "baby animals", "cubs": "baby animals",
	"sleep": "sleep", "sleeps": "sleep", "migration": "migration", "migrate": "migration",
	"dinosaur": "dinosaurs", "dinosaurs": "dinosaurs", "fossil": "dinosaurs",
}

// Extractor finds personalization signals in a turn.
type Extractor struct {
	scanner *classifier.Scanner
	html    *bluemonday.Policy
}

// NewExtractor creates an Extractor. Text is PII-redacted with scanner
// before anything is kept; a nil scanner disables redaction.
func NewExtractor(scanner *classifier.Scanner) *Extractor {
	return &Extractor{scanner: scanner, html: bluemonday.StrictPolicy()}
}

// Extract is best-effort: it never fails the turn. A panic in any heuristic
// is logged and yields empty signals.
func (e *Extractor) Extract(ctx context.Context, turn Turn) (sig Signals) {
	ctx, span := tracer.Start(ctx, "profile.extract")
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			extractFailures.Add(ctx, 1)
			log.Error().Str("user_id", turn.UserID).Str("panic", fmt.Sprint(r)).
				Func(cmzotel.LogTraceFields(ctx)).Msg("context_extract_failed")
			sig = Signals{}
		}
	}()

	text := e.clean(turn.UserMessage)
	if text == "" {
		return Signals{}
	}
	if e.scanner != nil {
		text = e.scanner.Redact(ctx, text)
	}
	sentences := textutil.Sentences(text)

	sig.Interests = interests(text)
	sig.LearningLevel = learningLevel(sentences)
	for _, s := range sentences {
		switch {
		case preferenceRe.MatchString(s):
			sig.Preferences = append(sig.Preferences, quote(s))
		case isNotable(s) && len(sig.Quotes) < maxQuotesPerTurn:
			sig.Quotes = append(sig.Quotes, quote(s))
		}
	}
	sig.Summary = turnSummary(turn.AnimalID, text)
	return sig
}

// clean strips markup and collapses whitespace.
func (e *Extractor) clean(s string) string {
	s = html.UnescapeString(e.html.Sanitize(s))
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

func quote(s string) string {
	if len(s) > maxQuoteLen {
		cut := strings.LastIndexByte(s[:maxQuoteLen], ' ')
		if cut <= 0 {
			cut = maxQuoteLen
			for cut > 0 && !utf8.RuneStart(s[cut]) {
				cut--
			}
		}
		s = strings.TrimSpace(s[:cut]) + "..."
	}
	return s
}

func interests(text string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(i string) {
		i = strings.TrimSpace(i)
		if i == "" || seen[strings.ToLower(i)] {
			return
		}
		seen[strings.ToLower(i)] = true
		out = append(out, i)
	}
	for _, m := range likeRe.FindAllStringSubmatch(text, -1) {
		words := strings.Fields(strings.ToLower(m[1]))
		var kept []string
		for _, w := range words {
			if w == "and" || w == "but" || w == "because" || len(kept) == maxInterestWords {
				break
			}
			kept = append(kept, strings.Trim(w, "'-"))
		}
		add(strings.Join(kept, " "))
	}
	for _, w := range textutil.Keywords(text) {
		if t, ok := topics[w]; ok {
			add(t)
		}
	}
	return out
}

// isNotable keeps questions and exclamations with some substance.
func isNotable(s string) bool {
	if len(strings.Fields(s)) < minQuoteWords {
		return false
	}
	last := s[len(s)-1]
	return last == '?' || last == '!'
}

// learningLevel grades vocabulary and sentence length.
func learningLevel(sentences []string) LearningLevel {
	var words, long, letters int
	for _, s := range sentences {
		for _, w := range strings.FieldsFunc(s, func(r rune) bool { return !unicode.IsLetter(r) }) {
			words++
			letters += len(w)
			if len(w) >= 8 {
				long++
			}
		}
	}
	if words < 5 {
		return LevelUnknown
	}
	perSentence := float64(words) / float64(len(sentences))
	avgLen := float64(letters) / float64(words)
	longRatio := float64(long) / float64(words)
	switch {
	case perSentence >= 14 || longRatio >= 0.2 || avgLen >= 5.5:
		return LevelAdvanced
	case perSentence >= 8 || longRatio >= 0.08 || avgLen >= 4.5:
		return LevelIntermediate
	default:
		return LevelBeginner
	}
}

// turnSummary is one line naming the most frequent keywords of the turn.
func turnSummary(animal, text string) string {
	counts := make(map[string]int)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	}) {
		if textutil.KeywordSet(w)[w] {
			counts[w]++
		}
	}
	if len(counts) == 0 {
		return ""
	}
	kws := make([]string, 0, len(counts))
	for w := range counts {
		kws = append(kws, w)
	}
	sort.Slice(kws, func(i, j int) bool {
		if counts[kws[i]] != counts[kws[j]] {
			return counts[kws[i]] > counts[kws[j]]
		}
		return kws[i] < kws[j]
	})
	if len(kws) > summaryKeywordCap {
		kws = kws[:summaryKeywordCap]
	}
	if animal == "" {
		return fmt.Sprintf("Talked about %s.", strings.Join(kws, ", "))
	}
	return fmt.Sprintf("Talked with %s about %s.", animal, strings.Join(kws, ", "))
}
