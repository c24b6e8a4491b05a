package profile

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nortal/cmz-chatbots/internal/classifier"
)

func newTestExtractor() *Extractor {
	return NewExtractor(classifier.MustNewScanner())
}

func TestExtract_Interests(t *testing.T) {
	sig := newTestExtractor().Extract(context.Background(), Turn{
		UserID:      "u1",
		AnimalID:    "lion",
		UserMessage: "I love penguins and sharks! Do lions sleep all day?",
	})
	assert.Contains(t, sig.Interests, "penguins")
	assert.Contains(t, sig.Interests, "sharks")
	assert.Contains(t, sig.Interests, "lions")
	assert.Equal(t, "penguins", sig.Interests[0], "explicit likes come first")
	assert.Equal(t, []string{"Do lions sleep all day?"}, sig.Quotes)
	assert.Equal(t, []string{"I love penguins and sharks!"}, sig.Preferences)
	assert.True(t, strings.HasPrefix(sig.Summary, "Talked with lion about "))
}

func TestExtract_InterestsAreDeduplicated(t *testing.T) {
	sig := newTestExtractor().Extract(context.Background(), Turn{
		UserID:      "u1",
		UserMessage: "I like tigers. I really like TIGERS. Tigers are great.",
	})
	count := 0
	for _, i := range sig.Interests {
		if strings.EqualFold(i, "tigers") {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestExtract_StripsMarkupAndRedactsPII(t *testing.T) {
	sig := newTestExtractor().Extract(context.Background(), Turn{
		UserID:      "u1",
		UserMessage: "<b>My favorite animal is the tiger</b>. <script>alert(1)</script>Can you email me at kid@example.com please!",
	})
	all := strings.Join(append(append([]string{}, sig.Quotes...), sig.Preferences...), " ") + " " + sig.Summary
	assert.NotContains(t, all, "kid@example.com")
	assert.NotContains(t, all, "<b>")
	assert.NotContains(t, all, "alert")
	assert.Contains(t, all, "[EMAIL_ADDRESS]")
	assert.Contains(t, sig.Preferences, "My favorite animal is the tiger.")
}

func TestExtract_EmptyTurns(t *testing.T) {
	e := newTestExtractor()
	for _, msg := range []string{"", "   ", "<div></div>", "<img src=x>"} {
		sig := e.Extract(context.Background(), Turn{UserID: "u1", UserMessage: msg})
		assert.True(t, sig.Empty(), "%q", msg)
	}
}

func TestExtract_LongQuoteIsCut(t *testing.T) {
	msg := "Why do " + strings.Repeat("really ", 40) + "big elephants have such long trunks?"
	sig := newTestExtractor().Extract(context.Background(), Turn{UserID: "u1", UserMessage: msg})
	if assert.Len(t, sig.Quotes, 1) {
		assert.LessOrEqual(t, len(sig.Quotes[0]), maxQuoteLen+3)
		assert.True(t, strings.HasSuffix(sig.Quotes[0], "..."))
	}
}

func TestExtract_QuotesPerTurnAreCapped(t *testing.T) {
	msg := strings.Repeat("Do giraffes ever lie down? ", 2) + "Can zebras swim very fast? Why are flamingos so pink? How do owls turn heads?"
	sig := newTestExtractor().Extract(context.Background(), Turn{UserID: "u1", UserMessage: msg})
	assert.Len(t, sig.Quotes, maxQuotesPerTurn)
}

func TestLearningLevel(t *testing.T) {
	tests := []struct {
		name string
		text string
		want LearningLevel
	}{
		{"too short", "lions roar", LevelUnknown},
		{"beginner", "I see a big cat. It is so fun. The cat can run.", LevelBeginner},
		{"advanced", "Photosynthesis in rainforest ecosystems fundamentally supports biodiversity and interconnected populations.", LevelAdvanced},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, learningLevel(splitSentences(tt.text)))
		})
	}
}

func splitSentences(s string) []string {
	var out []string
	for _, p := range strings.SplitAfter(s, ". ") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func TestTurnSummary(t *testing.T) {
	assert.Equal(t, "", turnSummary("lion", "a an it"))
	assert.Equal(t, "Talked about penguins, ice.", turnSummary("", "Penguins! penguins on ice"))
	assert.Equal(t, "Talked with otter about otters, river.", turnSummary("otter", "otters otters river"))
}
