package profile

import (
	"strings"

	"github.com/nortal/cmz-chatbots/internal/textutil"
)

const quoteRetention = 0.6

// QualityScore is the share of key quotes and distinct interests still
// recognisable in text. A quote counts when most of its keywords survive;
// an interest counts when it appears verbatim or by keyword. With nothing
// to retain the score is 1.
func QualityScore(quotes, interests []string, text string) float64 {
	lower := strings.ToLower(text)
	total, kept := 0, 0
	for _, q := range quotes {
		if len(textutil.KeywordSet(q)) == 0 {
			continue
		}
		total++
		if textutil.Coverage(q, text) >= quoteRetention {
			kept++
		}
	}
	seen := make(map[string]bool)
	for _, i := range interests {
		k := strings.ToLower(strings.TrimSpace(i))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		total++
		if strings.Contains(lower, k) || textutil.Coverage(k, text) >= 0.5 {
			kept++
		}
	}
	if total == 0 {
		return 1
	}
	return float64(kept) / float64(total)
}
