// Package textutil holds the small text heuristics shared by the rule engine
// and the context summarizer.
package textutil

import (
	"sort"
	"strings"
	"unicode"
)

// KeywordSet returns unique lowercase tokens of at least three letters,
// excluding stop words.
func KeywordSet(text string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), isSeparator) {
		if len(w) >= 3 && !stopWords[w] {
			words[w] = true
		}
	}
	return words
}

// Keywords returns KeywordSet(text) as a sorted slice.
func Keywords(text string) []string {
	set := KeywordSet(text)
	out := make([]string, 0, len(set))
	for w := range set {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// Coverage is the fraction of the reference keywords that appear in text.
// It returns 0 when reference has no keywords.
func Coverage(reference, text string) float64 {
	ref := KeywordSet(reference)
	if len(ref) == 0 {
		return 0
	}
	got := KeywordSet(text)
	overlap := 0
	for w := range ref {
		if got[w] {
			overlap++
		}
	}
	return float64(overlap) / float64(len(ref))
}

func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "had": true,
	"her": true, "was": true, "one": true, "our": true, "out": true,
	"has": true, "have": true, "this": true, "that": true, "with": true,
	"from": true, "they": true, "been": true, "said": true, "each": true,
	"which": true, "their": true, "will": true, "other": true, "about": true,
	"many": true, "then": true, "them": true, "these": true, "some": true,
	"would": true, "make": true, "like": true, "into": true, "time": true,
	"its": true, "his": true, "she": true, "what": true, "when": true,
	"how": true, "why": true, "who": true, "did": true, "does": true,
}
