package textutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeywordSet(t *testing.T) {
	set := KeywordSet("The lions, and THE tigers! Do lions roar?")
	assert.True(t, set["lions"])
	assert.True(t, set["tigers"])
	assert.True(t, set["roar"])
	assert.False(t, set["the"])
	assert.False(t, set["do"])
	assert.Len(t, set, 3)
}

func TestCoverage(t *testing.T) {
	tests := []struct {
		name      string
		reference string
		text      string
		want      float64
	}{
		{"full", "blood gore", "so much blood and gore", 1},
		{"half", "blood gore", "blood everywhere", 0.5},
		{"none", "blood gore", "penguins slide on ice", 0},
		{"empty reference", "the and", "anything", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Coverage(tt.reference, tt.text), 1e-9)
		})
	}
}

func TestSentences(t *testing.T) {
	got := Sentences("Lions sleep a lot. Do they snore? Yes! 3.5 hours is short")
	assert.Equal(t, []string{"Lions sleep a lot.", "Do they snore?", "Yes!", "3.5 hours is short"}, got)
	assert.Empty(t, Sentences("   "))
}
