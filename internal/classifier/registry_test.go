package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRecognizerFile(t *testing.T) {
	yaml := `
recognizers:
  - name: "Test Email"
    supported_entity: "EMAIL_ADDRESS"
    enabled: true
    patterns:
      - name: "basic email"
        regex: '\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b'
        score: 0.85
    sensitivity: 2
  - name: "Card"
    supported_entity: "CREDIT_CARD"
    validate_luhn: true
    patterns:
      - name: "card"
        regex: '\b[0-9]{16}\b'
        score: 0.5
    supported_languages:
      - language: en
        context: ["card"]
`
	rf, err := ParseRecognizerFile([]byte(yaml))
	require.NoError(t, err)
	require.Len(t, rf.Recognizers, 2)
	assert.True(t, rf.Recognizers[0].isEnabled())
	assert.Equal(t, 2, rf.Recognizers[0].Sensitivity)
	assert.True(t, rf.Recognizers[1].ValidateLuhn)
	assert.Equal(t, []string{"card"}, rf.Recognizers[1].contextWords())

	compiled, err := CompilePIIPatterns(rf.Recognizers)
	require.NoError(t, err)
	require.Len(t, compiled, 2)
	assert.Equal(t, 0.85, compiled[0].Score)
	assert.Equal(t, "CREDIT_CARD", compiled[1].Entity)
}

func TestCompilePIIPatterns_BadRegex(t *testing.T) {
	_, err := CompilePIIPatterns([]RecognizerConfig{
		{Name: "bad", SupportedEntity: "X", Patterns: []PatternConfig{{Name: "p", Regex: "(unclosed"}}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
}

func TestMergeRecognizers(t *testing.T) {
	a := []RecognizerConfig{{Name: "one", SupportedEntity: "A"}, {Name: "two", SupportedEntity: "B"}}
	b := []RecognizerConfig{{Name: "two", SupportedEntity: "B2"}, {Name: "three", SupportedEntity: "C"}}
	merged := MergeRecognizers(a, b)
	require.Len(t, merged, 3)
	assert.Equal(t, "B2", merged[1].SupportedEntity)
	assert.Equal(t, "three", merged[2].Name)
}

func TestDefaultRecognizers_Compile(t *testing.T) {
	recs, err := DefaultRecognizers()
	require.NoError(t, err)
	assert.NotEmpty(t, recs)
	_, err = CompilePIIPatterns(recs)
	require.NoError(t, err)
}
