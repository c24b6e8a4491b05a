package classifier

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIIDetection(t *testing.T) {
	scanner := MustNewScanner()
	ctx := context.Background()

	tests := []struct {
		name         string
		text         string
		wantPII      bool
		wantEntities []string
	}{
		{name: "no PII", text: "Do penguins have knees?", wantPII: false},
		{name: "email", text: "write to me at kid@example.com", wantPII: true, wantEntities: []string{"EMAIL_ADDRESS"}},
		{name: "international phone", text: "my mom's phone is +1 415 555 0134", wantPII: true, wantEntities: []string{"PHONE_NUMBER"}},
		{name: "valid card", text: "dad's credit card 4111 1111 1111 1111", wantPII: true, wantEntities: []string{"CREDIT_CARD"}},
		{name: "luhn invalid card", text: "number 4111 1111 1111 1112 lol", wantPII: false},
		{name: "street address", text: "I live at 42 Maple Grove Street", wantPII: true, wantEntities: []string{"STREET_ADDRESS"}},
		{name: "ip address", text: "server 192.168.1.20 is down", wantPII: true, wantEntities: []string{"IP_ADDRESS"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := scanner.Scan(ctx, tt.text)
			assert.Equal(t, tt.wantPII, c.HasPII)
			var got []string
			for _, e := range c.Entities {
				got = append(got, e.Entity)
			}
			for _, want := range tt.wantEntities {
				assert.Contains(t, got, want)
			}
		})
	}
}

func TestScan_ContextBoostsConfidence(t *testing.T) {
	scanner := MustNewScanner()
	plain := scanner.Scan(context.Background(), "555 123 4567")
	boosted := scanner.Scan(context.Background(), "call my phone 555 123 4567")
	require.True(t, boosted.HasPII)
	if plain.HasPII {
		assert.Greater(t, boosted.MaxConfidence(), plain.MaxConfidence())
	}
	assert.LessOrEqual(t, boosted.MaxConfidence(), 1.0)
}

func TestRedact(t *testing.T) {
	scanner := MustNewScanner()
	out := scanner.Redact(context.Background(), "email kid@example.com about otters")
	assert.Equal(t, "email [EMAIL_ADDRESS] about otters", out)

	clean := "otters hold hands while sleeping"
	assert.Equal(t, clean, scanner.Redact(context.Background(), clean))
}

func TestWithEnabledEntities(t *testing.T) {
	scanner := MustNewScanner(WithEnabledEntities([]string{"email_address"}))
	c := scanner.Scan(context.Background(), "kid@example.com or +44 20 7946 0958")
	require.True(t, c.HasPII)
	for _, e := range c.Entities {
		assert.Equal(t, "EMAIL_ADDRESS", e.Entity)
	}
}

func TestWithCustomRecognizers_OverridesByName(t *testing.T) {
	disabled := false
	scanner := MustNewScanner(WithCustomRecognizers([]RecognizerConfig{
		{Name: "email_recognizer", SupportedEntity: "EMAIL_ADDRESS", Enabled: &disabled},
		{Name: "school", SupportedEntity: "SCHOOL", Patterns: []PatternConfig{{Name: "school", Regex: `(?i)\b[A-Z][a-z]+ (?:elementary|primary) school\b`, Score: 0.8}}},
	}))
	c := scanner.Scan(context.Background(), "kid@example.com goes to Lincoln Elementary School")
	var got []string
	for _, e := range c.Entities {
		got = append(got, e.Entity)
	}
	assert.NotContains(t, got, "EMAIL_ADDRESS")
	assert.Contains(t, got, "SCHOOL")
}

func TestLuhnValid(t *testing.T) {
	assert.True(t, luhnValid("4111111111111111"))
	assert.False(t, luhnValid("4111111111111112"))
	assert.False(t, luhnValid("1"))
}
