package validator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nortal/cmz-chatbots/internal/analytics"
	"github.com/nortal/cmz-chatbots/internal/classifier"
	"github.com/nortal/cmz-chatbots/internal/guardrails"
	"github.com/nortal/cmz-chatbots/internal/rules"
	"github.com/nortal/cmz-chatbots/internal/testutil"
)

var visitor = Context{UserID: "u1", ConversationID: "c1", AnimalID: "lion", AgeGroup: "6-8"}

func keywordRule(id string, typ guardrails.RuleType, sev guardrails.Severity, terms ...string) guardrails.Rule {
	return guardrails.Rule{
		ID: id, Type: typ, Category: "test", Severity: sev, IsActive: true, Version: 1,
		Match: guardrails.MatchSpec{Method: guardrails.MatchKeyword, Terms: terms},
	}
}

func testConfig(rs ...guardrails.Rule) *guardrails.Config {
	return &guardrails.Config{
		ID:       "gr_test",
		Version:  3,
		Name:     "test",
		Scope:    guardrails.Scope{AgeGroup: "*", AnimalID: "*"},
		Rules:    rs,
		Params:   guardrails.DefaultParams(),
		IsActive: true,
	}
}

type sinkRecorder struct {
	mu     sync.Mutex
	events []analytics.Event
}

func (s *sinkRecorder) Emit(_ context.Context, ev analytics.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func newValidator(t *testing.T, mod Moderator, cfg *guardrails.Config, opts ...Option) *Validator {
	t.Helper()
	decisions, err := NewDecisionEngine(context.Background())
	require.NoError(t, err)
	engine := rules.NewEngine(classifier.MustNewScanner())
	return New(mod, engine, testutil.StaticResolver{Config: cfg}, decisions, opts...)
}

func TestValidate_ApprovedWithoutRules(t *testing.T) {
	v := newValidator(t, &testutil.StubModerator{}, testConfig())

	out, err := v.Validate(context.Background(), "I love lions!", visitor)
	require.NoError(t, err)
	assert.Equal(t, ResultApproved, out.Result)
	assert.InDelta(t, 0, out.RiskScore, 1e-9)
	assert.Empty(t, out.TriggeredRules)
	assert.Empty(t, out.AdvisoryRules)
	assert.Equal(t, guardrails.SeverityNone, out.HighestSeverity)
	assert.True(t, out.Valid)
	assert.False(t, out.RequiresEscalation)
	assert.False(t, out.Degraded)
	assert.Equal(t, "gr_test", out.ConfigID)
	assert.Equal(t, 3, out.ConfigVersion)
	assert.True(t, strings.HasPrefix(out.ValidationID, "val_"))
	assert.Empty(t, out.UserMessage)
}

func TestValidate_CriticalRuleBlocks(t *testing.T) {
	cfg := testConfig(
		guardrails.Rule{ID: "meet", Type: guardrails.RuleNever, Category: "grooming", Severity: guardrails.SeverityCritical,
			IsActive: true, Version: 2, Match: guardrails.MatchSpec{Method: guardrails.MatchPhrase, Terms: []string{"meet me"}}},
	)
	v := newValidator(t, &testutil.StubModerator{}, cfg)

	out, err := v.Validate(context.Background(), "Can you meet me at the zoo gate?", visitor)
	require.NoError(t, err)
	assert.Equal(t, ResultBlocked, out.Result)
	assert.Equal(t, guardrails.SeverityCritical, out.HighestSeverity)
	assert.InDelta(t, 1.0, out.RiskScore, 1e-9)
	assert.False(t, out.Valid)
	require.Len(t, out.TriggeredRules, 1)
	assert.Equal(t, 2, out.TriggeredRules[0].RuleVersion)
	assert.Equal(t, guardrails.DefaultBlockedMessage, out.UserMessage)
	assert.Contains(t, out.Reasons, "critical rule meet triggered")
}

func TestValidate_TwoHighRulesEscalate(t *testing.T) {
	cfg := testConfig(
		keywordRule("kind-1", guardrails.RuleAlways, guardrails.SeverityHigh, "stupid"),
		keywordRule("kind-2", guardrails.RuleAlways, guardrails.SeverityHigh, "idiot"),
	)
	v := newValidator(t, &testutil.StubModerator{}, cfg)

	out, err := v.Validate(context.Background(), "the stupid idiot tiger", visitor)
	require.NoError(t, err)
	assert.Equal(t, ResultEscalated, out.Result)
	assert.True(t, out.RequiresEscalation)
	assert.Equal(t, guardrails.SeverityHigh, out.HighestSeverity)
	assert.InDelta(t, 0.75, out.RiskScore, 1e-9)
	assert.Len(t, out.TriggeredRules, 2)
}

func TestValidate_OneHighRuleFlags(t *testing.T) {
	cfg := testConfig(keywordRule("kind-1", guardrails.RuleAlways, guardrails.SeverityHigh, "stupid"))
	v := newValidator(t, &testutil.StubModerator{}, cfg)

	out, err := v.Validate(context.Background(), "that is stupid", visitor)
	require.NoError(t, err)
	assert.Equal(t, ResultFlagged, out.Result)
	assert.True(t, out.Valid)
}

func TestValidate_EscalationThresholdsAreConfigurable(t *testing.T) {
	cfg := testConfig(
		keywordRule("kind-1", guardrails.RuleAlways, guardrails.SeverityHigh, "stupid"),
		keywordRule("kind-2", guardrails.RuleAlways, guardrails.SeverityHigh, "idiot"),
	)
	cfg.Params.MaxHighRules = 2
	v := newValidator(t, &testutil.StubModerator{}, cfg)

	out, err := v.Validate(context.Background(), "stupid idiot", visitor)
	require.NoError(t, err)
	assert.Equal(t, ResultFlagged, out.Result)

	cfg.Params.EscalationThreshold = 0.5
	out, err = v.Validate(context.Background(), "stupid idiot", visitor)
	require.NoError(t, err)
	assert.Equal(t, ResultEscalated, out.Result)
}

func TestValidate_AdvisoryRulesNeverBlockOrEscalate(t *testing.T) {
	cfg := testConfig(
		keywordRule("enc-1", guardrails.RuleEncourage, guardrails.SeverityCritical, "habitat"),
		keywordRule("enc-2", guardrails.RuleEncourage, guardrails.SeverityHigh, "savanna"),
		keywordRule("dis-1", guardrails.RuleDiscourage, guardrails.SeverityCritical, "minecraft"),
		keywordRule("dis-2", guardrails.RuleDiscourage, guardrails.SeverityHigh, "fortnite"),
	)
	sink := &sinkRecorder{}
	v := newValidator(t, &testutil.StubModerator{}, cfg, WithEventSink(sink))

	out, err := v.Validate(context.Background(), "habitat savanna minecraft fortnite", visitor)
	require.NoError(t, err)
	assert.NotEqual(t, ResultBlocked, out.Result)
	assert.NotEqual(t, ResultEscalated, out.Result)
	assert.Equal(t, ResultApproved, out.Result)
	assert.Empty(t, out.TriggeredRules)
	assert.Len(t, out.AdvisoryRules, 4)
	assert.Equal(t, guardrails.SeverityNone, out.HighestSeverity)
	assert.Equal(t, guardrails.DefaultAdvisoryMessage, out.UserMessage)
	assert.Len(t, sink.events, 4)
}

func TestValidate_HighestSeverityMatchesTriggeredRules(t *testing.T) {
	cfg := testConfig(
		keywordRule("low", guardrails.RuleNever, guardrails.SeverityLow, "alpha"),
		keywordRule("med", guardrails.RuleNever, guardrails.SeverityMedium, "beta"),
		keywordRule("high", guardrails.RuleNever, guardrails.SeverityHigh, "gamma"),
		keywordRule("crit", guardrails.RuleNever, guardrails.SeverityCritical, "delta"),
		keywordRule("adv", guardrails.RuleEncourage, guardrails.SeverityCritical, "epsilon"),
	)
	v := newValidator(t, &testutil.StubModerator{}, cfg)

	inputs := []string{"alpha", "alpha beta", "beta gamma", "gamma delta alpha", "epsilon", "epsilon alpha", "nothing here"}
	for _, in := range inputs {
		out, err := v.Validate(context.Background(), in, visitor)
		require.NoError(t, err, in)
		assert.Equal(t, rules.HighestSeverity(out.TriggeredRules), out.HighestSeverity, in)
		for i := 1; i < len(out.TriggeredRules); i++ {
			assert.GreaterOrEqual(t, out.TriggeredRules[i-1].Severity, out.TriggeredRules[i].Severity, in)
		}
		if len(out.TriggeredRules) == 0 {
			assert.Equal(t, guardrails.SeverityNone, out.HighestSeverity, in)
		}
	}
}

func TestValidate_ModerationSignals(t *testing.T) {
	tests := []struct {
		name     string
		category string
		score    float64
		want     Result
	}{
		{"hard-blocked category", "sexual/minors", 0.6, ResultBlocked},
		{"score above threshold", "harassment", 0.85, ResultEscalated},
		{"flagged below threshold", "harassment", 0.55, ResultFlagged},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newValidator(t, &testutil.StubModerator{Result: testutil.Flagged(tt.category, tt.score)}, testConfig())
			out, err := v.Validate(context.Background(), "some text", visitor)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Result)
			assert.InDelta(t, tt.score, out.RiskScore, 1e-9)
			require.NotNil(t, out.Moderation)
		})
	}
}

func TestValidate_ModerationOutageDegrades(t *testing.T) {
	v := newValidator(t, &testutil.StubModerator{Err: testutil.Unavailable()}, testConfig())

	out, err := v.Validate(context.Background(), "Do lions purr?", visitor)
	require.NoError(t, err)
	assert.True(t, out.Degraded)
	assert.Nil(t, out.Moderation)
	assert.Equal(t, ResultApproved, out.Result)
	assert.InDelta(t, 0.15, out.RiskScore, 1e-9)
	assert.Contains(t, out.Reasons, "moderation unavailable")
}

func TestValidate_ModerationOutageMarginCanEscalate(t *testing.T) {
	cfg := testConfig(keywordRule("kind", guardrails.RuleAlways, guardrails.SeverityHigh, "stupid"))
	v := newValidator(t, &testutil.StubModerator{Err: testutil.Unavailable()}, cfg)

	out, err := v.Validate(context.Background(), "stupid", visitor)
	require.NoError(t, err)
	assert.InDelta(t, 0.9, out.RiskScore, 1e-9)
	assert.Equal(t, ResultEscalated, out.Result)
}

func TestValidate_FailClosedOnModerationOutage(t *testing.T) {
	cfg := testConfig()
	cfg.Params.FailClosedOnModerationOutage = true
	v := newValidator(t, &testutil.StubModerator{Err: testutil.Unavailable()}, cfg)

	out, err := v.Validate(context.Background(), "Do lions purr?", visitor)
	require.NoError(t, err)
	assert.Equal(t, ResultEscalated, out.Result)
	assert.InDelta(t, 1.0, out.RiskScore, 1e-9)
	assert.True(t, out.Fallback)
	assert.Equal(t, guardrails.DefaultEscalatedMessage, out.UserMessage)
}

func TestValidate_SlowModerationReturnsWithinDeadline(t *testing.T) {
	v := newValidator(t, &testutil.StubModerator{Delay: 5 * time.Second}, testConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	out, err := v.Validate(ctx, "Do lions purr?", visitor)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, ResultEscalated, out.Result)
	assert.True(t, out.Fallback)
	assert.InDelta(t, 1.0, out.RiskScore, 1e-9)
	assert.NotContains(t, out.UserMessage, "deadline")
}

type failingEvaluator struct{}

func (failingEvaluator) Evaluate(context.Context, string, *guardrails.Config) ([]rules.TriggeredRule, error) {
	return nil, errors.New("regex engine exploded: /secret/path")
}

func TestValidate_RuleFailureFallsBack(t *testing.T) {
	decisions, err := NewDecisionEngine(context.Background())
	require.NoError(t, err)
	v := New(&testutil.StubModerator{}, failingEvaluator{}, testutil.StaticResolver{Config: testConfig()}, decisions)

	out, err := v.Validate(context.Background(), "hello", visitor)
	require.NoError(t, err)
	assert.Equal(t, ResultEscalated, out.Result)
	assert.True(t, out.RequiresEscalation)
	assert.NotContains(t, out.UserMessage, "secret")
	assert.NotContains(t, out.Summary, "secret")
}

func TestValidate_InputErrors(t *testing.T) {
	v := newValidator(t, &testutil.StubModerator{}, testConfig())
	for _, in := range []string{"", "   ", "\n\t"} {
		_, err := v.Validate(context.Background(), in, visitor)
		assert.ErrorIs(t, err, ErrEmptyContent)
	}

	missing := newValidator(t, &testutil.StubModerator{}, nil)
	_, err := missing.Validate(context.Background(), "hello", visitor)
	assert.ErrorIs(t, err, guardrails.ErrConfigurationMissing)
}

func TestValidate_MalformedInputNeverErrors(t *testing.T) {
	v := newValidator(t, &testutil.StubModerator{}, testConfig(keywordRule("k", guardrails.RuleNever, guardrails.SeverityLow, "x")))
	for _, in := range []string{"\x00\x01", "((((", strings.Repeat("🦁", 500), "<script>alert(1)</script>", "\xff\xfe"} {
		out, err := v.Validate(context.Background(), in, visitor)
		require.NoError(t, err)
		assert.NotEmpty(t, out.Result)
	}
}

func TestValidate_EmitsOneEventPerTriggeredRule(t *testing.T) {
	cfg := testConfig(
		keywordRule("crit", guardrails.RuleNever, guardrails.SeverityCritical, "gun"),
		keywordRule("adv", guardrails.RuleEncourage, guardrails.SeverityLow, "habitat"),
	)
	sink := &sinkRecorder{}
	v := newValidator(t, &testutil.StubModerator{}, cfg, WithEventSink(sink))

	out, err := v.Validate(context.Background(), "a gun in the habitat", visitor)
	require.NoError(t, err)
	require.Equal(t, ResultBlocked, out.Result)
	require.Len(t, sink.events, 2)

	byRule := map[string]analytics.Event{}
	for _, ev := range sink.events {
		assert.Equal(t, out.ValidationID, ev.ValidationID)
		byRule[ev.RuleID] = ev
	}
	assert.True(t, byRule["crit"].Blocked)
	assert.False(t, byRule["adv"].Blocked)
}

func TestValidate_WithStoreAndResolver(t *testing.T) {
	store := testutil.NewTestGuardrailsStore(t)
	testutil.SeedDefaultGuardrails(t, store)
	decisions, err := NewDecisionEngine(context.Background())
	require.NoError(t, err)
	v := New(&testutil.StubModerator{}, rules.NewEngine(classifier.MustNewScanner()),
		guardrails.NewResolver(store, time.Second), decisions)

	out, err := v.Validate(context.Background(), "I want to hurt myself", visitor)
	require.NoError(t, err)
	assert.Equal(t, ResultBlocked, out.Result)

	out, err = v.Validate(context.Background(), "Do penguins live in a cold habitat?", visitor)
	require.NoError(t, err)
	assert.Equal(t, ResultApproved, out.Result)
	require.Len(t, out.AdvisoryRules, 1)
	assert.Equal(t, "encourage-conservation", out.AdvisoryRules[0].RuleID)
}
