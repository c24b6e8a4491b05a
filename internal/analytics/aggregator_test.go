package analytics

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nortal/cmz-chatbots/internal/guardrails"
)

func newSQLiteAggregator(t *testing.T, now time.Time, opts ...Option) (*Aggregator, *SQLiteStore) {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "analytics.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	opts = append([]Option{WithClock(func() time.Time { return now })}, opts...)
	return NewAggregator(store, opts...), store
}

// midHour keeps "a minute ago" inside the current hour bucket.
func midHour() time.Time {
	return time.Now().UTC().Truncate(time.Hour).Add(30 * time.Minute)
}

func testEvent(validationID string, at time.Time) Event {
	return Event{
		ValidationID: validationID,
		RuleID:       "never-violent-language",
		RuleVersion:  1,
		RuleType:     guardrails.RuleNever,
		Severity:     guardrails.SeverityHigh,
		Confidence:   0.8,
		DetectedAt:   at,
	}
}

func TestAggregator_TenTriggersAcross24Hours(t *testing.T) {
	now := midHour()
	agg, _ := newSQLiteAggregator(t, now)
	ctx := context.Background()

	from := now.Truncate(time.Hour).Add(time.Hour).Add(-24 * time.Hour)
	for i := 0; i < 10; i++ {
		at := from.Add(time.Duration(i*24/10) * time.Hour).Add(10 * time.Minute)
		require.NoError(t, agg.Record(ctx, testEvent(fmt.Sprintf("val-%d", i), at)))
	}

	eff, err := agg.Effectiveness(ctx, "never-violent-language", Window24h, false)
	require.NoError(t, err)
	assert.Equal(t, int64(10), eff.TriggerCount)
	assert.InDelta(t, 0.8, eff.AverageConfidence, 1e-9)
	assert.Zero(t, eff.BlockRate)
	assert.Zero(t, eff.EscalationRate)
	assert.Greater(t, eff.EffectivenessScore, 0.0)
	assert.Less(t, eff.EffectivenessScore, 0.4*0.8)
	assert.InDelta(t, 0.4*(8.0/24.0)+0.1*0.1, eff.EffectivenessScore, 1e-9)
	assert.Equal(t, TrendIncreasing, eff.Trend)
	assert.Nil(t, eff.Hourly)
	assert.Equal(t, int64(10), eff.SeverityBreakdown.High)
}

func TestAggregator_ReplayIsIdempotent(t *testing.T) {
	now := midHour()
	agg, _ := newSQLiteAggregator(t, now)
	ctx := context.Background()
	ev := testEvent("val-1", now.Add(-5*time.Minute))

	for i := 0; i < 3; i++ {
		require.NoError(t, agg.Record(ctx, ev))
	}
	other := ev
	other.RuleID = "always-stay-kind"
	require.NoError(t, agg.Record(ctx, other))

	eff, err := agg.Effectiveness(ctx, ev.RuleID, Window1h, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), eff.TriggerCount)
	require.Len(t, eff.Hourly, 1)
	assert.Equal(t, int64(1), eff.Hourly[0].TriggerCount)
	assert.Equal(t, HourBucket(ev.DetectedAt), eff.Hourly[0].Hour)
}

func TestAggregator_ConcurrentIngestOrderIndependent(t *testing.T) {
	now := midHour()
	agg, _ := newSQLiteAggregator(t, now)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				id := fmt.Sprintf("val-%d", (i+w*5)%20)
				assert.NoError(t, agg.Record(ctx, testEvent(id, now.Add(-time.Minute))))
			}
		}(w)
	}
	wg.Wait()

	eff, err := agg.Effectiveness(ctx, "never-violent-language", Window1h, false)
	require.NoError(t, err)
	assert.Equal(t, int64(20), eff.TriggerCount)
}

func TestAggregator_BlockAndEscalationRates(t *testing.T) {
	now := midHour()
	agg, _ := newSQLiteAggregator(t, now)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		ev := testEvent(fmt.Sprintf("v%d", i), now.Add(-time.Minute))
		ev.Blocked = i < 2
		ev.Escalated = i == 2
		require.NoError(t, agg.Record(ctx, ev))
	}

	eff, err := agg.Effectiveness(ctx, "never-violent-language", Window1h, false)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, eff.BlockRate, 1e-9)
	assert.InDelta(t, 0.25, eff.EscalationRate, 1e-9)
	want := 0.4*0.8 + 0.3*0.5 + 0.2*0.75 + 0.1*0.04
	assert.InDelta(t, want, eff.EffectivenessScore, 1e-9)
}

func TestAggregator_TrendAgainstPreviousWindow(t *testing.T) {
	now := midHour()
	agg, _ := newSQLiteAggregator(t, now)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, agg.Record(ctx, testEvent(fmt.Sprintf("prev-%d", i), now.Add(-30*time.Hour))))
	}
	for i := 0; i < 5; i++ {
		require.NoError(t, agg.Record(ctx, testEvent(fmt.Sprintf("cur-%d", i), now.Add(-time.Hour))))
	}

	eff, err := agg.Effectiveness(ctx, "never-violent-language", Window24h, false)
	require.NoError(t, err)
	assert.Equal(t, int64(5), eff.TriggerCount)
	assert.Equal(t, int64(10), eff.PreviousTriggerCount)
	assert.Equal(t, TrendDecreasing, eff.Trend)
}

func TestAggregator_EmptyRule(t *testing.T) {
	agg, _ := newSQLiteAggregator(t, midHour())
	eff, err := agg.Effectiveness(context.Background(), "quiet-rule", Window7d, true)
	require.NoError(t, err)
	assert.Zero(t, eff.TriggerCount)
	assert.Zero(t, eff.EffectivenessScore)
	assert.Equal(t, TrendStable, eff.Trend)
	assert.NotNil(t, eff.Hourly)
	assert.Empty(t, eff.Hourly)

	_, err = agg.Effectiveness(context.Background(), "", Window24h, false)
	assert.ErrorIs(t, err, ErrRuleRequired)
	_, err = agg.Effectiveness(context.Background(), "r", Window("2w"), false)
	assert.ErrorIs(t, err, ErrUnknownWindow)
}

func TestAggregator_RejectsInvalidEvents(t *testing.T) {
	agg, _ := newSQLiteAggregator(t, midHour())
	ctx := context.Background()
	now := time.Now()

	tests := []struct {
		name string
		ev   Event
	}{
		{"no validation id", Event{RuleID: "r", DetectedAt: now, Confidence: 0.5}},
		{"no rule id", Event{ValidationID: "v", DetectedAt: now, Confidence: 0.5}},
		{"no time", Event{ValidationID: "v", RuleID: "r", Confidence: 0.5}},
		{"confidence", Event{ValidationID: "v", RuleID: "r", DetectedAt: now, Confidence: 1.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, agg.Record(ctx, tt.ev), ErrInvalidEvent)
		})
	}
}

func TestAggregator_Prune(t *testing.T) {
	now := midHour()
	agg, _ := newSQLiteAggregator(t, now, WithRetention(24*time.Hour))
	ctx := context.Background()

	require.NoError(t, agg.Record(ctx, testEvent("old", now.Add(-72*time.Hour))))
	require.NoError(t, agg.Record(ctx, testEvent("new", now.Add(-time.Minute))))

	n, err := agg.Prune(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))

	eff, err := agg.Effectiveness(ctx, "never-violent-language", Window7d, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), eff.TriggerCount)
}

func TestParseWindow(t *testing.T) {
	w, err := ParseWindow("")
	require.NoError(t, err)
	assert.Equal(t, Window24h, w)
	w, err = ParseWindow("30D")
	require.NoError(t, err)
	assert.Equal(t, 720, w.Hours())
	_, err = ParseWindow("90d")
	assert.ErrorIs(t, err, ErrUnknownWindow)
}
