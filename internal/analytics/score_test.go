package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrend(t *testing.T) {
	tests := []struct {
		current, previous int64
		want              Trend
	}{
		{0, 0, TrendStable},
		{3, 0, TrendIncreasing},
		{13, 10, TrendIncreasing},
		{12, 10, TrendStable},
		{8, 10, TrendStable},
		{7, 10, TrendDecreasing},
		{0, 10, TrendDecreasing},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, trend(tt.current, tt.previous), "%d vs %d", tt.current, tt.previous)
	}
}

func TestScore_EscalationTermNeedsDecisiveOutcome(t *testing.T) {
	quiet := Effectiveness{TriggerCount: 100, HourlyConfidence: 0}
	assert.InDelta(t, 0.1, score(quiet, 100), 1e-9)

	decisive := Effectiveness{TriggerCount: 100, BlockCount: 100, BlockRate: 1, HourlyConfidence: 1}
	assert.InDelta(t, 1.0, score(decisive, 100), 1e-9)
}

func TestSummarize_SilentHoursCountAsZero(t *testing.T) {
	buckets := []Bucket{{TriggerCount: 2, ConfidenceSum: 1.8}, {TriggerCount: 1, ConfidenceSum: 0.5}}
	eff := summarize(buckets, 4)
	assert.Equal(t, int64(3), eff.TriggerCount)
	assert.InDelta(t, 2.3/3, eff.AverageConfidence, 1e-9)
	assert.InDelta(t, (0.9+0.5)/4, eff.HourlyConfidence, 1e-9)
}
