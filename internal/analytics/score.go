package analytics

// Score weights.
const (
	weightConfidence = 0.4
	weightBlockRate  = 0.3
	weightEscalation = 0.2
	weightVolume     = 0.1

	trendTolerance = 0.2
)

// summarize folds hourly buckets of a window into an Effectiveness without
// score or trend. hours is the window length used for hourly averaging.
func summarize(buckets []Bucket, hours int) Effectiveness {
	var eff Effectiveness
	var hourlySum float64
	for _, b := range buckets {
		eff.TriggerCount += b.TriggerCount
		eff.BlockCount += b.BlockCount
		eff.EscalationCount += b.EscalationCount
		eff.SeverityBreakdown.Critical += b.Critical
		eff.SeverityBreakdown.High += b.High
		eff.SeverityBreakdown.Medium += b.Medium
		eff.SeverityBreakdown.Low += b.Low
		hourlySum += b.AverageConfidence()
		eff.AverageConfidence += b.ConfidenceSum
	}
	if eff.TriggerCount > 0 {
		eff.AverageConfidence /= float64(eff.TriggerCount)
		eff.BlockRate = float64(eff.BlockCount) / float64(eff.TriggerCount)
		eff.EscalationRate = float64(eff.EscalationCount) / float64(eff.TriggerCount)
	} else {
		eff.AverageConfidence = 0
	}
	if hours > 0 {
		eff.HourlyConfidence = hourlySum / float64(hours)
	}
	return eff
}

// score computes 0.4·C + 0.3·block_rate + 0.2·E + 0.1·volume_factor where C
// is the hourly-averaged confidence and E = 1 − escalation_rate only when the
// rule contributed to a block or escalation in the window.
func score(eff Effectiveness, saturation float64) float64 {
	var e float64
	if eff.BlockCount+eff.EscalationCount > 0 {
		e = 1 - eff.EscalationRate
	}
	volume := 0.0
	if saturation > 0 {
		volume = float64(eff.TriggerCount) / saturation
		if volume > 1 {
			volume = 1
		}
	}
	s := weightConfidence*eff.HourlyConfidence +
		weightBlockRate*eff.BlockRate +
		weightEscalation*e +
		weightVolume*volume
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}

// trend classifies current against previous trigger counts.
func trend(current, previous int64) Trend {
	if previous == 0 {
		if current > 0 {
			return TrendIncreasing
		}
		return TrendStable
	}
	change := float64(current-previous) / float64(previous)
	switch {
	case change > trendTolerance:
		return TrendIncreasing
	case change < -trendTolerance:
		return TrendDecreasing
	}
	return TrendStable
}
