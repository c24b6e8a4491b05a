package moderation

import (
	cmzotel "github.com/nortal/cmz-chatbots/internal/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	cacheHits        metric.Int64Counter
	unavailableTotal metric.Int64Counter
	requestDuration  metric.Float64Histogram
)

func init() {
	meter := cmzotel.Meter("github.com/nortal/cmz-chatbots/internal/moderation")
	cacheHits = cmzotel.Int64Counter(meter, "cmz.moderation.cache_hits", "Moderation results served from cache")
	unavailableTotal = cmzotel.Int64Counter(meter, "cmz.moderation.unavailable", "Moderation calls that exhausted their retry budget")
	requestDuration = cmzotel.Float64Histogram(meter, "cmz.moderation.duration", "Moderation call duration including retries", "ms")
}
