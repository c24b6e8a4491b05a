package analytics

import (
	cmzotel "github.com/nortal/cmz-chatbots/internal/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	ingested         metric.Int64Counter
	ingestDuplicates metric.Int64Counter
	ingestFailures   metric.Int64Counter
	eventsDropped    metric.Int64Counter
)

func init() {
	meter := cmzotel.Meter("github.com/nortal/cmz-chatbots/internal/analytics")
	ingested = cmzotel.Int64Counter(meter, "cmz.analytics.ingested", "Trigger events applied to hourly buckets")
	ingestDuplicates = cmzotel.Int64Counter(meter, "cmz.analytics.duplicates", "Trigger events ignored as redelivered")
	ingestFailures = cmzotel.Int64Counter(meter, "cmz.analytics.failures", "Trigger events that could not be ingested")
	eventsDropped = cmzotel.Int64Counter(meter, "cmz.analytics.dropped", "Trigger events dropped because the emitter queue was full")
}
