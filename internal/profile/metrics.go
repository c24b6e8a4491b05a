package profile

import (
	"go.opentelemetry.io/otel/metric"

	cmzotel "github.com/nortal/cmz-chatbots/internal/otel"
)

var (
	compressions     metric.Int64Counter
	truncations      metric.Int64Counter
	extractFailures  metric.Int64Counter
	versionConflicts metric.Int64Counter
	turnsProcessed   metric.Int64Counter
)

func init() {
	meter := cmzotel.Meter("github.com/nortal/cmz-chatbots/internal/profile")
	compressions = cmzotel.Int64Counter(meter, "cmz.profile.compressions", "Profiles recompressed over the token ceiling")
	truncations = cmzotel.Int64Counter(meter, "cmz.profile.truncations", "Compressions replaced by truncation")
	extractFailures = cmzotel.Int64Counter(meter, "cmz.profile.extract_failures", "Turns whose signal extraction failed")
	versionConflicts = cmzotel.Int64Counter(meter, "cmz.profile.version_conflicts", "Optimistic profile writes retried after a conflict")
	turnsProcessed = cmzotel.Int64Counter(meter, "cmz.profile.turns", "Post-turn context updates by status")
}
