package validator

import (
	cmzotel "github.com/nortal/cmz-chatbots/internal/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	validationsTotal   metric.Int64Counter
	degradedTotal      metric.Int64Counter
	fallbackTotal      metric.Int64Counter
	validationDuration metric.Float64Histogram
)

func init() {
	meter := cmzotel.Meter("github.com/nortal/cmz-chatbots/internal/validator")
	validationsTotal = cmzotel.Int64Counter(meter, "cmz.validations", "Validations by result")
	degradedTotal = cmzotel.Int64Counter(meter, "cmz.validations.degraded", "Validations decided without moderation")
	fallbackTotal = cmzotel.Int64Counter(meter, "cmz.validations.fallback", "Validations that returned the fallback outcome")
	validationDuration = cmzotel.Float64Histogram(meter, "cmz.validation.duration", "Validation processing time", "ms")
}
