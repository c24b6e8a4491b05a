package guardrails

import (
	cmzotel "github.com/nortal/cmz-chatbots/internal/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	configVersionsCreated metric.Int64Counter
	signatureFailures     metric.Int64Counter
	resolveFallbacks      metric.Int64Counter
)

func init() {
	meter := cmzotel.Meter("github.com/nortal/cmz-chatbots/internal/guardrails")
	configVersionsCreated = cmzotel.Int64Counter(meter, "cmz.guardrails.versions_created", "Guardrails config versions created")
	signatureFailures = cmzotel.Int64Counter(meter, "cmz.guardrails.signature_failures", "Active config versions rejected for a bad signature")
	resolveFallbacks = cmzotel.Int64Counter(meter, "cmz.guardrails.resolve_fallbacks", "Scope resolutions that fell back to a less specific config")
}
