package llm

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	cmzotel "github.com/nortal/cmz-chatbots/internal/otel"
)

var (
	tokensUsed metric.Int64Counter
	throttled  metric.Int64Counter
)

func init() {
	meter := cmzotel.Meter("github.com/nortal/cmz-chatbots/internal/llm")
	tokensUsed = cmzotel.Int64Counter(meter, "cmz.completion.tokens", "Completion tokens by provider and direction")
	throttled = cmzotel.Int64Counter(meter, "cmz.completion.throttled", "Completion calls refused by the rate limiter")
}

func recordUsage(ctx context.Context, provider string, input, output int) {
	tokensUsed.Add(ctx, int64(input), metric.WithAttributes(
		attribute.String("provider", provider), attribute.String("direction", "input")))
	tokensUsed.Add(ctx, int64(output), metric.WithAttributes(
		attribute.String("provider", provider), attribute.String("direction", "output")))
}
