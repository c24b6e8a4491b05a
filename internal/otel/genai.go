package otel

import (
	"go.opentelemetry.io/otel/attribute"
)

// GenAI semantic convention keys used on moderation and summarization spans.
const (
	GenAISystem               = attribute.Key("gen_ai.system")
	GenAIRequestModel         = attribute.Key("gen_ai.request.model")
	GenAIRequestTemperature   = attribute.Key("gen_ai.request.temperature")
	GenAIRequestMaxTokens     = attribute.Key("gen_ai.request.max_tokens")
	GenAIUsageInputTokens     = attribute.Key("gen_ai.usage.input_tokens")
	GenAIUsageOutputTokens    = attribute.Key("gen_ai.usage.output_tokens")
	GenAIResponseFinishReason = attribute.Key("gen_ai.response.finish_reason")
)

// Guardrail attribute keys shared by the validator, rule engine and analytics.
const (
	GuardrailValidationID = attribute.Key("cmz.validation_id")
	GuardrailResult       = attribute.Key("cmz.validation.result")
	GuardrailRiskScore    = attribute.Key("cmz.validation.risk_score")
	GuardrailAgeGroup     = attribute.Key("cmz.age_group")
	GuardrailAnimalID     = attribute.Key("cmz.animal_id")
	GuardrailConfigID     = attribute.Key("cmz.guardrails.config_id")
	GuardrailRuleID       = attribute.Key("cmz.rule_id")
	GuardrailDegraded     = attribute.Key("cmz.validation.degraded")
)

// LLMRequestAttributes creates standard attributes for LLM requests.
func LLMRequestAttributes(system, model string, temperature float64, maxTokens int) []attribute.KeyValue {
	return []attribute.KeyValue{
		GenAISystem.String(system),
		GenAIRequestModel.String(model),
		GenAIRequestTemperature.Float64(temperature),
		GenAIRequestMaxTokens.Int(maxTokens),
	}
}

// LLMUsageAttributes creates attributes for token usage.
func LLMUsageAttributes(inputTokens, outputTokens int) []attribute.KeyValue {
	return []attribute.KeyValue{
		GenAIUsageInputTokens.Int(inputTokens),
		GenAIUsageOutputTokens.Int(outputTokens),
	}
}
