package otel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLLMAttributes(t *testing.T) {
	req := LLMRequestAttributes("openai", "gpt-4o-mini", 0.2, 400)
	assert.Len(t, req, 4)
	assert.Equal(t, "openai", req[0].Value.AsString())

	usage := LLMUsageAttributes(120, 45)
	assert.Equal(t, int64(120), usage[0].Value.AsInt64())
	assert.Equal(t, int64(45), usage[1].Value.AsInt64())
}
