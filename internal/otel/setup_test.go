package otel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestSetup(t *testing.T) {
	tests := []struct {
		name        string
		serviceName string
		version     string
		enabled     bool
	}{
		{"enabled", "test-service", "1.0.0", true},
		{"dev version", "cmz", "dev", true},
		{"disabled", "cmz", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shutdown, err := Setup(tt.serviceName, tt.version, tt.enabled)
			require.NoError(t, err)
			require.NotNil(t, shutdown)

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			assert.NoError(t, shutdown(ctx))
		})
	}
}

func TestTracer_CreatesValidSpansAfterSetup(t *testing.T) {
	shutdown, err := Setup("test-service", "0.0.1", true)
	require.NoError(t, err)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = shutdown(ctx)
	}()

	_, span := Tracer("github.com/nortal/cmz-chatbots/internal/otel/test").Start(context.Background(), "test.operation")
	defer span.End()

	assert.True(t, span.SpanContext().IsValid())
	assert.True(t, span.SpanContext().HasTraceID())
}

func TestTracer_NoopWithoutSetup(t *testing.T) {
	_, span := Tracer("github.com/nortal/cmz-chatbots/internal/noop").Start(context.Background(), "noop")
	defer span.End()
	assert.Implements(t, (*trace.Span)(nil), span)
}

func TestInstrumentHelpers_NeverNil(t *testing.T) {
	m := Meter("github.com/nortal/cmz-chatbots/internal/otel/test")
	c := Int64Counter(m, "test.counter", "test counter")
	require.NotNil(t, c)
	c.Add(context.Background(), 1)

	h := Float64Histogram(m, "test.latency", "test latency", "ms")
	require.NotNil(t, h)
	h.Record(context.Background(), 12.5)
}
