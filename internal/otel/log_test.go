package otel

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceContextFrom_NoSpan(t *testing.T) {
	traceID, spanID := TraceContextFrom(context.Background())
	assert.Empty(t, traceID)
	assert.Empty(t, spanID)
}

func TestLogTraceFields_NoPanic(t *testing.T) {
	logger := zerolog.New(io.Discard)
	LogTraceFields(context.Background())(logger.Info())
}

func TestLogTraceFields_AddsIDsWithSpan(t *testing.T) {
	shutdown, err := Setup("log-test", "dev", true)
	require.NoError(t, err)
	defer func() { _ = shutdown(context.Background()) }()

	ctx, span := Tracer("log-test").Start(context.Background(), "op")
	defer span.End()

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	logger.Info().Func(LogTraceFields(ctx)).Msg("x")
	assert.Contains(t, buf.String(), `"trace_id"`)
	assert.Contains(t, buf.String(), `"span_id"`)
}
