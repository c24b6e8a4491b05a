package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProvider struct{ calls int }

func (c *countingProvider) Name() string { return "counting" }

func (c *countingProvider) Generate(_ context.Context, req *Request) (*Response, error) {
	c.calls++
	return &Response{Content: "ok", Model: req.Model}, nil
}

func TestThrottled_RejectsWhenDeadlineBeatsToken(t *testing.T) {
	inner := &countingProvider{}
	p := NewThrottled(inner, 0.01, 1)

	_, err := p.Generate(context.Background(), &Request{Model: "m"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Generate(ctx, &Request{Model: "m"})
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, "counting", p.Name())
}

func TestThrottled_Unlimited(t *testing.T) {
	inner := &countingProvider{}
	p := NewThrottled(inner, 0, 0)
	for i := 0; i < 20; i++ {
		_, err := p.Generate(context.Background(), &Request{})
		require.NoError(t, err)
	}
	assert.Equal(t, 20, inner.calls)
}
