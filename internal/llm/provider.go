// Package llm provides the completion service used to compress context
// summaries.
package llm

import (
	"context"
	"errors"
	"time"
)

// TimeoutLLMCall bounds a single completion call.
const TimeoutLLMCall = 60 * time.Second

var (
	ErrUnknownProvider = errors.New("unknown completion provider")
	ErrRateLimited     = errors.New("completion rate limit exceeded")
)

// Provider is one completion backend.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai", "ollama").
	Name() string
	// Generate sends a completion request and returns the response.
	Generate(ctx context.Context, req *Request) (*Response, error)
}

// Request is a chat completion request.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Message is one chat message.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// Response is a chat completion response.
type Response struct {
	Content      string
	FinishReason string
	InputTokens  int
	OutputTokens int
	Model        string
}
