// Package testutil provides shared test helpers, mocks, and utilities.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/nortal/cmz-chatbots/internal/llm"
	"github.com/nortal/cmz-chatbots/internal/moderation"
)

// MockProvider implements llm.Provider for tests without live API calls.
// Reply, when set, computes the response content from the request; otherwise
// Content is returned. Set Err to simulate completion errors and Delay to
// simulate a slow backend.
type MockProvider struct {
	ProviderName string
	Content      string
	Reply        func(req *llm.Request) string
	Err          error
	Delay        time.Duration

	mu       sync.Mutex
	Requests []*llm.Request
}

// Name returns the provider identifier.
func (m *MockProvider) Name() string {
	if m.ProviderName == "" {
		return "mock"
	}
	return m.ProviderName
}

// Generate returns a canned response or the configured error.
func (m *MockProvider) Generate(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.Err != nil {
		return nil, m.Err
	}
	content := m.Content
	if m.Reply != nil {
		content = m.Reply(req)
	}
	return &llm.Response{
		Content:      content,
		FinishReason: "stop",
		InputTokens:  10,
		OutputTokens: 20,
		Model:        req.Model,
	}, nil
}

// Calls returns how many requests were received.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

// StubModerator returns a fixed moderation verdict. A nil Result with no Err
// means "nothing flagged".
type StubModerator struct {
	Result *moderation.Result
	Err    error
	Delay  time.Duration

	mu    sync.Mutex
	calls int
}

// Moderate implements the validator's moderation dependency.
func (s *StubModerator) Moderate(ctx context.Context, _ string) (*moderation.Result, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return nil, &moderation.UnavailableError{Provider: "stub", Attempts: 1, Err: ctx.Err()}
		}
	}
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Result == nil {
		return &moderation.Result{Provider: "stub", Categories: []moderation.Category{}}, nil
	}
	return s.Result, nil
}

// Calls returns how many times Moderate was called.
func (s *StubModerator) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Unavailable is the error a moderation outage produces.
func Unavailable() error {
	return &moderation.UnavailableError{Provider: "stub", Attempts: 3, Err: context.DeadlineExceeded}
}

// Flagged returns a moderation result with one flagged category.
func Flagged(category string, score float64) *moderation.Result {
	return &moderation.Result{
		Flagged:  true,
		Provider: "stub",
		MaxScore: score,
		Categories: []moderation.Category{{
			Name:     category,
			Score:    score,
			Severity: moderation.SeverityForScore(score),
			Flagged:  true,
		}},
	}
}
