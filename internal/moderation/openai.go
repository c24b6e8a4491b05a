package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider calls the OpenAI-compatible /moderations endpoint.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider creates a provider. An empty baseURL uses the OpenAI API.
func NewOpenAIProvider(apiKey, baseURL, model string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(cfg), model: model}
}

func (p *OpenAIProvider) Name() string { return "openai" }

// Classify performs one moderation request.
func (p *OpenAIProvider) Classify(ctx context.Context, content string) (*Result, error) {
	resp, err := p.client.Moderations(ctx, openai.ModerationRequest{Input: content, Model: p.model})
	if err != nil {
		if isClientError(err) {
			return nil, Permanent(fmt.Errorf("openai moderation: %w", err))
		}
		return nil, fmt.Errorf("openai moderation: %w", err)
	}
	if len(resp.Results) == 0 {
		return nil, fmt.Errorf("openai moderation: empty results")
	}
	return normalize(p.Name(), resp.Results[0])
}

// normalize converts the typed go-openai result into category lists. The
// category structs are decoded through their JSON tags so new categories
// appear without code changes.
func normalize(provider string, r openai.Result) (*Result, error) {
	flags := map[string]bool{}
	scores := map[string]float64{}
	if err := roundTrip(r.Categories, &flags); err != nil {
		return nil, err
	}
	if err := roundTrip(r.CategoryScores, &scores); err != nil {
		return nil, err
	}

	out := &Result{Flagged: r.Flagged, Provider: provider, Categories: make([]Category, 0, len(scores))}
	for name, score := range scores {
		out.Categories = append(out.Categories, Category{
			Name:     name,
			Score:    score,
			Severity: SeverityForScore(score),
			Flagged:  flags[name],
		})
		if score > out.MaxScore {
			out.MaxScore = score
		}
	}
	sort.Slice(out.Categories, func(i, j int) bool {
		if out.Categories[i].Score != out.Categories[j].Score {
			return out.Categories[i].Score > out.Categories[j].Score
		}
		return out.Categories[i].Name < out.Categories[j].Name
	})
	return out, nil
}

func roundTrip(in, out interface{}) error {
	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding moderation categories: %w", err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decoding moderation categories: %w", err)
	}
	return nil
}

func isClientError(err error) bool {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	return status >= 400 && status < 500 && status != http.StatusTooManyRequests && status != http.StatusRequestTimeout
}
