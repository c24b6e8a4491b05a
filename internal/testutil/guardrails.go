package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nortal/cmz-chatbots/internal/guardrails"
	"github.com/nortal/cmz-chatbots/patterns"
)

// NewTestGuardrailsStore creates a guardrails store in a temp dir and
// registers t.Cleanup to close it. Uses TestSigningKey.
func NewTestGuardrailsStore(t *testing.T) *guardrails.Store {
	t.Helper()
	store, err := guardrails.NewStore(filepath.Join(t.TempDir(), "guardrails.db"), TestSigningKey)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// SeedDefaultGuardrails writes the embedded children's default document as
// the active default-scope config.
func SeedDefaultGuardrails(t *testing.T, store *guardrails.Store) *guardrails.Config {
	t.Helper()
	doc, err := guardrails.ParseDocument(patterns.GuardrailsDefaultYAML())
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := store.Create(context.Background(), doc, "test")
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

// StaticResolver always resolves to Config, or Err when set.
type StaticResolver struct {
	Config *guardrails.Config
	Err    error
}

// Resolve implements the validator's config lookup.
func (s StaticResolver) Resolve(context.Context, guardrails.Scope) (*guardrails.Config, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Config == nil {
		return nil, guardrails.ErrConfigurationMissing
	}
	return s.Config, nil
}
