package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CMZ_DATA_DIR", t.TempDir())
	cfg, err := LoadFrom(NewViper())
	require.NoError(t, err)

	assert.Equal(t, DefaultModerationModel, cfg.Moderation.Model)
	assert.Equal(t, 2*time.Second, cfg.Moderation.Timeout)
	assert.Equal(t, 3, cfg.Moderation.Attempts)
	assert.Equal(t, 30*time.Second, cfg.Moderation.CacheTTL)
	assert.Equal(t, 1200, cfg.Context.TokenCeiling)
	assert.InDelta(t, 0.6, cfg.Context.ReductionRatio, 1e-9)
	assert.InDelta(t, 0.5, cfg.Context.QualityFloor, 1e-9)
	assert.Equal(t, BackendSQLite, cfg.Analytics.Backend)
	assert.Equal(t, TransportInProcess, cfg.Analytics.Transport)
	assert.Equal(t, 48*time.Hour, cfg.Analytics.DedupWindow)
	assert.Equal(t, 30, cfg.Retention.AnalyticsDays)
	assert.Equal(t, 365, cfg.Retention.ArchiveDays)
	assert.True(t, cfg.UsingDefaultSigningKey())
	assert.GreaterOrEqual(t, len(cfg.SigningKey), 32)
}

func TestLoad_NestedEnvOverrides(t *testing.T) {
	t.Setenv("CMZ_DATA_DIR", t.TempDir())
	t.Setenv("CMZ_MODERATION_TIMEOUT", "500ms")
	t.Setenv("CMZ_CONTEXT_TOKEN_CEILING", "800")
	t.Setenv("CMZ_SIGNING_KEY", "my-signing-key-at-least-32-chars!")

	cfg, err := LoadFrom(NewViper())
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, cfg.Moderation.Timeout)
	assert.Equal(t, 800, cfg.Context.TokenCeiling)
	assert.False(t, cfg.UsingDefaultSigningKey())
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"short signing key", map[string]string{"CMZ_SIGNING_KEY": "short"}, "signing_key must be at least 32 bytes"},
		{"bad profile key", map[string]string{"CMZ_PROFILE_ENCRYPTION_KEY": "nope"}, "profile_encryption_key"},
		{"reduction ratio", map[string]string{"CMZ_CONTEXT_REDUCTION_RATIO": "1.5"}, "reduction_ratio"},
		{"redis without url", map[string]string{"CMZ_ANALYTICS_BACKEND": "redis"}, "redis_url"},
		{"nats without url", map[string]string{"CMZ_ANALYTICS_TRANSPORT": "nats"}, "nats_url"},
		{"unknown backend", map[string]string{"CMZ_ANALYTICS_BACKEND": "mongo"}, "unknown analytics.backend"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CMZ_DATA_DIR", t.TempDir())
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadFrom(NewViper())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_DBPaths(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CMZ_DATA_DIR", dir)
	cfg, err := LoadFrom(NewViper())
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.DataDir)
	assert.Contains(t, cfg.GuardrailsDBPath(), "guardrails.db")
	assert.Contains(t, cfg.AnalyticsDBPath(), "analytics.db")
	assert.Contains(t, cfg.ProfileDBPath(), "profiles.db")
	require.NoError(t, cfg.EnsureDataDir())
}

func TestDeriveDefaultKey_Deterministic(t *testing.T) {
	a := deriveDefaultKey("/tmp/x", "salt")
	b := deriveDefaultKey("/tmp/x", "salt")
	c := deriveDefaultKey("/tmp/y", "salt")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
