package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigShowCmd_RedactsSecrets(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CMZ_PROFILE_ENCRYPTION_KEY", "abcdefghijklmnopqrstuvwxyz123456")

	out, err := execute(t, dir, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "Data directory:")
	assert.Contains(t, out, dir)
	assert.Contains(t, out, "(derived default)")
	assert.Contains(t, out, "abcd****")
	assert.NotContains(t, out, "abcdefghijklmnop")
	assert.Contains(t, out, "backend=sqlite transport=inprocess")
	assert.Contains(t, out, "analytics=30d archives=365d")
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "25.0%", formatRatio(0.25))
	assert.Equal(t, "0.14", formatScore(0.1433))
	assert.Equal(t, "< 0.01", formatScore(0.004))
	assert.Equal(t, "0.00", formatScore(0))
	assert.Equal(t, "(not set)", redact(""))
	assert.Equal(t, "****", redact("short"))
}
