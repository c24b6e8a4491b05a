package cmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nortal/cmz-chatbots/internal/config"
	"github.com/nortal/cmz-chatbots/internal/llm"
	"github.com/nortal/cmz-chatbots/internal/testutil"
)

func TestParseAPIKeys(t *testing.T) {
	m := parseAPIKeys("")
	assert.Empty(t, m)

	m = parseAPIKeys("key1")
	assert.Len(t, m, 1)
	assert.Equal(t, "default", m["key1"])

	m = parseAPIKeys("key1:zoo-a, key2:zoo-b")
	assert.Len(t, m, 2)
	assert.Equal(t, "zoo-a", m["key1"])
	assert.Equal(t, "zoo-b", m["key2"])

	m = parseAPIKeys("mykey:  ")
	assert.Equal(t, "default", m["mykey"], "key with empty tenant gets the default tenant")
}

type countingPruner struct{ calls int }

func (p *countingPruner) Prune(context.Context) (int64, error) {
	p.calls++
	return 0, nil
}

func TestRetentionScheduler(t *testing.T) {
	v := config.NewViper()
	v.Set(config.KeyDataDir, t.TempDir())
	cfg, err := config.LoadFrom(v)
	require.NoError(t, err)
	require.NoError(t, cfg.EnsureDataDir())

	_, store, err := openProfiles(cfg, nil)
	require.NoError(t, err)
	defer store.Close()

	p := &countingPruner{}
	sched, err := retentionScheduler(cfg, p, store)
	require.NoError(t, err)
	assert.Equal(t, 2, sched.Entries())

	sched.RunNow()
	assert.Equal(t, 1, p.calls)

	cfg.Retention.Schedule = "every tuesday"
	_, err = retentionScheduler(cfg, p, store)
	assert.Error(t, err)
}

func TestNewCompletion_DisabledWithoutKey(t *testing.T) {
	v := config.NewViper()
	v.Set(config.KeyDataDir, t.TempDir())
	t.Setenv("OPENAI_API_KEY", "")
	cfg, err := config.LoadFrom(v)
	require.NoError(t, err)

	p, err := newCompletion(cfg)
	require.NoError(t, err)
	assert.Nil(t, p)

	cfg.Completion.Provider = "ollama"
	p, err = newCompletion(cfg)
	require.NoError(t, err)
	assert.NotNil(t, p)

	cfg.Completion.Provider = "nope"
	_, err = newCompletion(cfg)
	assert.Error(t, err)
}

func TestNewCompletion_OpenAICompatibleEndpoint(t *testing.T) {
	srv := testutil.NewOpenAICompatibleServer("Likes penguins.", 40, 4)
	t.Cleanup(srv.Close)

	v := config.NewViper()
	v.Set(config.KeyDataDir, t.TempDir())
	v.Set(config.KeyCompletionBaseURL, srv.URL)
	v.Set(config.KeyCompletionAPIKey, "sk-test")
	cfg, err := config.LoadFrom(v)
	require.NoError(t, err)

	p, err := newCompletion(cfg)
	require.NoError(t, err)
	require.NotNil(t, p)
	_, throttled := p.(*llm.Throttled)
	assert.True(t, throttled)

	resp, err := p.Generate(context.Background(), &llm.Request{
		Model:    cfg.Completion.Model,
		Messages: []llm.Message{{Role: "user", Content: "Summarize."}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Likes penguins.", resp.Content)
	assert.Equal(t, 40, resp.InputTokens)
}
