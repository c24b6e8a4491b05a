package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/nortal/cmz-chatbots/internal/analytics"
	"github.com/nortal/cmz-chatbots/internal/classifier"
	"github.com/nortal/cmz-chatbots/internal/config"
	"github.com/nortal/cmz-chatbots/internal/cryptoutil"
	"github.com/nortal/cmz-chatbots/internal/guardrails"
	"github.com/nortal/cmz-chatbots/internal/llm"
	"github.com/nortal/cmz-chatbots/internal/moderation"
	"github.com/nortal/cmz-chatbots/internal/profile"
	"github.com/nortal/cmz-chatbots/internal/rules"
	"github.com/nortal/cmz-chatbots/internal/validator"
)

// loadConfig loads operator config and makes sure the data dir exists.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	cfg.WarnIfDefaultKeys()
	return cfg, nil
}

// closers releases resources in reverse acquisition order.
type closers []func() error

func (c *closers) add(fn func() error) { *c = append(*c, fn) }

func (c closers) Close() {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			log.Warn().Err(err).Msg("close_failed")
		}
	}
}

// offlineModerator is used when no moderation endpoint is configured. It
// reports nothing flagged so custom rules still apply.
type offlineModerator struct{}

func (offlineModerator) Moderate(context.Context, string) (*moderation.Result, error) {
	return &moderation.Result{Provider: "offline", Categories: []moderation.Category{}}, nil
}

func newModerator(cfg *config.Config) validator.Moderator {
	m := cfg.Moderation
	if m.APIKey == "" && m.BaseURL == "" {
		log.Warn().Msg("moderation_disabled: set CMZ_MODERATION_API_KEY or OPENAI_API_KEY for production")
		return offlineModerator{}
	}
	baseURL := m.BaseURL
	if baseURL != "" {
		baseURL = llm.NormalizeOpenAIBaseURL(baseURL)
	}
	provider := moderation.NewOpenAIProvider(m.APIKey, baseURL, m.Model)
	return moderation.NewAdapter(provider,
		moderation.WithTimeout(m.Timeout),
		moderation.WithAttempts(m.Attempts),
		moderation.WithCacheTTL(m.CacheTTL),
	)
}

func openGuardrails(cfg *config.Config) (*guardrails.Store, error) {
	store, err := guardrails.NewStore(cfg.GuardrailsDBPath(), cfg.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("initializing guardrails store: %w", err)
	}
	return store, nil
}

func openAnalyticsStore(cfg *config.Config) (analytics.Store, func() error, error) {
	retention := time.Duration(cfg.Retention.AnalyticsDays) * 24 * time.Hour
	switch cfg.Analytics.Backend {
	case config.BackendRedis:
		s, err := analytics.NewRedisStore(cfg.Analytics.RedisURL, retention)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		s, err := analytics.NewSQLiteStore(cfg.AnalyticsDBPath())
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
}

func newAggregator(cfg *config.Config, store analytics.Store) *analytics.Aggregator {
	return analytics.NewAggregator(store,
		analytics.WithDedupWindow(cfg.Analytics.DedupWindow),
		analytics.WithVolumeSaturation(cfg.Analytics.VolumeSaturation),
		analytics.WithRetention(time.Duration(cfg.Retention.AnalyticsDays)*24*time.Hour),
	)
}

// newEmitter connects the validator to the aggregator over the configured
// transport. With NATS this process also consumes, so a single replica works
// out of the box; extra replicas share the queue group.
func newEmitter(cfg *config.Config, agg *analytics.Aggregator, cl *closers) (analytics.Emitter, error) {
	if cfg.Analytics.Transport != config.TransportNATS {
		e := analytics.NewInProcessEmitter(agg, analytics.DefaultQueueSize)
		cl.add(e.Close)
		return e, nil
	}
	conn, err := nats.Connect(cfg.Analytics.NATSURL,
		nats.Name("cmz-analytics"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats_disconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	cl.add(func() error { conn.Close(); return nil })
	consumer, err := analytics.Subscribe(conn, cfg.Analytics.NATSSubject, agg)
	if err != nil {
		return nil, err
	}
	cl.add(consumer.Close)
	e := analytics.NewNATSEmitter(conn, cfg.Analytics.NATSSubject)
	cl.add(e.Close)
	return e, nil
}

// newCompletion returns the throttled completion provider, or nil when none
// is configured. Summaries then fall back to truncation.
func newCompletion(cfg *config.Config) (llm.Provider, error) {
	c := cfg.Completion
	if llm.ProviderUsesAPIKey(c.Provider) && c.APIKey == "" && c.BaseURL == "" {
		log.Warn().Str("provider", c.Provider).Msg("completion_disabled: summaries will be truncated instead of compressed")
		return nil, nil
	}
	baseURL := c.BaseURL
	if c.Provider == "ollama" && baseURL == "" {
		baseURL = c.OllamaBaseURL
	}
	p, err := llm.NewProvider(c.Provider, c.APIKey, baseURL)
	if err != nil {
		return nil, err
	}
	return llm.NewThrottled(p, c.RequestsPerSecond, 1), nil
}

func openProfiles(cfg *config.Config, completion llm.Provider) (*profile.Service, *profile.Store, error) {
	var box *cryptoutil.Box
	if cfg.ProfileKey != "" {
		b, err := cryptoutil.NewBox(cfg.ProfileKey)
		if err != nil {
			return nil, nil, err
		}
		box = b
	} else {
		log.Warn().Msg("profile_encryption_disabled: set CMZ_PROFILE_ENCRYPTION_KEY to encrypt stored summaries")
	}
	store, err := profile.NewStore(cfg.ProfileDBPath(), box)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing profile store: %w", err)
	}
	summarizer := profile.NewSummarizer(completion,
		profile.WithTokenCeiling(cfg.Context.TokenCeiling),
		profile.WithReductionRatio(cfg.Context.ReductionRatio),
		profile.WithQualityFloor(cfg.Context.QualityFloor),
		profile.WithCompletionTimeout(cfg.Context.SummaryTimeout),
		profile.WithModel(cfg.Completion.Model),
		profile.WithTokenCounter(profile.NewTokenCounter()),
	)
	svc := profile.NewService(profile.NewExtractor(classifier.MustNewScanner()), summarizer, store, 0)
	return svc, store, nil
}

func newValidator(ctx context.Context, cfg *config.Config, resolver validator.ConfigResolver, opts ...validator.Option) (*validator.Validator, error) {
	decisions, err := validator.NewDecisionEngine(ctx)
	if err != nil {
		return nil, fmt.Errorf("decision engine: %w", err)
	}
	engine := rules.NewEngine(classifier.MustNewScanner())
	return validator.New(newModerator(cfg), engine, resolver, decisions, opts...), nil
}

// apiKeys merges keys from config (api_keys map) with CMZ_API_KEYS.
func apiKeys(cfg *config.Config) map[string]string {
	m := parseAPIKeys(os.Getenv("CMZ_API_KEYS"))
	for k, t := range cfg.APIKeys {
		if t == "" {
			t = "default"
		}
		m[k] = t
	}
	return m
}

// parseAPIKeys returns a map of key -> tenant_id (comma-separated; each entry
// key or key:tenant_id).
func parseAPIKeys(env string) map[string]string {
	m := make(map[string]string)
	if env == "" {
		return m
	}
	for _, part := range strings.Split(env, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		tenantID := "default"
		if idx := strings.Index(part, ":"); idx > 0 {
			if t := strings.TrimSpace(part[idx+1:]); t != "" {
				tenantID = t
			}
			part = strings.TrimSpace(part[:idx])
		}
		m[part] = tenantID
	}
	return m
}
