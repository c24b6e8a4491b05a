// Package doctor provides preflight checks for a cmz installation.
// Used by `cmz doctor`.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/nortal/cmz-chatbots/internal/analytics"
	"github.com/nortal/cmz-chatbots/internal/config"
	"github.com/nortal/cmz-chatbots/internal/guardrails"
	"github.com/nortal/cmz-chatbots/internal/llm"
	"github.com/nortal/cmz-chatbots/internal/profile"
)

// Check statuses.
const (
	StatusPass = "pass"
	StatusWarn = "warn"
	StatusFail = "fail"
)

// CheckResult is a single doctor check outcome.
type CheckResult struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Status   string `json:"status"`
	Message  string `json:"message"`
	Fix      string `json:"fix,omitempty"`
}

// Summary tallies pass/warn/fail counts.
type Summary struct {
	Pass int `json:"pass"`
	Warn int `json:"warn"`
	Fail int `json:"fail"`
}

// Report is the complete doctor output.
type Report struct {
	Status  string        `json:"status"` // worst of all checks
	Checks  []CheckResult `json:"checks"`
	Summary Summary       `json:"summary"`
}

// Options controls which checks run.
type Options struct {
	APIKeys      int  // number of configured API keys
	SkipUpstream bool // skip network checks (for CI/offline)
}

// Run executes all checks against cfg and returns a report.
func Run(ctx context.Context, cfg *config.Config, opts Options) *Report {
	report := &Report{}

	report.Checks = append(report.Checks, checkDataDir(cfg))
	report.Checks = append(report.Checks, checkKeys(cfg, opts)...)
	report.Checks = append(report.Checks, checkGuardrails(ctx, cfg))
	report.Checks = append(report.Checks, checkAnalytics(ctx, cfg, opts))
	report.Checks = append(report.Checks, checkProfiles(cfg))
	if !opts.SkipUpstream {
		report.Checks = append(report.Checks, checkUpstreams(ctx, cfg)...)
	}

	for _, c := range report.Checks {
		switch c.Status {
		case StatusPass:
			report.Summary.Pass++
		case StatusWarn:
			report.Summary.Warn++
		case StatusFail:
			report.Summary.Fail++
		}
	}

	report.Status = StatusPass
	if report.Summary.Warn > 0 {
		report.Status = StatusWarn
	}
	if report.Summary.Fail > 0 {
		report.Status = StatusFail
	}
	return report
}

func checkDataDir(cfg *config.Config) CheckResult {
	if err := cfg.EnsureDataDir(); err != nil {
		return CheckResult{
			Name: "data_dir_writable", Category: "config", Status: StatusFail,
			Message: fmt.Sprintf("%s: %v", cfg.DataDir, err),
			Fix:     "Ensure the directory exists and is writable, or set CMZ_DATA_DIR",
		}
	}
	testFile := filepath.Join(cfg.DataDir, ".doctor-write-test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return CheckResult{
			Name: "data_dir_writable", Category: "config", Status: StatusFail,
			Message: fmt.Sprintf("%s not writable: %v", cfg.DataDir, err),
		}
	}
	_ = os.Remove(testFile)
	return CheckResult{
		Name: "data_dir_writable", Category: "config", Status: StatusPass,
		Message: fmt.Sprintf("%s (writable)", cfg.DataDir),
	}
}

func checkKeys(cfg *config.Config, opts Options) []CheckResult {
	var results []CheckResult
	if cfg.UsingDefaultSigningKey() {
		results = append(results, CheckResult{
			Name: "signing_key", Category: "config", Status: StatusWarn,
			Message: "Using generated default", Fix: "Set CMZ_SIGNING_KEY for production",
		})
	} else {
		results = append(results, CheckResult{Name: "signing_key", Category: "config", Status: StatusPass, Message: "Configured"})
	}

	if cfg.ProfileKey == "" {
		results = append(results, CheckResult{
			Name: "profile_encryption_key", Category: "config", Status: StatusWarn,
			Message: "Summaries are stored unencrypted", Fix: "Set CMZ_PROFILE_ENCRYPTION_KEY (32 bytes or 64 hex)",
		})
	} else {
		results = append(results, CheckResult{Name: "profile_encryption_key", Category: "config", Status: StatusPass, Message: "Configured"})
	}

	if opts.APIKeys == 0 {
		results = append(results, CheckResult{
			Name: "api_keys", Category: "config", Status: StatusWarn,
			Message: "No API keys; every /v1 request will be rejected", Fix: "Set CMZ_API_KEYS=key:tenant,...",
		})
	} else {
		results = append(results, CheckResult{
			Name: "api_keys", Category: "config", Status: StatusPass, Message: fmt.Sprintf("%d key(s)", opts.APIKeys),
		})
	}

	if cfg.Moderation.APIKey == "" && cfg.Moderation.BaseURL == "" {
		results = append(results, CheckResult{
			Name: "moderation", Category: "config", Status: StatusWarn,
			Message: "No moderation endpoint; only custom rules apply",
			Fix:     "Set CMZ_MODERATION_API_KEY or OPENAI_API_KEY",
		})
	} else {
		results = append(results, CheckResult{
			Name: "moderation", Category: "config", Status: StatusPass, Message: "model " + cfg.Moderation.Model,
		})
	}

	c := cfg.Completion
	if llm.ProviderUsesAPIKey(c.Provider) && c.APIKey == "" && c.BaseURL == "" {
		results = append(results, CheckResult{
			Name: "completion", Category: "config", Status: StatusWarn,
			Message: c.Provider + " has no API key; summaries will be truncated",
			Fix:     "Set CMZ_COMPLETION_API_KEY or use completion.provider: ollama",
		})
	} else {
		results = append(results, CheckResult{
			Name: "completion", Category: "config", Status: StatusPass, Message: c.Provider + " " + c.Model,
		})
	}
	return results
}

func checkGuardrails(ctx context.Context, cfg *config.Config) CheckResult {
	store, err := guardrails.NewStore(cfg.GuardrailsDBPath(), cfg.SigningKey)
	if err != nil {
		return CheckResult{Name: "guardrails_default", Category: "storage", Status: StatusFail, Message: err.Error()}
	}
	defer store.Close()

	active, err := store.Active(ctx, guardrails.Scope{})
	if err == nil {
		return CheckResult{
			Name: "guardrails_default", Category: "storage", Status: StatusPass,
			Message: fmt.Sprintf("%s v%d (%d rules)", active.ID, active.Version, len(active.Rules)),
		}
	}
	if !errors.Is(err, guardrails.ErrConfigurationMissing) {
		return CheckResult{Name: "guardrails_default", Category: "storage", Status: StatusFail, Message: err.Error()}
	}
	if n, cerr := store.CountActive(ctx, guardrails.Scope{}); cerr == nil && n > 0 {
		return CheckResult{
			Name: "guardrails_default", Category: "storage", Status: StatusFail,
			Message: "Active default version fails signature verification",
			Fix:     "Check CMZ_SIGNING_KEY matches the key the version was created with, then re-apply",
		}
	}
	return CheckResult{
		Name: "guardrails_default", Category: "storage", Status: StatusFail,
		Message: "No active default configuration; validation will be refused",
		Fix:     "Run: cmz guardrails apply --default",
	}
}

func checkAnalytics(ctx context.Context, cfg *config.Config, opts Options) CheckResult {
	name := "analytics_" + cfg.Analytics.Backend
	switch cfg.Analytics.Backend {
	case config.BackendRedis:
		if opts.SkipUpstream {
			return CheckResult{Name: name, Category: "storage", Status: StatusWarn, Message: "Skipped (offline)"}
		}
		s, err := analytics.NewRedisStore(cfg.Analytics.RedisURL, 0)
		if err != nil {
			return CheckResult{
				Name: name, Category: "storage", Status: StatusFail, Message: err.Error(),
				Fix: "Check analytics.redis_url and that Redis is reachable",
			}
		}
		_ = s.Close()
		return CheckResult{Name: name, Category: "storage", Status: StatusPass, Message: redactURL(cfg.Analytics.RedisURL)}
	default:
		s, err := analytics.NewSQLiteStore(cfg.AnalyticsDBPath())
		if err != nil {
			return CheckResult{Name: name, Category: "storage", Status: StatusFail, Message: err.Error()}
		}
		_ = s.Close()
		return CheckResult{Name: name, Category: "storage", Status: StatusPass, Message: cfg.AnalyticsDBPath()}
	}
}

func checkProfiles(cfg *config.Config) CheckResult {
	s, err := profile.NewStore(cfg.ProfileDBPath(), nil)
	if err != nil {
		return CheckResult{Name: "profile_db", Category: "storage", Status: StatusFail, Message: err.Error()}
	}
	_ = s.Close()
	return CheckResult{Name: "profile_db", Category: "storage", Status: StatusPass, Message: cfg.ProfileDBPath()}
}

func checkUpstreams(ctx context.Context, cfg *config.Config) []CheckResult {
	var results []CheckResult
	if cfg.Analytics.Transport == config.TransportNATS {
		results = append(results, checkNATS(cfg.Analytics.NATSURL))
	}
	if cfg.Moderation.APIKey != "" || cfg.Moderation.BaseURL != "" {
		base := cfg.Moderation.BaseURL
		if base == "" {
			base = "https://api.openai.com/v1"
		}
		results = append(results, checkUpstream(ctx, "moderation", llm.NormalizeOpenAIBaseURL(base))...)
	}
	if cfg.Completion.Provider == "ollama" {
		base := cfg.Completion.BaseURL
		if base == "" {
			base = cfg.Completion.OllamaBaseURL
		}
		results = append(results, checkUpstream(ctx, "completion", base)...)
	}
	return results
}

func checkNATS(url string) CheckResult {
	conn, err := nats.Connect(url, nats.Name("cmz-doctor"), nats.Timeout(3*time.Second))
	if err != nil {
		return CheckResult{
			Name: "analytics_nats", Category: "upstream", Status: StatusFail,
			Message: fmt.Sprintf("Connection failed: %v", err),
			Fix:     "Check analytics.nats_url and that the NATS server is reachable",
		}
	}
	defer conn.Close()
	return CheckResult{
		Name: "analytics_nats", Category: "upstream", Status: StatusPass,
		Message: fmt.Sprintf("%s (server %s)", conn.ConnectedUrlRedacted(), conn.ConnectedServerVersion()),
	}
}

func checkUpstream(ctx context.Context, name, baseURL string) []CheckResult {
	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, baseURL, nil)
	if err != nil {
		return []CheckResult{{
			Name: "upstream_" + name, Category: "upstream", Status: StatusFail,
			Message: fmt.Sprintf("Invalid URL: %v", err),
		}}
	}
	start := time.Now()
	resp, err := client.Do(req) //nolint:gosec // URL from operator config
	latency := time.Since(start)
	if err != nil {
		return []CheckResult{{
			Name: "upstream_" + name, Category: "upstream", Status: StatusFail,
			Message: fmt.Sprintf("Connection failed: %v", err),
			Fix:     "Check network connectivity and the configured base_url",
		}}
	}
	resp.Body.Close()

	results := []CheckResult{{
		Name: "upstream_" + name, Category: "upstream", Status: StatusPass,
		Message: fmt.Sprintf("%s (%dms)", baseURL, latency.Milliseconds()),
	}}
	// Moderation sits on the request path with a 2s budget.
	switch {
	case latency > 2*time.Second:
		results = append(results, CheckResult{
			Name: "upstream_latency_" + name, Category: "upstream", Status: StatusFail,
			Message: fmt.Sprintf("%.1fs (> 2s threshold)", latency.Seconds()),
			Fix:     "Use a closer region or raise moderation.timeout",
		})
	case latency > time.Second:
		results = append(results, CheckResult{
			Name: "upstream_latency_" + name, Category: "upstream", Status: StatusWarn,
			Message: fmt.Sprintf("%.1fs (> 1s threshold)", latency.Seconds()),
		})
	}
	return results
}

// redactURL drops credentials from a redis:// URL.
func redactURL(u string) string {
	if at := strings.LastIndex(u, "@"); at >= 0 {
		if scheme := strings.Index(u, "://"); scheme >= 0 && scheme < at {
			return u[:scheme+3] + "****" + u[at:]
		}
	}
	return u
}
