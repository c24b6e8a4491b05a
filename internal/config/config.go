// Package config holds operator-level configuration for a cmz installation.
//
// Values come from env vars (CMZ_*), the optional cmz.config.yaml file and
// the defaults registered in init. Guardrails rule sets are not configured
// here; they are versioned documents managed through internal/guardrails.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/nortal/cmz-chatbots/internal/cryptoutil"
)

// Viper keys. Each maps to an env var with the CMZ_ prefix
// (e.g. "signing_key" → CMZ_SIGNING_KEY) and to a YAML field.
const (
	KeyDataDir    = "data_dir"
	KeySigningKey = "signing_key"
	KeyProfileKey = "profile_encryption_key"
	KeyAPIKeys    = "api_keys"

	KeyModerationModel    = "moderation.model"
	KeyModerationBaseURL  = "moderation.base_url"
	KeyModerationAPIKey   = "moderation.api_key"
	KeyModerationTimeout  = "moderation.timeout"
	KeyModerationAttempts = "moderation.attempts"
	KeyModerationCacheTTL = "moderation.cache_ttl"

	KeyCompletionProvider = "completion.provider"
	KeyCompletionModel    = "completion.model"
	KeyCompletionBaseURL  = "completion.base_url"
	KeyCompletionAPIKey   = "completion.api_key"
	KeyCompletionRPS      = "completion.requests_per_second"
	KeyOllamaBaseURL      = "ollama_base_url"

	KeyTokenCeiling   = "context.token_ceiling"
	KeyReductionRatio = "context.reduction_ratio"
	KeyQualityFloor   = "context.quality_floor"
	KeySummaryTimeout = "context.summary_timeout"

	KeyAnalyticsBackend   = "analytics.backend"
	KeyAnalyticsTransport = "analytics.transport"
	KeyRedisURL           = "analytics.redis_url"
	KeyNATSURL            = "analytics.nats_url"
	KeyNATSSubject        = "analytics.nats_subject"
	KeyDedupWindow        = "analytics.dedup_window"
	KeyVolumeSaturation   = "analytics.volume_saturation"

	KeyAnalyticsRetentionDays = "retention.analytics_days"
	KeyArchiveRetentionDays   = "retention.archive_days"
	KeyRetentionSchedule      = "retention.schedule"

	KeyRateLimitRPS   = "server.rate_limit_rps"
	KeyRateLimitBurst = "server.rate_limit_burst"
)

// Defaults.
const (
	DefaultModerationModel    = "text-moderation-latest"
	DefaultModerationTimeout  = 2 * time.Second
	DefaultModerationAttempts = 3
	DefaultModerationCacheTTL = 30 * time.Second

	DefaultCompletionProvider = "openai"
	DefaultCompletionModel    = "gpt-4o-mini"
	DefaultCompletionRPS      = 2.0
	DefaultOllamaURL          = "http://localhost:11434"

	DefaultTokenCeiling   = 1200
	DefaultReductionRatio = 0.6
	DefaultQualityFloor   = 0.5
	DefaultSummaryTimeout = 20 * time.Second

	DefaultAnalyticsBackend   = "sqlite"
	DefaultAnalyticsTransport = "inprocess"
	DefaultNATSSubject        = "cmz.analytics.triggers"
	DefaultDedupWindow        = 48 * time.Hour
	DefaultVolumeSaturation   = 100

	DefaultAnalyticsRetentionDays = 30
	DefaultArchiveRetentionDays   = 365
	DefaultRetentionSchedule      = "@hourly"

	DefaultRateLimitRPS   = 20.0
	DefaultRateLimitBurst = 40
)

// Analytics backends and transports.
const (
	BackendSQLite      = "sqlite"
	BackendRedis       = "redis"
	TransportInProcess = "inprocess"
	TransportNATS      = "nats"
)

// Config holds resolved operator configuration for a cmz process.
type Config struct {
	DataDir    string
	SigningKey string // HMAC-SHA256 key for guardrails version signatures
	ProfileKey string // optional 32-byte key; empty disables profile encryption
	APIKeys    map[string]string

	Moderation ModerationConfig
	Completion CompletionConfig
	Context    ContextConfig
	Analytics  AnalyticsConfig
	Retention  RetentionConfig

	RateLimitRPS   float64
	RateLimitBurst int

	usingDefaultSigningKey bool
}

// ModerationConfig configures the external moderation client.
type ModerationConfig struct {
	Model    string
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	Attempts int
	CacheTTL time.Duration
}

// CompletionConfig configures the completion provider used for summaries.
type CompletionConfig struct {
	Provider          string
	Model             string
	BaseURL           string
	APIKey            string
	RequestsPerSecond float64
	OllamaBaseURL     string
}

// ContextConfig bounds context summaries.
type ContextConfig struct {
	TokenCeiling   int
	ReductionRatio float64
	QualityFloor   float64
	SummaryTimeout time.Duration
}

// AnalyticsConfig selects the analytics store and event transport.
type AnalyticsConfig struct {
	Backend          string
	Transport        string
	RedisURL         string
	NATSURL          string
	NATSSubject      string
	DedupWindow      time.Duration
	VolumeSaturation int
}

// RetentionConfig controls the cleanup jobs run by serve.
type RetentionConfig struct {
	AnalyticsDays int
	ArchiveDays   int
	Schedule      string
}

// UsingDefaultSigningKey returns true if the signing key was derived (not set explicitly).
func (c *Config) UsingDefaultSigningKey() bool {
	return c.usingDefaultSigningKey
}

// GuardrailsDBPath returns the path to the guardrails SQLite database.
func (c *Config) GuardrailsDBPath() string {
	return filepath.Join(c.DataDir, "guardrails.db")
}

// AnalyticsDBPath returns the path to the analytics SQLite database.
func (c *Config) AnalyticsDBPath() string {
	return filepath.Join(c.DataDir, "analytics.db")
}

// ProfileDBPath returns the path to the context profile SQLite database.
func (c *Config) ProfileDBPath() string {
	return filepath.Join(c.DataDir, "profiles.db")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o700)
}

// WarnIfDefaultKeys logs a warning when the signing key is not explicitly set.
func (c *Config) WarnIfDefaultKeys() {
	if c.usingDefaultSigningKey {
		log.Warn().Msg("Using generated default CMZ_SIGNING_KEY; set it via env var or config file for production")
	}
}

func init() {
	configure(viper.GetViper())
}

// NewViper returns a fresh Viper instance wired the same way as the global one.
func NewViper() *viper.Viper {
	v := viper.New()
	configure(v)
	return v
}

func configure(v *viper.Viper) {
	v.SetEnvPrefix("CMZ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyModerationModel, DefaultModerationModel)
	v.SetDefault(KeyModerationTimeout, DefaultModerationTimeout)
	v.SetDefault(KeyModerationAttempts, DefaultModerationAttempts)
	v.SetDefault(KeyModerationCacheTTL, DefaultModerationCacheTTL)
	v.SetDefault(KeyCompletionProvider, DefaultCompletionProvider)
	v.SetDefault(KeyCompletionModel, DefaultCompletionModel)
	v.SetDefault(KeyCompletionRPS, DefaultCompletionRPS)
	v.SetDefault(KeyOllamaBaseURL, DefaultOllamaURL)
	v.SetDefault(KeyTokenCeiling, DefaultTokenCeiling)
	v.SetDefault(KeyReductionRatio, DefaultReductionRatio)
	v.SetDefault(KeyQualityFloor, DefaultQualityFloor)
	v.SetDefault(KeySummaryTimeout, DefaultSummaryTimeout)
	v.SetDefault(KeyAnalyticsBackend, DefaultAnalyticsBackend)
	v.SetDefault(KeyAnalyticsTransport, DefaultAnalyticsTransport)
	v.SetDefault(KeyNATSSubject, DefaultNATSSubject)
	v.SetDefault(KeyDedupWindow, DefaultDedupWindow)
	v.SetDefault(KeyVolumeSaturation, DefaultVolumeSaturation)
	v.SetDefault(KeyAnalyticsRetentionDays, DefaultAnalyticsRetentionDays)
	v.SetDefault(KeyArchiveRetentionDays, DefaultArchiveRetentionDays)
	v.SetDefault(KeyRetentionSchedule, DefaultRetentionSchedule)
	v.SetDefault(KeyRateLimitRPS, DefaultRateLimitRPS)
	v.SetDefault(KeyRateLimitBurst, DefaultRateLimitBurst)
}

// Load reads configuration from the global Viper instance and returns a validated Config.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads configuration from v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		DataDir:    resolveDataDir(v),
		SigningKey: v.GetString(KeySigningKey),
		ProfileKey: v.GetString(KeyProfileKey),
		APIKeys:    v.GetStringMapString(KeyAPIKeys),
		Moderation: ModerationConfig{
			Model:    v.GetString(KeyModerationModel),
			BaseURL:  v.GetString(KeyModerationBaseURL),
			APIKey:   firstNonEmpty(v.GetString(KeyModerationAPIKey), os.Getenv("OPENAI_API_KEY")),
			Timeout:  v.GetDuration(KeyModerationTimeout),
			Attempts: v.GetInt(KeyModerationAttempts),
			CacheTTL: v.GetDuration(KeyModerationCacheTTL),
		},
		Completion: CompletionConfig{
			Provider:          v.GetString(KeyCompletionProvider),
			Model:             v.GetString(KeyCompletionModel),
			BaseURL:           v.GetString(KeyCompletionBaseURL),
			APIKey:            firstNonEmpty(v.GetString(KeyCompletionAPIKey), os.Getenv("OPENAI_API_KEY")),
			RequestsPerSecond: v.GetFloat64(KeyCompletionRPS),
			OllamaBaseURL:     v.GetString(KeyOllamaBaseURL),
		},
		Context: ContextConfig{
			TokenCeiling:   v.GetInt(KeyTokenCeiling),
			ReductionRatio: v.GetFloat64(KeyReductionRatio),
			QualityFloor:   v.GetFloat64(KeyQualityFloor),
			SummaryTimeout: v.GetDuration(KeySummaryTimeout),
		},
		Analytics: AnalyticsConfig{
			Backend:          v.GetString(KeyAnalyticsBackend),
			Transport:        v.GetString(KeyAnalyticsTransport),
			RedisURL:         v.GetString(KeyRedisURL),
			NATSURL:          v.GetString(KeyNATSURL),
			NATSSubject:      v.GetString(KeyNATSSubject),
			DedupWindow:      v.GetDuration(KeyDedupWindow),
			VolumeSaturation: v.GetInt(KeyVolumeSaturation),
		},
		Retention: RetentionConfig{
			AnalyticsDays: v.GetInt(KeyAnalyticsRetentionDays),
			ArchiveDays:   v.GetInt(KeyArchiveRetentionDays),
			Schedule:      v.GetString(KeyRetentionSchedule),
		},
		RateLimitRPS:   v.GetFloat64(KeyRateLimitRPS),
		RateLimitBurst: v.GetInt(KeyRateLimitBurst),
	}

	if cfg.SigningKey == "" {
		cfg.SigningKey = deriveDefaultKey(cfg.DataDir, "guardrails-signing")
		cfg.usingDefaultSigningKey = true
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func resolveDataDir(v *viper.Viper) string {
	if dir := v.GetString(KeyDataDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cmz"
	}
	return filepath.Join(home, ".cmz")
}

// deriveDefaultKey produces a deterministic per-machine fallback key so a
// fresh install works without setup. It is not a secret.
func deriveDefaultKey(dataDir, salt string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("cmz:%s:%s", dataDir, salt)))
	return hex.EncodeToString(h[:])
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func (c *Config) validate() error {
	if err := validateSigningKey(c.SigningKey); err != nil {
		return err
	}
	if c.ProfileKey != "" {
		if err := validateEncryptionKey(c.ProfileKey); err != nil {
			return err
		}
	}
	if c.Moderation.Timeout <= 0 {
		return fmt.Errorf("moderation.timeout must be positive")
	}
	if c.Moderation.Attempts < 1 {
		return fmt.Errorf("moderation.attempts must be at least 1")
	}
	if c.Context.TokenCeiling <= 0 {
		return fmt.Errorf("context.token_ceiling must be positive")
	}
	if c.Context.ReductionRatio <= 0 || c.Context.ReductionRatio >= 1 {
		return fmt.Errorf("context.reduction_ratio must be in (0,1), got %v", c.Context.ReductionRatio)
	}
	if c.Context.QualityFloor < 0 || c.Context.QualityFloor > 1 {
		return fmt.Errorf("context.quality_floor must be in [0,1], got %v", c.Context.QualityFloor)
	}
	switch c.Analytics.Backend {
	case BackendSQLite:
	case BackendRedis:
		if c.Analytics.RedisURL == "" {
			return fmt.Errorf("analytics.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown analytics.backend %q", c.Analytics.Backend)
	}
	switch c.Analytics.Transport {
	case TransportInProcess:
	case TransportNATS:
		if c.Analytics.NATSURL == "" {
			return fmt.Errorf("analytics.nats_url is required for the nats transport")
		}
	default:
		return fmt.Errorf("unknown analytics.transport %q", c.Analytics.Transport)
	}
	if c.Retention.AnalyticsDays <= 0 || c.Retention.ArchiveDays <= 0 {
		return fmt.Errorf("retention days must be positive")
	}
	return nil
}

// validateEncryptionKey accepts either 32 raw bytes or 64 hex characters.
func validateEncryptionKey(key string) error {
	n := len(key)
	if n == 32 {
		return nil
	}
	if n == 64 && cryptoutil.IsHexString(key) {
		return nil
	}
	return fmt.Errorf("profile_encryption_key must be exactly 32 bytes or 64 hex characters (got %d); set CMZ_PROFILE_ENCRYPTION_KEY", n)
}

// validateSigningKey accepts either ≥32 raw bytes or ≥64 hex characters.
func validateSigningKey(key string) error {
	n := len(key)
	if n >= 64 && n%2 == 0 && cryptoutil.IsHexString(key) {
		decoded, err := hex.DecodeString(key)
		if err != nil || len(decoded) < 32 {
			return fmt.Errorf("signing_key hex must decode to at least 32 bytes: %w", err)
		}
		return nil
	}
	if n >= 32 {
		return nil
	}
	return fmt.Errorf("signing_key must be at least 32 bytes or 64+ hex characters (got %d); set CMZ_SIGNING_KEY", n)
}
