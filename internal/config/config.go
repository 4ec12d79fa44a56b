// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Cache strategies and the TTL each one selects.
const (
	StrategyAggressive   = "aggressive"
	StrategyBalanced     = "balanced"
	StrategyConservative = "conservative"
	StrategyNoCache      = "no_cache"
)

// Cache backends.
const (
	BackendFS       = "fs"
	BackendPostgres = "postgres"
	BackendGCS      = "gcs"
	BackendNone     = "none"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig      `mapstructure:"server"`
	Pipeline  PipelineConfig    `mapstructure:"pipeline"`
	Cache     CacheConfig       `mapstructure:"cache"`
	RateLimit RateLimitConfig   `mapstructure:"ratelimit"`
	Fetcher   FetcherConfig     `mapstructure:"fetcher"`
	OpenAI    OpenAIConfig      `mapstructure:"openai"`
	PubSub    PubSubConfig      `mapstructure:"pubsub"`
	Logging   LoggingConfig     `mapstructure:"logging"`
	Subjects  map[string]string `mapstructure:"subjects"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// PipelineConfig governs stage resilience policy.
type PipelineConfig struct {
	MaxAttempts            int  `mapstructure:"max_attempts"`
	BaseDelayMs            int  `mapstructure:"base_delay_ms"`
	MaxDelayMs             int  `mapstructure:"max_delay_ms"`
	FailureThreshold       int  `mapstructure:"failure_threshold"`
	RecoveryTimeoutSeconds int  `mapstructure:"recovery_timeout_seconds"`
	FetchTimeoutSeconds    int  `mapstructure:"fetch_timeout_seconds"`
	ExtractTimeoutSeconds  int  `mapstructure:"extract_timeout_seconds"`
	RenderTimeoutSeconds   int  `mapstructure:"render_timeout_seconds"`
	RefreshAhead           bool `mapstructure:"refresh_ahead"`
}

// CacheConfig selects the cache strategy and durable backend.
type CacheConfig struct {
	Strategy string `mapstructure:"strategy"`
	Backend  string `mapstructure:"backend"`
	// FreshnessWindowSeconds, when positive, caps the accepted age of cache
	// reads below the strategy TTL; zero reads up to TTL expiry.
	FreshnessWindowSeconds int    `mapstructure:"freshness_window_seconds"`
	Dir                    string `mapstructure:"dir"`
	DSN                    string `mapstructure:"dsn"`
	GCSBucket              string `mapstructure:"gcs_bucket"`
	Prefix                 string `mapstructure:"prefix"`
}

// RateLimitConfig sets the default bucket shape for outbound resources.
type RateLimitConfig struct {
	DefaultRPS   float64                 `mapstructure:"default_rps"`
	DefaultBurst int                     `mapstructure:"default_burst"`
	Overrides    map[string]RateOverride `mapstructure:"overrides"`
}

// RateOverride reshapes one resource's bucket.
type RateOverride struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// FetcherConfig governs the site crawler.
type FetcherConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	MaxPages       int    `mapstructure:"max_pages"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// OpenAIConfig configures the extraction model.
type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

// PubSubConfig holds metadata for run notifications; empty topic disables
// publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ORBIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("pipeline.max_attempts", 3)
	v.SetDefault("pipeline.base_delay_ms", 250)
	v.SetDefault("pipeline.max_delay_ms", 5000)
	v.SetDefault("pipeline.failure_threshold", 5)
	v.SetDefault("pipeline.recovery_timeout_seconds", 60)
	v.SetDefault("pipeline.fetch_timeout_seconds", 60)
	v.SetDefault("pipeline.extract_timeout_seconds", 90)
	v.SetDefault("pipeline.render_timeout_seconds", 30)
	v.SetDefault("pipeline.refresh_ahead", true)
	v.SetDefault("cache.strategy", StrategyBalanced)
	v.SetDefault("cache.backend", BackendFS)
	v.SetDefault("cache.dir", "data/cache")
	v.SetDefault("cache.prefix", "orbit-cache")
	v.SetDefault("ratelimit.default_rps", 2.0)
	v.SetDefault("ratelimit.default_burst", 5)
	v.SetDefault("fetcher.user_agent", "orbit-bot/0.1")
	v.SetDefault("fetcher.max_pages", 6)
	v.SetDefault("fetcher.timeout_seconds", 15)
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Pipeline.MaxAttempts <= 0 {
		return fmt.Errorf("pipeline.max_attempts must be > 0")
	}
	if c.Pipeline.FailureThreshold <= 0 {
		return fmt.Errorf("pipeline.failure_threshold must be > 0")
	}
	switch c.Cache.Strategy {
	case StrategyAggressive, StrategyBalanced, StrategyConservative, StrategyNoCache:
	default:
		return fmt.Errorf("cache.strategy %q is not one of aggressive, balanced, conservative, no_cache", c.Cache.Strategy)
	}
	switch c.Cache.Backend {
	case BackendFS, BackendPostgres, BackendGCS, BackendNone:
	default:
		return fmt.Errorf("cache.backend %q is not one of fs, postgres, gcs, none", c.Cache.Backend)
	}
	if c.Cache.FreshnessWindowSeconds < 0 {
		return fmt.Errorf("cache.freshness_window_seconds must be >= 0")
	}
	if c.Cache.Backend == BackendPostgres && c.Cache.DSN == "" {
		return fmt.Errorf("cache.dsn must be set for the postgres backend")
	}
	if c.Cache.Backend == BackendGCS && c.Cache.GCSBucket == "" {
		return fmt.Errorf("cache.gcs_bucket must be set for the gcs backend")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when a topic is configured")
	}
	return nil
}

// CacheTTL maps the configured strategy to the artifact TTL; no_cache yields
// zero, which disables the cache entirely.
func (c Config) CacheTTL() time.Duration {
	switch c.Cache.Strategy {
	case StrategyAggressive:
		return 5 * time.Minute
	case StrategyConservative:
		return 24 * time.Hour
	case StrategyNoCache:
		return 0
	default:
		return time.Hour
	}
}

// FreshnessWindow returns the cache read max-age override as a duration;
// zero means TTL expiry alone decides freshness.
func (c Config) FreshnessWindow() time.Duration {
	return time.Duration(c.Cache.FreshnessWindowSeconds) * time.Second
}

// BaseDelay returns the retry base delay as a duration.
func (c Config) BaseDelay() time.Duration {
	return time.Duration(c.Pipeline.BaseDelayMs) * time.Millisecond
}

// MaxDelay returns the retry delay cap as a duration.
func (c Config) MaxDelay() time.Duration {
	return time.Duration(c.Pipeline.MaxDelayMs) * time.Millisecond
}

// RecoveryTimeout returns the breaker cooldown as a duration.
func (c Config) RecoveryTimeout() time.Duration {
	return time.Duration(c.Pipeline.RecoveryTimeoutSeconds) * time.Second
}

// FetchTimeout returns the fetch stage timeout as a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Pipeline.FetchTimeoutSeconds) * time.Second
}

// ExtractTimeout returns the extract stage timeout as a duration.
func (c Config) ExtractTimeout() time.Duration {
	return time.Duration(c.Pipeline.ExtractTimeoutSeconds) * time.Second
}

// RenderTimeout returns the render stage timeout as a duration.
func (c Config) RenderTimeout() time.Duration {
	return time.Duration(c.Pipeline.RenderTimeoutSeconds) * time.Second
}
