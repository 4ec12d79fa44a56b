package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 3, cfg.Pipeline.MaxAttempts)
	require.Equal(t, 5, cfg.Pipeline.FailureThreshold)
	require.True(t, cfg.Pipeline.RefreshAhead)
	require.Equal(t, StrategyBalanced, cfg.Cache.Strategy)
	require.Equal(t, BackendFS, cfg.Cache.Backend)
	require.Zero(t, cfg.FreshnessWindow(), "freshness defaults to TTL expiry alone")
	require.Equal(t, 2.0, cfg.RateLimit.DefaultRPS)
	require.Equal(t, "gpt-4o-mini", cfg.OpenAI.Model)
	require.Equal(t, "orbit-bot/0.1", cfg.Fetcher.UserAgent)
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
server:
  port: 9090
cache:
  strategy: aggressive
  backend: none
  freshness_window_seconds: 300
pipeline:
  max_attempts: 5
ratelimit:
  overrides:
    llm:
      rps: 0.5
      burst: 1
subjects:
  acmeco: https://acme.example
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, StrategyAggressive, cfg.Cache.Strategy)
	require.Equal(t, BackendNone, cfg.Cache.Backend)
	require.Equal(t, 5, cfg.Pipeline.MaxAttempts)
	require.Equal(t, 5*time.Minute, cfg.FreshnessWindow())
	require.Equal(t, RateOverride{RPS: 0.5, Burst: 1}, cfg.RateLimit.Overrides["llm"])
	require.Equal(t, "https://acme.example", cfg.Subjects["acmeco"])
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func validConfig() Config {
	return Config{
		Server:   ServerConfig{Port: 8080},
		Pipeline: PipelineConfig{MaxAttempts: 3, FailureThreshold: 5},
		Cache:    CacheConfig{Strategy: StrategyBalanced, Backend: BackendFS, Dir: "data/cache"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "zero port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "server.port",
		},
		{
			name:    "zero attempts",
			mutate:  func(c *Config) { c.Pipeline.MaxAttempts = 0 },
			wantErr: "max_attempts",
		},
		{
			name:    "unknown strategy",
			mutate:  func(c *Config) { c.Cache.Strategy = "yolo" },
			wantErr: "cache.strategy",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Cache.Backend = "redis" },
			wantErr: "cache.backend",
		},
		{
			name:    "negative freshness window",
			mutate:  func(c *Config) { c.Cache.FreshnessWindowSeconds = -1 },
			wantErr: "freshness_window_seconds",
		},
		{
			name:    "postgres without dsn",
			mutate:  func(c *Config) { c.Cache.Backend = BackendPostgres },
			wantErr: "cache.dsn",
		},
		{
			name:    "gcs without bucket",
			mutate:  func(c *Config) { c.Cache.Backend = BackendGCS },
			wantErr: "gcs_bucket",
		},
		{
			name:    "topic without project",
			mutate:  func(c *Config) { c.PubSub.TopicName = "runs" },
			wantErr: "project_id",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestCacheTTLPerStrategy(t *testing.T) {
	for strategy, want := range map[string]time.Duration{
		StrategyAggressive:   5 * time.Minute,
		StrategyBalanced:     time.Hour,
		StrategyConservative: 24 * time.Hour,
		StrategyNoCache:      0,
	} {
		cfg := Config{Cache: CacheConfig{Strategy: strategy}}
		require.Equal(t, want, cfg.CacheTTL(), strategy)
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Config{Pipeline: PipelineConfig{
		BaseDelayMs:            250,
		MaxDelayMs:             5000,
		RecoveryTimeoutSeconds: 60,
		FetchTimeoutSeconds:    60,
		ExtractTimeoutSeconds:  90,
		RenderTimeoutSeconds:   30,
	}}
	require.Equal(t, 250*time.Millisecond, cfg.BaseDelay())
	require.Equal(t, 5*time.Second, cfg.MaxDelay())
	require.Equal(t, time.Minute, cfg.RecoveryTimeout())
	require.Equal(t, time.Minute, cfg.FetchTimeout())
	require.Equal(t, 90*time.Second, cfg.ExtractTimeout())
	require.Equal(t, 30*time.Second, cfg.RenderTimeout())
}
