// Package app initializes and holds the long-lived application services,
// acting as the dependency injection container: every component is built once
// here and passed down explicitly, never reached through globals.
package app

import (
	"context"
	"fmt"

	gcs "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/orbitlabs/orbit/internal/cache"
	"github.com/orbitlabs/orbit/internal/cache/fsstore"
	"github.com/orbitlabs/orbit/internal/cache/gcsstore"
	"github.com/orbitlabs/orbit/internal/cache/pgstore"
	"github.com/orbitlabs/orbit/internal/clock/system"
	"github.com/orbitlabs/orbit/internal/config"
	openaiextractor "github.com/orbitlabs/orbit/internal/extractor/openai"
	collyfetcher "github.com/orbitlabs/orbit/internal/fetcher/colly"
	"github.com/orbitlabs/orbit/internal/hash/sha256"
	iduuid "github.com/orbitlabs/orbit/internal/id/uuid"
	"github.com/orbitlabs/orbit/internal/metrics"
	"github.com/orbitlabs/orbit/internal/pipeline"
	"github.com/orbitlabs/orbit/internal/policy/ratelimit"
	"github.com/orbitlabs/orbit/internal/progress"
	"github.com/orbitlabs/orbit/internal/progress/sinks"
	memorypub "github.com/orbitlabs/orbit/internal/publisher/memory"
	pubsubpub "github.com/orbitlabs/orbit/internal/publisher/pubsub"
	"github.com/orbitlabs/orbit/internal/renderer/markdown"
	"github.com/orbitlabs/orbit/internal/validate"
)

// App holds the shared, long-lived services. Built once at startup; fails
// fast if any critical service cannot be initialized.
type App struct {
	Config       config.Config
	Logger       *zap.Logger
	Cache        *cache.Cache
	Limiter      *ratelimit.Limiter
	Orchestrator *pipeline.Orchestrator
	Hub          *progress.Hub

	gcsClient *gcs.Client
	pubClose  func() error
}

// New builds the full service graph from configuration.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	a := &App{Config: cfg, Logger: logger}

	clk := system.New()
	hasher := sha256.New()

	store, err := a.buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Cache = cache.New(ctx, store, clk, hasher, logger.Named("cache"))

	a.Limiter = ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.RateLimit.DefaultRPS,
		DefaultBurst: cfg.RateLimit.DefaultBurst,
	})
	for resource, override := range cfg.RateLimit.Overrides {
		a.Limiter.SetRate(resource, override.RPS, override.Burst)
	}

	hub, err := buildHub(logger)
	if err != nil {
		return nil, err
	}
	a.Hub = hub

	publisher, err := a.buildPublisher(ctx, cfg)
	if err != nil {
		return nil, err
	}

	extractor, err := openaiextractor.New(openaiextractor.Config{
		APIKey:  cfg.OpenAI.APIKey,
		BaseURL: cfg.OpenAI.BaseURL,
		Model:   cfg.OpenAI.Model,
	}, logger.Named("extractor"))
	if err != nil {
		return nil, err
	}

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Fetcher.UserAgent,
		Timeout:   cfg.FetchTimeout(),
		MaxPages:  cfg.Fetcher.MaxPages,
		Subjects:  cfg.Subjects,
	}, logger.Named("fetcher"))

	orch, err := pipeline.New(pipeline.Config{
		CacheTTL:         cfg.CacheTTL(),
		FreshnessWindow:  cfg.FreshnessWindow(),
		FetchTimeout:     cfg.FetchTimeout(),
		ExtractTimeout:   cfg.ExtractTimeout(),
		RenderTimeout:    cfg.RenderTimeout(),
		MaxAttempts:      cfg.Pipeline.MaxAttempts,
		BaseDelay:        cfg.BaseDelay(),
		MaxDelay:         cfg.MaxDelay(),
		FailureThreshold: cfg.Pipeline.FailureThreshold,
		RecoveryTimeout:  cfg.RecoveryTimeout(),
		RefreshAhead:     cfg.Pipeline.RefreshAhead,
		PublishTopic:     cfg.PubSub.TopicName,
	}, pipeline.Deps{
		Fetcher:   fetcher,
		Extractor: extractor,
		Validator: validate.NewFieldValidator(),
		Renderer:  markdown.New(logger.Named("renderer")),
		Cache:     a.Cache,
		Limiter:   a.Limiter,
		Clock:     clk,
		Hasher:    hasher,
		IDs:       iduuid.NewUUIDGenerator(),
		Publisher: publisher,
		Emitter:   hub,
		Logger:    logger.Named("pipeline"),
	})
	if err != nil {
		return nil, err
	}
	a.Orchestrator = orch

	logger.Info("application services initialized",
		zap.String("cache_strategy", cfg.Cache.Strategy),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.Int("subjects", len(cfg.Subjects)),
	)
	return a, nil
}

func (a *App) buildStore(ctx context.Context, cfg config.Config) (cache.Store, error) {
	if cfg.Cache.Strategy == config.StrategyNoCache {
		return nil, nil
	}
	switch cfg.Cache.Backend {
	case config.BackendFS:
		store, err := fsstore.New(fsstore.Config{BaseDir: cfg.Cache.Dir}, a.Logger.Named("fsstore"))
		if err != nil {
			return nil, fmt.Errorf("init fs cache store: %w", err)
		}
		return store, nil
	case config.BackendPostgres:
		store, err := pgstore.New(ctx, cfg.Cache.DSN, a.Logger.Named("pgstore"))
		if err != nil {
			return nil, fmt.Errorf("init postgres cache store: %w", err)
		}
		return store, nil
	case config.BackendGCS:
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.gcsClient = client
		store, err := gcsstore.New(client, gcsstore.Config{
			Bucket: cfg.Cache.GCSBucket,
			Prefix: cfg.Cache.Prefix,
		}, a.Logger.Named("gcsstore"))
		if err != nil {
			return nil, fmt.Errorf("init gcs cache store: %w", err)
		}
		return store, nil
	case config.BackendNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

func (a *App) buildPublisher(ctx context.Context, cfg config.Config) (pipeline.Publisher, error) {
	if cfg.PubSub.TopicName == "" {
		return memorypub.New(), nil
	}
	pub, err := pubsubpub.New(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
	if err != nil {
		return nil, fmt.Errorf("init pubsub publisher: %w", err)
	}
	a.pubClose = pub.Close
	return pub, nil
}

func buildHub(logger *zap.Logger) (*progress.Hub, error) {
	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("init prometheus sink: %w", err)
	}
	return progress.NewHub(progress.Config{Logger: logger.Named("hub")},
		sinks.NewLogSink(logger.Named("progress")),
		promSink,
	), nil
}

// Close shuts the service graph down in dependency order: orchestrator first
// so no new events are produced, then the hub, then external clients.
func (a *App) Close(ctx context.Context) error {
	var firstErr error
	if a.Orchestrator != nil {
		if err := a.Orchestrator.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.Hub != nil {
		if err := a.Hub.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.pubClose != nil {
		if err := a.pubClose(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close publisher: %w", err)
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close gcs client: %w", err)
		}
	}
	return firstErr
}
