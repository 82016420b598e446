// Package app assembles the service's components from configuration.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/discoverly/edgeschema/internal/analyzer"
	"github.com/discoverly/edgeschema/internal/cache"
	"github.com/discoverly/edgeschema/internal/clock/system"
	"github.com/discoverly/edgeschema/internal/config"
	"github.com/discoverly/edgeschema/internal/id/uuid"
	"github.com/discoverly/edgeschema/internal/pipeline"
	qmemory "github.com/discoverly/edgeschema/internal/queue/memory"
	"github.com/discoverly/edgeschema/internal/schema"
	"github.com/discoverly/edgeschema/internal/storage/memory"
	"github.com/discoverly/edgeschema/internal/storage/postgres"
)

// App holds the wired components shared by the API server, the edge
// interceptor, and the background worker.
type App struct {
	Config   config.Config
	Logger   *zap.Logger
	Jobs     schema.JobStore
	Domains  schema.DomainStore
	Cache    schema.MetadataCache
	Analyzer schema.Analyzer
	Queue    *qmemory.Queue
	Pipeline *pipeline.Service

	pgStore    *postgres.Store
	redisCache *cache.Redis
}

// New builds an App from config, selecting storage and cache providers.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}

	switch cfg.DB.Provider {
	case "postgres":
		store, err := postgres.NewStore(ctx, postgres.StoreConfig{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		a.pgStore = store
		a.Jobs = store
		a.Domains = store
	case "memory":
		a.Jobs = memory.NewJobStore()
		a.Domains = memory.NewDomainStore()
	default:
		return nil, fmt.Errorf("unknown db provider: %s", cfg.DB.Provider)
	}

	switch cfg.Cache.Provider {
	case "redis":
		r := cache.NewRedis(cache.RedisOptions{
			Addr:      cfg.Cache.Redis.Addr,
			Password:  cfg.Cache.Redis.Password,
			DB:        cfg.Cache.Redis.DB,
			KeyPrefix: cfg.Cache.Redis.KeyPrefix,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := r.Ping(pingCtx); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		a.redisCache = r
		a.Cache = r
	case "memory":
		a.Cache = cache.NewMemory()
	default:
		return nil, fmt.Errorf("unknown cache provider: %s", cfg.Cache.Provider)
	}

	an, err := analyzer.New(cfg.Analyzer)
	if err != nil {
		return nil, fmt.Errorf("init analyzer: %w", err)
	}
	a.Analyzer = an

	a.Queue = qmemory.NewQueue(cfg.Worker.QueueDepth)
	a.Pipeline = pipeline.New(
		a.Jobs,
		a.Domains,
		a.Cache,
		a.Analyzer,
		a.Queue,
		uuid.NewGenerator(),
		system.New(),
		pipeline.Config{AnalyzerTimeout: cfg.AnalyzerTimeout()},
		logger,
	)
	return a, nil
}

// Close releases pooled resources.
func (a *App) Close() {
	if a.Queue != nil {
		a.Queue.Close()
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	if a.redisCache != nil {
		if err := a.redisCache.Close(); err != nil {
			a.Logger.Warn("close redis client failed", zap.Error(err))
		}
	}
}
