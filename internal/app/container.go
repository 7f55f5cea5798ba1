package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/ncecere/open_chat_usage/internal/auth"
	"github.com/ncecere/open_chat_usage/internal/cache"
	"github.com/ncecere/open_chat_usage/internal/config"
	"github.com/ncecere/open_chat_usage/internal/limits"
	"github.com/ncecere/open_chat_usage/internal/observability"
	usageService "github.com/ncecere/open_chat_usage/internal/services/usage"
	"github.com/ncecere/open_chat_usage/internal/storage/reports"
	"github.com/ncecere/open_chat_usage/internal/store/postgres"
)

// Container aggregates runtime dependencies for handlers and services.
type Container struct {
	Config        *config.Config
	Logger        *slog.Logger
	DBPool        *pgxpool.Pool
	Redis         *redis.Client
	Store         *postgres.Store
	UsageService  *usageService.Service
	Tokens        *auth.TokenManager
	RateLimiter   *limits.Limiter
	Fallback      *limits.MemoryBackend
	Generations   *cache.LRU[string, usageService.Row]
	Responses     *cache.ResponseCache
	Reports       reports.Store
	Observability *observability.Provider
}

// NewContainer builds a dependency container from the provided primitives.
func NewContainer(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, redisClient *redis.Client, logger *slog.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if pool == nil {
		return nil, fmt.Errorf("db pool is required")
	}
	if redisClient == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	tokens, err := auth.NewTokenManager(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("init token manager: %w", err)
	}

	obsProvider, err := observability.Setup(ctx, cfg.Observability)
	if err != nil {
		return nil, fmt.Errorf("setup observability: %w", err)
	}

	archive, err := reports.New(ctx, cfg.Reports)
	if err != nil {
		return nil, fmt.Errorf("init report archive: %w", err)
	}

	store := postgres.New(pool)
	generations := cache.NewLRU[string, usageService.Row](cfg.Cache.GenerationCapacity, cfg.Cache.GenerationTTL)
	responses := cache.NewResponseCache(redisClient, cfg.Cache.ResponseTTL)
	usageSvc := usageService.NewService(store, usageService.Options{
		Responses:   responses,
		Generations: generations,
		Archive:     archive,
		Logger:      logger,
	})

	container := &Container{
		Config:        cfg,
		Logger:        logger,
		DBPool:        pool,
		Redis:         redisClient,
		Store:         store,
		UsageService:  usageSvc,
		Tokens:        tokens,
		Generations:   generations,
		Responses:     responses,
		Reports:       archive,
		Observability: obsProvider,
	}
	container.buildRateLimiter()
	return container, nil
}
