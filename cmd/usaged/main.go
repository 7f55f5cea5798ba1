package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ncecere/open_chat_usage/internal/app"
	"github.com/ncecere/open_chat_usage/internal/config"
	"github.com/ncecere/open_chat_usage/internal/database"
	"github.com/ncecere/open_chat_usage/internal/httpserver"
	"github.com/ncecere/open_chat_usage/internal/logging"
	"github.com/ncecere/open_chat_usage/internal/redisclient"
)

const cacheSweepInterval = time.Minute

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.Options{})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("init logging: %v", err)
	}
	slog.SetDefault(logger)

	if err := database.RunMigrations(ctx, cfg.Database, logger); err != nil {
		fatal(logger, "run migrations", err)
	}

	dbPool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		fatal(logger, "connect database", err)
	}
	defer dbPool.Close()

	redisClient := redisclient.New(cfg.Redis)
	if err := redisclient.Ping(ctx, redisClient); err != nil {
		// the limiter falls back to in-process counters until redis returns
		logger.Warn("redis unreachable at startup", slog.String("error", err.Error()))
	}
	defer redisClient.Close()

	container, err := app.NewContainer(ctx, cfg, dbPool, redisClient, logger)
	if err != nil {
		fatal(logger, "build container", err)
	}
	if container.Observability != nil {
		defer container.Observability.Shutdown(context.Background())
	}
	container.StartCacheSweeper(ctx, cacheSweepInterval)
	if container.RateLimiter != nil {
		logger.Info("rate limiting enabled", slog.Any("tiers", container.RateLimiter.Tiers()))
	}

	server, err := httpserver.New(container)
	if err != nil {
		fatal(logger, "construct server", err)
	}

	logger.Info("usaged listening",
		slog.String("addr", cfg.Server.ListenAddr),
		slog.String("reports", cfg.Reports.Storage),
	)
	if err := server.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fatal(logger, "server stopped", err)
	}
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, slog.String("error", err.Error()))
	os.Exit(1)
}
