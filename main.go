package main

import (
	"context"
	"log"
	"runtime/debug"
	"time"

	"discord-antinuke-bot/internal/bot"
	"discord-antinuke-bot/internal/config"
	"discord-antinuke-bot/internal/database"
	"discord-antinuke-bot/internal/metrics"
	"discord-antinuke-bot/internal/redis"

	"go.uber.org/zap"
)

func main() {
	// Fewer GC cycles, lower latency spikes on the enforcement path
	debug.SetGCPercent(400)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	logger, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Error building logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	rdb, err := redis.New(ctx, cfg.Redis, logger)
	if err != nil {
		logger.Fatal("failed to initialize redis", zap.Error(err))
	}

	db, err := database.NewDatabase(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Addr, logger)
		metricsServer.Start()
	}

	b, err := bot.New(cfg, db, rdb, logger)
	if err != nil {
		logger.Fatal("failed to initialize bot", zap.Error(err))
	}

	if err := b.Start(); err != nil {
		logger.Error("bot stopped with error", zap.Error(err))
	}

	if metricsServer != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown failed", zap.Error(err))
		}
	}
}
