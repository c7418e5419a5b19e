package main

import (
	"auction-engine/internal/config"
	"auction-engine/internal/domain"
	"auction-engine/internal/infrastructure/mysql"
	"auction-engine/internal/infrastructure/redis"
	"auction-engine/internal/services"
	"auction-engine/pkg/logger"
	"auction-engine/pkg/utils"
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New().Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	log := logger.FromConfig(cfg.Log)
	log.Info("Bid consumer starting", "config", cfg.GetConfigString())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	rdb := utils.InitializeRedis(initCtx, cfg, log)
	db := utils.InitializeMysql(initCtx, cfg, log)
	cancel()
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Failed to close MySQL connection", "error", err)
		}
	}()

	stateCache := redis.NewRedisStateCache(rdb)
	ext := cfg.Auction.Extension
	applier := services.NewBidEventApplier(
		mysql.NewMySQLBidRepository(db),
		stateCache,
		redis.NewRedisDeadlineIndex(rdb),
		redis.NewLiveEventPublisher(rdb),
		domain.ExtensionPolicy{Enabled: ext.Enabled, Threshold: ext.Threshold, ExtendBy: ext.ExtendBy},
		cfg.Auction.Cache.EndedTTL,
		log,
	)

	// Rules are only needed when loading; resync never loads.
	cacheService := services.NewAuctionCacheService(mysql.NewMySQLAuctionRepository(db), stateCache, nil,
		cfg.Auction.Cache.EndedTTL, log)

	consumer := services.NewBidConsumer(
		redis.NewRedisBidQueue(rdb, cfg.Auction.Consumer.ScanCount),
		applier,
		cacheService,
		cfg.Auction.Consumer.PollInterval,
		cfg.Auction.Consumer.RetryBatch,
		log,
	)

	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Bid consumer failed", "error", err)
		os.Exit(1)
	}
	log.Info("Bid consumer stopped")
}
