package main

import (
	"auction-engine/internal/api/handlers"
	"auction-engine/internal/config"
	"auction-engine/internal/infrastructure/leader"
	"auction-engine/internal/infrastructure/mysql"
	natspub "auction-engine/internal/infrastructure/nats"
	"auction-engine/internal/infrastructure/redis"
	"auction-engine/internal/services"
	"auction-engine/pkg/logger"
	"auction-engine/pkg/utils"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nats-io/nats.go"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New().Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	log := logger.FromConfig(cfg.Log)
	log.Info("Auction service starting", "config", cfg.GetConfigString())

	ctx, stop := context.WithCancel(context.Background())
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

	if cfg.MySQL.InitSchema {
		if err := mysql.InitSchema(ctx, db); err != nil {
			log.Error("Failed to initialize schema", "error", err)
			os.Exit(1)
		}
		log.Info("Schema initialized")
	}

	nc, err := nats.Connect(cfg.NATS.URL, nats.Name(cfg.Instance.ID), nats.MaxReconnects(-1))
	if err != nil {
		log.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer nc.Drain()

	domainEvents, err := natspub.NewDomainEventPublisher(ctx, nc, cfg.NATS.Stream, cfg.NATS.SubjectPrefix)
	if err != nil {
		log.Error("Failed to set up domain event stream", "error", err)
		os.Exit(1)
	}

	auctionRepo := mysql.NewMySQLAuctionRepository(db)
	outboxRepo := mysql.NewMySQLOutboxRepository(db)
	stateCache := redis.NewRedisStateCache(rdb)
	deadlineIndex := redis.NewRedisDeadlineIndex(rdb)
	bidQueue := redis.NewRedisBidQueue(rdb, cfg.Auction.Consumer.ScanCount)
	livePublisher := redis.NewLiveEventPublisher(rdb)

	leaderElection := leader.NewRedisLeaderElection(rdb, cfg.Leader.Key, cfg.Leader.TTL, log)
	go leaderElection.Campaign(ctx, cfg.Instance.ID, cfg.Leader.TTL/3)

	fin := cfg.Auction.Finalize
	deadlineSync := services.NewDeadlineSync(auctionRepo, deadlineIndex, cfg.Auction.Deadline.Horizon(),
		cfg.Auction.Deadline.PruneBeyondHorizon, log)
	finalizer := services.NewFinalizeService(auctionRepo, bidQueue, stateCache, deadlineIndex, livePublisher,
		fin.MaxDefer, cfg.Auction.Cache.EndedTTL, log)
	worker := services.NewDeadlineWorker(deadlineIndex, finalizer, fin.BatchSize, fin.TimeBudget, fin.Parallelism, log)
	outboxRelay := services.NewOutboxRelay(outboxRepo, domainEvents, cfg.Auction.Outbox.BatchSize, log)

	// Every instance fills its index on startup; the upserts are idempotent.
	if cfg.Auction.Deadline.BootstrapEnabled {
		if _, err := deadlineSync.Bootstrap(ctx); err != nil {
			log.Warn("Deadline bootstrap failed, reconciler will retry", "error", err)
		}
	}

	scheduler := services.NewScheduler(leaderElection, cfg.Instance.ID, log)
	jobs := []error{
		scheduler.Cron(ctx, "deadline-reconcile", cfg.Auction.Deadline.ReconcileCron, true, func(ctx context.Context) {
			_, _ = deadlineSync.Reconcile(ctx)
		}),
		scheduler.Every(ctx, "deadline-finalize", fin.Tick, true, func(ctx context.Context) {
			worker.Tick(ctx)
		}),
		scheduler.Cron(ctx, "outbox-relay", cfg.Auction.Outbox.Cron, true, func(ctx context.Context) {
			_, _ = outboxRelay.Relay(ctx)
		}),
	}
	if err := errors.Join(jobs...); err != nil {
		log.Error("Failed to schedule jobs", "error", err)
		os.Exit(1)
	}
	scheduler.Start()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			log.Info("Request received",
				"method", req.Method,
				"path", req.URL.Path,
				"remote_addr", c.RealIP(),
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID))
			return next(c)
		}
	})

	handlers.NewAdminHandler(deadlineIndex, deadlineSync, finalizer, log).Register(e)

	serverAddr := fmt.Sprintf("%s:%d", cfg.Admin.Host, cfg.Admin.Port)
	go func() {
		log.Info("Starting auction service", "address", serverAddr)
		if err := e.Start(serverAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down auction service...")
	stop()
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := leaderElection.ReleaseLeadership(shutdownCtx, cfg.Instance.ID); err != nil {
		log.Error("Failed to release leadership", "error", err)
	}
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}
	log.Info("Auction service stopped")
}
