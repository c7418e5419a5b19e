package main

import (
	"auction-engine/internal/api/handlers"
	"auction-engine/internal/api/middleware"
	"auction-engine/internal/config"
	"auction-engine/internal/infrastructure/live"
	"auction-engine/internal/infrastructure/mysql"
	"auction-engine/internal/infrastructure/redis"
	"auction-engine/internal/services"
	"auction-engine/pkg/logger"
	"auction-engine/pkg/utils"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New().Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	log := logger.FromConfig(cfg.Log)
	log.Info("Bidding service starting", "config", cfg.GetConfigString())

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

	auctionRepo := mysql.NewMySQLAuctionRepository(db)
	stateCache := redis.NewRedisStateCache(rdb)
	processor := redis.NewRedisBidProcessor(rdb, cfg.Auction.Bid.IdempotencyTTL)
	liveSubscriber := redis.NewLiveEventSubscriber(rdb, log)

	unitRules := services.NewBidUnitRulesDao(rdb)
	if err := unitRules.LoadRules(ctx); err != nil {
		log.Error("Failed to load bid unit rules", "error", err)
		os.Exit(1)
	}

	cacheService := services.NewAuctionCacheService(auctionRepo, stateCache, unitRules,
		cfg.Auction.Cache.EndedTTL, log)
	bidService := services.NewBidService(processor, cacheService, log)

	hub := live.NewHub(cfg.Auction.SSE.Buffer, log)
	relay := services.NewLiveRelay(hub, stateCache, log)

	// Heartbeats are local to this process, so every instance runs them.
	scheduler := services.NewScheduler(nil, cfg.Instance.ID, log)
	if err := scheduler.Every(ctx, "live-heartbeat", cfg.Auction.SSE.Heartbeat, false, func(context.Context) {
		hub.Heartbeat()
	}); err != nil {
		log.Error("Failed to schedule heartbeat", "error", err)
		os.Exit(1)
	}
	scheduler.Start()

	go func() {
		if err := liveSubscriber.SubscribeLive(ctx, relay.Handle); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Live subscriber stopped", "error", err)
		}
	}()

	router := mux.NewRouter()
	router.Use(middleware.CORS)
	router.Use(middleware.RequestLogging(log))
	// Lets CORS answer preflights for any path.
	router.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	handlers.NewBidQueueHandler(bidService, log).Register(router)
	handlers.NewLiveHandler(hub, cacheService, cfg.Auction.SSE.Timeout, log).Register(router)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		detail, list, subs := hub.Stats()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"UP","detailAuctions":%d,"listAuctions":%d,"subscriptions":%d}`, detail, list, subs)
	}).Methods(http.MethodGet)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// Live streams end with the process context.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		log.Info("Starting bidding service", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down bidding service...")
	stop()
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}
	log.Info("Bidding service stopped")
}
