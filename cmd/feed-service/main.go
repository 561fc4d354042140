package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"block-auction/internal/api/handlers"
	"block-auction/internal/api/middleware"
	"block-auction/internal/config"
	"block-auction/internal/infrastructure/redis"
	"block-auction/internal/infrastructure/websocket"
	"block-auction/internal/services"
	"block-auction/pkg/logger"

	redisClient "github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New().Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.NewWithConfig(logger.Options{Level: cfg.Logging.Level, File: cfg.Logging.File})
	defer log.Sync()

	// Initialize Redis
	rdb := redisClient.NewClient(&redisClient.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("Failed to connect to Redis", "error", err)
	}

	snapshots := redis.NewRedisSnapshotCache(rdb)
	leaders := redis.NewRedisLeaderCache(rdb)

	connManager := websocket.NewConnectionManager(log)
	notifier := websocket.NewWebSocketNotifier(connManager)
	eventListener := services.NewEventListener(connManager, notifier, notifier, log)
	eventSubscriber := redis.NewRedisEventSubscriber(rdb, log)

	wsHandlers := handlers.NewWebSocketHandlers(snapshots, leaders, connManager, log)

	router := mux.NewRouter()
	router.Use(middleware.CORSWithLogging(log))
	wsHandlers.RegisterRoutes(router)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	listenCtx, stopListener := context.WithCancel(context.Background())
	defer stopListener()
	go func() {
		if err := eventListener.Start(listenCtx, eventSubscriber); err != nil && listenCtx.Err() == nil {
			log.Fatal("Event listener stopped", "error", err)
		}
	}()

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Feed.Host, cfg.Feed.Port),
		Handler: router,
	}

	go func() {
		log.Info("Starting feed service", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start", "error", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down feed service...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	stopListener()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	log.Info("Feed service stopped")
}
