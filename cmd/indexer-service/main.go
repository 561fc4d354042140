package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"block-auction/internal/config"
	"block-auction/internal/domain"
	"block-auction/internal/infrastructure/mysql"
	"block-auction/internal/infrastructure/redis"
	"block-auction/internal/infrastructure/sqlite"
	"block-auction/internal/services"
	"block-auction/pkg/logger"
	"block-auction/pkg/utils"

	redisClient "github.com/go-redis/redis/v8"
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

	var bidRepo domain.BidRepository
	switch cfg.Storage.Driver {
	case "sqlite":
		store, err := sqlite.NewStore(cfg.Storage.SQLitePath)
		if err != nil {
			log.Fatal("Failed to open sqlite store", "error", err)
		}
		defer store.Close()
		bidRepo = store
	default:
		db, err := utils.InitializeMysql(ctx, cfg.MySQL)
		if err != nil {
			log.Fatal("Failed to connect to MySQL", "error", err)
		}
		defer db.Close()
		bidRepo = mysql.NewMySQLBidRepository(db)
	}

	indexer := services.NewBidIndexer(bidRepo, log)
	subscriber := redis.NewRedisEventSubscriber(rdb, log)

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()
	go func() {
		if err := indexer.Start(runCtx, subscriber); err != nil && runCtx.Err() == nil {
			log.Fatal("Indexer failed", "error", err)
		}
	}()
	log.Info("Indexer service started", "storage", cfg.Storage.Driver)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down indexer service...")
	stop()
	log.Info("Indexer service stopped")
}
