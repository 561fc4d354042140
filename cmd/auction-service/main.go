package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"block-auction/internal/api/handlers"
	"block-auction/internal/config"
	"block-auction/internal/infrastructure/leader"
	"block-auction/internal/infrastructure/redis"
	"block-auction/internal/services"
	"block-auction/pkg/logger"

	redisClient "github.com/go-redis/redis/v8"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New().Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.NewWithConfig(logger.Options{Level: cfg.Logging.Level, File: cfg.Logging.File})
	defer log.Sync()
	log.Info("Starting auction service", "config", cfg.GetConfigString())

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
	log.Info("Connected to Redis", "address", cfg.Redis.Address)

	st, err := openStores(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to open storage", "driver", cfg.Storage.Driver, "error", err)
	}
	defer func() {
		if err := st.close(); err != nil {
			log.Error("Failed to close storage", "error", err)
		}
	}()
	log.Info("Storage ready", "driver", cfg.Storage.Driver)

	// Initialize Redis based components
	clock := redis.NewRedisBlockClock(rdb, cfg.Chain.BlockHeightKey)
	leaderElection := leader.NewRedisLeaderElection(rdb, cfg.Leader.TTL)

	auctionManager := services.NewAuctionManager(services.ManagerDeps{
		AuctionRepo:    st.auctions,
		Snapshots:      redis.NewRedisSnapshotCache(rdb),
		LeaderCache:    redis.NewRedisLeaderCache(rdb),
		EventPub:       redis.NewEventPublisher(rdb),
		LeaderElection: leaderElection,
		Settlement:     services.NewLogSettlement(log),
		Clock:          clock,
	}, cfg.Instance.ID, log)

	scheduler := services.NewCronAuctionScheduler(st.scheduler, clock, auctionManager,
		leaderElection, cfg.Instance.ID, cfg.Chain.FinalizePoll, log)
	auctionManager.SetScheduler(scheduler)

	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	if err := scheduler.Start(bgCtx); err != nil {
		log.Fatal("Failed to start scheduler", "error", err)
	}

	var ticker *services.BlockTicker
	if cfg.Chain.AdvanceBlocks {
		ticker = services.NewBlockTicker(clock, leaderElection, cfg.Instance.ID, cfg.Chain.BlockInterval, log)
		if err := ticker.Start(bgCtx); err != nil {
			log.Fatal("Failed to start block ticker", "error", err)
		}
	}

	go campaign(bgCtx, leaderElection, auctionManager, cfg.Instance.ID, cfg.Leader.TTL/3, log)

	// Initialize Echo
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{echo.GET, echo.POST, echo.OPTIONS},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderXRequestedWith,
			"X-Bidder-ID",
		},
		MaxAge: 86400,
	}))
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			log.Debug("Request received",
				"method", req.Method,
				"path", req.URL.Path,
				"remote_addr", c.RealIP(),
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID))
			return next(c)
		}
	})

	auctionHandler := handlers.NewAuctionHandler(auctionManager, log)
	auctionHandler.RegisterRoutes(e.Group("/api/v1"))

	e.GET("/health", func(c echo.Context) error {
		status := map[string]interface{}{
			"status":    "ok",
			"service":   "auction-service",
			"instance":  cfg.Instance.ID,
			"timestamp": time.Now().Format(time.RFC3339),
		}
		if step, err := clock.CurrentStep(c.Request().Context()); err == nil {
			status["step"] = step
		}
		if isLeader, err := leaderElection.IsLeader(c.Request().Context(), cfg.Instance.ID); err == nil {
			status["leader"] = isLeader
		}
		return c.JSON(http.StatusOK, status)
	})

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		log.Info("Starting HTTP server", "address", serverAddr)
		if err := e.Start(serverAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed to start", "error", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down auction service...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}
	stopBackground()
	if ticker != nil {
		ticker.Stop()
	}
	if err := scheduler.Stop(); err != nil {
		log.Error("Failed to stop scheduler", "error", err)
	}
	if err := leaderElection.ReleaseLeadership(shutdownCtx, cfg.Instance.ID); err != nil {
		log.Error("Failed to release leadership", "error", err)
	}

	log.Info("Auction service stopped")
}

// campaign keeps trying to hold leadership. Engines are reloaded from storage
// every time this instance takes over.
func campaign(ctx context.Context, election *leader.RedisLeaderElection, manager *services.AuctionManager,
	instanceID string, interval time.Duration, log logger.Logger) {
	t := time.NewTicker(interval)
	defer t.Stop()

	wasLeader := false
	for {
		became, err := election.BecomeLeader(ctx, instanceID)
		switch {
		case err != nil:
			log.Error("Failed to attempt leadership", "error", err)
		case became && !wasLeader:
			log.Info("Became auction leader", "instance_id", instanceID)
			if _, err := manager.Load(ctx); err != nil {
				log.Error("Failed to load auctions", "error", err)
				became = false
			}
		case !became && wasLeader:
			log.Warn("Lost auction leadership", "instance_id", instanceID)
		}
		wasLeader = became

		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
