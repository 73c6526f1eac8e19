package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Aniket17200/Profitfirst/config"
	"github.com/Aniket17200/Profitfirst/internal/api"
	"github.com/Aniket17200/Profitfirst/internal/broker"
	"github.com/Aniket17200/Profitfirst/internal/cache"
	"github.com/Aniket17200/Profitfirst/internal/forecast"
	"github.com/Aniket17200/Profitfirst/internal/redisclient"
	"github.com/Aniket17200/Profitfirst/internal/service"
	"github.com/Aniket17200/Profitfirst/internal/sources"
	"github.com/Aniket17200/Profitfirst/internal/store"
	"github.com/Aniket17200/Profitfirst/internal/util"
	"github.com/Aniket17200/Profitfirst/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting profit dashboard service", zap.String("env", cfg.Server.Env))

	tp, err := util.InitTracer(cfg.Observ.ServiceName, cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	if cfg.Database.Migrate {
		if err := db.Migrate(context.Background()); err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}
	}
	logger.Info("Database connected")

	redisClient, err := optionalRedis(cfg.Cache.Backend, func() (*redisclient.Client, error) {
		return redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.KeyPrefix)
	})
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	if redisClient != nil {
		defer redisClient.Close()
		logger.Info("Redis connected")
	}

	var cacheStore cache.Store
	var memStore *cache.MemoryStore
	if cfg.Cache.Backend == "memory" {
		memStore = cache.NewMemoryStore()
		cacheStore = memStore
	} else {
		cacheStore = cache.NewRedisStore(redisClient, cfg.Cache.Retention)
	}
	freshness := cache.NewFreshness(cacheStore)

	retry := sources.RetryPolicy{Attempts: cfg.Sources.RetryAttempts, BaseDelay: cfg.Sources.RetryBaseDelay}

	shopifyCfg := sources.DefaultShopifyConfig()
	shopifyCfg.APIVersion = cfg.Sources.ShopifyAPIVersion
	shopifyCfg.BulkThresholdDays = cfg.Sources.BulkThresholdDays
	shopifyCfg.LockTTL = cfg.Sources.BulkLockTTL
	shopifyCfg.MaxPollDuration = cfg.Sources.BulkMaxPoll
	shopifyCfg.Retry = retry
	orders := sources.NewShopifyClient(shopifyCfg, nil, bulkLocker(redisClient))

	ads := sources.NewMetaAdsClient(sources.MetaConfig{BaseURL: cfg.Sources.MetaBaseURL, Retry: retry}, nil)

	shiprocketCfg := sources.DefaultShiprocketConfig()
	shiprocketCfg.BaseURL = cfg.Sources.ShiprocketBaseURL
	shiprocketCfg.Retry = retry
	shipments := sources.NewShiprocketClient(shiprocketCfg, nil)

	pipeline := service.NewPipeline(orders, ads, shipments, db, freshness, service.PipelineConfig{
		CacheTTL:         cfg.Cache.TTL,
		OrdersTimeout:    cfg.Sources.OrdersTimeout,
		AdsTimeout:       cfg.Sources.AdsTimeout,
		LogisticsTimeout: cfg.Sources.LogisticsTimeout,
		CostsTimeout:     cfg.Sources.CostsTimeout,
		FallbackDays:     cfg.Sources.FallbackDays,
	})

	var completer forecast.Completer
	if cfg.Forecast.OpenAIAPIKey != "" {
		completer = forecast.NewOpenAIClient(forecast.OpenAIConfig{
			APIKey: cfg.Forecast.OpenAIAPIKey,
			Model:  cfg.Forecast.OpenAIModel,
		}, nil)
	} else {
		logger.Info("OPENAI_API_KEY not set, forecasts use the statistical strategy only")
	}
	estimator := forecast.NewEstimator(completer,
		forecast.WithHorizon(cfg.Forecast.Horizon),
		forecast.WithModelTimeout(cfg.Forecast.ModelTimeout))

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var publisher service.SnapshotPublisher
	var producer *broker.Producer
	var snapshotWorker *worker.SnapshotWorker
	if cfg.Kafka.Enabled {
		producer = broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicSnapshots)
		publisher = broker.NewEventPublisher(producer)
		logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicSnapshots))

		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicSnapshots, cfg.Kafka.ConsumerGroup)
		snapshotWorker = worker.NewSnapshotWorker(consumer, db)
		go func() {
			if err := snapshotWorker.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Snapshot worker error", zap.Error(err))
			}
		}()
	}

	if memStore != nil {
		purger := worker.NewCachePurgeWorker(memStore, cfg.Cache.PurgeInterval, cfg.Cache.Retention)
		go purger.Start(workerCtx)
	}

	dashboardService := service.NewDashboardService(db, pipeline, publisher)
	forecastService := service.NewForecastService(db, pipeline, estimator, freshness, service.ForecastConfig{
		HistoryMonths: cfg.Forecast.HistoryMonths,
		CacheTTL:      cfg.Forecast.CacheTTL,
	})

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	checks := map[string]api.Pinger{"postgres": db}
	if redisClient != nil {
		checks["redis"] = redisClient
	}
	handler := api.NewHandler(dashboardService, forecastService, db, checks)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	// drain detached cache writes and snapshot publishes before closing clients
	dashboardService.Flush()
	freshness.Flush()

	workerCancel()
	if snapshotWorker != nil {
		if err := snapshotWorker.Stop(); err != nil {
			logger.Warn("Error stopping snapshot worker", zap.Error(err))
		}
	}
	if producer != nil {
		if err := producer.Close(); err != nil {
			logger.Warn("Error closing Kafka producer", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}

// optionalRedis connects to Redis. With the in-memory cache a failed
// connection is logged and yields a nil client.
func optionalRedis(backend string, connect func() (*redisclient.Client, error)) (*redisclient.Client, error) {
	c, err := connect()
	if err == nil {
		return c, nil
	}
	if backend != "memory" {
		return nil, err
	}
	util.GetLogger().Warn("Redis unavailable, bulk exports run without the shop lock", zap.Error(err))
	return nil, nil
}

// bulkLocker keeps a missing client a nil interface
func bulkLocker(c *redisclient.Client) sources.Locker {
	if c == nil {
		return nil
	}
	return c
}
