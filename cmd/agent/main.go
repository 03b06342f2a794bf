package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modemfarm/smsagent/internal/config"
	"github.com/modemfarm/smsagent/internal/handlers"
	"github.com/modemfarm/smsagent/internal/manager"
	"github.com/modemfarm/smsagent/internal/repository"
	"github.com/modemfarm/smsagent/internal/retry"
	"github.com/modemfarm/smsagent/internal/service"
	"github.com/modemfarm/smsagent/internal/state"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	if level, err := logrus.ParseLevel(cfg.App.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	if cfg.App.Debug {
		logger.SetLevel(logrus.DebugLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := state.NewStore(logger)
	store.SetServiceLimit(cfg.Hub.ServiceLimit)

	// Optional backends: the agent keeps selling numbers without them.
	history := newHistory(ctx, cfg, logger)
	events := newEvents(cfg, logger)
	cache := newSnapshotCache(ctx, cfg, logger)

	metrics := service.NewMetricsCollector()
	forwarder := service.NewForwarder(
		cfg.Hub.PushURL,
		cfg.Hub.APIKey,
		retry.Policy{Attempts: cfg.Hub.ForwardAttempts, Delay: cfg.Hub.ForwardDelay},
		logger,
	)

	agent := service.NewAgentService(
		store,
		forwarder,
		history,
		events,
		cache,
		metrics,
		cfg.EnabledServiceSet(),
		logger,
	)

	fleet := manager.New(store, agent, logger, manager.Options{
		ScanInterval:   cfg.Modems.ScanInterval,
		PollInterval:   cfg.Modems.PollInterval,
		ReprobeBackoff: cfg.Modems.ReprobeBackoff,
		Metrics:        metrics,
		Snapshot:       agent,
	})
	go fleet.Run(ctx)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/health", "/metrics"},
	}))

	handlers.NewHTTPHandler(agent, fleet, cfg.Hub.APIKey, logger).RegisterRoutes(router)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.App.Port),
		Handler: router,
	}

	go func() {
		logger.Infof("Starting agent server on port %d", cfg.App.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("HTTP server forced to shutdown: %v", err)
	}

	logger.Info("Agent exited")
}

func newHistory(ctx context.Context, cfg *config.Config, logger *logrus.Logger) service.HistoryRecorder {
	if cfg.MongoDB.URI == "" {
		logger.Info("MongoDB not configured, activation history disabled")
		return service.NopHistory{}
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.MongoDB.URI))
	if err != nil {
		logger.Warnf("Failed to connect to MongoDB, history disabled: %v", err)
		return service.NopHistory{}
	}

	repo := repository.NewHistoryRepository(client.Database(cfg.MongoDB.DBName), logger)
	if err := repo.EnsureIndexes(connectCtx); err != nil {
		logger.Warnf("Failed to ensure history indexes: %v", err)
	}
	return repo
}

func newEvents(cfg *config.Config, logger *logrus.Logger) service.EventPublisher {
	if cfg.RabbitMQ.URL == "" {
		logger.Info("RabbitMQ not configured, event publishing disabled")
		return service.NopEvents{}
	}

	conn, err := amqp.Dial(cfg.RabbitMQ.URL)
	if err != nil {
		logger.Warnf("Failed to connect to RabbitMQ, events disabled: %v", err)
		return service.NopEvents{}
	}
	channel, err := conn.Channel()
	if err != nil {
		logger.Warnf("Failed to open RabbitMQ channel, events disabled: %v", err)
		return service.NopEvents{}
	}

	events, err := service.NewAMQPEvents(channel, cfg.RabbitMQ.Exchange, logger)
	if err != nil {
		logger.Warnf("Failed to declare event exchange, events disabled: %v", err)
		return service.NopEvents{}
	}
	return events
}

func newSnapshotCache(ctx context.Context, cfg *config.Config, logger *logrus.Logger) service.SnapshotCache {
	if cfg.Redis.Addr == "" {
		logger.Info("Redis not configured, dashboard snapshots disabled")
		return service.NopSnapshotCache{}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.Ping(pingCtx).Result(); err != nil {
		logger.Warnf("Failed to connect to Redis, snapshots disabled: %v", err)
		return service.NopSnapshotCache{}
	}
	return service.NewRedisSnapshotCache(client, logger)
}
