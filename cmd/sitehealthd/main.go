package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"SiteHealthPlatform/internal/alert"
	"SiteHealthPlatform/internal/eventbus"
	"SiteHealthPlatform/internal/executor"
	"SiteHealthPlatform/internal/handler"
	"SiteHealthPlatform/internal/incident"
	"SiteHealthPlatform/internal/plugin"
	"SiteHealthPlatform/internal/repository"
	"SiteHealthPlatform/internal/repository/postgres"
	"SiteHealthPlatform/internal/scheduler"
	"SiteHealthPlatform/internal/service"
	"SiteHealthPlatform/internal/stream"
	"SiteHealthPlatform/pkg/config"
	"SiteHealthPlatform/pkg/connection"
	"SiteHealthPlatform/pkg/database"
	"SiteHealthPlatform/pkg/health"
	"SiteHealthPlatform/pkg/logger"
	pkg_metrics "SiteHealthPlatform/pkg/metrics"
	pkg_rabbitmq "SiteHealthPlatform/pkg/rabbitmq"
	"SiteHealthPlatform/pkg/ratelimit"
	pkg_redis "SiteHealthPlatform/pkg/redis"
)

const (
	serviceName    = "sitehealthd"
	serviceVersion = "v1.0.0"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger, err := logger.NewLogger(cfg.Environment, cfg.Logger.Level, serviceName)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting site health daemon",
		logger.String("version", serviceVersion),
		logger.String("environment", cfg.Environment))

	metricsInstance := pkg_metrics.NewMetrics(serviceName)
	if err := pkg_metrics.InitializeOpenTelemetry(serviceName); err != nil {
		appLogger.Warn("Failed to initialize OpenTelemetry", logger.Error(err))
	}

	ctx := context.Background()
	retryConfig := connection.DefaultRetryConfig()

	// База данных
	dbConfig := database.NewConfig()
	dbConfig.Host = cfg.Database.Host
	dbConfig.Port = cfg.Database.Port
	dbConfig.User = cfg.Database.User
	dbConfig.Password = cfg.Database.Password
	dbConfig.Database = cfg.Database.Name
	dbConfig.SSLMode = cfg.Database.SSLMode

	var db *database.Postgres
	err = connection.WithRetry(ctx, retryConfig, func(ctx context.Context) error {
		var connectErr error
		db, connectErr = database.Connect(ctx, dbConfig)
		return connectErr
	})
	if err != nil {
		appLogger.Error("Failed to connect to database", logger.Error(err))
		os.Exit(1)
	}
	defer db.Close()

	// Redis
	redisConfig := pkg_redis.NewConfig()
	redisConfig.Addr = cfg.Redis.Addr
	redisConfig.Password = cfg.Redis.Password
	redisConfig.DB = cfg.Redis.DB

	redisClient, err := pkg_redis.Connect(ctx, redisConfig)
	if err != nil {
		appLogger.Error("Failed to connect to Redis", logger.Error(err))
		os.Exit(1)
	}
	defer redisClient.Close()

	// RabbitMQ
	rabbitConfig := pkg_rabbitmq.NewConfig()
	rabbitConfig.URL = cfg.RabbitMQ.URL
	rabbitConfig.Exchange = cfg.RabbitMQ.Exchange
	rabbitConfig.RoutingKey = cfg.RabbitMQ.TriggerKey
	rabbitConfig.Queue = cfg.RabbitMQ.DeliveryQueue

	rabbitConn, err := pkg_rabbitmq.Connect(ctx, rabbitConfig)
	if err != nil {
		appLogger.Error("Failed to connect to RabbitMQ", logger.Error(err))
		os.Exit(1)
	}
	defer rabbitConn.Close()

	// Реестр плагинов
	registry := plugin.NewRegistry()
	if err := plugin.RegisterBuiltins(registry, appLogger); err != nil {
		appLogger.Error("Failed to register check plugins", logger.Error(err))
		os.Exit(1)
	}
	for _, descriptor := range registry.List() {
		appLogger.Info("Registered check plugin", logger.String("type", descriptor.Type))
	}

	// Репозитории
	configRepo := postgres.NewConfigurationRepository(db.Pool, appLogger)
	resultRepo := postgres.NewResultRepository(db.Pool, appLogger)
	incidentRepo := postgres.NewIncidentRepository(db.Pool, appLogger)

	// Шина событий
	var bus eventbus.Bus
	if cfg.EventBus.Backend == "redis" {
		bus = eventbus.NewRedisBus(redisClient.Client, appLogger, metricsInstance)
	} else {
		bus = eventbus.NewMemoryBus(appLogger, metricsInstance, eventbus.DefaultBufferSize)
	}
	defer bus.Close()

	// Уведомления
	producer := pkg_rabbitmq.NewProducer(rabbitConn, rabbitConfig)
	notifier := alert.NewRabbitNotifier(producer, cfg.RabbitMQ.TriggerKey, appLogger)

	consumer := pkg_rabbitmq.NewConsumer(rabbitConn, rabbitConfig)
	deliveryBridge := alert.NewDeliveryBridge(consumer, bus, cfg.RabbitMQ.DeliveryQueue, appLogger)

	consumerCtx, cancelConsumer := context.WithCancel(ctx)
	defer cancelConsumer()
	if err := deliveryBridge.Start(consumerCtx); err != nil {
		appLogger.Error("Failed to start delivery bridge", logger.Error(err))
		os.Exit(1)
	}

	// Исполнитель и машина состояний инцидентов
	exec := executor.NewExecutor(registry, appLogger, metricsInstance,
		time.Duration(cfg.Scheduler.DefaultTimeoutSeconds)*time.Second)
	tracker := incident.NewTracker(incidentRepo, resultRepo, bus, notifier, appLogger, metricsInstance)

	// Планировщик
	sched := scheduler.NewScheduler(configRepo, resultRepo, exec, tracker, bus,
		appLogger, metricsInstance, scheduler.Config{
			TickInterval:  time.Duration(cfg.Scheduler.TickIntervalSeconds) * time.Second,
			MaxConcurrent: cfg.Scheduler.MaxConcurrentChecks,
		})

	if err := sched.Start(ctx); err != nil {
		appLogger.Error("Failed to start scheduler", logger.Error(err))
		os.Exit(1)
	}

	// Очистка устаревших результатов
	retention := time.Duration(cfg.Scheduler.ResultRetentionDays) * 24 * time.Hour
	retentionCtx, cancelRetention := context.WithCancel(ctx)
	defer cancelRetention()
	go runResultRetention(retentionCtx, resultRepo, retention, appLogger)

	// Сервис и HTTP API
	rateLimiter := ratelimit.NewRedisRateLimiter(redisClient.Client)
	checkService := service.NewCheckService(configRepo, resultRepo, incidentRepo,
		registry, sched, rateLimiter, appLogger, cfg.RateLimit.RunNowPerMinute)

	sseHandler := stream.NewHandler(bus, appLogger)
	httpHandler := handler.NewHTTPHandler(checkService, sseHandler, appLogger)

	healthChecker := newPlatformHealthChecker(db, redisClient)

	mux := http.NewServeMux()
	httpHandler.RegisterRoutes(mux)
	mux.HandleFunc("GET /health", health.Handler(healthChecker))
	mux.Handle("GET /metrics", metricsInstance.GetHandler())

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: mux,
	}

	go func() {
		appLogger.Info("HTTP server started",
			logger.String("host", cfg.Server.Host),
			logger.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("HTTP server failed", logger.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down site health daemon")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("HTTP server shutdown failed", logger.Error(err))
	}

	cancelConsumer()
	sched.Stop()

	appLogger.Info("Site health daemon stopped")
}

// runResultRetention периодически удаляет результаты старше срока хранения
func runResultRetention(ctx context.Context, results repository.ResultRepository, retention time.Duration, log logger.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := results.DeleteOlderThan(ctx, time.Now().UTC().Add(-retention))
			if err != nil {
				log.Error("Failed to delete expired check results", logger.Error(err))
				continue
			}
			if deleted > 0 {
				log.Info("Expired check results deleted", logger.Int64("count", deleted))
			}
		}
	}
}

// platformHealthChecker проверяет состояние зависимостей платформы
type platformHealthChecker struct {
	db    *database.Postgres
	redis *pkg_redis.Client
}

func newPlatformHealthChecker(db *database.Postgres, redis *pkg_redis.Client) *platformHealthChecker {
	return &platformHealthChecker{db: db, redis: redis}
}

// Check проверяет доступность базы данных и Redis
func (c *platformHealthChecker) Check() *health.HealthStatus {
	status := &health.HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   serviceVersion,
		Services:  make(map[string]health.Status),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := c.db.HealthCheck(ctx); err != nil {
		status.Status = "unhealthy"
		status.Services["postgres"] = health.Status{Status: "unhealthy", Details: err.Error()}
	} else {
		status.Services["postgres"] = health.Status{Status: "healthy"}
	}

	if err := c.redis.HealthCheck(ctx); err != nil {
		status.Status = "unhealthy"
		status.Services["redis"] = health.Status{Status: "unhealthy", Details: err.Error()}
	} else {
		status.Services["redis"] = health.Status{Status: "healthy"}
	}

	return status
}
