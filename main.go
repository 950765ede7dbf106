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

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/daleelbalady/payment-engine/internal/di"
	"github.com/daleelbalady/payment-engine/internal/metrics"
	"github.com/daleelbalady/payment-engine/internal/service"
	"github.com/daleelbalady/payment-engine/pkg/config"
	"github.com/daleelbalady/payment-engine/pkg/database"
	"github.com/daleelbalady/payment-engine/pkg/kafka"
	"github.com/daleelbalady/payment-engine/pkg/logger"
	"github.com/daleelbalady/payment-engine/pkg/middleware"
	pkgredis "github.com/daleelbalady/payment-engine/pkg/redis"
	"github.com/daleelbalady/payment-engine/pkg/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	appLog, err := logger.New(cfg.App.Environment, cfg.App.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLog.Sync()

	appLog.Info("starting payment engine",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment))

	ctx := context.Background()

	// Initialize telemetry
	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.OTel.ServiceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
	}); err != nil {
		appLog.Warn("telemetry init failed", zap.Error(err))
	}
	if err := telemetry.InitMeter(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.OTel.ServiceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
	}); err != nil {
		appLog.Warn("metric exporter init failed", zap.Error(err))
	}
	if err := metrics.Init(); err != nil {
		appLog.Warn("metrics init failed", zap.Error(err))
	}

	// Initialize database connection
	var db *database.PostgresDB
	db, err = database.NewPostgres(ctx, &database.PostgresConfig{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		MaxConns:        int32(cfg.Database.MaxOpenConns),
		MinConns:        int32(cfg.Database.MaxIdleConns),
		MaxConnLifetime: cfg.Database.ConnMaxLifetime,
		MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnectTimeout:  5 * time.Second,
		MaxRetries:      3,
		RetryInterval:   time.Second,
		EnableTracing:   cfg.OTel.Enabled,
		ServiceName:     cfg.OTel.ServiceName,
	})
	if err != nil {
		appLog.Warn("database connection failed", zap.Error(err))
		db = nil
	} else {
		defer db.Close()
	}

	// Initialize Redis connection
	var redisClient *pkgredis.Client
	redisClient, err = pkgredis.NewClient(ctx, &pkgredis.Config{
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
		MaxRetries:   3,
	})
	if err != nil {
		appLog.Warn("redis connection failed", zap.Error(err))
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	// Initialize Kafka producer
	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		producer, err = kafka.NewProducer(ctx, &kafka.ProducerConfig{
			Brokers:    cfg.Kafka.Brokers,
			ClientID:   cfg.Kafka.ClientID,
			MaxRetries: 3,
		})
		if err != nil {
			appLog.Warn("kafka connection failed, notifications disabled", zap.Error(err))
			producer = nil
		} else {
			defer producer.Close()
		}
	}

	// Build dependency injection container
	container, err := di.NewContainer(&di.ContainerConfig{
		Config:        cfg,
		Log:           appLog,
		DB:            db,
		Redis:         redisClient,
		KafkaProducer: producer,
	})
	if err != nil {
		appLog.Fatal("failed to build container", zap.Error(err))
	}

	// Setup Gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(telemetry.TracingMiddleware(cfg.OTel.ServiceName))
	router.Use(requestDuration())

	// Health check endpoints
	router.GET("/health", container.HealthHandler.Health)
	router.GET("/ready", container.HealthHandler.Ready)

	v1 := router.Group("/api/v1")
	{
		// Provider callbacks authenticate by signature, not JWT
		webhooks := v1.Group("/webhooks")
		{
			webhooks.POST("/paymob", container.WebhookHandler.HandlePaymobWebhook)
			webhooks.POST("/stripe", container.WebhookHandler.HandleStripeWebhook)
		}

		auth := middleware.Auth(cfg.JWT.Secret)

		payments := v1.Group("/payments")
		payments.Use(auth)
		{
			if redisClient != nil {
				idempotency := middleware.IdempotencyMiddleware(
					middleware.DefaultIdempotencyConfig(redisClient))
				payments.POST("/intents", idempotency, container.PaymentHandler.CreateIntent)
				payments.POST("/:paymentRef/refund", idempotency, container.PaymentHandler.Refund)
			} else {
				payments.POST("/intents", container.PaymentHandler.CreateIntent)
				payments.POST("/:paymentRef/refund", container.PaymentHandler.Refund)
			}
			payments.GET("", container.PaymentHandler.History)
			payments.GET("/:paymentRef", container.PaymentHandler.VerifyStatus)
		}

		reports := v1.Group("/reports")
		reports.Use(auth, middleware.RequireRoles(string(service.RoleAdmin), string(service.RoleFinancialAdmin)))
		{
			reports.GET("/payments", container.PaymentHandler.Report)
		}
	}

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: 2 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}

	// Start server in goroutine
	go func() {
		appLog.Info("payment engine listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Fatal("failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLog.Info("shutting down server")

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Fatal("server forced to shutdown", zap.Error(err))
	}
	if err := telemetry.ShutdownMeter(shutdownCtx); err != nil {
		appLog.Warn("metric exporter shutdown failed", zap.Error(err))
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		appLog.Warn("telemetry shutdown failed", zap.Error(err))
	}

	appLog.Info("server exited gracefully")
}

// requestDuration records per-route latency.
func requestDuration() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		operation := c.FullPath()
		if operation == "" {
			operation = "unmatched"
		}
		metrics.RecordRequestDuration(c.Request.Context(), c.Request.Method+" "+operation, time.Since(start).Seconds())
	}
}
