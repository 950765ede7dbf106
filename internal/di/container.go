package di

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/daleelbalady/payment-engine/internal/handler"
	"github.com/daleelbalady/payment-engine/internal/notify"
	"github.com/daleelbalady/payment-engine/internal/provider"
	"github.com/daleelbalady/payment-engine/internal/repository"
	"github.com/daleelbalady/payment-engine/internal/security"
	"github.com/daleelbalady/payment-engine/internal/service"
	"github.com/daleelbalady/payment-engine/pkg/config"
	"github.com/daleelbalady/payment-engine/pkg/database"
	"github.com/daleelbalady/payment-engine/pkg/kafka"
	"github.com/daleelbalady/payment-engine/pkg/logger"
	pkgredis "github.com/daleelbalady/payment-engine/pkg/redis"
)

// Container holds all dependencies for the payment engine
type Container struct {
	// Infrastructure
	DB    *database.PostgresDB
	Redis *pkgredis.Client

	// Repositories
	PaymentRepo repository.PaymentRepository
	RefundRepo  repository.RefundRepository
	LedgerRepo  repository.LedgerRepository

	// Providers
	Registry *provider.Registry

	// Services
	PaymentService service.PaymentService

	// Handlers
	HealthHandler  *handler.HealthHandler
	PaymentHandler *handler.PaymentHandler
	WebhookHandler *handler.WebhookHandler
}

// ContainerConfig contains dependencies for building the container.
// DB, Redis and KafkaProducer may be nil; the container degrades to
// in-memory equivalents so local development needs no infrastructure.
type ContainerConfig struct {
	Config        *config.Config
	Log           *logger.Logger
	DB            *database.PostgresDB
	Redis         *pkgredis.Client
	KafkaProducer *kafka.Producer
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *ContainerConfig) (*Container, error) {
	if cfg == nil || cfg.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	log := cfg.Log
	if log == nil {
		log = logger.NewNop()
	}

	c := &Container{
		DB:    cfg.DB,
		Redis: cfg.Redis,
	}

	// Repositories
	if cfg.DB != nil {
		c.PaymentRepo = repository.NewPostgresPaymentRepository(cfg.DB)
		c.RefundRepo = repository.NewPostgresRefundRepository(cfg.DB)
		c.LedgerRepo = repository.NewPostgresLedgerRepository(cfg.DB)
	} else {
		c.PaymentRepo = repository.NewMemoryPaymentRepository()
		c.RefundRepo = repository.NewMemoryRefundRepository()
		c.LedgerRepo = repository.NewMemoryLedgerRepository()
		log.Warn("using in-memory repositories, data will not persist")
	}

	// Provider adapters
	registry, err := buildRegistry(cfg.Config, log)
	if err != nil {
		return nil, err
	}
	c.Registry = registry

	// Security
	minter, encryptor, err := buildSecrets(cfg.Config, log)
	if err != nil {
		return nil, err
	}

	var counter security.AttemptCounter
	if cfg.Redis != nil {
		counter = security.NewRedisCounter(cfg.Redis)
	} else {
		counter = security.NewMemoryCounter()
	}
	limiter := security.NewRateLimiter(counter, cfg.Config.Security.RateLimit, cfg.Config.Security.RateLimitWindow)
	anomalies := security.NewAnomalyDetector()

	// Notifications
	var notifier notify.Notifier = notify.NoopNotifier{}
	if cfg.KafkaProducer != nil {
		notifier = notify.NewKafkaNotifier(cfg.KafkaProducer, log)
	}

	c.PaymentService = service.NewPaymentService(
		c.PaymentRepo,
		c.RefundRepo,
		c.LedgerRepo,
		c.Registry,
		minter,
		encryptor,
		limiter,
		anomalies,
		notifier,
		log,
		nil,
	)

	// Handlers
	c.HealthHandler = handler.NewHealthHandler(cfg.DB, cfg.Redis)
	c.PaymentHandler = handler.NewPaymentHandler(c.PaymentService)
	c.WebhookHandler = handler.NewWebhookHandler(
		c.PaymentService,
		cfg.Config.Providers.Paymob.HMACSecret,
		cfg.Config.Providers.Stripe.WebhookSecret,
		log,
	)

	return c, nil
}

// buildRegistry registers an adapter for every provider with credentials
// configured. At least one adapter must come out of it.
func buildRegistry(cfg *config.Config, log *logger.Logger) (*provider.Registry, error) {
	registry := provider.NewRegistry()
	httpClient := &http.Client{Timeout: 15 * time.Second}

	if cfg.Providers.Paymob.APIKey != "" {
		adapter, err := provider.NewPaymobAdapter(&provider.PaymobConfig{
			APIKey:        cfg.Providers.Paymob.APIKey,
			IntegrationID: cfg.Providers.Paymob.IntegrationID,
			IframeID:      cfg.Providers.Paymob.IframeID,
		}, httpClient)
		if err != nil {
			return nil, fmt.Errorf("failed to build paymob adapter: %w", err)
		}
		registry.Register(adapter)
	}

	if cfg.Providers.Fawry.MerchantCode != "" {
		adapter, err := provider.NewFawryAdapter(&provider.FawryConfig{
			MerchantCode: cfg.Providers.Fawry.MerchantCode,
			SecureKey:    cfg.Providers.Fawry.SecureKey,
		}, httpClient)
		if err != nil {
			return nil, fmt.Errorf("failed to build fawry adapter: %w", err)
		}
		registry.Register(adapter)
	}

	if cfg.Providers.Stripe.SecretKey != "" {
		adapter, err := provider.NewStripeAdapter(&provider.StripeConfig{
			SecretKey:     cfg.Providers.Stripe.SecretKey,
			WebhookSecret: cfg.Providers.Stripe.WebhookSecret,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build stripe adapter: %w", err)
		}
		registry.Register(adapter)
	}

	if cfg.Providers.PayPal.ClientID != "" {
		adapter, err := provider.NewPayPalAdapter(&provider.PayPalConfig{
			BaseURL:      cfg.Providers.PayPal.BaseURL,
			ClientID:     cfg.Providers.PayPal.ClientID,
			ClientSecret: cfg.Providers.PayPal.ClientSecret,
			ReturnURL:    cfg.Providers.PayPal.ReturnURL,
			CancelURL:    cfg.Providers.PayPal.CancelURL,
		}, httpClient)
		if err != nil {
			return nil, fmt.Errorf("failed to build paypal adapter: %w", err)
		}
		registry.Register(adapter)
	}

	if cfg.Providers.Mock.Enabled {
		registry.Register(provider.NewMockAdapter(&provider.MockConfig{
			SuccessRate:    cfg.Providers.Mock.SuccessRate,
			DelayMs:        cfg.Providers.Mock.DelayMs,
			SupportsRefund: true,
		}))
		log.Warn("mock payment provider enabled")
	}

	if len(registry.Providers()) == 0 {
		return nil, fmt.Errorf("no payment providers configured")
	}
	return registry, nil
}

// buildSecrets derives the ref minter and payload encryptor from config.
// Missing keys get random replacements so development works out of the
// box; config validation rejects that in production.
func buildSecrets(cfg *config.Config, log *logger.Logger) (*security.RefMinter, *security.Encryptor, error) {
	refSecret := []byte(cfg.Security.RefSecret)
	if len(refSecret) == 0 {
		refSecret = make([]byte, 32)
		if _, err := rand.Read(refSecret); err != nil {
			return nil, nil, fmt.Errorf("failed to generate ref secret: %w", err)
		}
		log.Warn("SECURITY_REF_SECRET not set, refs will not survive restarts")
	}

	var key []byte
	if cfg.Security.EncryptionKey != "" {
		decoded, err := hex.DecodeString(cfg.Security.EncryptionKey)
		if err != nil {
			return nil, nil, fmt.Errorf("SECURITY_ENCRYPTION_KEY must be hex encoded: %w", err)
		}
		key = decoded
	} else {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, nil, fmt.Errorf("failed to generate encryption key: %w", err)
		}
		log.Warn("SECURITY_ENCRYPTION_KEY not set, payloads will not survive restarts")
	}

	encryptor, err := security.NewEncryptor(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build encryptor: %w", err)
	}
	return security.NewRefMinter(refSecret), encryptor, nil
}
