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

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"quote-funnel-service/internal/clients/ghl"
	"quote-funnel-service/internal/config"
	"quote-funnel-service/internal/dispatch"
	"quote-funnel-service/internal/events"
	"quote-funnel-service/internal/handlers"
	"quote-funnel-service/internal/health"
	"quote-funnel-service/internal/observability"
	"quote-funnel-service/internal/providers"
	"quote-funnel-service/internal/redis"
	"quote-funnel-service/internal/repository"
	"quote-funnel-service/internal/scheduler"
	"quote-funnel-service/internal/services"
	"quote-funnel-service/internal/storage"
	"quote-funnel-service/internal/templates"
	"quote-funnel-service/pkg/crypto"
	"quote-funnel-service/pkg/otp"
)

const version = "1.0.0"

func main() {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := initLogger(cfg)

	db, err := initDatabase(cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database")
	}
	if err := repository.AutoMigrate(db); err != nil {
		logger.WithError(err).Fatal("Failed to migrate database")
	}
	logger.Info("Database migration completed successfully")

	// Session store, partner cache and local OTP codes share one store
	var store redis.Store
	var memoryStore *redis.MemoryStore
	if cfg.RedisAddr() != "" {
		client, err := redis.NewClient(cfg)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer client.Close()
		store = client
		logger.WithField("addr", cfg.RedisAddr()).Info("Connected to Redis")
	} else {
		memoryStore = redis.NewMemoryStore()
		store = memoryStore
		logger.Warn("REDIS_HOST not set, using in-memory store (single instance only)")
	}

	ctx := context.Background()
	shutdownTracing, err := observability.SetupTracing(ctx, cfg.Tracing, version)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize tracing")
	}

	awsCfg, err := providers.LoadAWSConfig(ctx, cfg.AWS)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load AWS configuration")
	}

	encryptor, err := crypto.NewEncryptor(cfg.Security.EncryptionKey)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize encryptor")
	}

	renderer, err := templates.NewRenderer()
	if err != nil {
		logger.WithError(err).Fatal("Failed to parse email templates")
	}

	verifier, err := initVerificationProvider(cfg, store, awsCfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize OTP provider")
	}

	// Events are optional; the publisher drops them without a connection
	var eventsClient *events.Client
	var js events.JetStreamPublisher
	if cfg.NATS.URL != "" {
		eventsClient, err = events.NewClient(cfg.NATS, logger)
		if err != nil {
			logger.WithError(err).Warn("Failed to connect to NATS, events won't be published")
		} else {
			js = eventsClient.JetStream()
		}
	}
	publisher := events.NewPublisher(js, logger)

	var roofImages *storage.RoofImageStore
	if cfg.Storage.RoofImageBucket != "" {
		roofImages = storage.NewRoofImageStore(storage.NewS3Client(awsCfg, cfg.Storage.Endpoint), cfg.Storage.RoofImageBucket, logger)
	}

	dispatcher := dispatch.New(dispatch.Config{
		TaskTimeout:   cfg.Dispatch.TaskTimeout,
		MaxConcurrent: cfg.Dispatch.MaxConcurrent,
	}, logger)

	// Repositories
	partnerRepo := repository.NewPartnerRepository(db)
	questionRepo := repository.NewQuestionRepository(db)
	leadRepo := repository.NewLeadRepository(db)
	telemetryRepo := repository.NewTelemetryRepository(db)
	mappingRepo := repository.NewFieldMappingRepository(db)

	// Services
	resolver := services.NewPartnerResolver(partnerRepo, store, cfg.Funnel.BaseDomain, cfg.Funnel.PartnerCacheTTL, logger)
	telemetryService := services.NewTelemetryService(telemetryRepo, dispatcher, logger)
	emailService := services.NewEmailService(renderer, initFallbackEmail(cfg, awsCfg, logger), encryptor, logger)
	crmService := services.NewCRMService(ghl.NewClient(ghl.Config{
		BaseURL:    cfg.CRM.GHLBaseURL,
		APIVersion: cfg.CRM.GHLAPIVersion,
		Timeout:    cfg.CRM.Timeout,
	}, logger), mappingRepo, encryptor, logger)

	funnelService := services.NewFunnelService(services.FunnelDeps{
		Questions:  questionRepo,
		Leads:      leadRepo,
		Sessions:   services.NewSessionStore(store, cfg.Funnel.SessionTTL),
		Telemetry:  telemetryService,
		Email:      emailService,
		CRM:        crmService,
		RoofImages: roofImages,
		Events:     publisher,
		Dispatcher: dispatcher,
	}, cfg.Funnel.ProductListingPath, logger)
	otpService := services.NewOTPService(funnelService, verifier, otp.NewGenerator(cfg.OTP.Length), store, cfg.OTP.ResendCooldown, logger)

	// Scheduler
	var purger scheduler.Purger
	if memoryStore != nil {
		purger = memoryStore
	}
	cleanup := scheduler.NewCleanupScheduler(telemetryRepo, telemetryService, purger, cfg.Scheduler, logger)
	if err := cleanup.Start(); err != nil {
		logger.WithError(err).Fatal("Failed to start cleanup scheduler")
	}

	healthChecker := health.NewHealthChecker(db, store, version)

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := (&handlers.Router{
		Config:   cfg,
		Logger:   logger,
		Health:   healthChecker,
		Partners: resolver,
		Funnel:   handlers.NewFunnelHandler(funnelService),
		OTP:      handlers.NewOTPHandler(otpService),
		Partner:  handlers.NewPartnerHandler(partnerRepo, emailService),
	}).Engine()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"port":         cfg.Server.Port,
			"otp_provider": verifier.GetName(),
			"base_domain":  cfg.Funnel.BaseDomain,
		}).Info("Starting quote-funnel-service")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()
	healthChecker.SetReady(true)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")
	healthChecker.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	cleanup.Stop()

	// Notification emails and beacons queued by the last requests still go out
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Background tasks did not finish before shutdown")
	}
	eventsClient.Close()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Failed to flush traces")
	}

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	logger.Info("Server exited")
}

func initLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	if cfg.Server.Mode == "release" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func initDatabase(cfg *config.Config) (*gorm.DB, error) {
	gormCfg := &gorm.Config{}
	if cfg.Server.Mode == "release" {
		gormCfg.Logger = gormlogger.Default.LogMode(gormlogger.Warn)
	}

	db, err := gorm.Open(postgres.Open(cfg.GetDSN()), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// initFallbackEmail builds the platform providers used when a partner's
// SMTP is missing or failing. SendGrid is primary when configured.
func initFallbackEmail(cfg *config.Config, awsCfg aws.Config, logger *logrus.Logger) *providers.FailoverEmailProvider {
	var list []providers.EmailProvider
	if cfg.Email.SendGridAPIKey != "" && cfg.Email.SendGridFrom != "" {
		list = append(list, providers.NewSendGridProvider(cfg.Email.SendGridAPIKey, cfg.Email.SendGridFrom, cfg.Email.FromName))
	}
	if cfg.Email.SESFrom != "" {
		list = append(list, providers.NewSESProvider(awsCfg, cfg.Email.SESFrom, cfg.Email.SESFromName))
	}
	if len(list) == 0 {
		logger.Warn("No platform email provider configured, partners without SMTP get no notifications")
	}
	return providers.NewFailoverEmailProvider(list, providers.FailoverConfig{
		EnableFailover: cfg.Email.EnableFailover,
	}, logger)
}

func initVerificationProvider(cfg *config.Config, store redis.Store, awsCfg aws.Config) (providers.VerificationProvider, error) {
	switch cfg.OTP.Provider {
	case "local":
		sms := providers.NewSNSProvider(awsCfg, cfg.OTP.SNSSenderID)
		return providers.NewLocalVerificationProvider(store, sms, cfg.OTP.Length, cfg.OTP.CodeExpiry, cfg.OTP.MaxAttempts), nil
	default:
		return providers.NewTwilioVerifyProvider(cfg.OTP)
	}
}
