package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/invite-engine/internal/config"
	"github.com/kursadbilgin/invite-engine/internal/handler"
	"github.com/kursadbilgin/invite-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/invite-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/invite-engine/internal/infra/redis"
	"github.com/kursadbilgin/invite-engine/internal/observability"
	"github.com/kursadbilgin/invite-engine/internal/provider"
	"github.com/kursadbilgin/invite-engine/internal/queue"
	"github.com/kursadbilgin/invite-engine/internal/repository"
	"github.com/kursadbilgin/invite-engine/internal/service"
	"github.com/kursadbilgin/invite-engine/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("invite-engine terminated", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}

	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	rateLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		return fmt.Errorf("rate limiter initialization failed: %w", err)
	}

	mq, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	defer mq.Close()

	publisher := queue.NewRabbitMQPublisher(mq)
	consumer := queue.NewRabbitMQConsumer(mq, cfg.WorkerConcurrency, logger)

	pushProvider, err := provider.NewHTTPPushProvider(cfg.PushGatewayURL)
	if err != nil {
		return fmt.Errorf("push provider initialization failed: %w", err)
	}
	smsProvider, err := provider.NewTwilioSMSProvider(cfg.SmsGatewayURL)
	if err != nil {
		return fmt.Errorf("sms provider initialization failed: %w", err)
	}
	portalProvider, err := provider.NewHTTPPortalProvider(cfg.PortalBaseURL)
	if err != nil {
		return fmt.Errorf("portal provider initialization failed: %w", err)
	}

	deliveryRepo := repository.NewGormDeliveryRepo(db)
	campaignRepo := repository.NewGormCampaignRepo(db)
	creditRepo := repository.NewGormCreditRepo(db)
	eventRepo := repository.NewGormEventRepo(db)

	metrics := observability.NewMetrics()

	ledger, err := service.NewLedgerService(creditRepo, logger)
	if err != nil {
		return fmt.Errorf("ledger service initialization failed: %w", err)
	}
	ledger.SetMetrics(metrics)

	invitations, err := service.NewInvitationService(deliveryRepo, campaignRepo, eventRepo, publisher, cfg.BatchSize, logger)
	if err != nil {
		return fmt.Errorf("invitation service initialization failed: %w", err)
	}

	receipts, err := service.NewReceiptService(deliveryRepo, eventRepo, ledger, logger)
	if err != nil {
		return fmt.Errorf("receipt service initialization failed: %w", err)
	}

	sweeper, err := service.NewFallbackSweeper(
		deliveryRepo,
		publisher,
		time.Duration(cfg.SweepIntervalSecs)*time.Second,
		cfg.MaxDeliveryAttempts,
		logger,
	)
	if err != nil {
		return fmt.Errorf("fallback sweeper initialization failed: %w", err)
	}
	sweeper.SetMetrics(metrics)

	workers, err := service.NewWorkerService(
		deliveryRepo,
		ledger,
		eventRepo,
		consumer,
		pushProvider,
		smsProvider,
		portalProvider,
		sweeper,
		rateLimiter,
		service.WorkerConfig{
			Concurrency:           cfg.WorkerConcurrency,
			FallbackWindowSeconds: cfg.FallbackWindowSecs,
			MaxDeliveryAttempts:   cfg.MaxDeliveryAttempts,
		},
		logger,
	)
	if err != nil {
		return fmt.Errorf("worker service initialization failed: %w", err)
	}
	workers.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	api := app.Group("/api")
	if err := handler.RegisterInvitationRoutes(api, invitations, receipts, ledger); err != nil {
		return fmt.Errorf("route registration failed: %w", err)
	}

	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return workers.Start(groupCtx)
	})

	g.Go(func() error {
		err := sweeper.Run(groupCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		logger.Info("invite-engine api started", zap.Int("port", cfg.APIPort))
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})

	g.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("invite-engine stopped")
	return nil
}
