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

	"github.com/vaidashi/courier-lifecycle/internal/api"
	"github.com/vaidashi/courier-lifecycle/internal/auth"
	"github.com/vaidashi/courier-lifecycle/internal/booking"
	"github.com/vaidashi/courier-lifecycle/internal/clients"
	"github.com/vaidashi/courier-lifecycle/internal/config"
	"github.com/vaidashi/courier-lifecycle/internal/database"
	"github.com/vaidashi/courier-lifecycle/internal/handlers"
	"github.com/vaidashi/courier-lifecycle/internal/ledger"
	"github.com/vaidashi/courier-lifecycle/internal/lifecycle"
	"github.com/vaidashi/courier-lifecycle/internal/models"
	"github.com/vaidashi/courier-lifecycle/internal/outbox"
	"github.com/vaidashi/courier-lifecycle/internal/repository"
	"github.com/vaidashi/courier-lifecycle/internal/repository/memory"
	"github.com/vaidashi/courier-lifecycle/internal/worker"
	"github.com/vaidashi/courier-lifecycle/pkg/kafka"
	"github.com/vaidashi/courier-lifecycle/pkg/logger"
	ratemw "github.com/vaidashi/courier-lifecycle/pkg/middleware"
	"github.com/vaidashi/courier-lifecycle/pkg/ratelimit"
)

func main() {
	cfg, err := config.Load()

	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	l := logger.NewLogger(cfg.LogLevel).With("service", "courier-lifecycle", "env", cfg.Env)

	if err := run(cfg, l); err != nil {
		l.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, l logger.Logger) error {
	ctx := context.Background()

	if cfg.Auth.JWTSecret == "" {
		l.Warn("JWT_SECRET is not set; every authenticated request will be rejected")
	}

	store, closeStore, err := openStore(ctx, cfg, l)

	if err != nil {
		return err
	}
	defer closeStore()

	// Collaborators
	var payments ledger.PaymentVerifier
	if cfg.Payment.BaseURL != "" {
		payments = clients.NewPaymentClient(cfg.Payment.BaseURL, cfg.Payment.APIKey, cfg.Payment.Timeout, l)
	} else {
		l.Warn("PAYMENT_BASE_URL is not set; wallet recharges are disabled")
	}

	var notifier clients.Notifier = clients.NewLogNotifier(l)
	if cfg.Notification.QueueURL != "" {
		sqsNotifier, err := clients.NewSQSNotifierFromRegion(ctx, cfg.Notification.AWSRegion, cfg.Notification.QueueURL, l)

		if err != nil {
			return fmt.Errorf("failed to configure notification queue: %w", err)
		}
		notifier = sqsNotifier
	}

	var storage clients.Storage = clients.NewLocalStorage(cfg.Storage.BaseDir, cfg.Storage.PublicBaseURL)
	if cfg.Storage.Driver == "s3" {
		s3Storage, err := clients.NewS3StorageFromRegion(ctx, cfg.Notification.AWSRegion, cfg.Storage.PublicBaseURL, l)

		if err != nil {
			return fmt.Errorf("failed to configure document storage: %w", err)
		}
		storage = s3Storage
	}
	compliance := clients.NewStaticCompliance(nil)

	// Services
	funds := ledger.NewService(store, payments, ledger.Config{
		MinRecharge: cfg.Wallet.MinRecharge,
		MinBalance:  cfg.Wallet.MinBalance,
		TaxRate:     cfg.Wallet.TaxRate,
	}, l.With("component", "ledger"))

	machine := lifecycle.NewMachine(store, funds, l.With("component", "lifecycle"))
	bookings := booking.NewService(store, machine, compliance, storage, cfg.Storage.Bucket, l.With("component", "booking"))

	guard := auth.NewGuard(
		auth.NewTokenVerifier(cfg.Auth.JWTSecret),
		store,
		auth.NewStoreAuditRecorder(store, l),
		cfg.Auth.CronSecret,
		l.With("component", "auth"),
	)

	// Workers
	deps := api.Dependencies{
		Store:    store,
		Guard:    guard,
		Bookings: bookings,
		Ledger:   funds,
	}

	scheduler := worker.NewScheduler(l.With("component", "scheduler"))

	if cfg.Carrier.BaseURL != "" {
		carrier := clients.NewCarrierClient(cfg.Carrier.BaseURL, cfg.Carrier.APIKey, cfg.Carrier.Timeout, l.With("component", "carrier"))
		syncJob := worker.NewSyncWorker(store, machine, carrier, cfg.Workers.BatchSize, l.With("component", "domestic-sync"))
		deps.Sync = worker.NewRunner("domestic-sync", syncJob, l)
		deps.CarrierState = func() string { return carrier.BreakerState().String() }
		scheduler.Every(cfg.Workers.SyncInterval, deps.Sync)
	} else {
		l.Warn("CARRIER_BASE_URL is not set; domestic sync is disabled")
	}

	if !cfg.IsProduction() {
		simJob := worker.NewSimulationWorker(store, machine, worker.SimulationConfig{
			StepInterval: cfg.Workers.SimulationStep,
			BatchSize:    cfg.Workers.BatchSize,
		}, l.With("component", "simulation"))
		deps.Simulation = worker.NewRunner("simulation", simJob, l)
		scheduler.Every(cfg.Workers.SimulationInterval, deps.Simulation)
	}

	// Event delivery
	processor := outbox.NewProcessor(store, outbox.ProcessorConfig{
		PollingInterval: cfg.Outbox.PollingInterval,
		BatchSize:       cfg.Outbox.BatchSize,
		MaxRetries:      cfg.Outbox.MaxRetries,
		ProcessingLease: cfg.Outbox.ProcessingLease,
	}, l.With("component", "outbox"))

	var producer *kafka.Producer
	var consumer *kafka.Consumer

	if cfg.Kafka.Enabled {
		producer, err = kafka.NewProducer(cfg.Kafka.Brokers, l)

		if err != nil {
			return err
		}
		defer producer.Close()

		processor.RegisterHandler(models.EventShipmentStatusChanged,
			outbox.NewKafkaHandler(producer, cfg.Kafka.ShipmentEventsTopic, l))

		consumer, err = kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers:       cfg.Kafka.Brokers,
			Topics:        []string{cfg.Kafka.ShipmentEventsTopic},
			ConsumerGroup: cfg.Kafka.ConsumerGroup,
		}, l)

		if err != nil {
			return err
		}

		consumer.RegisterHandler(cfg.Kafka.ShipmentEventsTopic, handlers.NewShipmentEventsHandler(notifier, l))

		if err := consumer.Start(); err != nil {
			l.Error("Failed to start Kafka consumer", "error", err)
		}
	} else {
		processor.RegisterHandler(models.EventShipmentStatusChanged, outbox.NewNotificationHandler(notifier, l))
	}

	processor.Start()
	scheduler.Start()

	tight := ratelimit.Limit{Burst: cfg.RateLimit.BookingBurst, PerSecond: cfg.RateLimit.BookingPerSec}
	server := api.NewServer(api.Options{
		Port:       cfg.Port,
		Production: cfg.IsProduction(),
		RateLimit: ratemw.RateLimiterConfig{
			Default: ratelimit.Limit{Burst: cfg.RateLimit.Burst, PerSecond: cfg.RateLimit.PerSecond},
			Overrides: map[string]ratelimit.Limit{
				"POST /api/v1/bookings":        tight,
				"POST /api/v1/wallet/recharge": tight,
			},
			IdleTTL: cfg.RateLimit.IdleTTL,
		},
	}, deps, l)

	errCh := make(chan error, 1)

	go func() {
		l.Info(fmt.Sprintf("Server is starting on port %d", cfg.Port))

		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Graceful shutdown via interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case <-quit:
		l.Info("Shutting down server...")
	case serveErr = <-errCh:
		l.Error("Failed to start server", "error", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		l.Error("Server forced to shutdown", "error", err)
	}

	scheduler.Stop()

	if consumer != nil {
		if err := consumer.Stop(); err != nil {
			l.Error("Error stopping Kafka consumer", "error", err)
		}
	}

	processor.Stop()

	l.Info("Server exiting")
	return serveErr
}

// openStore selects the persistence backend
func openStore(ctx context.Context, cfg *config.Config, l logger.Logger) (repository.Store, func(), error) {
	if cfg.StoreDriver == "memory" {
		if cfg.IsProduction() {
			return nil, nil, fmt.Errorf("the memory store cannot be used in production")
		}
		l.Warn("Using the in-memory store; data is lost on restart")
		return memory.NewStore(), func() {}, nil
	}

	db, err := database.New(cfg, l)

	if err != nil {
		return nil, nil, err
	}

	if err := db.RunMigrations(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}

	closeDB := func() {
		if err := db.Close(); err != nil {
			l.Error("Error closing database connection", "error", err)
		}
	}

	return repository.NewPostgresStore(db, l), closeDB, nil
}
