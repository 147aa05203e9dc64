package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/davidleathers/anomaly-detection-backend/internal/api/rest"
	"github.com/davidleathers/anomaly-detection-backend/internal/infrastructure/config"
	"github.com/davidleathers/anomaly-detection-backend/internal/infrastructure/database"
	"github.com/davidleathers/anomaly-detection-backend/internal/infrastructure/repository"
	"github.com/davidleathers/anomaly-detection-backend/internal/infrastructure/telemetry"
	"github.com/davidleathers/anomaly-detection-backend/internal/metrics"
	"github.com/davidleathers/anomaly-detection-backend/internal/service/alerting"
	detectionsvc "github.com/davidleathers/anomaly-detection-backend/internal/service/detection"
)

const serviceName = "anomaly-detection-backend"

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, err := telemetry.SetupLogger(cfg.LogLevel)
	if err != nil {
		slog.Error("failed to setup logger", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("application failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting anomaly detection backend",
		"version", cfg.Version,
		"environment", cfg.Environment,
		"port", cfg.Server.Port)

	provider, err := telemetry.InitializeOpenTelemetry(ctx, &telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	registry, err := metrics.NewRegistry(serviceName)
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}

	// Storage: Postgres when a URL is configured, in-memory otherwise.
	var (
		repo     detectionsvc.Repository
		feedback detectionsvc.FeedbackRepository
		recorder alerting.Recorder
		checks   = make(map[string]rest.HealthCheck)
	)
	if cfg.Database.URL != "" {
		zapLogger, err := newZapLogger(cfg)
		if err != nil {
			return fmt.Errorf("initializing database logger: %w", err)
		}
		pool, err := database.NewPool(ctx, &cfg.Database, zapLogger)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer pool.Close()

		store := repository.NewPostgresStore(pool)
		repo, feedback, recorder = store, store, store
		checks["database"] = pool.HealthCheck
	} else {
		logger.Warn("no database configured, using in-memory store")
		store := repository.NewMemoryStore()
		repo, feedback, recorder = store, store, store
	}

	// Alert dedupe: Redis when available, in-process otherwise.
	var guard alerting.Guard
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		guard = alerting.NewRedisGuard(client, cfg.Alerting.Dispatch.DedupeTTL)
		checks["redis"] = func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}
	} else {
		guard = alerting.NewMemoryGuard()
	}

	notifiers := []alerting.Notifier{alerting.NewLogNotifier(logger)}
	if cfg.Alerting.WebhookURL != "" {
		notifiers = append(notifiers,
			alerting.NewWebhookNotifier(cfg.Alerting.WebhookURL, cfg.Alerting.WebhookTimeout))
	}
	if cfg.Alerting.Email.Host != "" {
		notifiers = append(notifiers, alerting.NewEmailNotifier(cfg.Alerting.Email))
	}
	alertManager := alerting.NewManager(cfg.Alerting.Dispatch, guard, recorder, registry, logger, notifiers...)
	defer alertManager.Close()

	svc, err := detectionsvc.NewService(
		cfg.Detection, cfg.Scoring,
		repo, feedback, alertManager, nil, registry, logger,
	)
	if err != nil {
		return fmt.Errorf("initializing detection service: %w", err)
	}

	server := rest.NewServer(cfg, svc, registry, checks, logger)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

func newZapLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsDevelopment() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
