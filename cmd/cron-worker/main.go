package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/welfare-engine/internal/audit"
	"github.com/angelmondragon/welfare-engine/internal/cron"
	"github.com/angelmondragon/welfare-engine/internal/engine"
	"github.com/angelmondragon/welfare-engine/internal/inventory"
	"github.com/angelmondragon/welfare-engine/internal/keylock"
	"github.com/angelmondragon/welfare-engine/internal/ledgerstore"
	"github.com/angelmondragon/welfare-engine/internal/requests"
	"github.com/angelmondragon/welfare-engine/pkg/config"
	"github.com/angelmondragon/welfare-engine/pkg/db"
	"github.com/angelmondragon/welfare-engine/pkg/logger"
	"github.com/angelmondragon/welfare-engine/pkg/metrics"
	"github.com/angelmondragon/welfare-engine/pkg/migrate"
	"github.com/angelmondragon/welfare-engine/pkg/outbox"
	"github.com/angelmondragon/welfare-engine/pkg/redis"
)

func main() {
	once := flag.Bool("once", false, "run a single cycle and exit")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	engineMetrics := metrics.NewEngineMetrics(prometheus.DefaultRegisterer)
	cronMetrics := metrics.NewMaintenanceMetrics(prometheus.DefaultRegisterer)

	var (
		cycleLock  cron.Lock = &cron.LocalLock{}
		lockClient keylock.RedisClient
	)
	if cfg.Redis.Enabled() {
		redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap redis", err)
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
		redisLock, err := cron.NewRedisLock(redisClient, redisClient.CycleLockKey(cfg.App.Env), cfg.Cron.LockTTL)
		if err != nil {
			logg.Error(context.Background(), "failed to create cron lock", err)
			os.Exit(1)
		}
		cycleLock = redisLock
		lockClient = redisClient
	}

	locks, err := keylock.New(cfg.Engine, lockClient, engineMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to build entity locker", err)
		os.Exit(1)
	}
	recorder, err := audit.NewService(audit.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create audit recorder", err)
		os.Exit(1)
	}
	outboxRepo := outbox.NewRepository(dbClient.DB())
	deps := engine.Deps{
		TX:         dbClient,
		Store:      ledgerstore.New(dbClient.DB(), engineMetrics),
		Locks:      locks,
		Audit:      recorder,
		Outbox:     outbox.NewService(outboxRepo, logg),
		Logger:     logg,
		Metrics:    engineMetrics,
		MaxRetries: cfg.Engine.MaxRetries,
	}

	registry, err := buildRegistry(cfg, logg, deps, dbClient, outboxRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   registry,
		Lock:       cycleLock,
		Metrics:    cronMetrics,
		Interval:   cfg.Cron.Interval,
		JobTimeout: cfg.Cron.JobTimeout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})

	if *once {
		report, err := service.RunOnce(ctx)
		if err != nil {
			logg.Error(ctx, "maintenance cycle failed", err)
			os.Exit(1)
		}
		if failed := report.Failed(); failed > 0 {
			logg.Error(logg.WithField(ctx, "failed_jobs", failed), "maintenance cycle finished with failures", nil)
			os.Exit(1)
		}
		return
	}

	logg.Info(ctx, "starting cron worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, deps engine.Deps, dbClient *db.Client, outboxRepo *outbox.Repository) (*cron.Registry, error) {
	inv, err := inventory.NewService(deps)
	if err != nil {
		return nil, err
	}
	requestSvc, err := requests.NewService(deps, inv)
	if err != nil {
		return nil, err
	}

	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:         logg,
		DB:             dbClient,
		Events:         outboxRepo,
		DeadLetters:    outbox.NewDLQRepository(dbClient.DB()),
		EventDays:      cfg.Cron.OutboxRetentionDays,
		DeadLetterDays: cfg.Cron.DLQRetentionDays,
		RelayAttempts:  cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}
	expiry, err := cron.NewRequestExpiryJob(cron.RequestExpiryJobParams{
		Logger:     logg,
		Requests:   requestSvc,
		ExpiryDays: cfg.Cron.RequestExpiryDays,
	})
	if err != nil {
		return nil, err
	}

	registry := cron.NewRegistry()
	for _, job := range []cron.Job{retention, expiry} {
		if err := registry.Register(job); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
