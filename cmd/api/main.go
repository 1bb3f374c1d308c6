package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/welfare-engine/api/routes"
	"github.com/angelmondragon/welfare-engine/internal/audit"
	"github.com/angelmondragon/welfare-engine/internal/checkout"
	"github.com/angelmondragon/welfare-engine/internal/engine"
	"github.com/angelmondragon/welfare-engine/internal/inventory"
	"github.com/angelmondragon/welfare-engine/internal/keylock"
	"github.com/angelmondragon/welfare-engine/internal/ledgerstore"
	"github.com/angelmondragon/welfare-engine/internal/requests"
	"github.com/angelmondragon/welfare-engine/internal/tasks"
	"github.com/angelmondragon/welfare-engine/internal/wallet"
	"github.com/angelmondragon/welfare-engine/pkg/config"
	"github.com/angelmondragon/welfare-engine/pkg/db"
	"github.com/angelmondragon/welfare-engine/pkg/logger"
	"github.com/angelmondragon/welfare-engine/pkg/metrics"
	"github.com/angelmondragon/welfare-engine/pkg/migrate"
	"github.com/angelmondragon/welfare-engine/pkg/outbox"
	"github.com/angelmondragon/welfare-engine/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	var (
		redisPinger redis.Pinger
		lockClient  keylock.RedisClient
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
		redisPinger = redisClient
		lockClient = redisClient
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	engineMetrics := metrics.NewEngineMetrics(registry)

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

	deps := engine.Deps{
		TX:         dbClient,
		Store:      ledgerstore.New(dbClient.DB(), engineMetrics),
		Locks:      locks,
		Audit:      recorder,
		Outbox:     outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		Logger:     logg,
		Metrics:    engineMetrics,
		MaxRetries: cfg.Engine.MaxRetries,
	}

	services, err := buildServices(deps, dbClient)
	if err != nil {
		logg.Error(context.Background(), "failed to wire services", err)
		os.Exit(1)
	}

	services.HTTPMetrics = metrics.NewHTTPMetrics(registry)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":          cfg.App.Env,
		"addr":         addr,
		"lock_backend": cfg.Engine.LockBackend,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, dbClient, redisPinger, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), services),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case sig := <-stop:
		logg.Info(logg.WithField(ctx, "signal", sig.String()), "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
		}
	}
}

func buildServices(deps engine.Deps, dbClient *db.Client) (routes.Services, error) {
	inv, err := inventory.NewService(deps)
	if err != nil {
		return routes.Services{}, err
	}
	wal, err := wallet.NewService(deps)
	if err != nil {
		return routes.Services{}, err
	}
	co, err := checkout.NewService(deps, checkout.NewRepository(dbClient.DB()), inv, wal)
	if err != nil {
		return routes.Services{}, err
	}
	ts, err := tasks.NewService(deps, wal)
	if err != nil {
		return routes.Services{}, err
	}
	rs, err := requests.NewService(deps, inv)
	if err != nil {
		return routes.Services{}, err
	}
	return routes.Services{
		Wallet:    wal,
		Inventory: inv,
		Checkout:  co,
		Tasks:     ts,
		Requests:  rs,
		Audit:     deps.Audit,
	}, nil
}
