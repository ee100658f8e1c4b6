package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/bidroom-backend/api/routes"
	"github.com/angelmondragon/bidroom-backend/internal/bids"
	"github.com/angelmondragon/bidroom-backend/internal/budget"
	"github.com/angelmondragon/bidroom-backend/internal/negotiation"
	"github.com/angelmondragon/bidroom-backend/internal/projects"
	"github.com/angelmondragon/bidroom-backend/pkg/config"
	"github.com/angelmondragon/bidroom-backend/pkg/db"
	"github.com/angelmondragon/bidroom-backend/pkg/keymutex"
	"github.com/angelmondragon/bidroom-backend/pkg/logger"
	"github.com/angelmondragon/bidroom-backend/pkg/metrics"
	"github.com/angelmondragon/bidroom-backend/pkg/migrate"
	"github.com/angelmondragon/bidroom-backend/pkg/outbox"
	"github.com/angelmondragon/bidroom-backend/pkg/redis"
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
		Format:      logger.ParseFormat(cfg.App.LogFormat),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, cfg.FeatureFlags.UseSQLite, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	negotiationMetrics := metrics.NewNegotiationMetrics(registry)

	emitter := outbox.NewService(outbox.NewRepository(), logg)
	projectRepo := projects.NewRepository(dbClient.DB())

	bidService, err := bids.NewService(bids.ServiceParams{
		Repo:     bids.NewRepository(dbClient.DB()),
		Projects: projectRepo,
		Tx:       dbClient,
		Outbox:   emitter,
		Locks:    keymutex.New[uuid.UUID](),
		Metrics:  negotiationMetrics,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to create bid service", err)
		os.Exit(1)
	}

	negotiationService, err := negotiation.NewService(negotiation.ServiceParams{
		Repo:     negotiation.NewRepository(dbClient.DB()),
		Bids:     bidService,
		Outbox:   emitter,
		Metrics:  negotiationMetrics,
		Logger:   logg,
		PageSize: cfg.Negotiation.HistoryPageSize,
	})
	if err != nil {
		logg.Error(ctx, "failed to create negotiation service", err)
		os.Exit(1)
	}

	budgetService, err := budget.NewService(budget.NewRepository(dbClient.DB()), projectRepo, bidService, dbClient, emitter, logg)
	if err != nil {
		logg.Error(ctx, "failed to create budget service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, bidService, negotiationService, budgetService,
			promhttp.HandlerFor(registry, promhttp.HandlerOpts{})),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logg.Info(ctx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
		}
	}
}
