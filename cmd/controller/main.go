// Package main is the entry point for the deployplane controller.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"deployplane/internal/agentclient"
	"deployplane/internal/config"
	"deployplane/internal/controller"
	"deployplane/internal/controller/handlers"
	"deployplane/internal/controller/middleware"
	"deployplane/internal/job"
	"deployplane/internal/logger"
	"deployplane/internal/observability"
	"deployplane/internal/placement"
	"deployplane/internal/service"
	"deployplane/internal/store"
	"deployplane/internal/store/memory"
	"deployplane/internal/store/postgres"
)

func main() {
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting (postgres storage only)")
	configPath := flag.String("config", "", "Path to config file (default: deployplane.yaml in current directory)")
	flag.Parse()

	log := logger.New("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(log, "failed to load config", err)
	}
	log = logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	ctx := context.Background()

	st, err := openStore(ctx, log, cfg, *migrateFlag)
	if err != nil {
		fatal(log, "failed to open storage", err)
	}
	defer st.Close()

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, "deployplane-controller", cfg.OTELEndpoint)
	if err != nil {
		fatal(log, "failed to init tracing", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Warn("failed to shutdown tracer", "error", err)
		}
	}()

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		fatal(log, "failed to init metrics", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Warn("failed to shutdown metrics", "error", err)
		}
	}()

	instruments, err := observability.NewInstruments()
	if err != nil {
		fatal(log, "failed to create instruments", err)
	}
	err = observability.RegisterQueueDepth(func(ctx context.Context) (int64, error) {
		return st.CountByStatus(ctx, job.StatusPending)
	})
	if err != nil {
		log.Warn("failed to register queue depth metric", "error", err)
	}

	opts := []service.Option{service.WithLogger(log), service.WithInstruments(instruments)}
	placements := service.NewPlacementService(st, st, service.PlacementConfig{
		Strategy:         cfg.PlacementStrategy,
		Freshness:        placement.Freshness{Enabled: cfg.RegistryEnabled, Window: cfg.NodeHeartbeatStale},
		DiskFreeMinPct:   cfg.DiskFreeMinPct,
		DiskFreeDrainPct: cfg.DiskFreeDrainPct,
	}, opts...)
	appRuns := service.NewAppRunService(st, placements, opts...)

	h := handlers.New(handlers.Deps{
		Jobs:         service.NewJobService(st, cfg.JobMaxRunning, opts...),
		Placements:   placements,
		AppRuns:      appRuns,
		Purge:        service.NewPurgeService(st, st, st, opts...),
		Apps:         service.NewAppService(placements, appRuns, agentclient.New(cfg.AgentToken, cfg.AgentTimeout), opts...),
		Runners:      service.NewRunnerRegistry(cfg.RunnerHeartbeatStale, opts...),
		Store:        st,
		ClaimLimiter: middleware.NewKeyedLimiter(cfg.ClaimRateLimit, cfg.ClaimRateBurst, 5*time.Minute),
		Logger:       log,
	})

	if cfg.InternalSecret == "" {
		log.Warn("internal_secret is empty; runner and node endpoints are unauthenticated")
	}
	if cfg.AdminToken == "" {
		log.Warn("admin_token is empty; admin endpoints are unauthenticated")
	}

	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := controller.New(addr, h, controller.Options{
		InternalSecret:  cfg.InternalSecret,
		AdminToken:      cfg.AdminToken,
		AdminAllowedIPs: cfg.AdminAllowedIPs,
		Metrics:         metricsHandler,
	})

	go func() {
		log.Info("deployplane controller starting", "addr", addr, "storage", cfg.Storage, "placement_strategy", cfg.PlacementStrategy)
		if err := srv.Run(ctx); err != nil {
			log.Info("server stopped", "error", err)
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down controller")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
		return
	}
	log.Info("server exited properly")
}

func openStore(ctx context.Context, log *slog.Logger, cfg *config.Config, migrate bool) (store.Store, error) {
	if cfg.Storage == config.StorageMemory {
		log.Info("using in-memory storage; state is lost on restart")
		return memory.New(), nil
	}

	pg, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if migrate {
		log.Info("running database migrations")
		version, err := postgres.Migrate(pg.DB(), log)
		if err != nil {
			pg.Close()
			return nil, fmt.Errorf("migration failed: %w", err)
		}
		log.Info("migrations completed", "schema_version", version)
	}
	return pg, nil
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, "error", err)
	os.Exit(1)
}
