// Package main is the entry point for the reference deploy runner.
// The runner claims deploy jobs from the controller, runs the configured
// deploy command for each and reports the outcome.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"deployplane/internal/config"
	"deployplane/internal/logger"
	"deployplane/internal/observability"
	"deployplane/internal/runner"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: deployplane.yaml in current directory)")
	metricsAddr := flag.String("metrics-addr", ":6162", "Address for the runner metrics server (empty disables it)")
	concurrency := flag.Int("concurrency", 1, "Number of deploys run in parallel")
	flag.Parse()

	log := logger.New("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log = logger.New(cfg.LogLevel)
	slog.SetDefault(log)
	if cfg.RunnerDeployCommand == "" {
		log.Error("runner.deploy_command is required (env: RUNNER_DEPLOY_COMMAND)")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, "deployplane-runner", cfg.OTELEndpoint)
	if err != nil {
		log.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Warn("failed to shutdown tracer", "error", err)
		}
	}()

	client := runner.NewClient(cfg.ControllerURL, cfg.InternalSecret, 0)
	executor := runner.NewExecExecutor(cfg.RunnerDeployCommand, cfg.RunnerWorkDir, log)
	agent := runner.New(client, executor, runner.AgentConfig{
		ID:                cfg.RunnerID,
		Concurrency:       *concurrency,
		PollInterval:      cfg.RunnerPollInterval,
		MaxBackoff:        cfg.RunnerMaxBackoff,
		Lease:             cfg.RunnerLease,
		HeartbeatInterval: cfg.RunnerHeartbeatInterval,
	}, log)

	log.Info("runner started", "runner_id", cfg.RunnerID, "controller", cfg.ControllerURL, "workdir", executor.WorkDir)
	go agent.Run(ctx)

	// Metrics
	if *metricsAddr != "" {
		metricsHandler, shutdownMetrics, err := observability.InitMetrics()
		if err != nil {
			log.Error("failed to init metrics", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := shutdownMetrics(context.Background()); err != nil {
				log.Warn("failed to shutdown metrics", "error", err)
			}
		}()

		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metricsHandler)
			log.Info("runner metrics listening", "addr", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Warn("metrics server error", "error", err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down runner, waiting for in-flight deploys")
	cancel()

	<-agent.Done()
}
