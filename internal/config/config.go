// Package config loads settings for the controller and the runner from an
// optional YAML file, overridden by environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"deployplane/internal/placement"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// Storage backends.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Config holds all configuration values for the application.
type Config struct {
	// HTTP server port for the controller
	HTTPPort int

	// memory or postgres
	Storage     string
	DatabaseURL string

	// Shared secret for runner and node agent calls (Bearer token).
	InternalSecret string
	// Token for /admin endpoints. Empty disables admin auth.
	AdminToken      string
	AdminAllowedIPs []string

	// Jobs RUNNING longer than this are failed on their next heartbeat or
	// report. Zero disables the check.
	JobMaxRunning time.Duration
	// Per-runner claim polling limit in requests per second. Zero is unlimited.
	ClaimRateLimit float64
	ClaimRateBurst int

	// Node registry and placement
	RegistryEnabled      bool
	NodeHeartbeatStale   time.Duration
	PlacementStrategy    string
	DiskFreeMinPct       float64
	DiskFreeDrainPct     float64
	RunnerHeartbeatStale time.Duration
	AgentToken           string
	AgentTimeout         time.Duration

	// Runner-specific configuration
	ControllerURL           string
	RunnerID                string
	RunnerPollInterval      time.Duration
	RunnerMaxBackoff        time.Duration
	RunnerLease             time.Duration
	RunnerHeartbeatInterval time.Duration
	RunnerWorkDir           string
	RunnerDeployCommand     string

	// LogLevel is debug, info, warn or error.
	LogLevel string

	// OpenTelemetry collector endpoint (gRPC). Empty disables trace export.
	OTELEndpoint string
}

// envBindings maps config keys to their environment variables.
var envBindings = map[string]string{
	"http_port":                       "PORT",
	"storage":                         "STORAGE",
	"database_url":                    "DATABASE_URL",
	"internal_secret":                 "DEPLOY_INTERNAL_SECRET",
	"admin_token":                     "DEPLOY_ADMIN_TOKEN",
	"admin_allowed_ips":               "DEPLOY_ADMIN_ALLOWED_IPS",
	"job.max_running_seconds":         "JOB_MAX_RUNNING_SECONDS",
	"job.claim_rate_limit":            "JOB_CLAIM_RATE_LIMIT",
	"job.claim_rate_burst":            "JOB_CLAIM_RATE_BURST",
	"runtime.registry_enabled":        "RUNTIME_REGISTRY_ENABLED",
	"runtime.heartbeat_stale_seconds": "RUNTIME_HEARTBEAT_STALE_SECONDS",
	"runtime.placement_strategy":      "RUNTIME_PLACEMENT_STRATEGY",
	"runtime.disk_free_min_pct":       "RUNTIME_DISK_FREE_MIN_PCT",
	"runtime.disk_free_drain_pct":     "RUNTIME_DISK_FREE_DRAIN_PCT",
	"runner.heartbeat_stale_seconds":  "RUNNER_HEARTBEAT_STALE_SECONDS",
	"agent.token":                     "RUNTIME_AGENT_TOKEN",
	"agent.timeout":                   "RUNTIME_AGENT_TIMEOUT",
	"controller_url":                  "CONTROLLER_URL",
	"runner.id":                       "RUNNER_ID",
	"runner.poll_interval":            "RUNNER_POLL_INTERVAL",
	"runner.max_backoff":              "RUNNER_MAX_BACKOFF",
	"runner.lease_seconds":            "RUNNER_LEASE_SECONDS",
	"runner.heartbeat_interval":       "RUNNER_HEARTBEAT_INTERVAL",
	"runner.workdir":                  "RUNNER_WORKDIR",
	"runner.deploy_command":           "RUNNER_DEPLOY_COMMAND",
	"log_level":                       "LOG_LEVEL",
	"otel_endpoint":                   "OTEL_EXPORTER_OTLP_ENDPOINT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_port", 6161)
	v.SetDefault("storage", StorageMemory)
	v.SetDefault("job.max_running_seconds", 0)
	v.SetDefault("job.claim_rate_limit", 0)
	v.SetDefault("job.claim_rate_burst", 1)
	v.SetDefault("runtime.registry_enabled", true)
	v.SetDefault("runtime.heartbeat_stale_seconds", 60)
	v.SetDefault("runtime.placement_strategy", placement.StrategyDiskAware)
	v.SetDefault("runtime.disk_free_min_pct", 15)
	v.SetDefault("runtime.disk_free_drain_pct", 25)
	v.SetDefault("runner.heartbeat_stale_seconds", 60)
	v.SetDefault("agent.timeout", 10*time.Second)
	v.SetDefault("controller_url", "http://localhost:6161")
	v.SetDefault("runner.poll_interval", time.Second)
	v.SetDefault("runner.max_backoff", 30*time.Second)
	v.SetDefault("runner.lease_seconds", 120)
	v.SetDefault("runner.heartbeat_interval", 30*time.Second)
	v.SetDefault("runner.workdir", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("otel_endpoint", "")
}

// Load reads configuration. path may be empty, in which case deployplane.yaml
// in the working directory is used when present. Environment variables
// always win over the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("deployplane")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := &Config{
		HTTPPort:                v.GetInt("http_port"),
		Storage:                 strings.ToLower(strings.TrimSpace(v.GetString("storage"))),
		DatabaseURL:             v.GetString("database_url"),
		InternalSecret:          v.GetString("internal_secret"),
		AdminToken:              v.GetString("admin_token"),
		AdminAllowedIPs:         stringList(v.GetStringSlice("admin_allowed_ips")),
		JobMaxRunning:           time.Duration(v.GetInt("job.max_running_seconds")) * time.Second,
		ClaimRateLimit:          v.GetFloat64("job.claim_rate_limit"),
		ClaimRateBurst:          v.GetInt("job.claim_rate_burst"),
		RegistryEnabled:         v.GetBool("runtime.registry_enabled"),
		NodeHeartbeatStale:      time.Duration(v.GetInt("runtime.heartbeat_stale_seconds")) * time.Second,
		DiskFreeMinPct:          v.GetFloat64("runtime.disk_free_min_pct"),
		DiskFreeDrainPct:        v.GetFloat64("runtime.disk_free_drain_pct"),
		RunnerHeartbeatStale:    time.Duration(v.GetInt("runner.heartbeat_stale_seconds")) * time.Second,
		AgentToken:              v.GetString("agent.token"),
		AgentTimeout:            v.GetDuration("agent.timeout"),
		ControllerURL:           strings.TrimRight(v.GetString("controller_url"), "/"),
		RunnerID:                v.GetString("runner.id"),
		RunnerPollInterval:      v.GetDuration("runner.poll_interval"),
		RunnerMaxBackoff:        v.GetDuration("runner.max_backoff"),
		RunnerLease:             time.Duration(v.GetInt("runner.lease_seconds")) * time.Second,
		RunnerHeartbeatInterval: v.GetDuration("runner.heartbeat_interval"),
		RunnerWorkDir:           v.GetString("runner.workdir"),
		RunnerDeployCommand:     v.GetString("runner.deploy_command"),
		LogLevel:                v.GetString("log_level"),
		OTELEndpoint:            v.GetString("otel_endpoint"),
	}

	switch cfg.Storage {
	case StorageMemory:
	case StoragePostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database_url is required (env: DATABASE_URL)")
		}
	default:
		return nil, fmt.Errorf("invalid storage %q: must be memory or postgres", cfg.Storage)
	}

	strategy, err := placement.ParseStrategy(v.GetString("runtime.placement_strategy"))
	if err != nil {
		return nil, err
	}
	cfg.PlacementStrategy = strategy

	if cfg.JobMaxRunning < 0 {
		return nil, fmt.Errorf("job.max_running_seconds must not be negative")
	}
	if cfg.NodeHeartbeatStale < time.Second {
		cfg.NodeHeartbeatStale = time.Second
	}
	if cfg.RunnerHeartbeatStale < time.Second {
		cfg.RunnerHeartbeatStale = time.Second
	}
	if cfg.ClaimRateBurst < 1 {
		cfg.ClaimRateBurst = 1
	}
	if cfg.RunnerID == "" {
		cfg.RunnerID = defaultRunnerID()
	}

	return cfg, nil
}

// defaultRunnerID derives a runner identity from the host name plus a short
// random suffix, so that two runners on one host do not collide.
func defaultRunnerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "runner"
	}
	return host + "-" + uuid.NewString()[:8]
}

// stringList accepts both YAML lists and comma separated env values.
func stringList(raw []string) []string {
	var out []string
	for _, item := range raw {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
