package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	tmpFile, err := os.CreateTemp(t.TempDir(), "deployplane-test-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	if _, err := tmpFile.WriteString(content); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	tmpFile.Close()
	return tmpFile.Name()
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Setenv("STORAGE", "")
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != 6161 {
		t.Errorf("expected HTTPPort 6161, got %d", cfg.HTTPPort)
	}
	if cfg.Storage != StorageMemory {
		t.Errorf("expected memory storage, got %s", cfg.Storage)
	}
	if cfg.JobMaxRunning != 0 {
		t.Errorf("expected running timeout disabled, got %v", cfg.JobMaxRunning)
	}
	if !cfg.RegistryEnabled {
		t.Error("expected registry enabled by default")
	}
	if cfg.NodeHeartbeatStale != 60*time.Second {
		t.Errorf("expected NodeHeartbeatStale 60s, got %v", cfg.NodeHeartbeatStale)
	}
	if cfg.PlacementStrategy != "disk-aware" {
		t.Errorf("expected disk-aware strategy, got %s", cfg.PlacementStrategy)
	}
	if cfg.DiskFreeMinPct != 15 || cfg.DiskFreeDrainPct != 25 {
		t.Errorf("unexpected disk thresholds %v/%v", cfg.DiskFreeMinPct, cfg.DiskFreeDrainPct)
	}
	if cfg.AgentTimeout != 10*time.Second {
		t.Errorf("expected AgentTimeout 10s, got %v", cfg.AgentTimeout)
	}
	if cfg.ControllerURL != "http://localhost:6161" {
		t.Errorf("expected ControllerURL http://localhost:6161, got %s", cfg.ControllerURL)
	}
	if cfg.RunnerLease != 120*time.Second {
		t.Errorf("expected RunnerLease 120s, got %v", cfg.RunnerLease)
	}
	if cfg.RunnerID == "" {
		t.Error("expected a generated runner id")
	}
	if cfg.OTELEndpoint != "" {
		t.Errorf("expected trace export off by default, got %s", cfg.OTELEndpoint)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected LogLevel info, got %s", cfg.LogLevel)
	}
}

func TestLoad_PostgresRequiresDatabaseURL(t *testing.T) {
	t.Setenv("STORAGE", "postgres")
	t.Setenv("DATABASE_URL", "")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}
	if err.Error() != "database_url is required (env: DATABASE_URL)" {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	t.Setenv("STORAGE", "postgres")
	t.Setenv("DATABASE_URL", "postgres://custom/db")
	t.Setenv("PORT", "9999")
	t.Setenv("JOB_MAX_RUNNING_SECONDS", "900")
	t.Setenv("RUNTIME_PLACEMENT_STRATEGY", "hash")
	t.Setenv("RUNTIME_HEARTBEAT_STALE_SECONDS", "0")
	t.Setenv("DEPLOY_ADMIN_ALLOWED_IPS", "10.0.0.1, 10.0.0.2")
	t.Setenv("CONTROLLER_URL", "http://custom:8080/")
	t.Setenv("RUNNER_ID", "runner-7")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel-collector:4317")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DatabaseURL != "postgres://custom/db" {
		t.Errorf("expected DatabaseURL from env, got %s", cfg.DatabaseURL)
	}
	if cfg.HTTPPort != 9999 {
		t.Errorf("expected HTTPPort 9999, got %d", cfg.HTTPPort)
	}
	if cfg.JobMaxRunning != 15*time.Minute {
		t.Errorf("expected JobMaxRunning 15m, got %v", cfg.JobMaxRunning)
	}
	if cfg.PlacementStrategy != "hash" {
		t.Errorf("expected hash strategy, got %s", cfg.PlacementStrategy)
	}
	if cfg.NodeHeartbeatStale != time.Second {
		t.Errorf("expected stale window clamped to 1s, got %v", cfg.NodeHeartbeatStale)
	}
	if strings.Join(cfg.AdminAllowedIPs, "|") != "10.0.0.1|10.0.0.2" {
		t.Errorf("unexpected allowlist %v", cfg.AdminAllowedIPs)
	}
	if cfg.ControllerURL != "http://custom:8080" {
		t.Errorf("expected trailing slash trimmed, got %s", cfg.ControllerURL)
	}
	if cfg.RunnerID != "runner-7" {
		t.Errorf("expected RunnerID runner-7, got %s", cfg.RunnerID)
	}
	if cfg.OTELEndpoint != "otel-collector:4317" {
		t.Errorf("expected OTELEndpoint otel-collector:4317, got %s", cfg.OTELEndpoint)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown storage", map[string]string{"STORAGE": "redis"}},
		{"unknown strategy", map[string]string{"RUNTIME_PLACEMENT_STRATEGY": "round-robin"}},
		{"negative timeout", map[string]string{"JOB_MAX_RUNNING_SECONDS": "-5"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(""); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	path := writeTempConfig(t, `
storage: postgres
database_url: "postgres://config-file/db"
http_port: 7777
job:
  max_running_seconds: 600
runtime:
  placement_strategy: hash
  disk_free_min_pct: 20
admin_allowed_ips:
  - 127.0.0.1
runner:
  deploy_command: "./deploy.sh --fast"
`)

	t.Setenv("STORAGE", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PORT", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DatabaseURL != "postgres://config-file/db" {
		t.Errorf("expected DatabaseURL from config file, got %s", cfg.DatabaseURL)
	}
	if cfg.HTTPPort != 7777 {
		t.Errorf("expected HTTPPort 7777, got %d", cfg.HTTPPort)
	}
	if cfg.JobMaxRunning != 10*time.Minute {
		t.Errorf("expected JobMaxRunning 10m, got %v", cfg.JobMaxRunning)
	}
	if cfg.PlacementStrategy != "hash" || cfg.DiskFreeMinPct != 20 {
		t.Errorf("unexpected runtime settings %s/%v", cfg.PlacementStrategy, cfg.DiskFreeMinPct)
	}
	if len(cfg.AdminAllowedIPs) != 1 || cfg.AdminAllowedIPs[0] != "127.0.0.1" {
		t.Errorf("unexpected allowlist %v", cfg.AdminAllowedIPs)
	}
	if cfg.RunnerDeployCommand != "./deploy.sh --fast" {
		t.Errorf("unexpected deploy command %q", cfg.RunnerDeployCommand)
	}
}

func TestLoad_EnvOverridesConfigFile(t *testing.T) {
	path := writeTempConfig(t, `
storage: postgres
database_url: "postgres://from-file/db"
http_port: 7777
`)

	t.Setenv("DATABASE_URL", "postgres://from-env/db")
	t.Setenv("PORT", "8888")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DatabaseURL != "postgres://from-env/db" {
		t.Errorf("expected DatabaseURL from env, got %s", cfg.DatabaseURL)
	}
	if cfg.HTTPPort != 8888 {
		t.Errorf("expected HTTPPort 8888 from env, got %d", cfg.HTTPPort)
	}
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	_, err := Load("/nonexistent/path/to/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent config file")
	}
}
