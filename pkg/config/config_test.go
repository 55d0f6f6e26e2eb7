package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  listen_address: \"0.0.0.0:8080\"\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.ListenAddress != "0.0.0.0:8080" {
		t.Errorf("File value should win: %q", cfg.Server.ListenAddress)
	}
	if cfg.Admission.PoolCapacity != 10 {
		t.Errorf("Expected default pool capacity 10, got %d", cfg.Admission.PoolCapacity)
	}
	if cfg.Breaker.FailureThreshold != 5 {
		t.Errorf("Expected default failure threshold 5, got %d", cfg.Breaker.FailureThreshold)
	}
	if cfg.Tiers.DefaultTier != "free" {
		t.Errorf("Expected default tier free, got %q", cfg.Tiers.DefaultTier)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Unexpected logging defaults: %+v", cfg.Logging)
	}
}

func TestLoad_FullFile(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_address: ":9000"
storage:
  state_path: /var/lib/ganymede/state.db
  ledger_path: /var/lib/ganymede/ledger.db
tiers:
  default_tier: pro
  watch: true
admission:
  pool_capacity: 32
  bucket_ttl: 10m
  cost_alert_ratio: 0.9
breaker:
  failure_threshold: 3
  reset_timeout: 45s
maintenance:
  enabled: true
  retention_days: 30
logging:
  level: debug
  format: text
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Admission.PoolCapacity != 32 {
		t.Errorf("Expected pool capacity 32, got %d", cfg.Admission.PoolCapacity)
	}
	if cfg.Admission.BucketTTL != 10*time.Minute {
		t.Errorf("Expected bucket TTL 10m, got %v", cfg.Admission.BucketTTL)
	}
	if cfg.Breaker.FailureThreshold != 3 || cfg.Breaker.ResetTimeout != 45*time.Second {
		t.Errorf("Unexpected breaker config: %+v", cfg.Breaker)
	}
	// Unset breaker fields still get defaults.
	if cfg.Breaker.SuccessThreshold != 2 {
		t.Errorf("Expected default success threshold, got %d", cfg.Breaker.SuccessThreshold)
	}
	if cfg.Maintenance.RetentionDays != 30 {
		t.Errorf("Expected 30 retention days, got %d", cfg.Maintenance.RetentionDays)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/does/not/exist.yaml"); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a mapping")
	if _, err := Load(path); err == nil {
		t.Error("Expected parse error")
	}
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"empty default tier", func(c *Config) { c.Tiers.DefaultTier = "" }, "default_tier"},
		{"zero pool capacity", func(c *Config) { c.Admission.PoolCapacity = 0 }, "pool_capacity"},
		{"alert ratio too high", func(c *Config) { c.Admission.CostAlertRatio = 1.5 }, "cost_alert_ratio"},
		{"negative reset timeout", func(c *Config) { c.Breaker.ResetTimeout = -time.Second }, "reset_timeout"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var cfg Config
			ApplyDefaults(&cfg)
			tc.mutate(&cfg)

			err := Validate(&cfg)
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Expected error mentioning %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, "admission:\n  pool_capacity: 8\n")

	t.Setenv("GANYMEDE_ADMISSION_POOL_CAPACITY", "64")
	t.Setenv("GANYMEDE_LOG_LEVEL", "debug")
	t.Setenv("GANYMEDE_TIERS_DEFAULT_TIER", "enterprise")

	cfg, err := LoadWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("LoadWithEnvOverrides failed: %v", err)
	}
	if cfg.Admission.PoolCapacity != 64 {
		t.Errorf("Env should override file: got %d", cfg.Admission.PoolCapacity)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected debug level, got %q", cfg.Logging.Level)
	}
	if cfg.Tiers.DefaultTier != "enterprise" {
		t.Errorf("Expected enterprise default tier, got %q", cfg.Tiers.DefaultTier)
	}
}

func TestEnvOverrides_InvalidValueFailsValidation(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: info\n")

	t.Setenv("GANYMEDE_LOG_LEVEL", "loud")

	if _, err := LoadWithEnvOverrides(path); err == nil {
		t.Error("Invalid override should fail validation")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := Validate(cfg); err != nil {
		t.Errorf("Default config must validate: %v", err)
	}
}
