package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file, applies defaults, and
// validates the result. Environment variables are not consulted; use
// LoadWithEnvOverrides for that.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// LoadWithEnvOverrides loads configuration from a YAML file and then
// applies GANYMEDE_SECTION_FIELD environment variables on top.
// Environment variables always win over file values.
func LoadWithEnvOverrides(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("GANYMEDE_SERVER_LISTEN_ADDRESS"); val != "" {
		cfg.Server.ListenAddress = val
	}

	if val := os.Getenv("GANYMEDE_STORAGE_STATE_PATH"); val != "" {
		cfg.Storage.StatePath = val
	}
	if val := os.Getenv("GANYMEDE_STORAGE_LEDGER_PATH"); val != "" {
		cfg.Storage.LedgerPath = val
	}

	if val := os.Getenv("GANYMEDE_TIERS_FILE_PATH"); val != "" {
		cfg.Tiers.FilePath = val
	}
	if val := os.Getenv("GANYMEDE_TIERS_DEFAULT_TIER"); val != "" {
		cfg.Tiers.DefaultTier = val
	}
	if val := os.Getenv("GANYMEDE_TIERS_WATCH"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Tiers.Watch = b
		}
	}

	if val := os.Getenv("GANYMEDE_ADMISSION_POOL_CAPACITY"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Admission.PoolCapacity = i
		}
	}
	if val := os.Getenv("GANYMEDE_ADMISSION_BUCKET_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Admission.BucketTTL = d
		}
	}

	if val := os.Getenv("GANYMEDE_BREAKER_RESET_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Breaker.ResetTimeout = d
		}
	}

	if val := os.Getenv("GANYMEDE_MAINTENANCE_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Maintenance.Enabled = b
		}
	}
	if val := os.Getenv("GANYMEDE_MAINTENANCE_RETENTION_DAYS"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Maintenance.RetentionDays = i
		}
	}

	if val := os.Getenv("GANYMEDE_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("GANYMEDE_LOG_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}
}
