package config

import (
	"fmt"
	"time"

	"mercator-hq/ganymede/pkg/admission/breaker"
	"mercator-hq/ganymede/pkg/admission/cost"
)

// Config is the top-level ganymede configuration.
type Config struct {
	// Server configures the status and metrics HTTP listener.
	Server ServerConfig `yaml:"server"`

	// Storage configures the durable counter store and cost ledger.
	Storage StorageConfig `yaml:"storage"`

	// Tiers configures the tier policy table.
	Tiers TiersConfig `yaml:"tiers"`

	// Admission tunes the gate itself.
	Admission AdmissionConfig `yaml:"admission"`

	// Breaker applies to every circuit breaker the gate creates.
	Breaker breaker.Config `yaml:"breaker"`

	// Pricing overrides the built-in model price table.
	Pricing PricingConfig `yaml:"pricing"`

	// Maintenance configures scheduled background jobs.
	Maintenance MaintenanceConfig `yaml:"maintenance"`

	// Logging configures structured log output.
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the HTTP surface for status and metrics.
type ServerConfig struct {
	// ListenAddress is the host:port to bind.
	ListenAddress string `yaml:"listen_address"`

	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// StorageConfig configures persistence paths. Empty paths select the
// in-memory backend, which loses state on restart.
type StorageConfig struct {
	// StatePath is the SQLite file holding quota counters.
	StatePath string `yaml:"state_path"`

	// LedgerPath is the SQLite file holding the append-only cost
	// ledger. It may be the same as StatePath but separate files keep
	// write patterns apart.
	LedgerPath string `yaml:"ledger_path"`

	// CheckpointInterval is how often the state store compacts its WAL.
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`

	// BusyTimeout is the SQLite lock wait.
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// TiersConfig configures where tier limits come from.
type TiersConfig struct {
	// FilePath is an optional YAML file with the tier table. Empty
	// means the built-in table.
	FilePath string `yaml:"file_path"`

	// Watch reloads the tier file on change.
	Watch bool `yaml:"watch"`

	// DefaultTier is applied to subjects whose tier is unknown.
	DefaultTier string `yaml:"default_tier"`
}

// AdmissionConfig tunes the gate.
type AdmissionConfig struct {
	// PoolCapacity is the global concurrent execution limit.
	PoolCapacity int `yaml:"pool_capacity"`

	// BucketTTL evicts idle token buckets after this long.
	BucketTTL time.Duration `yaml:"bucket_ttl"`

	// CostAlertRatio flags allowed requests once daily spend crosses
	// this fraction of the budget (0 < ratio < 1).
	CostAlertRatio float64 `yaml:"cost_alert_ratio"`
}

// PricingConfig overrides model prices. The shipped table is example
// policy input; deployments set real rates here.
type PricingConfig struct {
	// Models maps model names to prices, merged over the built-ins.
	Models map[string]cost.ModelPrice `yaml:"models"`

	// Default replaces the fallback price for unknown models when
	// non-zero.
	Default cost.ModelPrice `yaml:"default"`
}

// MaintenanceConfig configures scheduled background jobs. Schedules
// use standard cron syntax.
type MaintenanceConfig struct {
	// Enabled turns the scheduler on.
	Enabled bool `yaml:"enabled"`

	// PruneSchedule runs ledger retention pruning.
	PruneSchedule string `yaml:"prune_schedule"`

	// RetentionDays is how long cost entries are kept.
	RetentionDays int `yaml:"retention_days"`

	// EvictSchedule runs idle bucket eviction.
	EvictSchedule string `yaml:"evict_schedule"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is "json" or "text".
	Format string `yaml:"format"`
}

// ApplyDefaults fills in zero values with production defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = "127.0.0.1:9464"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 10 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 60 * time.Second
	}

	if cfg.Storage.CheckpointInterval == 0 {
		cfg.Storage.CheckpointInterval = 5 * time.Minute
	}
	if cfg.Storage.BusyTimeout == 0 {
		cfg.Storage.BusyTimeout = 5 * time.Second
	}

	if cfg.Tiers.DefaultTier == "" {
		cfg.Tiers.DefaultTier = "free"
	}

	if cfg.Admission.PoolCapacity == 0 {
		cfg.Admission.PoolCapacity = 10
	}
	if cfg.Admission.BucketTTL == 0 {
		cfg.Admission.BucketTTL = 30 * time.Minute
	}
	if cfg.Admission.CostAlertRatio == 0 {
		cfg.Admission.CostAlertRatio = 0.8
	}

	def := breaker.DefaultConfig()
	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = def.FailureThreshold
	}
	if cfg.Breaker.SuccessThreshold == 0 {
		cfg.Breaker.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.Breaker.ResetTimeout == 0 {
		cfg.Breaker.ResetTimeout = def.ResetTimeout
	}
	if cfg.Breaker.RollingWindow == 0 {
		cfg.Breaker.RollingWindow = def.RollingWindow
	}

	if cfg.Maintenance.PruneSchedule == "" {
		cfg.Maintenance.PruneSchedule = "0 3 * * *"
	}
	if cfg.Maintenance.RetentionDays == 0 {
		cfg.Maintenance.RetentionDays = 90
	}
	if cfg.Maintenance.EvictSchedule == "" {
		cfg.Maintenance.EvictSchedule = "*/15 * * * *"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate checks the configuration for fatal errors. Policy problems
// such as an unknown default tier fail here at startup, never
// per-request.
func Validate(cfg *Config) error {
	if cfg.Server.ListenAddress == "" {
		return fmt.Errorf("server.listen_address must not be empty")
	}

	if (cfg.Storage.StatePath == "") != (cfg.Storage.LedgerPath == "") {
		return fmt.Errorf("storage.state_path and storage.ledger_path must both be set or both be empty")
	}

	if cfg.Tiers.DefaultTier == "" {
		return fmt.Errorf("tiers.default_tier must not be empty")
	}

	if cfg.Admission.PoolCapacity < 1 {
		return fmt.Errorf("admission.pool_capacity must be at least 1, got %d", cfg.Admission.PoolCapacity)
	}
	if cfg.Admission.CostAlertRatio <= 0 || cfg.Admission.CostAlertRatio >= 1 {
		return fmt.Errorf("admission.cost_alert_ratio must be between 0 and 1 exclusive, got %v", cfg.Admission.CostAlertRatio)
	}

	if cfg.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("breaker.failure_threshold must be at least 1, got %d", cfg.Breaker.FailureThreshold)
	}
	if cfg.Breaker.SuccessThreshold < 1 {
		return fmt.Errorf("breaker.success_threshold must be at least 1, got %d", cfg.Breaker.SuccessThreshold)
	}
	if cfg.Breaker.ResetTimeout <= 0 {
		return fmt.Errorf("breaker.reset_timeout must be positive, got %v", cfg.Breaker.ResetTimeout)
	}
	if cfg.Breaker.RollingWindow <= 0 {
		return fmt.Errorf("breaker.rolling_window must be positive, got %v", cfg.Breaker.RollingWindow)
	}

	if cfg.Maintenance.RetentionDays < 1 {
		return fmt.Errorf("maintenance.retention_days must be at least 1, got %d", cfg.Maintenance.RetentionDays)
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", cfg.Logging.Format)
	}

	return nil
}
