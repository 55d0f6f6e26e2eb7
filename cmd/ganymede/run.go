package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"mercator-hq/ganymede/pkg/admission"
	"mercator-hq/ganymede/pkg/admission/cost"
	"mercator-hq/ganymede/pkg/admission/storage"
	"mercator-hq/ganymede/pkg/config"
	"mercator-hq/ganymede/pkg/maintenance"
	"mercator-hq/ganymede/pkg/tier"
)

var runFlags struct {
	listenAddress string
	logLevel      string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Ganymede status and metrics server",
	Long: `Start the admission gate with its status and metrics HTTP server.

Endpoints:
  GET /healthz            liveness probe
  GET /metrics            Prometheus metrics
  GET /status/{subject}   per-subject usage snapshot

Examples:
  # Start with default config
  ganymede run

  # Start with custom config
  ganymede run --config /etc/ganymede/config.yaml

  # Override listen address
  ganymede run --listen 0.0.0.0:9464`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	policy, err := buildPolicy(cfg)
	if err != nil {
		return err
	}

	counters, ledger, closeStores, err := buildStores(cfg)
	if err != nil {
		return err
	}
	defer closeStores()

	pricing := cost.NewPricing(logger)
	if len(cfg.Pricing.Models) > 0 || cfg.Pricing.Default != (cost.ModelPrice{}) {
		pricing.Override(cfg.Pricing.Models, cfg.Pricing.Default)
	}

	gate, err := admission.New(admission.Options{
		Policy:         policy,
		CounterStore:   counters,
		Ledger:         ledger,
		Pricing:        pricing,
		PoolCapacity:   cfg.Admission.PoolCapacity,
		BucketTTL:      cfg.Admission.BucketTTL,
		Breaker:        cfg.Breaker,
		CostAlertRatio: cfg.Admission.CostAlertRatio,
		Logger:         logger,
		Metrics:        admission.NewMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return fmt.Errorf("failed to build admission gate: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Tiers.Watch && cfg.Tiers.FilePath != "" {
		watcher := tier.NewWatcher(cfg.Tiers.FilePath, policy, logger)
		go func() {
			if err := watcher.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("tier watcher stopped", "error", err)
			}
		}()
	}

	if cfg.Maintenance.Enabled {
		sched, err := maintenance.New(maintenance.Config{
			PruneSchedule: cfg.Maintenance.PruneSchedule,
			RetentionDays: cfg.Maintenance.RetentionDays,
			EvictSchedule: cfg.Maintenance.EvictSchedule,
		}, ledger, gate.Buckets(), nil, logger)
		if err != nil {
			return fmt.Errorf("failed to build maintenance scheduler: %w", err)
		}
		if err := sched.Start(); err != nil {
			return err
		}
		defer sched.Stop()
	}

	srv := &http.Server{
		Addr:         cfg.Server.ListenAddress,
		Handler:      newHandler(gate),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ganymede listening", "address", cfg.Server.ListenAddress)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func buildPolicy(cfg *config.Config) (*tier.Policy, error) {
	table := tier.DefaultTable()
	if cfg.Tiers.FilePath != "" {
		loaded, err := tier.LoadTable(cfg.Tiers.FilePath)
		if err != nil {
			return nil, fmt.Errorf("failed to load tier table: %w", err)
		}
		table = loaded
	}
	return tier.NewPolicy(table, nil, tier.Tier(cfg.Tiers.DefaultTier))
}

// buildStores opens the configured backends. Empty paths fall back to
// a shared in-memory store, which is fine for evaluation but loses
// counters on restart.
func buildStores(cfg *config.Config) (storage.CounterStore, storage.Ledger, func(), error) {
	if cfg.Storage.StatePath == "" && cfg.Storage.LedgerPath == "" {
		slog.Warn("no storage paths configured, using in-memory state")
		mem := storage.NewMemoryStore()
		return mem, mem, func() {}, nil
	}

	counters, err := storage.NewSQLiteCounterStoreWithConfig(storage.SQLiteCounterStoreConfig{
		DBPath:             cfg.Storage.StatePath,
		CheckpointInterval: cfg.Storage.CheckpointInterval,
		BusyTimeout:        cfg.Storage.BusyTimeout,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open counter store: %w", err)
	}

	ledger, err := storage.NewSQLiteLedger(&storage.SQLiteLedgerConfig{
		Path:        cfg.Storage.LedgerPath,
		BusyTimeout: cfg.Storage.BusyTimeout,
	})
	if err != nil {
		counters.Close()
		return nil, nil, nil, fmt.Errorf("failed to open cost ledger: %w", err)
	}

	closeAll := func() {
		if err := ledger.Close(); err != nil {
			slog.Warn("failed to close cost ledger", "error", err)
		}
		if err := counters.Close(); err != nil {
			slog.Warn("failed to close counter store", "error", err)
		}
	}
	return counters, ledger, closeAll, nil
}

func newHandler(gate *admission.Gate) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/status/", func(w http.ResponseWriter, r *http.Request) {
		subject := strings.TrimPrefix(r.URL.Path, "/status/")
		if subject == "" {
			http.Error(w, "subject required", http.StatusBadRequest)
			return
		}

		status, err := gate.Status(r.Context(), subject)
		if err != nil {
			http.Error(w, "status unavailable", http.StatusInternalServerError)
			slog.Error("status lookup failed", "subject", subject, "error", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status); err != nil {
			slog.Warn("failed to encode status response", "error", err)
		}
	})

	return mux
}
