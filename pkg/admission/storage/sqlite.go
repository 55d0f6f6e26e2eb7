package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteCounterStore implements CounterStore using SQLite. It provides
// durable quota counters that survive process restarts and is suitable
// for single-instance deployments.
//
// The store uses WAL mode with periodic passive checkpoints to balance
// write performance with durability.
type SQLiteCounterStore struct {
	db                 *sql.DB
	checkpointInterval time.Duration
	done               chan struct{}
	closeOnce          sync.Once

	saveStmt   *sql.Stmt
	loadStmt   *sql.Stmt
	deleteStmt *sql.Stmt
}

// SQLiteCounterStoreConfig configures the counter store.
type SQLiteCounterStoreConfig struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// CheckpointInterval is how often to checkpoint the WAL.
	// Default: 5 minutes
	CheckpointInterval time.Duration

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// NewSQLiteCounterStore opens a counter store with default settings.
func NewSQLiteCounterStore(dbPath string) (*SQLiteCounterStore, error) {
	return NewSQLiteCounterStoreWithConfig(SQLiteCounterStoreConfig{DBPath: dbPath})
}

// NewSQLiteCounterStoreWithConfig opens a counter store with custom
// configuration.
func NewSQLiteCounterStoreWithConfig(cfg SQLiteCounterStoreConfig) (*SQLiteCounterStore, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = 5 * time.Minute
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
		cfg.DBPath, int(cfg.BusyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteCounterStore{
		db:                 db,
		checkpointInterval: cfg.CheckpointInterval,
		done:               make(chan struct{}),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	go s.checkpointLoop()

	return s, nil
}

func (s *SQLiteCounterStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS quota_records (
		subject TEXT PRIMARY KEY,
		daily_count INTEGER NOT NULL,
		daily_reset_at INTEGER NOT NULL,
		monthly_count INTEGER NOT NULL,
		monthly_reset_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_quota_updated ON quota_records(updated_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteCounterStore) prepareStatements() error {
	var err error

	s.saveStmt, err = s.db.Prepare(`
		INSERT INTO quota_records (subject, daily_count, daily_reset_at, monthly_count, monthly_reset_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (subject) DO UPDATE SET
			daily_count = excluded.daily_count,
			daily_reset_at = excluded.daily_reset_at,
			monthly_count = excluded.monthly_count,
			monthly_reset_at = excluded.monthly_reset_at,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare save statement: %w", err)
	}

	s.loadStmt, err = s.db.Prepare(`
		SELECT subject, daily_count, daily_reset_at, monthly_count, monthly_reset_at, updated_at
		FROM quota_records
		WHERE subject = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare load statement: %w", err)
	}

	s.deleteStmt, err = s.db.Prepare(`DELETE FROM quota_records WHERE subject = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete statement: %w", err)
	}

	return nil
}

// LoadQuota implements CounterStore.
func (s *SQLiteCounterStore) LoadQuota(ctx context.Context, subject string) (*QuotaRecord, error) {
	if subject == "" {
		return nil, fmt.Errorf("subject cannot be empty")
	}

	var (
		rec            QuotaRecord
		dailyResetAt   int64
		monthlyResetAt int64
		updatedAt      int64
	)

	err := s.loadStmt.QueryRowContext(ctx, subject).Scan(
		&rec.Subject,
		&rec.DailyCount,
		&dailyResetAt,
		&rec.MonthlyCount,
		&monthlyResetAt,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load quota record: %w", err)
	}

	rec.DailyResetAt = time.Unix(dailyResetAt, 0).UTC()
	rec.MonthlyResetAt = time.Unix(monthlyResetAt, 0).UTC()
	rec.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	return &rec, nil
}

// SaveQuota implements CounterStore.
func (s *SQLiteCounterStore) SaveQuota(ctx context.Context, rec *QuotaRecord) error {
	if rec == nil {
		return fmt.Errorf("record cannot be nil")
	}
	if rec.Subject == "" {
		return fmt.Errorf("subject cannot be empty")
	}

	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err := s.saveStmt.ExecContext(ctx,
		rec.Subject,
		rec.DailyCount,
		rec.DailyResetAt.Unix(),
		rec.MonthlyCount,
		rec.MonthlyResetAt.Unix(),
		updatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save quota record: %w", err)
	}

	return nil
}

// DeleteQuota implements CounterStore.
func (s *SQLiteCounterStore) DeleteQuota(ctx context.Context, subject string) error {
	if subject == "" {
		return fmt.Errorf("subject cannot be empty")
	}

	if _, err := s.deleteStmt.ExecContext(ctx, subject); err != nil {
		return fmt.Errorf("failed to delete quota record: %w", err)
	}
	return nil
}

// Close releases the store's resources. Close is idempotent.
func (s *SQLiteCounterStore) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		close(s.done)

		if s.saveStmt != nil {
			s.saveStmt.Close()
		}
		if s.loadStmt != nil {
			s.loadStmt.Close()
		}
		if s.deleteStmt != nil {
			s.deleteStmt.Close()
		}

		if s.db != nil {
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
			closeErr = s.db.Close()
		}
	})

	return closeErr
}

// checkpointLoop runs periodic WAL checkpoints.
func (s *SQLiteCounterStore) checkpointLoop() {
	ticker := time.NewTicker(s.checkpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
		case <-s.done:
			return
		}
	}
}
