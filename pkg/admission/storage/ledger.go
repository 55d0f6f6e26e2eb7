package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteLedger implements Ledger using SQLite. Entries are append-only;
// the only delete path is retention pruning. Aggregates are computed by
// SQL range queries so they stay consistent under concurrent writers.
type SQLiteLedger struct {
	db     *sql.DB
	logger *slog.Logger

	appendStmt     *sql.Stmt
	sumRangeStmt   *sql.Stmt
	sumModelStmt   *sql.Stmt
	countRangeStmt *sql.Stmt
	pruneStmt      *sql.Stmt
}

// SQLiteLedgerConfig configures the cost ledger.
type SQLiteLedgerConfig struct {
	// Path is the database file path.
	Path string

	// MaxOpenConns is the maximum number of open connections.
	// Default: 10
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultSQLiteLedgerConfig returns the default ledger configuration.
func DefaultSQLiteLedgerConfig() *SQLiteLedgerConfig {
	return &SQLiteLedgerConfig{
		Path:         "data/costs.db",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		BusyTimeout:  5 * time.Second,
	}
}

// NewSQLiteLedger opens a cost ledger, creating the schema if needed.
func NewSQLiteLedger(config *SQLiteLedgerConfig) (*SQLiteLedger, error) {
	if config == nil {
		config = DefaultSQLiteLedgerConfig()
	}
	if config.Path == "" {
		return nil, fmt.Errorf("ledger path cannot be empty")
	}
	if config.MaxOpenConns == 0 {
		config.MaxOpenConns = 10
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 5
	}
	if config.BusyTimeout == 0 {
		config.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d",
		config.Path, int(config.BusyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)

	l := &SQLiteLedger{
		db:     db,
		logger: slog.Default().With("component", "admission.storage.ledger"),
	}

	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	if err := l.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}

	return l, nil
}

func (l *SQLiteLedger) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cost_entries (
		id TEXT PRIMARY KEY,
		subject TEXT NOT NULL,
		conversation_ref TEXT,
		model TEXT NOT NULL,
		channel TEXT,
		input_tokens INTEGER NOT NULL,
		output_tokens INTEGER NOT NULL,
		cost_usd REAL NOT NULL,
		timestamp INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_cost_subject_time ON cost_entries(subject, timestamp);
	CREATE INDEX IF NOT EXISTS idx_cost_time ON cost_entries(timestamp);
	`

	if _, err := l.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize ledger schema: %w", err)
	}
	return nil
}

func (l *SQLiteLedger) prepareStatements() error {
	var err error

	l.appendStmt, err = l.db.Prepare(`
		INSERT INTO cost_entries (id, subject, conversation_ref, model, channel, input_tokens, output_tokens, cost_usd, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare append statement: %w", err)
	}

	l.sumRangeStmt, err = l.db.Prepare(`
		SELECT COALESCE(SUM(cost_usd), 0)
		FROM cost_entries
		WHERE subject = ? AND timestamp >= ? AND timestamp < ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare sum statement: %w", err)
	}

	l.sumModelStmt, err = l.db.Prepare(`
		SELECT model, SUM(cost_usd)
		FROM cost_entries
		WHERE subject = ?
		GROUP BY model
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare model sum statement: %w", err)
	}

	l.countRangeStmt, err = l.db.Prepare(`
		SELECT COUNT(*)
		FROM cost_entries
		WHERE subject = ? AND timestamp >= ? AND timestamp < ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare count statement: %w", err)
	}

	l.pruneStmt, err = l.db.Prepare(`DELETE FROM cost_entries WHERE timestamp < ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare prune statement: %w", err)
	}

	return nil
}

// Append implements Ledger.
func (l *SQLiteLedger) Append(ctx context.Context, entry *CostEntry) error {
	if entry == nil {
		return fmt.Errorf("entry cannot be nil")
	}
	if entry.Subject == "" {
		return fmt.Errorf("subject cannot be empty")
	}

	_, err := l.appendStmt.ExecContext(ctx,
		entry.ID,
		entry.Subject,
		entry.ConversationRef,
		entry.Model,
		entry.Channel,
		entry.InputTokens,
		entry.OutputTokens,
		entry.CostUSD,
		entry.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to append cost entry: %w", err)
	}
	return nil
}

// SumRange implements Ledger.
func (l *SQLiteLedger) SumRange(ctx context.Context, subject string, from, to time.Time) (float64, error) {
	fromNanos := int64(0)
	if !from.IsZero() {
		fromNanos = from.UnixNano()
	}

	var sum float64
	err := l.sumRangeStmt.QueryRowContext(ctx, subject, fromNanos, to.UnixNano()).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum cost range: %w", err)
	}
	return sum, nil
}

// SumByModel implements Ledger.
func (l *SQLiteLedger) SumByModel(ctx context.Context, subject string) (map[string]float64, error) {
	rows, err := l.sumModelStmt.QueryContext(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("failed to sum by model: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]float64)
	for rows.Next() {
		var (
			model string
			sum   float64
		)
		if err := rows.Scan(&model, &sum); err != nil {
			return nil, fmt.Errorf("failed to scan model sum: %w", err)
		}
		totals[model] = sum
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating model sums: %w", err)
	}

	return totals, nil
}

// CountRange implements Ledger.
func (l *SQLiteLedger) CountRange(ctx context.Context, subject string, from, to time.Time) (int64, error) {
	fromNanos := int64(0)
	if !from.IsZero() {
		fromNanos = from.UnixNano()
	}

	var n int64
	err := l.countRangeStmt.QueryRowContext(ctx, subject, fromNanos, to.UnixNano()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count cost range: %w", err)
	}
	return n, nil
}

// Prune implements Ledger.
func (l *SQLiteLedger) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	result, err := l.pruneStmt.ExecContext(ctx, olderThan.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune ledger: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if deleted > 0 {
		l.logger.Info("pruned cost ledger", "deleted", deleted, "older_than", olderThan)
	}

	return int(deleted), nil
}

// Close releases the ledger's resources.
func (l *SQLiteLedger) Close() error {
	for _, stmt := range []*sql.Stmt{l.appendStmt, l.sumRangeStmt, l.sumModelStmt, l.countRangeStmt, l.pruneStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}
