package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"strategylab/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ RunStore = (*SQLiteStore)(nil)

// SQLiteStore implements RunStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id               TEXT PRIMARY KEY,
		strategy         TEXT NOT NULL,
		symbol           TEXT NOT NULL,
		start_ms         INTEGER NOT NULL,
		end_ms           INTEGER NOT NULL,
		bars             INTEGER NOT NULL,
		initial_capital  REAL NOT NULL,
		final_equity     REAL NOT NULL,
		benchmark_equity REAL NOT NULL,
		total_return     REAL NOT NULL,
		cagr             REAL NOT NULL,
		sharpe           REAL NOT NULL,
		max_drawdown     REAL NOT NULL,
		total_trades     INTEGER NOT NULL,
		config_json      TEXT NOT NULL,
		created_ms       INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_ms)`,
	`CREATE TABLE IF NOT EXISTS trades (
		run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		seq         INTEGER NOT NULL,
		entry_ms    INTEGER NOT NULL,
		entry_price REAL NOT NULL,
		exit_ms     INTEGER NOT NULL,
		exit_price  REAL NOT NULL,
		shares      REAL NOT NULL,
		gross_pnl   REAL NOT NULL,
		cost        REAL NOT NULL,
		net_pnl     REAL NOT NULL,
		return_pct  REAL NOT NULL,
		exit_reason TEXT NOT NULL,
		PRIMARY KEY (run_id, seq)
	)`,
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating database dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)

	for _, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrating %s: %w", dbPath, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// RunStore implementation
// ---------------------------------------------------------------------------

// SaveRun inserts the run and its trades in one transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *domain.RunRecord, trades []domain.Trade) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `INSERT INTO runs (
		id, strategy, symbol, start_ms, end_ms, bars, initial_capital,
		final_equity, benchmark_equity, total_return, cagr, sharpe,
		max_drawdown, total_trades, config_json, created_ms
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Strategy, run.Symbol, run.Start.UnixMilli(), run.End.UnixMilli(),
		run.Bars, run.InitialCapital, run.FinalEquity, run.BenchmarkEquity,
		run.TotalReturn, run.CAGR, run.Sharpe, run.MaxDrawdown, run.TotalTrades,
		run.ConfigJSON, run.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO trades (
		run_id, seq, entry_ms, entry_price, exit_ms, exit_price, shares,
		gross_pnl, cost, net_pnl, return_pct, exit_reason
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, t := range trades {
		if _, err := stmt.ExecContext(ctx,
			run.ID, i, t.EntryTime.UnixMilli(), t.EntryPrice, t.ExitTime.UnixMilli(),
			t.ExitPrice, t.Shares, t.GrossPnL, t.Cost, t.NetPnL, t.ReturnPct,
			string(t.ExitReason),
		); err != nil {
			return fmt.Errorf("inserting trade %d of run %s: %w", i, run.ID, err)
		}
	}
	return tx.Commit()
}

const runColumns = `id, strategy, symbol, start_ms, end_ms, bars, initial_capital,
	final_equity, benchmark_equity, total_return, cagr, sharpe, max_drawdown,
	total_trades, config_json, created_ms`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (domain.RunRecord, error) {
	var r domain.RunRecord
	var startMs, endMs, createdMs int64
	err := row.Scan(
		&r.ID, &r.Strategy, &r.Symbol, &startMs, &endMs, &r.Bars, &r.InitialCapital,
		&r.FinalEquity, &r.BenchmarkEquity, &r.TotalReturn, &r.CAGR, &r.Sharpe,
		&r.MaxDrawdown, &r.TotalTrades, &r.ConfigJSON, &createdMs,
	)
	if err != nil {
		return r, err
	}
	r.Start = time.UnixMilli(startMs).UTC()
	r.End = time.UnixMilli(endMs).UTC()
	r.CreatedAt = time.UnixMilli(createdMs).UTC()
	return r, nil
}

// GetRun retrieves a single run by its ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*domain.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRuns returns runs newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY created_ms DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListTrades returns the trades of a run in ledger order.
func (s *SQLiteStore) ListTrades(ctx context.Context, runID string) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		entry_ms, entry_price, exit_ms, exit_price, shares, gross_pnl, cost,
		net_pnl, return_pct, exit_reason
		FROM trades WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	trades := []domain.Trade{}
	for rows.Next() {
		var t domain.Trade
		var entryMs, exitMs int64
		var reason string
		if err := rows.Scan(&entryMs, &t.EntryPrice, &exitMs, &t.ExitPrice, &t.Shares,
			&t.GrossPnL, &t.Cost, &t.NetPnL, &t.ReturnPct, &reason); err != nil {
			return nil, err
		}
		t.EntryTime = time.UnixMilli(entryMs).UTC()
		t.ExitTime = time.UnixMilli(exitMs).UTC()
		t.ExitReason = domain.ExitReason(reason)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
