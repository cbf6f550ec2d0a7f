// Package store defines storage interfaces for daily bars, per-bar backtest
// results and persisted backtest runs, with Parquet, SQLite and CSV backends.
package store

import (
	"context"
	"errors"
	"time"

	"strategylab/internal/domain"
)

// ErrRunNotFound is returned when a run ID has no stored record.
var ErrRunNotFound = errors.New("run not found")

// BarStore persists and retrieves daily OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars under the given market, merging
	// with bars already stored for the same symbol and day.
	WriteBars(ctx context.Context, market domain.Market, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol and market within
	// [start, end], ordered by timestamp.
	ReadBars(ctx context.Context, symbol string, market domain.Market, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in the given market.
	ListSymbols(ctx context.Context, market domain.Market) ([]string, error)
}

// ResultStore persists the per-bar output frame of a backtest run.
type ResultStore interface {
	// WriteResults stores rows under runID, replacing any earlier frame.
	WriteResults(ctx context.Context, runID string, rows []domain.BarResult) error

	// ReadResults returns the frame stored under runID.
	ReadResults(ctx context.Context, runID string) ([]domain.BarResult, error)
}

// RunStore persists backtest run summaries and their trade ledgers.
type RunStore interface {
	// SaveRun inserts a run and its trades atomically.
	SaveRun(ctx context.Context, run *domain.RunRecord, trades []domain.Trade) error

	// GetRun retrieves a single run by ID, or ErrRunNotFound.
	GetRun(ctx context.Context, id string) (*domain.RunRecord, error)

	// ListRuns returns the most recent runs first, up to limit (<= 0 means
	// no limit).
	ListRuns(ctx context.Context, limit int) ([]domain.RunRecord, error)

	// ListTrades returns the trade ledger of a run in entry order.
	ListTrades(ctx context.Context, runID string) ([]domain.Trade, error)
}
