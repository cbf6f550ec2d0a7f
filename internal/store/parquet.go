package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"strategylab/internal/domain"
)

// Compile-time interface checks.
var _ BarStore = (*ParquetStore)(nil)
var _ ResultStore = (*ParquetStore)(nil)

// ParquetStore implements BarStore and ResultStore using Parquet files on
// disk.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// BarRecord is the Parquet schema for daily bar data.
type BarRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    int64   `parquet:"volume"`
}

// ResultRecord is the Parquet schema for one row of a backtest result frame.
type ResultRecord struct {
	Timestamp      int64   `parquet:"timestamp,timestamp(millisecond)"`
	Open           float64 `parquet:"open"`
	High           float64 `parquet:"high"`
	Low            float64 `parquet:"low"`
	Close          float64 `parquet:"close"`
	Signal         int32   `parquet:"signal"`
	Position       int32   `parquet:"position"`
	ExecPrice      float64 `parquet:"exec_price"`
	ExitReason     string  `parquet:"exit_reason"`
	MarketReturn   float64 `parquet:"market_return"`
	StrategyReturn float64 `parquet:"strategy_return"`
	Cost           float64 `parquet:"cost"`
	MarketEquity   float64 `parquet:"market_equity"`
	StrategyEquity float64 `parquet:"strategy_equity"`
}

// ---------------------------------------------------------------------------
// BarStore implementation
// ---------------------------------------------------------------------------

// WriteBars writes bar data to Parquet files organized by symbol and year.
// Each symbol+year combination produces a separate file at:
//
//	<DataDir>/<market>/daily/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) WriteBars(_ context.Context, market domain.Market, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	type key struct {
		symbol string
		year   int
	}
	groups := make(map[key][]BarRecord)
	for _, b := range bars {
		k := key{symbol: strings.ToUpper(b.Symbol), year: b.Timestamp.UTC().Year()}
		groups[k] = append(groups[k], BarRecord{
			Symbol:    k.symbol,
			Timestamp: b.Timestamp.UnixMilli(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})
	}

	for k, records := range groups {
		path := s.barPath(k.symbol, market, k.year)

		existing, err := readParquetFile[BarRecord](path)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("reading existing bars for %s/%d: %w", k.symbol, k.year, err)
		}
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%d: %w", k.symbol, k.year, err)
		}
	}
	return nil
}

// ReadBars reads bar data from Parquet files for the given symbol and time
// range. Missing year files are skipped.
func (s *ParquetStore) ReadBars(_ context.Context, symbol string, market domain.Market, start, end time.Time) ([]domain.Bar, error) {
	var bars []domain.Bar
	for year := start.UTC().Year(); year <= end.UTC().Year(); year++ {
		path := s.barPath(symbol, market, year)

		records, err := readParquetFile[BarRecord](path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("reading bars for %s/%d: %w", symbol, year, err)
		}

		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp).UTC()
			if ts.Before(start) || ts.After(end) {
				continue
			}
			bars = append(bars, domain.Bar{
				Symbol:    r.Symbol,
				Timestamp: ts,
				Open:      r.Open,
				High:      r.High,
				Low:       r.Low,
				Close:     r.Close,
				Volume:    r.Volume,
			})
		}
	}
	return bars, nil
}

// ListSymbols lists all symbols that have bar data in the given market.
func (s *ParquetStore) ListSymbols(_ context.Context, market domain.Market) ([]string, error) {
	dir := filepath.Join(s.DataDir, string(market), "daily")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// ---------------------------------------------------------------------------
// ResultStore implementation
// ---------------------------------------------------------------------------

// WriteResults writes the per-bar result frame of a run to
// <DataDir>/results/<runID>.parquet.
func (s *ParquetStore) WriteResults(_ context.Context, runID string, rows []domain.BarResult) error {
	records := make([]ResultRecord, len(rows))
	for i, r := range rows {
		records[i] = ResultRecord{
			Timestamp:      r.Timestamp.UnixMilli(),
			Open:           r.Open,
			High:           r.High,
			Low:            r.Low,
			Close:          r.Close,
			Signal:         int32(r.Signal),
			Position:       int32(r.Position),
			ExecPrice:      r.ExecPrice,
			ExitReason:     string(r.ExitReason),
			MarketReturn:   r.MarketReturn,
			StrategyReturn: r.StrategyReturn,
			Cost:           r.Cost,
			MarketEquity:   r.MarketEquity,
			StrategyEquity: r.StrategyEquity,
		}
	}
	if err := writeParquetFile(s.resultPath(runID), records); err != nil {
		return fmt.Errorf("writing results for run %s: %w", runID, err)
	}
	return nil
}

// ReadResults reads a result frame written by WriteResults. A missing file
// yields ErrRunNotFound.
func (s *ParquetStore) ReadResults(_ context.Context, runID string) ([]domain.BarResult, error) {
	records, err := readParquetFile[ResultRecord](s.resultPath(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("results for %s: %w", runID, ErrRunNotFound)
		}
		return nil, err
	}

	rows := make([]domain.BarResult, len(records))
	for i, r := range records {
		rows[i] = domain.BarResult{
			Timestamp:      time.UnixMilli(r.Timestamp).UTC(),
			Open:           r.Open,
			High:           r.High,
			Low:            r.Low,
			Close:          r.Close,
			Signal:         domain.Signal(r.Signal),
			Position:       domain.Position(r.Position),
			ExecPrice:      r.ExecPrice,
			ExitReason:     domain.ExitReason(r.ExitReason),
			MarketReturn:   r.MarketReturn,
			StrategyReturn: r.StrategyReturn,
			Cost:           r.Cost,
			MarketEquity:   r.MarketEquity,
			StrategyEquity: r.StrategyEquity,
		}
	}
	return rows, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// barPath returns the filesystem path for a bar Parquet file.
// Layout: <dataDir>/<market>/daily/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) barPath(symbol string, market domain.Market, year int) string {
	return filepath.Join(s.DataDir, string(market), "daily", strings.ToUpper(symbol), fmt.Sprintf("%d.parquet", year))
}

// resultPath returns the filesystem path for a result frame.
// Layout: <dataDir>/results/<runID>.parquet
func (s *ParquetStore) resultPath(runID string) string {
	return filepath.Join(s.DataDir, "results", filepath.Base(runID)+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return parquet.ReadFile[T](path)
}

// mergeBarRecords deduplicates bar records by (symbol, timestamp), preferring
// new records over existing ones.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	type key struct {
		symbol string
		ts     int64
	}
	seen := make(map[key]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Timestamp}] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
