// Package domain defines the core value types shared across the backtesting
// platform: price bars, signals, positions, trades and per-bar results.
package domain

import "time"

// Market identifies the exchange region a symbol trades in. It only affects
// where bars are stored on disk.
type Market string

const (
	MarketUS Market = "us"
	MarketIN Market = "in"
)

// Bar is one daily OHLCV record. Bars are immutable once loaded.
type Bar struct {
	Symbol    string
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// Signal is the desired exposure computed at a bar's close.
type Signal int8

const (
	SignalFlat Signal = 0
	SignalLong Signal = 1
)

// Position is the exposure actually held during a bar.
type Position int8

const (
	PositionFlat Position = 0
	PositionLong Position = 1
)

// ExitReason records why a position was closed on a bar. The zero value means
// no exit happened on that bar.
type ExitReason string

const (
	ExitNone       ExitReason = ""
	ExitSignal     ExitReason = "Signal"
	ExitStopLoss   ExitReason = "StopLoss"
	ExitTakeProfit ExitReason = "TakeProfit"
	ExitEndOfData  ExitReason = "EndOfData"
)

// Trade is one completed long round trip.
type Trade struct {
	EntryTime  time.Time  `json:"entry_time"`
	EntryPrice float64    `json:"entry_price"`
	ExitTime   time.Time  `json:"exit_time"`
	ExitPrice  float64    `json:"exit_price"`
	Shares     float64    `json:"shares"`
	GrossPnL   float64    `json:"gross_pnl"`
	Cost       float64    `json:"cost"`
	NetPnL     float64    `json:"net_pnl"`
	ReturnPct  float64    `json:"return_pct"`
	ExitReason ExitReason `json:"exit_reason"`
}

// Duration returns the calendar time the trade was held.
func (t Trade) Duration() time.Duration {
	return t.ExitTime.Sub(t.EntryTime)
}

// BarResult is one row of the augmented per-bar backtest output.
type BarResult struct {
	Timestamp      time.Time  `json:"timestamp"`
	Open           float64    `json:"open"`
	High           float64    `json:"high"`
	Low            float64    `json:"low"`
	Close          float64    `json:"close"`
	Signal         Signal     `json:"signal"`
	Position       Position   `json:"position"`
	ExecPrice      float64    `json:"exec_price"`
	ExitReason     ExitReason `json:"exit_reason,omitempty"`
	MarketReturn   float64    `json:"market_return"`
	StrategyReturn float64    `json:"strategy_return"`
	Cost           float64    `json:"cost"`
	MarketEquity   float64    `json:"market_equity"`
	StrategyEquity float64    `json:"strategy_equity"`
}

// RunRecord is the persisted summary of a single backtest run.
type RunRecord struct {
	ID              string    `json:"id"`
	Strategy        string    `json:"strategy"`
	Symbol          string    `json:"symbol"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	Bars            int       `json:"bars"`
	InitialCapital  float64   `json:"initial_capital"`
	FinalEquity     float64   `json:"final_equity"`
	BenchmarkEquity float64   `json:"benchmark_equity"`
	TotalReturn     float64   `json:"total_return"`
	CAGR            float64   `json:"cagr"`
	Sharpe          float64   `json:"sharpe"`
	MaxDrawdown     float64   `json:"max_drawdown"`
	TotalTrades     int       `json:"total_trades"`
	ConfigJSON      string    `json:"config"`
	CreatedAt       time.Time `json:"created_at"`
}
