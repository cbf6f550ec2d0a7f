// Package engine simulates long/flat execution of a signal series over daily
// bars: one-bar execution lag, risk exits, trade ledger and return/equity
// accounting, without look-ahead.
package engine

import (
	"fmt"
	"log/slog"

	"strategylab/internal/domain"
)

// SignalGenerator produces a raw signal per bar using only data up to and
// including that bar.
type SignalGenerator interface {
	Name() string
	Signals(bars []domain.Bar) []domain.Signal
}

// Result is the complete output of a backtest run.
type Result struct {
	Strategy string             `json:"strategy"`
	Config   Config             `json:"config"`
	Bars     []domain.BarResult `json:"bars"`
	Trades   []domain.Trade     `json:"trades"`
}

// FinalEquity returns the last strategy equity value, or the initial capital
// for an empty result.
func (r *Result) FinalEquity() float64 {
	if len(r.Bars) == 0 {
		return r.Config.InitialCapital
	}
	return r.Bars[len(r.Bars)-1].StrategyEquity
}

// BenchmarkEquity returns the last benchmark equity value.
func (r *Result) BenchmarkEquity() float64 {
	if len(r.Bars) == 0 {
		return r.Config.InitialCapital
	}
	return r.Bars[len(r.Bars)-1].MarketEquity
}

// Engine runs backtests under one validated Config. It keeps no state
// between runs, so a single Engine may serve concurrent callers.
type Engine struct {
	cfg  Config
	risk *RiskManager
	log  *slog.Logger
}

// New validates cfg and returns an Engine. A nil logger falls back to the
// default slog logger.
func New(cfg Config, log *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "engine")
	return &Engine{
		cfg:  cfg,
		risk: NewRiskManager(cfg.StopLoss, cfg.TakeProfit, log),
		log:  log,
	}, nil
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config { return e.cfg }

// Run backtests gen over bars. The input slice is copied, never modified.
func (e *Engine) Run(gen SignalGenerator, bars []domain.Bar) (*Result, error) {
	if len(bars) == 0 {
		return nil, ErrNoBars
	}
	for i := 1; i < len(bars); i++ {
		if !bars[i].Timestamp.After(bars[i-1].Timestamp) {
			return nil, fmt.Errorf("%w: bar %d at %s follows %s", ErrUnorderedBars,
				i, bars[i].Timestamp.Format("2006-01-02"), bars[i-1].Timestamp.Format("2006-01-02"))
		}
	}
	own := make([]domain.Bar, len(bars))
	copy(own, bars)

	signals := gen.Signals(own)
	if len(signals) != len(own) {
		return nil, fmt.Errorf("%w: %s returned %d signals for %d bars", ErrSignalLength, gen.Name(), len(signals), len(own))
	}

	log := e.log.With("strategy", gen.Name())
	ex := Execute(own, signals, e.risk, log)
	trades := BuildLedger(own, ex, e.cfg)
	rets := Account(own, ex.Positions, e.cfg)

	rows := make([]domain.BarResult, len(own))
	for i, b := range own {
		rows[i] = domain.BarResult{
			Timestamp:      b.Timestamp,
			Open:           b.Open,
			High:           b.High,
			Low:            b.Low,
			Close:          b.Close,
			Signal:         signals[i],
			Position:       ex.Positions[i],
			ExecPrice:      ex.ExecPrices[i],
			ExitReason:     ex.ExitReasons[i],
			MarketReturn:   rets.Market[i],
			StrategyReturn: rets.Strategy[i],
			Cost:           rets.Cost[i],
			MarketEquity:   rets.MarketEquity[i],
			StrategyEquity: rets.StrategyEquity[i],
		}
	}

	res := &Result{
		Strategy: gen.Name(),
		Config:   e.cfg,
		Bars:     rows,
		Trades:   trades,
	}
	log.Debug("backtest complete",
		"bars", len(rows),
		"trades", len(trades),
		"final_equity", res.FinalEquity(),
	)
	return res, nil
}
