package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the engine. Callers match them with errors.Is.
var (
	ErrInvalidConfig = errors.New("invalid engine configuration")
	ErrNoBars        = errors.New("no bars to backtest")
	ErrUnorderedBars = errors.New("bar timestamps must be strictly increasing")
	ErrSignalLength  = errors.New("signal series length does not match bars")
)

// TradingDaysPerYear converts the annual dividend yield into a per-bar add-on.
const TradingDaysPerYear = 252

// Config holds the execution and accounting parameters of a backtest run.
type Config struct {
	InitialCapital  float64  `json:"initial_capital" yaml:"initial_capital"`
	TransactionCost float64  `json:"transaction_cost" yaml:"transaction_cost"` // per side, fraction of notional
	StopLoss        *float64 `json:"stop_loss,omitempty" yaml:"stop_loss"`     // negative fraction, nil disables
	TakeProfit      *float64 `json:"take_profit,omitempty" yaml:"take_profit"` // positive fraction, nil disables
	PositionSize    float64  `json:"position_size" yaml:"position_size"`       // 0 < f <= 1
	DividendYield   float64  `json:"dividend_yield" yaml:"dividend_yield"`     // annual, benchmark only
}

// DefaultConfig returns the documented defaults: 100,000 capital, 10 bps per
// side, fully invested, 1.5% benchmark dividend yield and no risk exits.
func DefaultConfig() Config {
	return Config{
		InitialCapital:  100_000,
		TransactionCost: 0.001,
		PositionSize:    1.0,
		DividendYield:   0.015,
	}
}

// Float returns a pointer to v, for populating optional thresholds.
func Float(v float64) *float64 { return &v }

// Validate rejects nonsensical parameters. Values are never clamped.
func (c Config) Validate() error {
	if !(c.InitialCapital > 0) {
		return fmt.Errorf("%w: initial capital %v must be positive", ErrInvalidConfig, c.InitialCapital)
	}
	if !(c.PositionSize > 0 && c.PositionSize <= 1) {
		return fmt.Errorf("%w: position size %v outside (0, 1]", ErrInvalidConfig, c.PositionSize)
	}
	if !(c.TransactionCost >= 0 && c.TransactionCost < 1) {
		return fmt.Errorf("%w: transaction cost %v outside [0, 1)", ErrInvalidConfig, c.TransactionCost)
	}
	if !(c.DividendYield >= 0) {
		return fmt.Errorf("%w: dividend yield %v must not be negative", ErrInvalidConfig, c.DividendYield)
	}
	if c.StopLoss != nil {
		if sl := *c.StopLoss; !(sl < 0 && sl > -1) {
			return fmt.Errorf("%w: stop loss %v must lie in (-1, 0)", ErrInvalidConfig, sl)
		}
	}
	if c.TakeProfit != nil {
		if tp := *c.TakeProfit; !(tp > 0) {
			return fmt.Errorf("%w: take profit %v must be positive", ErrInvalidConfig, tp)
		}
	}
	return nil
}

// HasRiskExits reports whether either stop-loss or take-profit is enabled.
func (c Config) HasRiskExits() bool {
	return c.StopLoss != nil || c.TakeProfit != nil
}
