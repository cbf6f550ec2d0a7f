package engine

import (
	"math"

	"strategylab/internal/domain"
)

// Returns holds the per-bar return and equity series of one run.
type Returns struct {
	Market         []float64
	Strategy       []float64
	Cost           []float64
	MarketEquity   []float64
	StrategyEquity []float64
}

// Account derives open-to-open returns and compounded equity for the
// strategy and a fully invested benchmark. A one-sided cost of
// TransactionCost*PositionSize is deducted on every bar the position
// changes. Undefined returns (the first bar, a zero previous open) are 0 so
// both curves keep the full length.
func Account(bars []domain.Bar, pos []domain.Position, cfg Config) Returns {
	n := len(bars)
	r := Returns{
		Market:         make([]float64, n),
		Strategy:       make([]float64, n),
		Cost:           make([]float64, n),
		MarketEquity:   make([]float64, n),
		StrategyEquity: make([]float64, n),
	}
	dividend := cfg.DividendYield / TradingDaysPerYear

	marketGrowth, strategyGrowth := 1.0, 1.0
	for i := 0; i < n; i++ {
		if i > 0 {
			if prev := bars[i-1].Open; prev != 0 {
				if m := bars[i].Open/prev - 1 + dividend; !math.IsNaN(m) && !math.IsInf(m, 0) {
					r.Market[i] = m
				}
			}
			if pos[i] != pos[i-1] {
				r.Cost[i] = cfg.TransactionCost * cfg.PositionSize
			}
		}
		if pos[i] == domain.PositionLong {
			r.Strategy[i] = r.Market[i] * cfg.PositionSize
		}
		r.Strategy[i] -= r.Cost[i]

		marketGrowth *= 1 + r.Market[i]
		strategyGrowth *= 1 + r.Strategy[i]
		r.MarketEquity[i] = cfg.InitialCapital * marketGrowth
		r.StrategyEquity[i] = cfg.InitialCapital * strategyGrowth
	}
	return r
}
