package engine

import (
	"strategylab/internal/domain"
)

// BuildLedger reconstructs the round trips of a finalized execution in one
// left-to-right pass. Each trade deploys capital*PositionSize and is charged
// the per-side cost twice, independently of the per-bar cost the return
// series deducts.
func BuildLedger(bars []domain.Bar, ex Execution, cfg Config) []domain.Trade {
	trades := make([]domain.Trade, 0)

	var (
		inTrade    bool
		entryIdx   int
		entryPrice float64
	)
	for i := range ex.Positions {
		switch {
		case ex.Positions[i] == domain.PositionLong && !inTrade:
			inTrade = true
			entryIdx = i
			entryPrice = ex.ExecPrices[i]
		case ex.Positions[i] == domain.PositionFlat && inTrade:
			inTrade = false
			reason := ex.ExitReasons[i]
			if reason == domain.ExitNone {
				reason = domain.ExitSignal
			}
			trades = append(trades, closeTrade(cfg, bars[entryIdx], entryPrice, bars[i], ex.ExecPrices[i], reason))
		}
	}

	// Execute always flattens the final bar; this only fires for executions
	// assembled by hand.
	if inTrade {
		last := len(bars) - 1
		trades = append(trades, closeTrade(cfg, bars[entryIdx], entryPrice, bars[last], ex.ExecPrices[last], domain.ExitEndOfData))
	}
	return trades
}

func closeTrade(cfg Config, entryBar domain.Bar, entryPrice float64, exitBar domain.Bar, exitPrice float64, reason domain.ExitReason) domain.Trade {
	notional := cfg.InitialCapital * cfg.PositionSize
	t := domain.Trade{
		EntryTime:  entryBar.Timestamp,
		EntryPrice: entryPrice,
		ExitTime:   exitBar.Timestamp,
		ExitPrice:  exitPrice,
		Cost:       notional * cfg.TransactionCost * 2,
		ExitReason: reason,
	}
	if entryPrice > 0 {
		t.Shares = notional / entryPrice
		t.GrossPnL = (exitPrice - entryPrice) * t.Shares
		t.ReturnPct = exitPrice/entryPrice - 1 - 2*cfg.TransactionCost
	}
	t.NetPnL = t.GrossPnL - t.Cost
	return t
}
