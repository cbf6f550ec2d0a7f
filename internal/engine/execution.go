package engine

import (
	"log/slog"

	"strategylab/internal/domain"
)

// Execution is the realized position series of one run, together with the
// fill price and exit tag of every bar.
type Execution struct {
	Positions   []domain.Position
	ExecPrices  []float64
	ExitReasons []domain.ExitReason
}

// Execute converts a raw signal series into held positions:
//
//  1. one-bar lag, Position[t] = Signal[t-1] and Position[0] = flat;
//  2. stop-loss / take-profit overrides from rm;
//  3. forced closure of a position still open on the final bar.
//
// Fills default to each bar's open. len(signals) must equal len(bars).
func Execute(bars []domain.Bar, signals []domain.Signal, rm *RiskManager, log *slog.Logger) Execution {
	if log == nil {
		log = slog.Default()
	}
	n := len(bars)
	ex := Execution{
		Positions:   make([]domain.Position, n),
		ExecPrices:  make([]float64, n),
		ExitReasons: make([]domain.ExitReason, n),
	}
	if n == 0 {
		return ex
	}

	for i := range bars {
		ex.ExecPrices[i] = bars[i].Open
		if i > 0 && signals[i-1] == domain.SignalLong {
			ex.Positions[i] = domain.PositionLong
		}
	}

	if rm != nil {
		rm.Apply(bars, ex.Positions, ex.ExitReasons, ex.ExecPrices)
	}

	last := n - 1
	if ex.Positions[last] == domain.PositionLong {
		ex.Positions[last] = domain.PositionFlat
		if last > 0 && ex.Positions[last-1] == domain.PositionLong {
			ex.ExitReasons[last] = domain.ExitEndOfData
			log.Info("position still open on final bar, forcing closure",
				"time", bars[last].Timestamp, "price", ex.ExecPrices[last])
		}
	}

	// Every remaining untagged 1->0 transition is a signal exit.
	for i := 1; i < n; i++ {
		if ex.Positions[i-1] == domain.PositionLong && ex.Positions[i] == domain.PositionFlat && ex.ExitReasons[i] == domain.ExitNone {
			ex.ExitReasons[i] = domain.ExitSignal
		}
	}
	return ex
}
