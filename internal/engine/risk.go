package engine

import (
	"log/slog"
	"math"

	"strategylab/internal/domain"
)

// RiskManager overrides a lagged position series with stop-loss and
// take-profit exits. Thresholds are checked against each held bar's close.
type RiskManager struct {
	stopLoss   *float64
	takeProfit *float64
	log        *slog.Logger
}

// NewRiskManager creates a RiskManager with the given thresholds.
//
//   - stopLoss: negative fraction of the entry price (e.g. -0.05 for 5%);
//     nil disables it.
//   - takeProfit: positive fraction of the entry price (e.g. 0.10 for 10%);
//     nil disables it.
func NewRiskManager(stopLoss, takeProfit *float64, log *slog.Logger) *RiskManager {
	if log == nil {
		log = slog.Default()
	}
	return &RiskManager{
		stopLoss:   stopLoss,
		takeProfit: takeProfit,
		log:        log,
	}
}

// Enabled reports whether any threshold is configured.
func (rm *RiskManager) Enabled() bool {
	return rm.stopLoss != nil || rm.takeProfit != nil
}

// Apply walks the held bars once, left to right, forcing the position flat
// on any bar whose close breaches a threshold. It mutates pos and records the
// exit reason on every bar it flattens and the fill price on every held bar
// it closes. Natural exits are left for the caller to tag.
func (rm *RiskManager) Apply(bars []domain.Bar, pos []domain.Position, reasons []domain.ExitReason, execPrice []float64) {
	if !rm.Enabled() {
		return
	}

	var entry float64
	for i := range pos {
		if pos[i] != domain.PositionLong {
			continue
		}
		entering := i == 0 || pos[i-1] == domain.PositionFlat
		if entering {
			entry = bars[i].Open
		}
		// Unusable entry price; leave the signal in charge.
		if entry <= 0 {
			continue
		}

		pnl := bars[i].Close/entry - 1
		var (
			reason    domain.ExitReason
			threshold float64
		)
		switch {
		case rm.stopLoss != nil && pnl <= *rm.stopLoss:
			reason, threshold = domain.ExitStopLoss, *rm.stopLoss
		case rm.takeProfit != nil && pnl >= *rm.takeProfit:
			reason, threshold = domain.ExitTakeProfit, *rm.takeProfit
		default:
			continue
		}

		pos[i] = domain.PositionFlat
		reasons[i] = reason
		if entering {
			// Breached on the bar it would have opened: the position is never
			// held, so there is no round trip to close.
			rm.log.Debug("risk threshold hit on entry bar, entry cancelled",
				"time", bars[i].Timestamp, "reason", reason, "unrealized", pnl)
			continue
		}
		execPrice[i] = fillPrice(reason, entry*(1+threshold), bars[i].Open)
		rm.log.Debug("risk exit",
			"time", bars[i].Timestamp, "reason", reason, "entry", entry, "unrealized", pnl)
	}
}

// fillPrice is the fill of a resting stop or limit order at level. A bar
// that opens beyond the level fills at the open.
func fillPrice(reason domain.ExitReason, level, open float64) float64 {
	if reason == domain.ExitStopLoss {
		return math.Min(level, open)
	}
	return math.Max(level, open)
}
