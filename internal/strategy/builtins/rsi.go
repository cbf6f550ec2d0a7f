package builtins

import (
	"fmt"

	"strategylab/internal/domain"
	"strategylab/internal/indicator"
	"strategylab/internal/strategy"
)

var _ strategy.Strategy = (*RSIThreshold)(nil)

// RSIThreshold enters when the RSI drops below the oversold level and exits
// when it rises above either the overbought level or the midline. Either
// exit condition suffices; neither takes precedence.
type RSIThreshold struct {
	period     int
	oversold   float64
	overbought float64
	midline    float64
}

// NewRSIThreshold creates an RSIThreshold. All levels are on the 0-100 RSI
// scale and oversold must sit below overbought.
func NewRSIThreshold(period int, oversold, overbought, midline float64) (*RSIThreshold, error) {
	if period < 1 {
		return nil, fmt.Errorf("%w: rsi period %d must be at least 1", ErrInvalidParams, period)
	}
	for _, lv := range []float64{oversold, overbought, midline} {
		if !(lv >= 0 && lv <= 100) {
			return nil, fmt.Errorf("%w: rsi level %v outside [0, 100]", ErrInvalidParams, lv)
		}
	}
	if oversold >= overbought {
		return nil, fmt.Errorf("%w: oversold %v must be below overbought %v", ErrInvalidParams, oversold, overbought)
	}
	return &RSIThreshold{
		period:     period,
		oversold:   oversold,
		overbought: overbought,
		midline:    midline,
	}, nil
}

// Name returns "rsi".
func (s *RSIThreshold) Name() string { return NameRSIThreshold }

// Warmup returns period: the RSI needs period deltas.
func (s *RSIThreshold) Warmup() int { return s.period }

// Signals walks the bars once, carrying the flat/long state. Bars where the
// RSI is undefined (warmup, zero average loss) are flat and keep the state.
func (s *RSIThreshold) Signals(bars []domain.Bar) []domain.Signal {
	rsi := indicator.RSI(closes(bars), s.period)

	return walkLongFlat(len(bars), func(i int, long bool) (bool, bool) {
		v, ok := rsi.At(i)
		if !ok {
			return long, false
		}
		if !long {
			return v < s.oversold, true
		}
		exit := v > s.overbought || v > s.midline
		return !exit, true
	})
}
