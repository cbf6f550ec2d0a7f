package builtins

import (
	"fmt"

	"strategylab/internal/domain"
	"strategylab/internal/indicator"
	"strategylab/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*SMATrend)(nil)

// SMATrend is a trend-following rule: long while the close is above its
// simple moving average, flat otherwise.
type SMATrend struct {
	window int
}

// NewSMATrend creates an SMATrend with the given moving-average window.
func NewSMATrend(window int) (*SMATrend, error) {
	if window < 1 {
		return nil, fmt.Errorf("%w: sma window %d must be at least 1", ErrInvalidParams, window)
	}
	return &SMATrend{window: window}, nil
}

// Name returns "sma-trend".
func (s *SMATrend) Name() string { return NameSMATrend }

// Warmup returns window-1.
func (s *SMATrend) Warmup() int { return s.window - 1 }

// Signals is a pure per-bar comparison; bars without a defined average are
// flat.
func (s *SMATrend) Signals(bars []domain.Bar) []domain.Signal {
	c := closes(bars)
	sma := indicator.SMA(c, s.window)

	out := make([]domain.Signal, len(bars))
	for i := range c {
		if m, ok := sma.At(i); ok && c[i] > m {
			out[i] = domain.SignalLong
		}
	}
	return out
}
