package builtins

import (
	"fmt"

	"strategylab/internal/domain"
	"strategylab/internal/indicator"
	"strategylab/internal/strategy"
)

var _ strategy.Strategy = (*BandReversion)(nil)

// BandReversion buys a close below the lower Bollinger band and holds until
// the close recovers to the moving average.
type BandReversion struct {
	window int
	k      float64
}

// NewBandReversion creates a BandReversion over window bars with the lower
// band k sample standard deviations below the mean.
func NewBandReversion(window int, k float64) (*BandReversion, error) {
	if window < 2 {
		return nil, fmt.Errorf("%w: band window %d must be at least 2", ErrInvalidParams, window)
	}
	if !(k > 0) {
		return nil, fmt.Errorf("%w: band width %v must be positive", ErrInvalidParams, k)
	}
	return &BandReversion{window: window, k: k}, nil
}

// Name returns "mean-reversion".
func (s *BandReversion) Name() string { return NameBandReversion }

// Warmup returns window-1.
func (s *BandReversion) Warmup() int { return s.window - 1 }

// Signals walks the bars once, carrying the flat/long state.
func (s *BandReversion) Signals(bars []domain.Bar) []domain.Signal {
	c := closes(bars)
	sma := indicator.SMA(c, s.window)
	sd := indicator.StdDev(c, s.window)

	return walkLongFlat(len(c), func(i int, long bool) (bool, bool) {
		mean, ok := sma.At(i)
		if !ok {
			return long, false
		}
		dev, ok := sd.At(i)
		if !ok {
			return long, false
		}
		if !long {
			return c[i] < mean-s.k*dev, true
		}
		return c[i] < mean, true
	})
}
