// Package builtins provides the built-in long/flat strategy implementations
// that ship with strategylab.
package builtins

import (
	"errors"
	"fmt"

	"strategylab/internal/domain"
	"strategylab/internal/strategy"
)

// ErrInvalidParams is returned when a strategy is constructed with
// nonsensical parameters.
var ErrInvalidParams = errors.New("invalid strategy parameters")

// Strategy names.
const (
	NameSMATrend      = "sma-trend"
	NameBandReversion = "mean-reversion"
	NameRSIThreshold  = "rsi"
)

// Params collects the tunable parameters of every built-in strategy.
type Params struct {
	SMAWindow     int     `json:"sma_window" yaml:"sma_window"`
	BandWindow    int     `json:"band_window" yaml:"band_window"`
	BandStdDev    float64 `json:"band_std_dev" yaml:"band_std_dev"`
	RSIPeriod     int     `json:"rsi_period" yaml:"rsi_period"`
	RSIOversold   float64 `json:"rsi_oversold" yaml:"rsi_oversold"`
	RSIOverbought float64 `json:"rsi_overbought" yaml:"rsi_overbought"`
	RSIMidline    float64 `json:"rsi_midline" yaml:"rsi_midline"`
}

// DefaultParams returns the classic settings: SMA 50, Bollinger 20/2.0 and
// RSI 14 with 30/70 thresholds and a 50 midline.
func DefaultParams() Params {
	return Params{
		SMAWindow:     50,
		BandWindow:    20,
		BandStdDev:    2.0,
		RSIPeriod:     14,
		RSIOversold:   30,
		RSIOverbought: 70,
		RSIMidline:    50,
	}
}

// Names returns every built-in strategy name.
func Names() []string {
	return []string{NameBandReversion, NameRSIThreshold, NameSMATrend}
}

// New constructs the named built-in strategy from p.
func New(name string, p Params) (strategy.Strategy, error) {
	switch name {
	case NameSMATrend:
		return NewSMATrend(p.SMAWindow)
	case NameBandReversion:
		return NewBandReversion(p.BandWindow, p.BandStdDev)
	case NameRSIThreshold:
		return NewRSIThreshold(p.RSIPeriod, p.RSIOversold, p.RSIOverbought, p.RSIMidline)
	default:
		return nil, fmt.Errorf("%w: %q", strategy.ErrUnknownStrategy, name)
	}
}

// NewRegistry builds a registry holding every built-in strategy configured
// with p.
func NewRegistry(p Params) (*strategy.Registry, error) {
	reg := strategy.NewRegistry()
	for _, name := range Names() {
		s, err := New(name, p)
		if err != nil {
			return nil, err
		}
		reg.Register(s)
	}
	return reg, nil
}

func closes(bars []domain.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// walkLongFlat runs the two-state (flat/long) machine shared by the
// path-dependent rules. step receives the current state and returns the next
// one; ok == false marks an undefined bar, which emits flat and leaves the
// state unchanged.
func walkLongFlat(n int, step func(i int, long bool) (next bool, ok bool)) []domain.Signal {
	out := make([]domain.Signal, n)
	long := false
	for i := 0; i < n; i++ {
		next, ok := step(i, long)
		if !ok {
			continue
		}
		long = next
		if long {
			out[i] = domain.SignalLong
		}
	}
	return out
}
