package builtins

import (
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"strategylab/internal/domain"
	"strategylab/internal/engine"
	"strategylab/internal/strategy"
)

func barsFromCloses(closes ...float64) []domain.Bar {
	start := time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{
			Symbol:    "TEST",
			Timestamp: start.AddDate(0, 0, i),
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
		}
	}
	return bars
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func signalInts(sigs []domain.Signal) []int {
	out := make([]int, len(sigs))
	for i, s := range sigs {
		out[i] = int(s)
	}
	return out
}

func zeroCost() engine.Config {
	cfg := engine.DefaultConfig()
	cfg.TransactionCost = 0
	return cfg
}

func TestNewRejectsInvalidParams(t *testing.T) {
	tests := []struct {
		name   string
		strat  string
		mutate func(*Params)
	}{
		{"sma window zero", NameSMATrend, func(p *Params) { p.SMAWindow = 0 }},
		{"band window one", NameBandReversion, func(p *Params) { p.BandWindow = 1 }},
		{"band width zero", NameBandReversion, func(p *Params) { p.BandStdDev = 0 }},
		{"rsi period zero", NameRSIThreshold, func(p *Params) { p.RSIPeriod = 0 }},
		{"rsi oversold above overbought", NameRSIThreshold, func(p *Params) { p.RSIOversold = 80 }},
		{"rsi level over 100", NameRSIThreshold, func(p *Params) { p.RSIOverbought = 120 }},
		{"rsi midline negative", NameRSIThreshold, func(p *Params) { p.RSIMidline = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.mutate(&p)
			_, err := New(tt.strat, p)
			if !errors.Is(err, ErrInvalidParams) {
				t.Errorf("New(%q) error = %v, want ErrInvalidParams", tt.strat, err)
			}
		})
	}
}

func TestNewUnknownStrategy(t *testing.T) {
	_, err := New("buy-the-rumour", DefaultParams())
	if !errors.Is(err, strategy.ErrUnknownStrategy) {
		t.Errorf("New error = %v, want ErrUnknownStrategy", err)
	}
}

func TestNewRegistry(t *testing.T) {
	reg, err := NewRegistry(DefaultParams())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	want := []string{"mean-reversion", "rsi", "sma-trend"}
	if got := reg.List(); !reflect.DeepEqual(got, want) {
		t.Errorf("List() = %v, want %v", got, want)
	}
	s, ok := reg.Get("sma-trend")
	if !ok {
		t.Fatal("sma-trend not registered")
	}
	if s.Warmup() != 49 {
		t.Errorf("sma-trend Warmup() = %d, want 49", s.Warmup())
	}
}

func TestSMATrendSignals(t *testing.T) {
	s, err := NewSMATrend(3)
	if err != nil {
		t.Fatal(err)
	}
	// SMA(3) from index 2: 11, 11.33, 12.
	got := signalInts(s.Signals(barsFromCloses(10, 11, 12, 11, 13)))
	want := []int{0, 0, 1, 0, 1}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Signals = %v, want %v", got, want)
	}
}

func TestRSIThresholdUndefinedBarsKeepState(t *testing.T) {
	s, err := NewRSIThreshold(2, 30, 70, 50)
	if err != nil {
		t.Fatal(err)
	}
	// RSI: -, -, 0, 50, undef, undef, 50.
	got := signalInts(s.Signals(barsFromCloses(10, 9, 8, 9, 10, 11, 10)))
	want := []int{0, 0, 1, 1, 0, 0, 1}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Signals = %v, want %v", got, want)
	}
}

func TestRSIThresholdMidlineExit(t *testing.T) {
	s, err := NewRSIThreshold(2, 30, 70, 50)
	if err != nil {
		t.Fatal(err)
	}
	// RSI 66.67 at index 3 is below overbought but above the midline.
	got := signalInts(s.Signals(barsFromCloses(10, 9, 8, 10, 9)))
	want := []int{0, 0, 1, 0, 0}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Signals = %v, want %v", got, want)
	}
}

// -----------------------------------------------------------------------
// End-to-end scenarios through the engine
// -----------------------------------------------------------------------

func TestFlatSeriesProducesNoTrades(t *testing.T) {
	s, _ := NewSMATrend(5)
	eng, err := engine.New(engine.DefaultConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	res, err := eng.Run(s, barsFromCloses(repeat(100, 20)...))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Trades) != 0 {
		t.Errorf("trades = %d, want 0", len(res.Trades))
	}
	if got := res.FinalEquity(); got != 100000 {
		t.Errorf("FinalEquity = %v, want 100000", got)
	}
}

func TestMonotonicRiseNeverLosesMoney(t *testing.T) {
	closes := make([]float64, 10)
	for i := range closes {
		closes[i] = 100 + float64(i)*10.0/9.0
	}
	s, _ := NewSMATrend(2)
	eng, err := engine.New(zeroCost(), nil)
	if err != nil {
		t.Fatal(err)
	}
	res, err := eng.Run(s, barsFromCloses(closes...))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := res.FinalEquity(); got < 100000 {
		t.Errorf("FinalEquity = %v, want >= 100000", got)
	}
	if len(res.Trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(res.Trades))
	}
	if res.Trades[0].ExitReason != domain.ExitEndOfData {
		t.Errorf("exit reason = %q, want EndOfData", res.Trades[0].ExitReason)
	}
}

func TestBandReversionSingleDip(t *testing.T) {
	closes := repeat(100, 20)
	closes[12] = 80
	bars := barsFromCloses(closes...)

	s, err := NewBandReversion(10, 2.0)
	if err != nil {
		t.Fatal(err)
	}
	eng, err := engine.New(zeroCost(), nil)
	if err != nil {
		t.Fatal(err)
	}
	res, err := eng.Run(s, bars)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(res.Trades))
	}
	tr := res.Trades[0]
	if !tr.EntryTime.Equal(bars[13].Timestamp) {
		t.Errorf("entry = %v, want bar after the dip %v", tr.EntryTime, bars[13].Timestamp)
	}
	if !tr.ExitTime.Equal(bars[14].Timestamp) {
		t.Errorf("exit = %v, want bar after recovery %v", tr.ExitTime, bars[14].Timestamp)
	}
	if tr.ExitReason != domain.ExitSignal {
		t.Errorf("exit reason = %q, want Signal", tr.ExitReason)
	}
}

// Changing a future bar must never change signals or positions before it.
func TestNoLookAhead(t *testing.T) {
	closes := make([]float64, 80)
	for i := range closes {
		closes[i] = 100 + 8*math.Sin(float64(i)/4) + float64(i%7)
	}
	reg, err := NewRegistry(Params{
		SMAWindow: 5, BandWindow: 8, BandStdDev: 1.0,
		RSIPeriod: 4, RSIOversold: 30, RSIOverbought: 70, RSIMidline: 50,
	})
	if err != nil {
		t.Fatal(err)
	}
	eng, err := engine.New(zeroCost(), nil)
	if err != nil {
		t.Fatal(err)
	}

	const k = 50
	for _, name := range reg.List() {
		s, _ := reg.Get(name)
		base, err := eng.Run(s, barsFromCloses(closes...))
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}

		shocked := append([]float64(nil), closes...)
		for i := k; i < len(shocked); i++ {
			shocked[i] *= 0.5
		}
		alt, err := eng.Run(s, barsFromCloses(shocked...))
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}

		for i := 0; i < k; i++ {
			if base.Bars[i].Signal != alt.Bars[i].Signal {
				t.Errorf("%s: signal[%d] changed after modifying bars >= %d", name, i, k)
			}
			// Position at k depends only on signal k-1.
			if base.Bars[i].Position != alt.Bars[i].Position {
				t.Errorf("%s: position[%d] changed after modifying bars >= %d", name, i, k)
			}
		}
	}
}

// -----------------------------------------------------------------------
// Flat plateaus after a varied history
// -----------------------------------------------------------------------

func variedThenFlat(n, m int, level float64) []float64 {
	closes := make([]float64, 0, n+m)
	for i := 0; i < n; i++ {
		closes = append(closes, 100+7.3*math.Sin(float64(i)*0.7)+float64(i)*0.013)
	}
	return append(closes, repeat(level, m)...)
}

func TestSMATrendFlatOnPlateau(t *testing.T) {
	const window = 10
	closes := variedThenFlat(200, 40, 100.3)
	s, err := NewSMATrend(window)
	if err != nil {
		t.Fatal(err)
	}
	sigs := s.Signals(barsFromCloses(closes...))
	for i := 200 + window - 1; i < len(sigs); i++ {
		if sigs[i] != domain.SignalFlat {
			t.Errorf("signal[%d] = %d on a flat plateau, want flat", i, sigs[i])
		}
	}
}

func TestBandReversionExitsOnPlateau(t *testing.T) {
	closes := make([]float64, 0, 80)
	for i := 0; i < 40; i++ {
		closes = append(closes, 100+0.5*math.Sin(float64(i)))
	}
	dip := len(closes)
	closes = append(closes, 80, 85, 90, 95)
	closes = append(closes, repeat(100.3, 30)...)

	s, err := NewBandReversion(20, 2.0)
	if err != nil {
		t.Fatal(err)
	}
	bars := barsFromCloses(closes...)
	sigs := s.Signals(bars)
	if sigs[dip] != domain.SignalLong {
		t.Fatalf("signal at dip = %d, want long", sigs[dip])
	}
	for i := len(sigs) - 10; i < len(sigs); i++ {
		if sigs[i] != domain.SignalFlat {
			t.Errorf("signal[%d] = %d after recovery to the mean, want flat", i, sigs[i])
		}
	}

	eng, err := engine.New(zeroCost(), nil)
	if err != nil {
		t.Fatal(err)
	}
	res, err := eng.Run(s, bars)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Trades) == 0 {
		t.Fatal("no trades")
	}
	if last := res.Trades[len(res.Trades)-1]; last.ExitReason != domain.ExitSignal {
		t.Errorf("last exit reason = %q, want Signal", last.ExitReason)
	}
}
