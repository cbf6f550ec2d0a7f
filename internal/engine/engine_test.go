package engine

import (
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"strategylab/internal/domain"
)

const eps = 1e-9

// fixedSignals replays a precomputed signal series.
type fixedSignals []domain.Signal

func (f fixedSignals) Name() string { return "fixed" }
func (f fixedSignals) Signals(bars []domain.Bar) []domain.Signal {
	out := make([]domain.Signal, len(bars))
	copy(out, f)
	return out
}

func makeBars(opens, closes []float64) []domain.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, len(opens))
	for i := range opens {
		hi, lo := math.Max(opens[i], closes[i]), math.Min(opens[i], closes[i])
		bars[i] = domain.Bar{
			Symbol:    "TEST",
			Timestamp: start.AddDate(0, 0, i),
			Open:      opens[i],
			High:      hi,
			Low:       lo,
			Close:     closes[i],
		}
	}
	return bars
}

func signalsOf(vals ...int) fixedSignals {
	out := make(fixedSignals, len(vals))
	for i, v := range vals {
		out[i] = domain.Signal(v)
	}
	return out
}

func noCost() Config {
	cfg := DefaultConfig()
	cfg.TransactionCost = 0
	cfg.DividendYield = 0
	return cfg
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"zero position size", func(c *Config) { c.PositionSize = 0 }, true},
		{"position size above one", func(c *Config) { c.PositionSize = 1.5 }, true},
		{"positive stop loss", func(c *Config) { c.StopLoss = Float(0.05) }, true},
		{"stop loss below -100%", func(c *Config) { c.StopLoss = Float(-1.2) }, true},
		{"negative take profit", func(c *Config) { c.TakeProfit = Float(-0.1) }, true},
		{"valid thresholds", func(c *Config) { c.StopLoss, c.TakeProfit = Float(-0.05), Float(0.1) }, false},
		{"zero capital", func(c *Config) { c.InitialCapital = 0 }, true},
		{"negative cost", func(c *Config) { c.TransactionCost = -0.001 }, true},
		{"NaN size", func(c *Config) { c.PositionSize = math.NaN() }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("Validate() = %v, want ErrInvalidConfig", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Validate() returned unexpected error: %v", err)
			}
		})
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PositionSize = 0
	if _, err := New(cfg, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("New() error = %v, want ErrInvalidConfig", err)
	}
}

func TestExecuteLag(t *testing.T) {
	bars := makeBars([]float64{10, 10, 10, 10, 10}, []float64{10, 10, 10, 10, 10})
	ex := Execute(bars, signalsOf(1, 0, 1, 1, 0), nil, nil)

	want := []domain.Position{0, 1, 0, 1, 1}
	// Last bar is force-flattened.
	want[4] = 0
	for i := range want {
		if ex.Positions[i] != want[i] {
			t.Errorf("Positions[%d] = %d, want %d", i, ex.Positions[i], want[i])
		}
	}
	if ex.ExitReasons[2] != domain.ExitSignal {
		t.Errorf("ExitReasons[2] = %q, want Signal", ex.ExitReasons[2])
	}
	if ex.ExitReasons[4] != domain.ExitEndOfData {
		t.Errorf("ExitReasons[4] = %q, want EndOfData", ex.ExitReasons[4])
	}
}

func TestExecuteNoLookAhead(t *testing.T) {
	sig := signalsOf(0, 1, 1, 0, 1, 0, 0, 1, 1, 1)
	bars := makeBars(
		[]float64{10, 11, 12, 13, 14, 15, 16, 17, 18, 19},
		[]float64{10, 11, 12, 13, 14, 15, 16, 17, 18, 19},
	)
	base := Execute(bars, sig, nil, nil)

	for cut := 1; cut < len(sig)-1; cut++ {
		mutated := make(fixedSignals, len(sig))
		copy(mutated, sig)
		for j := cut; j < len(mutated); j++ {
			mutated[j] = 1 - mutated[j]
		}
		got := Execute(bars, mutated, nil, nil)
		for i := 0; i <= cut; i++ {
			if got.Positions[i] != base.Positions[i] {
				t.Fatalf("changing signals from %d changed Positions[%d]", cut, i)
			}
		}
	}
}

func TestStopLossExitsAtThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StopLoss = Float(-0.05)

	bars := makeBars(
		[]float64{100, 100, 100, 94},
		[]float64{100, 100, 94, 94},
	)
	e, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := e.Run(signalsOf(1, 1, 1, 1), bars)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(res.Trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(res.Trades))
	}
	tr := res.Trades[0]
	if tr.ExitReason != domain.ExitStopLoss {
		t.Errorf("ExitReason = %q, want StopLoss", tr.ExitReason)
	}
	if math.Abs(tr.ExitPrice-95) > eps {
		t.Errorf("ExitPrice = %v, want 95", tr.ExitPrice)
	}
	want := -0.05 - 2*cfg.TransactionCost
	if math.Abs(tr.ReturnPct-want) > eps {
		t.Errorf("ReturnPct = %v, want %v", tr.ReturnPct, want)
	}
	if !tr.ExitTime.Equal(bars[2].Timestamp) {
		t.Errorf("ExitTime = %v, want %v", tr.ExitTime, bars[2].Timestamp)
	}
	if res.Bars[2].Position != domain.PositionFlat {
		t.Error("stop-loss bar should be flat")
	}
}

func TestTakeProfitExitsAtThreshold(t *testing.T) {
	cfg := noCost()
	cfg.TakeProfit = Float(0.10)

	bars := makeBars(
		[]float64{100, 100, 104, 112, 112},
		[]float64{100, 104, 112, 112, 112},
	)
	e, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := e.Run(signalsOf(1, 1, 0, 0, 0), bars)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(res.Trades))
	}
	tr := res.Trades[0]
	if tr.ExitReason != domain.ExitTakeProfit {
		t.Errorf("ExitReason = %q, want TakeProfit", tr.ExitReason)
	}
	if math.Abs(tr.ExitPrice-110) > eps {
		t.Errorf("ExitPrice = %v, want 110", tr.ExitPrice)
	}
}

func TestRiskExitOnEntryBarCancelsEntry(t *testing.T) {
	cfg := noCost()
	cfg.StopLoss = Float(-0.05)
	bars := makeBars(
		[]float64{100, 100, 90, 90},
		[]float64{100, 90, 90, 90},
	)
	ex := Execute(bars, signalsOf(1, 0, 0, 0), NewRiskManager(cfg.StopLoss, nil, nil), nil)
	wantReasons := []domain.ExitReason{domain.ExitNone, domain.ExitStopLoss, domain.ExitNone, domain.ExitNone}
	for i, p := range ex.Positions {
		if p != domain.PositionFlat {
			t.Errorf("Positions[%d] = %d, want flat", i, p)
		}
		if ex.ExitReasons[i] != wantReasons[i] {
			t.Errorf("ExitReasons[%d] = %q, want %q", i, ex.ExitReasons[i], wantReasons[i])
		}
	}
	if ex.ExecPrices[1] != bars[1].Open {
		t.Errorf("ExecPrices[1] = %v, want the open %v", ex.ExecPrices[1], bars[1].Open)
	}
	if trades := BuildLedger(bars, ex, cfg); len(trades) != 0 {
		t.Errorf("got %d trades, want 0", len(trades))
	}
}

func TestRiskExitGapFillsAtOpen(t *testing.T) {
	tests := []struct {
		name       string
		sl, tp     *float64
		opens      []float64
		closes     []float64
		wantReason domain.ExitReason
		wantPrice  float64
	}{
		{
			name:   "stop gapped through",
			sl:     Float(-0.05),
			opens:  []float64{100, 100, 80, 80},
			closes: []float64{100, 100, 79, 79},
			// Level 95, but the bar opened at 80.
			wantReason: domain.ExitStopLoss,
			wantPrice:  80,
		},
		{
			name:       "take-profit gapped through",
			tp:         Float(0.10),
			opens:      []float64{100, 100, 120, 120},
			closes:     []float64{100, 100, 121, 121},
			wantReason: domain.ExitTakeProfit,
			wantPrice:  120,
		},
		{
			name:       "stop inside the bar",
			sl:         Float(-0.05),
			opens:      []float64{100, 100, 97, 97},
			closes:     []float64{100, 100, 93, 93},
			wantReason: domain.ExitStopLoss,
			wantPrice:  95,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bars := makeBars(tt.opens, tt.closes)
			ex := Execute(bars, signalsOf(1, 1, 1, 1), NewRiskManager(tt.sl, tt.tp, nil), nil)
			if ex.ExitReasons[2] != tt.wantReason {
				t.Errorf("ExitReasons[2] = %q, want %q", ex.ExitReasons[2], tt.wantReason)
			}
			if math.Abs(ex.ExecPrices[2]-tt.wantPrice) > eps {
				t.Errorf("ExecPrices[2] = %v, want %v", ex.ExecPrices[2], tt.wantPrice)
			}
		})
	}
}

func TestLedgerPnL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PositionSize = 0.5

	bars := makeBars([]float64{100, 100, 110, 110}, []float64{100, 100, 110, 110})
	ex := Execution{
		Positions:   []domain.Position{0, 1, 0, 0},
		ExecPrices:  []float64{100, 100, 110, 110},
		ExitReasons: []domain.ExitReason{"", "", domain.ExitSignal, ""},
	}
	trades := BuildLedger(bars, ex, cfg)
	if len(trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(trades))
	}
	tr := trades[0]
	checks := []struct {
		name      string
		got, want float64
	}{
		{"Shares", tr.Shares, 500},
		{"GrossPnL", tr.GrossPnL, 5000},
		{"Cost", tr.Cost, 100},
		{"NetPnL", tr.NetPnL, 4900},
		{"ReturnPct", tr.ReturnPct, 0.098},
	}
	for _, c := range checks {
		if math.Abs(c.got-c.want) > eps {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLedgerClosesDanglingPosition(t *testing.T) {
	cfg := noCost()
	bars := makeBars([]float64{100, 100, 105}, []float64{100, 100, 105})
	ex := Execution{
		Positions:   []domain.Position{0, 1, 1},
		ExecPrices:  []float64{100, 100, 105},
		ExitReasons: make([]domain.ExitReason, 3),
	}
	trades := BuildLedger(bars, ex, cfg)
	if len(trades) != 1 || trades[0].ExitReason != domain.ExitEndOfData {
		t.Fatalf("trades = %+v, want one EndOfData trade", trades)
	}
}

func TestAccountFlatIsExactlyZero(t *testing.T) {
	cfg := DefaultConfig()
	bars := makeBars([]float64{100, 103, 99, 101}, []float64{101, 98, 100, 102})
	r := Account(bars, make([]domain.Position, len(bars)), cfg)
	for i := range bars {
		if r.Strategy[i] != 0 {
			t.Errorf("Strategy[%d] = %v, want exact 0", i, r.Strategy[i])
		}
		if r.StrategyEquity[i] != cfg.InitialCapital {
			t.Errorf("StrategyEquity[%d] = %v, want %v", i, r.StrategyEquity[i], cfg.InitialCapital)
		}
	}
	if r.Market[0] != 0 {
		t.Errorf("Market[0] = %v, want 0", r.Market[0])
	}
	wantM1 := 103.0/100.0 - 1 + cfg.DividendYield/TradingDaysPerYear
	if math.Abs(r.Market[1]-wantM1) > eps {
		t.Errorf("Market[1] = %v, want %v", r.Market[1], wantM1)
	}
}

func TestAccountChargesOneSidedCostOnChange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DividendYield = 0
	cfg.PositionSize = 0.5

	bars := makeBars([]float64{100, 100, 110, 110}, []float64{100, 100, 110, 110})
	pos := []domain.Position{0, 1, 1, 0}
	r := Account(bars, pos, cfg)

	wantCost := []float64{0, 0.0005, 0, 0.0005}
	for i, w := range wantCost {
		if math.Abs(r.Cost[i]-w) > eps {
			t.Errorf("Cost[%d] = %v, want %v", i, r.Cost[i], w)
		}
	}
	// Bar 2 earns 10% on half the capital.
	if math.Abs(r.Strategy[2]-0.05) > eps {
		t.Errorf("Strategy[2] = %v, want 0.05", r.Strategy[2])
	}
	wantEq := cfg.InitialCapital * (1 - 0.0005) * 1.05 * (1 - 0.0005)
	if math.Abs(r.StrategyEquity[3]-wantEq) > 1e-6 {
		t.Errorf("StrategyEquity[3] = %v, want %v", r.StrategyEquity[3], wantEq)
	}
}

func TestRunInputErrors(t *testing.T) {
	e, err := New(DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := e.Run(fixedSignals{}, nil); !errors.Is(err, ErrNoBars) {
		t.Errorf("Run(nil bars) error = %v, want ErrNoBars", err)
	}

	bars := makeBars([]float64{1, 2, 3}, []float64{1, 2, 3})
	bars[2].Timestamp = bars[1].Timestamp
	if _, err := e.Run(signalsOf(0, 0, 0), bars); !errors.Is(err, ErrUnorderedBars) {
		t.Errorf("Run(duplicate timestamps) error = %v, want ErrUnorderedBars", err)
	}

	short := shortGen{}
	if _, err := e.Run(short, makeBars([]float64{1, 2}, []float64{1, 2})); !errors.Is(err, ErrSignalLength) {
		t.Errorf("Run(short signals) error = %v, want ErrSignalLength", err)
	}
}

type shortGen struct{}

func (shortGen) Name() string                            { return "short" }
func (shortGen) Signals(_ []domain.Bar) []domain.Signal { return []domain.Signal{0} }

func TestRunIdempotentAndInvariants(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StopLoss = Float(-0.03)
	cfg.TakeProfit = Float(0.04)

	opens := []float64{100, 101, 99, 102, 104, 103, 98, 97, 101, 105, 107, 104, 100, 102, 106}
	closes := []float64{101, 99, 102, 104, 103, 98, 97, 101, 105, 107, 104, 100, 102, 106, 108}
	bars := makeBars(opens, closes)
	sig := signalsOf(1, 1, 0, 1, 1, 1, 0, 1, 1, 1, 1, 0, 1, 1, 1)

	e, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a, err := e.Run(sig, bars)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	b, err := e.Run(sig, bars)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatal("two runs over identical inputs differ")
	}

	opensCount, closesCount := 0, 0
	for i := 1; i < len(a.Bars); i++ {
		prev, cur := a.Bars[i-1].Position, a.Bars[i].Position
		if prev == 0 && cur == 1 {
			opensCount++
		}
		if prev == 1 && cur == 0 {
			closesCount++
		}
	}
	if opensCount != closesCount || len(a.Trades) != closesCount {
		t.Errorf("opens=%d closes=%d trades=%d, want all equal", opensCount, closesCount, len(a.Trades))
	}
	if a.Bars[len(a.Bars)-1].Position != domain.PositionFlat {
		t.Error("final bar must be flat")
	}

	for i, tr := range a.Trades {
		if !tr.ExitTime.After(tr.EntryTime) {
			t.Errorf("trade %d exits at %v, not after entry %v", i, tr.ExitTime, tr.EntryTime)
		}
		if i > 0 && tr.EntryTime.Before(a.Trades[i-1].ExitTime) {
			t.Errorf("trade %d overlaps the previous trade", i)
		}
	}
	for i, row := range a.Bars {
		if row.StrategyEquity <= 0 || row.MarketEquity <= 0 {
			t.Errorf("bar %d equity not positive: %v / %v", i, row.StrategyEquity, row.MarketEquity)
		}
	}
}

func TestRunDoesNotMutateInput(t *testing.T) {
	e, err := New(DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	bars := makeBars([]float64{1, 2, 3}, []float64{1, 2, 3})
	orig := make([]domain.Bar, len(bars))
	copy(orig, bars)

	if _, err := e.Run(signalsOf(1, 1, 1), bars); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !reflect.DeepEqual(bars, orig) {
		t.Error("Run modified its input bars")
	}
}
