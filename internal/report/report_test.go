package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"strategylab/internal/domain"
	"strategylab/internal/engine"
	"strategylab/internal/metrics"
	"strategylab/internal/strategy"
)

func TestFormatInt(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{1234567, "1,234,567"},
		{-45000, "-45,000"},
	}
	for _, tt := range tests {
		if got := FormatInt(tt.n); got != tt.want {
			t.Errorf("FormatInt(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestFormatMoney(t *testing.T) {
	tests := []struct {
		v    float64
		want string
	}{
		{0, "$0.00"},
		{100000, "$100,000.00"},
		{1234.565, "$1,234.57"},
		{-12, "-$12.00"},
		{-1234567.891, "-$1,234,567.89"},
	}
	for _, tt := range tests {
		if got := FormatMoney(tt.v); got != tt.want {
			t.Errorf("FormatMoney(%v) = %q, want %q", tt.v, got, tt.want)
		}
	}
}

func TestFormatPct(t *testing.T) {
	tests := []struct {
		v    float64
		want string
	}{
		{0, "0.00%"},
		{0.1234, "+12.34%"},
		{-0.25, "-25.00%"},
		{0.00001, "0.00%"},
	}
	for _, tt := range tests {
		if got := FormatPct(tt.v); got != tt.want {
			t.Errorf("FormatPct(%v) = %q, want %q", tt.v, got, tt.want)
		}
	}
}

func TestFormatPriceAndRatio(t *testing.T) {
	if got := FormatPrice(0); got != "-" {
		t.Errorf("FormatPrice(0) = %q, want -", got)
	}
	if got := FormatPrice(101.5); got != "101.50" {
		t.Errorf("FormatPrice(101.5) = %q, want 101.50", got)
	}
	if got := FormatRatio(1.2345); got != "1.23" {
		t.Errorf("FormatRatio(1.2345) = %q, want 1.23", got)
	}
}

// ---------------------------------------------------------------------------

func sampleReport() *strategy.Report {
	t0 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	cfg := engine.DefaultConfig()
	res := &engine.Result{
		Strategy: "sma-trend",
		Config:   cfg,
		Bars: []domain.BarResult{
			{Timestamp: t0, StrategyEquity: 100000, MarketEquity: 100000},
			{Timestamp: t0.AddDate(0, 0, 1), StrategyEquity: 101000, MarketEquity: 99000},
		},
		Trades: []domain.Trade{{
			EntryTime:  t0,
			EntryPrice: 100,
			ExitTime:   t0.AddDate(0, 0, 1),
			ExitPrice:  101,
			Shares:     990,
			NetPnL:     790.2,
			ReturnPct:  0.0079,
			ExitReason: domain.ExitEndOfData,
		}},
	}
	return &strategy.Report{
		RunID:     "run-1",
		Symbol:    "AAPL",
		Result:    res,
		Summary:   metrics.Summary{TotalReturn: 0.01, TotalTrades: 1, TradeWinRate: 1, ProfitFactor: metrics.MaxProfitFactor},
		Benchmark: metrics.Summary{TotalReturn: -0.01, MaxDrawdown: -0.01},
	}
}

func TestSummary(t *testing.T) {
	var buf bytes.Buffer
	Summary(&buf, sampleReport())
	out := buf.String()
	for _, want := range []string{"sma-trend on AAPL", "run-1", "$101,000.00", "$99,000.00", "+1.00%", "-1.00%", "999.99"} {
		if !strings.Contains(out, want) {
			t.Errorf("Summary output missing %q:\n%s", want, out)
		}
	}
}

func TestTradesLimit(t *testing.T) {
	rep := sampleReport()
	trades := append(rep.Result.Trades, rep.Result.Trades[0], rep.Result.Trades[0])

	var buf bytes.Buffer
	Trades(&buf, trades, 2)
	out := buf.String()
	if !strings.Contains(out, "last 2 of 3 trades") {
		t.Errorf("Trades output missing limit note:\n%s", out)
	}
	if !strings.Contains(out, "EndOfData") || !strings.Contains(out, "$790.20") {
		t.Errorf("Trades output missing trade fields:\n%s", out)
	}

	buf.Reset()
	Trades(&buf, nil, 0)
	if buf.Len() != 0 {
		t.Errorf("Trades(nil) wrote %q", buf.String())
	}
}

func TestComparisonAndSweep(t *testing.T) {
	a, b := sampleReport(), sampleReport()
	b.Result.Strategy = "rsi"

	var buf bytes.Buffer
	Comparison(&buf, []*strategy.Report{a, b})
	out := buf.String()
	ia, ib := strings.Index(out, "sma-trend"), strings.Index(out, "rsi")
	if ia < 0 || ib < 0 || ia > ib {
		t.Errorf("Comparison rows out of order:\n%s", out)
	}
	if !strings.Contains(out, "buy-and-hold") {
		t.Errorf("Comparison missing benchmark row:\n%s", out)
	}

	buf.Reset()
	Sweep(&buf, []*strategy.Report{a})
	if !strings.Contains(buf.String(), "+0.10%") {
		t.Errorf("Sweep missing cost column:\n%s", buf.String())
	}
}

func TestRuns(t *testing.T) {
	var buf bytes.Buffer
	Runs(&buf, nil)
	if !strings.Contains(buf.String(), "no runs recorded") {
		t.Errorf("Runs(nil) = %q", buf.String())
	}

	buf.Reset()
	Runs(&buf, []domain.RunRecord{{ID: "abc", Strategy: "rsi", Symbol: "SPY", FinalEquity: 123456.789, TotalTrades: 1200}})
	out := buf.String()
	for _, want := range []string{"abc", "rsi", "SPY", "$123,456.79", "1,200"} {
		if !strings.Contains(out, want) {
			t.Errorf("Runs output missing %q:\n%s", want, out)
		}
	}
}

func TestAnalysis(t *testing.T) {
	eq := []float64{100, 110, 99, 105, 112, 111, 115}
	rets := []float64{0, 0.1, -0.1, 0.0606, 0.0667, -0.0089, 0.036}
	t0 := time.Date(2018, 12, 28, 0, 0, 0, 0, time.UTC)
	rows := make([]domain.BarResult, len(eq))
	for i := range eq {
		rows[i] = domain.BarResult{
			Timestamp:      t0.AddDate(0, 0, i),
			StrategyReturn: rets[i],
			StrategyEquity: eq[i] * 1000,
			MarketReturn:   0.001,
		}
	}

	var buf bytes.Buffer
	Analysis(&buf, rows, 0.06, 3)
	out := buf.String()
	for _, want := range []string{
		"Drawdown", "-10.00%", "2018-12-29", "2018-12-30", "2019-01-01 (3 days)",
		"Annual returns", "2018", "2019",
		"Monthly returns", "Dec", "Jan",
		"Correction 2018", "Pre-COVID 2019",
		"Rolling 3-bar Sharpe",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Analysis output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	Analysis(&buf, nil, 0.06, 3)
	if buf.Len() != 0 {
		t.Errorf("Analysis(nil) wrote %q", buf.String())
	}
}

func TestMonthlyGridLeavesGapsBlank(t *testing.T) {
	var buf bytes.Buffer
	MonthlyGrid(&buf, []metrics.MonthlyReturn{
		{Year: 2023, Month: time.March, Return: 0.012},
		{Year: 2024, Month: time.January, Return: -0.034},
	})
	out := buf.String()
	for _, want := range []string{"2023", "+1.2", "2024", "-3.4"} {
		if !strings.Contains(out, want) {
			t.Errorf("MonthlyGrid output missing %q:\n%s", want, out)
		}
	}
}
