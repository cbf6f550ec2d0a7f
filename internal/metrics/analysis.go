package metrics

import (
	"math"
	"time"

	"strategylab/internal/domain"
	"strategylab/internal/indicator"
)

// Drawdown describes the deepest decline of the strategy equity curve and
// how long it took to win it back.
type Drawdown struct {
	MaxDrawdown  float64   `json:"max_drawdown"`
	Peak         time.Time `json:"peak"`
	Trough       time.Time `json:"trough"`
	Recovered    bool      `json:"recovered"`
	Recovery     time.Time `json:"recovery,omitempty"`
	RecoveryDays int       `json:"recovery_days,omitempty"`
}

// DrawdownRecovery locates the maximum drawdown of the strategy equity: the
// trough, the highest point before it, and the first bar at or after the
// trough whose equity regains that peak. RecoveryDays counts calendar days
// from peak to recovery. A curve that never declines reports its first bar
// as peak, trough and recovery.
func DrawdownRecovery(rows []domain.BarResult) Drawdown {
	var d Drawdown
	if len(rows) == 0 {
		return d
	}

	peak, trough := 0, 0
	runPeak := 0
	for i, r := range rows {
		if r.StrategyEquity > rows[runPeak].StrategyEquity {
			runPeak = i
		}
		top := rows[runPeak].StrategyEquity
		if top <= 0 {
			continue
		}
		if dd := r.StrategyEquity/top - 1; dd < d.MaxDrawdown {
			d.MaxDrawdown = dd
			peak, trough = runPeak, i
		}
	}

	d.Peak = rows[peak].Timestamp
	d.Trough = rows[trough].Timestamp
	level := rows[peak].StrategyEquity
	for i := trough; i < len(rows); i++ {
		if rows[i].StrategyEquity >= level {
			d.Recovered = true
			d.Recovery = rows[i].Timestamp
			d.RecoveryDays = int(d.Recovery.Sub(d.Peak).Hours() / 24)
			break
		}
	}
	return d
}

// MonthlyReturn is the compounded strategy return of one calendar month.
type MonthlyReturn struct {
	Year   int        `json:"year"`
	Month  time.Month `json:"month"`
	Return float64    `json:"return"`
}

// MonthlyReturns compounds the per-bar strategy returns of each calendar
// month, in chronological order. Months without bars are absent.
func MonthlyReturns(rows []domain.BarResult) []MonthlyReturn {
	out := make([]MonthlyReturn, 0)
	for _, r := range rows {
		y, m, _ := r.Timestamp.Date()
		if n := len(out); n == 0 || out[n-1].Year != y || out[n-1].Month != m {
			out = append(out, MonthlyReturn{Year: y, Month: m, Return: 0})
		}
		cur := &out[len(out)-1]
		cur.Return = (1+cur.Return)*(1+r.StrategyReturn) - 1
	}
	return out
}

// AnnualReturn compares the strategy with buy-and-hold over one calendar
// year.
type AnnualReturn struct {
	Year           int     `json:"year"`
	Strategy       float64 `json:"strategy"`
	Market         float64 `json:"market"`
	Outperformance float64 `json:"outperformance"`
}

// AnnualReturns compounds strategy and market returns per calendar year.
func AnnualReturns(rows []domain.BarResult) []AnnualReturn {
	out := make([]AnnualReturn, 0)
	for _, r := range rows {
		y := r.Timestamp.Year()
		if n := len(out); n == 0 || out[n-1].Year != y {
			out = append(out, AnnualReturn{Year: y})
		}
		cur := &out[len(out)-1]
		cur.Strategy = (1+cur.Strategy)*(1+r.StrategyReturn) - 1
		cur.Market = (1+cur.Market)*(1+r.MarketReturn) - 1
	}
	for i := range out {
		out[i].Outperformance = out[i].Strategy - out[i].Market
	}
	return out
}

// RollingSharpe is the annualized Sharpe ratio of the strategy returns over
// a trailing window of bars. Warmup bars and windows with zero variance are
// undefined.
func RollingSharpe(rows []domain.BarResult, window int, riskFree float64) indicator.Series {
	rets := make([]float64, len(rows))
	for i, r := range rows {
		rets[i] = r.StrategyReturn
	}
	mean := indicator.SMA(rets, window)
	sd := indicator.StdDev(rets, window)

	out := indicator.Series{Values: make([]float64, len(rows)), Valid: make([]bool, len(rows))}
	for i := range rets {
		m, ok := mean.At(i)
		if !ok {
			continue
		}
		s, ok := sd.At(i)
		if !ok || s == 0 {
			continue
		}
		out.Values[i] = finite((m*tradingDays - riskFree) / (s * math.Sqrt(tradingDays)))
		out.Valid[i] = true
	}
	return out
}

// Regime is a named, inclusive calendar date range.
type Regime struct {
	Name  string    `json:"name"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// RegimeStats is the strategy's performance inside one regime.
type RegimeStats struct {
	Regime         Regime  `json:"regime"`
	Bars           int     `json:"bars"`
	TotalReturn    float64 `json:"total_return"`
	AvgDailyReturn float64 `json:"avg_daily_return"`
	Volatility     float64 `json:"volatility"`
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DefaultRegimes returns fixed US market regimes from 2015 to 2025. The
// ranges are calendar-defined, not fitted to any series.
func DefaultRegimes() []Regime {
	return []Regime{
		{"Bull 2015-2017", day(2015, 1, 1), day(2017, 12, 31)},
		{"Correction 2018", day(2018, 1, 1), day(2018, 12, 31)},
		{"Pre-COVID 2019", day(2019, 1, 1), day(2020, 2, 29)},
		{"COVID crash 2020", day(2020, 3, 1), day(2020, 6, 30)},
		{"Recovery 2020-2021", day(2020, 7, 1), day(2021, 12, 31)},
		{"Post-COVID 2022-2023", day(2022, 1, 1), day(2023, 12, 31)},
		{"Recent 2024-2025", day(2024, 1, 1), day(2025, 12, 31)},
	}
}

// ByRegime measures the strategy inside each regime. TotalReturn runs from
// the first to the last bar's equity within the range. Regimes with no bars
// are omitted.
func ByRegime(rows []domain.BarResult, regimes []Regime) []RegimeStats {
	out := make([]RegimeStats, 0, len(regimes))
	for _, rg := range regimes {
		var (
			rets        []float64
			first, last float64
		)
		for _, r := range rows {
			if r.Timestamp.Before(rg.Start) || r.Timestamp.After(rg.End) {
				continue
			}
			if len(rets) == 0 {
				first = r.StrategyEquity
			}
			last = r.StrategyEquity
			rets = append(rets, r.StrategyReturn)
		}
		if len(rets) == 0 {
			continue
		}
		st := RegimeStats{
			Regime:         rg,
			Bars:           len(rets),
			AvgDailyReturn: meanOf(rets),
			Volatility:     sampleStd(rets) * math.Sqrt(tradingDays),
		}
		if first > 0 {
			st.TotalReturn = last/first - 1
		}
		out = append(out, st)
	}
	return out
}
