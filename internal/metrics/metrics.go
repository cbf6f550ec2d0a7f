// Package metrics computes risk and performance statistics from a backtest's
// per-bar results and trade ledger.
package metrics

import (
	"math"

	"strategylab/internal/domain"
)

const (
	// DefaultRiskFreeRate is the annual rate subtracted before Sharpe and
	// Sortino are annualized.
	DefaultRiskFreeRate = 0.06

	// MaxProfitFactor replaces an infinite profit factor (wins, no losses).
	MaxProfitFactor = 999.99

	tradingDays = 252
)

// Summary holds the performance statistics of one equity curve. Ratios that
// are undefined for the input (zero variance, no drawdown, zero span) are 0.
type Summary struct {
	TotalReturn  float64 `json:"total_return"`
	CAGR         float64 `json:"cagr"`
	Volatility   float64 `json:"volatility"`
	Sharpe       float64 `json:"sharpe"`
	Sortino      float64 `json:"sortino"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	Calmar       float64 `json:"calmar"`
	Stability    float64 `json:"stability"`
	Skewness     float64 `json:"skewness"`
	Kurtosis     float64 `json:"kurtosis"`
	WinRateDaily float64 `json:"win_rate_daily"`
	Exposure     float64 `json:"exposure"`

	TotalTrades  int     `json:"total_trades"`
	TradeWinRate float64 `json:"trade_win_rate"`
	AvgTradeDays float64 `json:"avg_trade_days"`
	AvgWin       float64 `json:"avg_win"`
	AvgLoss      float64 `json:"avg_loss"`
	ProfitFactor float64 `json:"profit_factor"`
}

// Compute summarizes the strategy side of a run: strategy returns and equity,
// time in market, and the trade ledger.
func Compute(rows []domain.BarResult, trades []domain.Trade, riskFree float64) Summary {
	n := len(rows)
	rets := make([]float64, n)
	eq := make([]float64, n)
	held := 0
	for i, r := range rows {
		rets[i] = r.StrategyReturn
		eq[i] = r.StrategyEquity
		if r.Position == domain.PositionLong {
			held++
		}
	}

	s := curve(rows, rets, eq, riskFree)
	if n > 0 {
		s.Exposure = float64(held) / float64(n)
	}
	tradeStats(&s, trades)
	return s
}

// ComputeBenchmark summarizes buy-and-hold of the same bars.
func ComputeBenchmark(rows []domain.BarResult, riskFree float64) Summary {
	rets := make([]float64, len(rows))
	eq := make([]float64, len(rows))
	for i, r := range rows {
		rets[i] = r.MarketReturn
		eq[i] = r.MarketEquity
	}
	s := curve(rows, rets, eq, riskFree)
	if len(rows) > 0 {
		s.Exposure = 1
	}
	return s
}

// curve fills the equity-curve statistics. The first bar's return carries no
// information and is excluded from the return distribution.
func curve(rows []domain.BarResult, rets, eq []float64, riskFree float64) Summary {
	var s Summary
	if len(rows) < 2 {
		return s
	}
	days := rows[len(rows)-1].Timestamp.Sub(rows[0].Timestamp).Hours() / 24
	if days <= 0 || eq[0] <= 0 {
		return s
	}

	s.TotalReturn = eq[len(eq)-1]/eq[0] - 1
	if growth := 1 + s.TotalReturn; growth > 0 {
		s.CAGR = math.Pow(growth, 365/math.Floor(days)) - 1
	} else {
		s.CAGR = -1
	}

	r := rets[1:]
	mean := meanOf(r)
	s.Volatility = sampleStd(r) * math.Sqrt(tradingDays)
	excess := mean*tradingDays - riskFree
	s.Sharpe = ratio(excess, s.Volatility)

	var downside []float64
	for _, v := range r {
		if v < 0 {
			downside = append(downside, v)
		}
	}
	s.Sortino = ratio(excess, sampleStd(downside)*math.Sqrt(tradingDays))

	s.MaxDrawdown = maxDrawdown(eq)
	s.Calmar = ratio(s.CAGR, math.Abs(s.MaxDrawdown))
	s.Stability = stability(eq)
	s.Skewness, s.Kurtosis = moments(r)

	var up, moved int
	for _, v := range r {
		if v != 0 {
			moved++
		}
		if v > 0 {
			up++
		}
	}
	if moved > 0 {
		s.WinRateDaily = float64(up) / float64(moved)
	}

	s.CAGR = finite(s.CAGR)
	s.Volatility = finite(s.Volatility)
	return s
}

func tradeStats(s *Summary, trades []domain.Trade) {
	s.TotalTrades = len(trades)
	if len(trades) == 0 {
		return
	}

	var wins, losses int
	var winSum, lossSum, days float64
	for _, t := range trades {
		switch {
		case t.NetPnL > 0:
			wins++
			winSum += t.NetPnL
		case t.NetPnL < 0:
			losses++
			lossSum += t.NetPnL
		}
		days += math.Floor(t.Duration().Hours() / 24)
	}

	s.TradeWinRate = float64(wins) / float64(len(trades))
	s.AvgTradeDays = days / float64(len(trades))
	if wins > 0 {
		s.AvgWin = winSum / float64(wins)
	}
	if losses > 0 {
		s.AvgLoss = lossSum / float64(losses)
	}
	switch {
	case lossSum != 0:
		s.ProfitFactor = math.Min(winSum/math.Abs(lossSum), MaxProfitFactor)
	case winSum > 0:
		s.ProfitFactor = MaxProfitFactor
	}
}

// maxDrawdown returns the deepest peak-to-trough decline as a non-positive
// fraction.
func maxDrawdown(eq []float64) float64 {
	peak := eq[0]
	worst := 0.0
	for _, v := range eq {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := v/peak - 1; dd < worst {
				worst = dd
			}
		}
	}
	return worst
}

// stability is the R² of a least-squares line through log equity against
// bar index.
func stability(eq []float64) float64 {
	n := float64(len(eq))
	var sx, sy, sxx, syy, sxy float64
	for i, v := range eq {
		if v <= 0 {
			return 0
		}
		x, y := float64(i), math.Log(v)
		sx += x
		sy += y
		sxx += x * x
		syy += y * y
		sxy += x * y
	}
	vx := n*sxx - sx*sx
	vy := n*syy - sy*sy
	if vx <= 0 || vy <= 1e-18 {
		return 0
	}
	cov := n*sxy - sx*sy
	return finite(cov * cov / (vx * vy))
}

// moments returns the bias-corrected sample skewness and excess kurtosis of
// x. Skewness needs three points and kurtosis four; a constant series has
// neither.
func moments(x []float64) (skew, kurt float64) {
	n := float64(len(x))
	if n < 3 {
		return 0, 0
	}
	m := meanOf(x)
	var m2, m3, m4 float64
	for _, v := range x {
		d := v - m
		d2 := d * d
		m2 += d2
		m3 += d2 * d
		m4 += d2 * d2
	}
	m2 /= n
	m3 /= n
	m4 /= n
	if m2 <= 1e-28 {
		return 0, 0
	}
	skew = finite(math.Sqrt(n*(n-1)) / (n - 2) * m3 / math.Pow(m2, 1.5))
	if n >= 4 {
		kurt = finite((n - 1) / ((n - 2) * (n - 3)) * ((n+1)*m4/(m2*m2) - 3*(n-1)))
	}
	return skew, kurt
}

func meanOf(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	var sum float64
	for _, v := range x {
		sum += v
	}
	return sum / float64(len(x))
}

func sampleStd(x []float64) float64 {
	if len(x) < 2 {
		return 0
	}
	m := meanOf(x)
	var ss float64
	for _, v := range x {
		ss += (v - m) * (v - m)
	}
	return math.Sqrt(ss / float64(len(x)-1))
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return finite(num / den)
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
