// Package report renders backtest results as styled terminal text.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"strategylab/internal/domain"
	"strategylab/internal/metrics"
	"strategylab/internal/strategy"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("6"))
	colHeaderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	labelStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	valueStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	gainStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	nameStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
)

// signed picks the gain or loss style for v.
func signed(v float64) lipgloss.Style {
	switch {
	case v > 0:
		return gainStyle
	case v < 0:
		return lossStyle
	}
	return valueStyle
}

// table lays out left-aligned first column and right-aligned others. Cells
// are padded before styling so escape codes do not disturb alignment.
type table struct {
	header []string
	rows   [][]cell
}

type cell struct {
	text  string
	style lipgloss.Style
}

func plain(s string) cell { return cell{text: s, style: valueStyle} }

func (t *table) add(cells ...cell) { t.rows = append(t.rows, cells) }

func (t *table) render(w io.Writer) {
	widths := make([]int, len(t.header))
	for i, h := range t.header {
		widths[i] = lipgloss.Width(h)
	}
	for _, r := range t.rows {
		for i, c := range r {
			if n := lipgloss.Width(c.text); n > widths[i] {
				widths[i] = n
			}
		}
	}

	var b strings.Builder
	for i, h := range t.header {
		b.WriteString(colHeaderStyle.Render(pad(h, widths[i], i == 0)))
		b.WriteString("  ")
	}
	b.WriteByte('\n')
	total := len(t.header)*2 - 2
	for _, n := range widths {
		total += n
	}
	b.WriteString(dimStyle.Render(strings.Repeat("─", total)))
	b.WriteByte('\n')
	for _, r := range t.rows {
		for i, c := range r {
			b.WriteString(c.style.Render(pad(c.text, widths[i], i == 0)))
			b.WriteString("  ")
		}
		b.WriteByte('\n')
	}
	fmt.Fprint(w, b.String())
}

func pad(s string, width int, left bool) string {
	gap := width - lipgloss.Width(s)
	if gap <= 0 {
		return s
	}
	if left {
		return s + strings.Repeat(" ", gap)
	}
	return strings.Repeat(" ", gap) + s
}

func title(w io.Writer, text string) {
	fmt.Fprintln(w, titleStyle.Render(" "+text+" "))
}

// Summary writes the headline block of one run followed by a strategy
// versus buy-and-hold table.
func Summary(w io.Writer, rep *strategy.Report) {
	res := rep.Result
	first, last := res.Bars[0].Timestamp, res.Bars[len(res.Bars)-1].Timestamp
	title(w, fmt.Sprintf("%s on %s", res.Strategy, rep.Symbol))

	kv := func(k, v string, style lipgloss.Style) {
		fmt.Fprintf(w, "  %s %s\n", labelStyle.Render(pad(k, 16, true)), style.Render(v))
	}
	kv("Run", rep.RunID, dimStyle)
	kv("Period", fmt.Sprintf("%s .. %s (%s bars)",
		first.Format(time.DateOnly), last.Format(time.DateOnly), FormatInt(len(res.Bars))), valueStyle)
	kv("Initial capital", FormatMoney(res.Config.InitialCapital), valueStyle)
	kv("Final equity", FormatMoney(res.FinalEquity()), signed(res.FinalEquity()-res.Config.InitialCapital))
	kv("Buy and hold", FormatMoney(res.BenchmarkEquity()), signed(res.BenchmarkEquity()-res.Config.InitialCapital))
	kv("Cost per side", FormatPct(res.Config.TransactionCost), valueStyle)
	fmt.Fprintln(w)

	Metrics(w, rep.Summary, rep.Benchmark)
}

// Metrics writes strategy and benchmark statistics side by side.
func Metrics(w io.Writer, s, bench metrics.Summary) {
	t := &table{header: []string{"Metric", "Strategy", "Buy & Hold"}}
	pct := func(name string, a, b float64) {
		t.add(plain(name),
			cell{FormatPct(a), signed(a)},
			cell{FormatPct(b), signed(b)})
	}
	ratio := func(name string, a, b float64) {
		t.add(plain(name), plain(FormatRatio(a)), plain(FormatRatio(b)))
	}
	pct("Total return", s.TotalReturn, bench.TotalReturn)
	pct("CAGR", s.CAGR, bench.CAGR)
	pct("Volatility", s.Volatility, bench.Volatility)
	ratio("Sharpe", s.Sharpe, bench.Sharpe)
	ratio("Sortino", s.Sortino, bench.Sortino)
	pct("Max drawdown", s.MaxDrawdown, bench.MaxDrawdown)
	ratio("Calmar", s.Calmar, bench.Calmar)
	ratio("Stability", s.Stability, bench.Stability)
	ratio("Skewness", s.Skewness, bench.Skewness)
	ratio("Kurtosis", s.Kurtosis, bench.Kurtosis)
	pct("Daily win rate", s.WinRateDaily, bench.WinRateDaily)
	pct("Exposure", s.Exposure, bench.Exposure)
	t.render(w)
	fmt.Fprintln(w)

	if s.TotalTrades == 0 {
		fmt.Fprintln(w, dimStyle.Render("  no completed trades"))
		return
	}
	tt := &table{header: []string{"Trades", "Win rate", "Avg days", "Avg win", "Avg loss", "Profit factor"}}
	tt.add(
		plain(FormatInt(s.TotalTrades)),
		plain(FormatPct(s.TradeWinRate)),
		plain(fmt.Sprintf("%.1f", s.AvgTradeDays)),
		cell{FormatPct(s.AvgWin), gainStyle},
		cell{FormatPct(s.AvgLoss), lossStyle},
		plain(FormatRatio(s.ProfitFactor)),
	)
	tt.render(w)
}

// Analysis writes the drawdown recovery, calendar returns, regime breakdown
// and rolling Sharpe of one run.
func Analysis(w io.Writer, rows []domain.BarResult, riskFree float64, sharpeWindow int) {
	if len(rows) == 0 {
		return
	}
	title(w, "Drawdown")
	d := metrics.DrawdownRecovery(rows)
	kv := func(k, v string, style lipgloss.Style) {
		fmt.Fprintf(w, "  %s %s\n", labelStyle.Render(pad(k, 16, true)), style.Render(v))
	}
	kv("Max drawdown", FormatPct(d.MaxDrawdown), signed(d.MaxDrawdown))
	if d.MaxDrawdown < 0 {
		kv("Peak", d.Peak.Format(time.DateOnly), valueStyle)
		kv("Trough", d.Trough.Format(time.DateOnly), valueStyle)
		if d.Recovered {
			kv("Recovered", fmt.Sprintf("%s (%s days)", d.Recovery.Format(time.DateOnly), FormatInt(d.RecoveryDays)), valueStyle)
		} else {
			kv("Recovered", "not yet", lossStyle)
		}
	}
	fmt.Fprintln(w)

	title(w, "Annual returns")
	at := &table{header: []string{"Year", "Strategy", "Buy & Hold", "Difference"}}
	for _, a := range metrics.AnnualReturns(rows) {
		at.add(plain(fmt.Sprint(a.Year)),
			cell{FormatPct(a.Strategy), signed(a.Strategy)},
			cell{FormatPct(a.Market), signed(a.Market)},
			cell{FormatPct(a.Outperformance), signed(a.Outperformance)})
	}
	at.render(w)
	fmt.Fprintln(w)

	title(w, "Monthly returns")
	MonthlyGrid(w, metrics.MonthlyReturns(rows))
	fmt.Fprintln(w)

	if regimes := metrics.ByRegime(rows, metrics.DefaultRegimes()); len(regimes) > 0 {
		title(w, "Market regimes")
		rt := &table{header: []string{"Regime", "Bars", "Return", "Avg daily", "Volatility"}}
		for _, r := range regimes {
			rt.add(cell{r.Regime.Name, nameStyle},
				plain(FormatInt(r.Bars)),
				cell{FormatPct(r.TotalReturn), signed(r.TotalReturn)},
				cell{fmt.Sprintf("%+.3f%%", r.AvgDailyReturn*100), signed(r.AvgDailyReturn)},
				plain(FormatPct(r.Volatility)))
		}
		rt.render(w)
		fmt.Fprintln(w)
	}

	rs := metrics.RollingSharpe(rows, sharpeWindow, riskFree)
	var (
		n               int
		last, low, high float64
	)
	for i := range rs.Values {
		v, ok := rs.At(i)
		if !ok {
			continue
		}
		if n == 0 || v < low {
			low = v
		}
		if n == 0 || v > high {
			high = v
		}
		last = v
		n++
	}
	if n == 0 {
		fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("  rolling %d-bar Sharpe undefined", sharpeWindow)))
		return
	}
	title(w, fmt.Sprintf("Rolling %d-bar Sharpe", sharpeWindow))
	kv("Last", FormatRatio(last), signed(last))
	kv("Low", FormatRatio(low), signed(low))
	kv("High", FormatRatio(high), signed(high))
}

// MonthlyGrid writes monthly returns as a year by month grid. Months
// without bars are blank.
func MonthlyGrid(w io.Writer, months []metrics.MonthlyReturn) {
	header := []string{"Year"}
	for m := time.January; m <= time.December; m++ {
		header = append(header, m.String()[:3])
	}
	t := &table{header: header}
	var row []cell
	year := 0
	flush := func() {
		if row != nil {
			t.add(row...)
		}
	}
	for _, mr := range months {
		if mr.Year != year {
			flush()
			year = mr.Year
			row = make([]cell, 13)
			row[0] = plain(fmt.Sprint(year))
			for i := 1; i < len(row); i++ {
				row[i] = cell{"", dimStyle}
			}
		}
		row[int(mr.Month)] = cell{fmt.Sprintf("%+.1f", mr.Return*100), signed(mr.Return)}
	}
	flush()
	t.render(w)
}

// Trades writes the trade ledger. limit <= 0 writes every trade; otherwise
// only the last limit trades are shown.
func Trades(w io.Writer, trades []domain.Trade, limit int) {
	if len(trades) == 0 {
		return
	}
	shown := trades
	if limit > 0 && len(trades) > limit {
		shown = trades[len(trades)-limit:]
	}
	t := &table{header: []string{"#", "Entry", "Price", "Exit", "Price", "Shares", "Net P&L", "Return", "Reason"}}
	offset := len(trades) - len(shown)
	for i, tr := range shown {
		t.add(
			cell{FormatInt(offset + i + 1), dimStyle},
			plain(tr.EntryTime.Format(time.DateOnly)),
			plain(FormatPrice(tr.EntryPrice)),
			plain(tr.ExitTime.Format(time.DateOnly)),
			plain(FormatPrice(tr.ExitPrice)),
			plain(fmt.Sprintf("%.2f", tr.Shares)),
			cell{FormatMoney(tr.NetPnL), signed(tr.NetPnL)},
			cell{FormatPct(tr.ReturnPct), signed(tr.ReturnPct)},
			cell{string(tr.ExitReason), dimStyle},
		)
	}
	if offset > 0 {
		fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("  last %d of %s trades", len(shown), FormatInt(len(trades)))))
	}
	t.render(w)
}

// Comparison writes one row per report, in the given order.
func Comparison(w io.Writer, reps []*strategy.Report) {
	if len(reps) == 0 {
		return
	}
	title(w, "Strategy comparison on "+reps[0].Symbol)
	t := &table{header: []string{"Strategy", "Final equity", "Return", "CAGR", "Sharpe", "Max DD", "Trades"}}
	for _, rep := range reps {
		addRunRow(t, cell{rep.Result.Strategy, nameStyle}, rep)
	}
	bench := reps[0]
	t.add(
		cell{"buy-and-hold", dimStyle},
		plain(FormatMoney(bench.Result.BenchmarkEquity())),
		cell{FormatPct(bench.Benchmark.TotalReturn), signed(bench.Benchmark.TotalReturn)},
		cell{FormatPct(bench.Benchmark.CAGR), signed(bench.Benchmark.CAGR)},
		plain(FormatRatio(bench.Benchmark.Sharpe)),
		cell{FormatPct(bench.Benchmark.MaxDrawdown), lossStyle},
		cell{"-", dimStyle},
	)
	t.render(w)
}

// Sweep writes one row per transaction cost level.
func Sweep(w io.Writer, reps []*strategy.Report) {
	if len(reps) == 0 {
		return
	}
	title(w, fmt.Sprintf("Cost sensitivity: %s on %s", reps[0].Result.Strategy, reps[0].Symbol))
	t := &table{header: []string{"Cost/side", "Final equity", "Return", "CAGR", "Sharpe", "Max DD", "Trades"}}
	for _, rep := range reps {
		addRunRow(t, plain(FormatPct(rep.Result.Config.TransactionCost)), rep)
	}
	t.render(w)
}

func addRunRow(t *table, first cell, rep *strategy.Report) {
	s := rep.Summary
	t.add(
		first,
		cell{FormatMoney(rep.Result.FinalEquity()), signed(rep.Result.FinalEquity() - rep.Result.Config.InitialCapital)},
		cell{FormatPct(s.TotalReturn), signed(s.TotalReturn)},
		cell{FormatPct(s.CAGR), signed(s.CAGR)},
		plain(FormatRatio(s.Sharpe)),
		cell{FormatPct(s.MaxDrawdown), lossStyle},
		plain(FormatInt(s.TotalTrades)),
	)
}

// Runs writes stored run summaries, newest first as given.
func Runs(w io.Writer, runs []domain.RunRecord) {
	if len(runs) == 0 {
		fmt.Fprintln(w, dimStyle.Render("  no runs recorded"))
		return
	}
	t := &table{header: []string{"ID", "Created", "Strategy", "Symbol", "Period", "Final equity", "Return", "Sharpe", "Trades"}}
	for _, r := range runs {
		t.add(
			cell{r.ID, dimStyle},
			plain(r.CreatedAt.Local().Format("2006-01-02 15:04")),
			cell{r.Strategy, nameStyle},
			plain(r.Symbol),
			plain(r.Start.Format(time.DateOnly)+".."+r.End.Format(time.DateOnly)),
			plain(FormatMoney(r.FinalEquity)),
			cell{FormatPct(r.TotalReturn), signed(r.TotalReturn)},
			plain(FormatRatio(r.Sharpe)),
			plain(FormatInt(r.TotalTrades)),
		)
	}
	t.render(w)
}
