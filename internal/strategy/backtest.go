package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"strategylab/internal/domain"
	"strategylab/internal/engine"
	"strategylab/internal/metrics"
	"strategylab/internal/store"
)

// Report is the outcome of one backtest run: the engine result plus its
// strategy and buy-and-hold summaries.
type Report struct {
	RunID     string          `json:"run_id"`
	Symbol    string          `json:"symbol"`
	Result    *engine.Result  `json:"result"`
	Summary   metrics.Summary `json:"summary"`
	Benchmark metrics.Summary `json:"benchmark"`
}

// Options configures a Backtester. Nil stores disable persistence.
type Options struct {
	Runs        store.RunStore
	Results     store.ResultStore
	RiskFree    float64
	MaxParallel int
	Logger      *slog.Logger
}

// Backtester replays historical bar data through registered strategies,
// computes performance metrics and records each run.
type Backtester struct {
	store    store.BarStore
	registry *Registry
	runs     store.RunStore
	results  store.ResultStore
	riskFree float64
	parallel int
	log      *slog.Logger
	now      func() time.Time
}

// NewBacktester creates a Backtester that reads bars from the given store and
// looks up strategies in the provided registry.
func NewBacktester(barStore store.BarStore, registry *Registry, opts Options) *Backtester {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	parallel := opts.MaxParallel
	if parallel < 1 {
		parallel = 1
	}
	return &Backtester{
		store:    barStore,
		registry: registry,
		runs:     opts.Runs,
		results:  opts.Results,
		riskFree: opts.RiskFree,
		parallel: parallel,
		log:      log.With("component", "backtester"),
		now:      time.Now,
	}
}

// Registry returns the strategy registry the backtester resolves names in.
func (bt *Backtester) Registry() *Registry { return bt.registry }

// LoadBars reads bars for symbol from the bar store. An empty range is an
// error.
func (bt *Backtester) LoadBars(ctx context.Context, symbol string, market domain.Market, start, end time.Time) ([]domain.Bar, error) {
	if bt.store == nil {
		return nil, fmt.Errorf("no bar store configured")
	}
	bars, err := bt.store.ReadBars(ctx, symbol, market, start, end)
	if err != nil {
		return nil, fmt.Errorf("loading %s bars: %w", symbol, err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%s/%s %s..%s: %w", market, symbol,
			start.Format(time.DateOnly), end.Format(time.DateOnly), engine.ErrNoBars)
	}
	return bars, nil
}

// Run executes a backtest for the named strategy over the bars stored for
// symbol within [start, end].
func (bt *Backtester) Run(
	ctx context.Context,
	name string,
	symbol string,
	market domain.Market,
	start, end time.Time,
	cfg engine.Config,
) (*Report, error) {
	bars, err := bt.LoadBars(ctx, symbol, market, start, end)
	if err != nil {
		return nil, err
	}
	return bt.RunBars(ctx, name, bars, cfg)
}

// RunBars executes a backtest for the named strategy over bars already in
// memory. The bars are not modified.
func (bt *Backtester) RunBars(ctx context.Context, name string, bars []domain.Bar, cfg engine.Config) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, ok := bt.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
	return bt.RunStrategy(ctx, s, bars, cfg)
}

// RunStrategy executes a backtest of s over bars. s need not be registered,
// which lets callers run a strategy built with one-off parameters.
func (bt *Backtester) RunStrategy(ctx context.Context, s Strategy, bars []domain.Bar, cfg engine.Config) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := s.Name()
	eng, err := engine.New(cfg, bt.log)
	if err != nil {
		return nil, err
	}
	if len(bars) <= s.Warmup() {
		bt.log.Warn("series shorter than strategy warmup, no signals possible",
			"strategy", name, "bars", len(bars), "warmup", s.Warmup())
	}

	res, err := eng.Run(s, bars)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	rep := &Report{
		RunID:     uuid.NewString(),
		Symbol:    bars[0].Symbol,
		Result:    res,
		Summary:   metrics.Compute(res.Bars, res.Trades, bt.riskFree),
		Benchmark: metrics.ComputeBenchmark(res.Bars, bt.riskFree),
	}
	bt.log.Info("backtest complete",
		"run_id", rep.RunID,
		"strategy", name,
		"symbol", rep.Symbol,
		"bars", len(bars),
		"trades", len(res.Trades),
		"final_equity", res.FinalEquity(),
	)

	if err := bt.persist(ctx, rep); err != nil {
		return nil, err
	}
	return rep, nil
}

// Compare runs every named strategy (all registered ones when names is empty)
// over the same bars. Reports are returned in the order of names.
func (bt *Backtester) Compare(ctx context.Context, names []string, bars []domain.Bar, cfg engine.Config) ([]*Report, error) {
	if len(names) == 0 {
		names = bt.registry.List()
	}
	jobs := make([]engine.Config, len(names))
	for i := range jobs {
		jobs[i] = cfg
	}
	return bt.fanOut(ctx, names, jobs, bars)
}

// Sweep runs one strategy at each transaction cost in costs, holding every
// other setting fixed. Reports are returned in the order of costs.
func (bt *Backtester) Sweep(ctx context.Context, name string, bars []domain.Bar, cfg engine.Config, costs []float64) ([]*Report, error) {
	names := make([]string, len(costs))
	jobs := make([]engine.Config, len(costs))
	for i, c := range costs {
		names[i] = name
		jobs[i] = cfg
		jobs[i].TransactionCost = c
	}
	return bt.fanOut(ctx, names, jobs, bars)
}

// fanOut runs names[i] under cfgs[i] with at most bt.parallel runs in flight.
// Each run gets its own copy of bars from the engine.
func (bt *Backtester) fanOut(ctx context.Context, names []string, cfgs []engine.Config, bars []domain.Bar) ([]*Report, error) {
	out := make([]*Report, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bt.parallel)

	for i := range names {
		g.Go(func() error {
			rep, err := bt.RunBars(gctx, names[i], bars, cfgs[i])
			if err != nil {
				return err
			}
			out[i] = rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (bt *Backtester) persist(ctx context.Context, rep *Report) error {
	res := rep.Result
	if bt.runs != nil {
		cfgJSON, err := json.Marshal(res.Config)
		if err != nil {
			return err
		}
		rec := &domain.RunRecord{
			ID:              rep.RunID,
			Strategy:        res.Strategy,
			Symbol:          rep.Symbol,
			Start:           res.Bars[0].Timestamp,
			End:             res.Bars[len(res.Bars)-1].Timestamp,
			Bars:            len(res.Bars),
			InitialCapital:  res.Config.InitialCapital,
			FinalEquity:     res.FinalEquity(),
			BenchmarkEquity: res.BenchmarkEquity(),
			TotalReturn:     rep.Summary.TotalReturn,
			CAGR:            rep.Summary.CAGR,
			Sharpe:          rep.Summary.Sharpe,
			MaxDrawdown:     rep.Summary.MaxDrawdown,
			TotalTrades:     len(res.Trades),
			ConfigJSON:      string(cfgJSON),
			CreatedAt:       bt.now().UTC(),
		}
		if err := bt.runs.SaveRun(ctx, rec, res.Trades); err != nil {
			return fmt.Errorf("saving run %s: %w", rep.RunID, err)
		}
	}
	if bt.results != nil {
		if err := bt.results.WriteResults(ctx, rep.RunID, res.Bars); err != nil {
			return err
		}
	}
	return nil
}

// SplitBars partitions bars at the given time: in-sample bars are strictly
// before at, out-of-sample bars are at or after it. The input must be
// ordered; the returned slices share its backing array.
func SplitBars(bars []domain.Bar, at time.Time) (inSample, outOfSample []domain.Bar) {
	i := 0
	for i < len(bars) && bars[i].Timestamp.Before(at) {
		i++
	}
	return bars[:i:i], bars[i:]
}
