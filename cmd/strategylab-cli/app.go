package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"strategylab/internal/config"
	"strategylab/internal/domain"
	"strategylab/internal/engine"
	"strategylab/internal/store"
	"strategylab/internal/strategy"
	"strategylab/internal/strategy/builtins"
	"strategylab/internal/util"
)

// app bundles the configuration and stores one command needs.
type app struct {
	cfg  *config.Config
	log  *slog.Logger
	bars *store.ParquetStore
	runs *store.SQLiteStore
	bt   *strategy.Backtester
}

// commonFlags are shared by every backtest command.
type commonFlags struct {
	configPath string
	symbol     string
	csvPath    string
	start      string
	end        string
	noSave     bool
	noSL, noTP bool

	cost, stopLoss, takeProfit, size, capital float64
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", config.PathFromEnv(), "config file")
	fs.StringVar(&c.symbol, "symbol", "", "symbol (default: first of data.symbols)")
	fs.StringVar(&c.csvPath, "csv", "", "read bars from this CSV file instead of the bar store")
	fs.StringVar(&c.start, "start", "", "first date, YYYY-MM-DD (default data.start_date)")
	fs.StringVar(&c.end, "end", "", "last date, YYYY-MM-DD (default data.end_date)")
	fs.BoolVar(&c.noSave, "no-save", false, "do not record the run")
	fs.Float64Var(&c.cost, "cost", 0, "transaction cost per side, fraction")
	fs.Float64Var(&c.stopLoss, "sl", 0, "stop-loss threshold, negative fraction")
	fs.Float64Var(&c.takeProfit, "tp", 0, "take-profit threshold, positive fraction")
	fs.BoolVar(&c.noSL, "no-sl", false, "disable the configured stop-loss")
	fs.BoolVar(&c.noTP, "no-tp", false, "disable the configured take-profit")
	fs.Float64Var(&c.size, "size", 0, "position size fraction in (0, 1]")
	fs.Float64Var(&c.capital, "capital", 0, "initial capital")
}

// engineConfig applies explicitly set flags on top of the configured engine
// settings.
func (c *commonFlags) engineConfig(fs *flag.FlagSet, base engine.Config) engine.Config {
	cfg := base
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "cost":
			cfg.TransactionCost = c.cost
		case "sl":
			cfg.StopLoss = engine.Float(c.stopLoss)
		case "tp":
			cfg.TakeProfit = engine.Float(c.takeProfit)
		case "size":
			cfg.PositionSize = c.size
		case "capital":
			cfg.InitialCapital = c.capital
		}
	})
	if c.noSL {
		cfg.StopLoss = nil
	}
	if c.noTP {
		cfg.TakeProfit = nil
	}
	return cfg
}

// newApp loads configuration and opens the stores. The caller must call
// close.
func newApp(configPath string, persist bool) (*app, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	reg, err := builtins.NewRegistry(cfg.Strategies)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:  cfg,
		log:  logger,
		bars: store.NewParquetStore(cfg.Storage.DataDir),
	}
	opts := strategy.Options{
		RiskFree:    cfg.RiskFree(),
		MaxParallel: cfg.Backtest.MaxParallel,
		Logger:      logger,
	}
	if persist {
		if a.runs, err = store.NewSQLiteStore(cfg.Storage.SQLitePath); err != nil {
			return nil, err
		}
		opts.Runs = a.runs
		opts.Results = a.bars
	}
	a.bt = strategy.NewBacktester(a.bars, reg, opts)
	return a, nil
}

func (a *app) close() {
	if a.runs != nil {
		a.runs.Close()
	}
}

// loadBars returns the bars selected by the common flags.
func (a *app) loadBars(ctx context.Context, c *commonFlags) ([]domain.Bar, error) {
	symbol := strings.ToUpper(c.symbol)
	switch {
	case symbol != "":
	case c.csvPath != "":
		symbol = symbolFromPath(c.csvPath)
	case len(a.cfg.Data.Symbols) > 0:
		symbol = strings.ToUpper(a.cfg.Data.Symbols[0])
	default:
		return nil, fmt.Errorf("no symbol: pass -symbol or set data.symbols")
	}

	start, end, err := a.cfg.DateRange()
	if err != nil {
		return nil, err
	}
	if c.start != "" {
		if start, err = time.Parse(time.DateOnly, c.start); err != nil {
			return nil, fmt.Errorf("-start: %w", err)
		}
	}
	if c.end != "" {
		if end, err = time.Parse(time.DateOnly, c.end); err != nil {
			return nil, fmt.Errorf("-end: %w", err)
		}
	}

	if c.csvPath == "" {
		return a.bt.LoadBars(ctx, symbol, a.cfg.Data.Market, start, end)
	}
	all, err := store.LoadCSV(c.csvPath, symbol)
	if err != nil {
		return nil, err
	}
	var bars []domain.Bar
	for _, b := range all {
		if !b.Timestamp.Before(start) && !b.Timestamp.After(end) {
			bars = append(bars, b)
		}
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%s: %w", c.csvPath, engine.ErrNoBars)
	}
	return bars, nil
}

// symbolFromPath derives a symbol from a file name such as "data/spy.csv".
func symbolFromPath(path string) string {
	base := path[strings.LastIndexAny(path, `/\`)+1:]
	if i := strings.IndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	return strings.ToUpper(base)
}

func parseFloats(s string) ([]float64, error) {
	var out []float64
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing %q: %w", f, err)
		}
		out = append(out, v)
	}
	return out, nil
}
