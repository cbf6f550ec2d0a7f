package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"strategylab/internal/config"
	"strategylab/internal/domain"
	"strategylab/internal/gather/us"
	"strategylab/internal/metrics"
	"strategylab/internal/report"
	"strategylab/internal/store"
	"strategylab/internal/strategy"
	"strategylab/internal/strategy/builtins"
	"strategylab/pkg/strategylab"
)

const version = "0.1.0"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: strategylab-cli <command> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  run          Backtest one strategy on one symbol\n")
		fmt.Fprintf(os.Stderr, "  compare      Backtest every strategy on the same bars\n")
		fmt.Fprintf(os.Stderr, "  sweep        Backtest one strategy at several transaction costs\n")
		fmt.Fprintf(os.Stderr, "  split        Backtest in-sample and out-of-sample halves\n")
		fmt.Fprintf(os.Stderr, "  fetch        Download daily bars from Alpaca into the bar store\n")
		fmt.Fprintf(os.Stderr, "  import       Load a CSV file into the bar store\n")
		fmt.Fprintf(os.Stderr, "  strategies   List available strategies\n")
		fmt.Fprintf(os.Stderr, "  runs         List recorded runs\n")
		fmt.Fprintf(os.Stderr, "  version      Print the CLI version\n")
		fmt.Fprintf(os.Stderr, "\nRun 'strategylab-cli <command> -h' for command options.\n")
	}

	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "run":
		err = cmdRun(ctx, args)
	case "compare":
		err = cmdCompare(ctx, args)
	case "sweep":
		err = cmdSweep(ctx, args)
	case "split":
		err = cmdSplit(ctx, args)
	case "fetch":
		err = cmdFetch(ctx, args)
	case "import":
		err = cmdImport(ctx, args)
	case "strategies":
		err = cmdStrategies(ctx, args)
	case "runs":
		err = cmdRuns(ctx, args)
	case "version":
		fmt.Printf("strategylab-cli %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

func cmdRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	var c commonFlags
	c.register(fs)
	name := fs.String("strategy", builtins.NameSMATrend, "strategy name")
	trades := fs.Int("trades", 20, "trades to print, 0 for all")
	server := fs.String("server", "", "run on a strategylab-server at this URL instead of locally")
	analysis := fs.Bool("analysis", false, "also print drawdown recovery, calendar returns, regimes and rolling Sharpe")
	window := fs.Int("sharpe-window", 30, "rolling Sharpe window in bars, with -analysis")
	fs.Parse(args)

	if *server != "" {
		rep, err := runRemote(ctx, *server, *name, &c, fs)
		if err != nil {
			return err
		}
		printRun(rep, *trades)
		if *analysis {
			fmt.Println()
			report.Analysis(os.Stdout, rep.Result.Bars, metrics.DefaultRiskFreeRate, *window)
		}
		return nil
	}

	a, err := newApp(c.configPath, !c.noSave)
	if err != nil {
		return err
	}
	defer a.close()

	bars, err := a.loadBars(ctx, &c)
	if err != nil {
		return err
	}
	rep, err := a.bt.RunBars(ctx, *name, bars, c.engineConfig(fs, a.cfg.EngineConfig()))
	if err != nil {
		return err
	}
	printRun(rep, *trades)
	if *analysis {
		fmt.Println()
		report.Analysis(os.Stdout, rep.Result.Bars, a.cfg.RiskFree(), *window)
	}
	return nil
}

func printRun(rep *strategy.Report, trades int) {
	report.Summary(os.Stdout, rep)
	fmt.Println()
	report.Trades(os.Stdout, rep.Result.Trades, trades)
}

func runRemote(ctx context.Context, url, name string, c *commonFlags, fs *flag.FlagSet) (*strategy.Report, error) {
	req := strategylab.BacktestRequest{
		Strategy:     name,
		Symbol:       c.symbol,
		Start:        c.start,
		End:          c.end,
		NoStopLoss:   c.noSL,
		NoTakeProfit: c.noTP,
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "cost":
			req.TransactionCost = &c.cost
		case "sl":
			req.StopLoss = &c.stopLoss
		case "tp":
			req.TakeProfit = &c.takeProfit
		case "size":
			req.PositionSize = &c.size
		case "capital":
			req.InitialCapital = &c.capital
		}
	})
	return strategylab.NewClient(url).RunBacktest(ctx, req)
}

func cmdCompare(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("compare", flag.ExitOnError)
	var c commonFlags
	c.register(fs)
	names := fs.String("strategies", "", "comma-separated strategy names (default all)")
	fs.Parse(args)

	a, err := newApp(c.configPath, !c.noSave)
	if err != nil {
		return err
	}
	defer a.close()

	bars, err := a.loadBars(ctx, &c)
	if err != nil {
		return err
	}
	var list []string
	if *names != "" {
		list = strings.Split(*names, ",")
	}
	reps, err := a.bt.Compare(ctx, list, bars, c.engineConfig(fs, a.cfg.EngineConfig()))
	if err != nil {
		return err
	}
	report.Comparison(os.Stdout, reps)
	return nil
}

func cmdSweep(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	var c commonFlags
	c.register(fs)
	name := fs.String("strategy", builtins.NameSMATrend, "strategy name")
	costList := fs.String("costs", "", "comma-separated costs per side (default backtest.cost_sweep)")
	fs.Parse(args)

	a, err := newApp(c.configPath, !c.noSave)
	if err != nil {
		return err
	}
	defer a.close()

	costs := a.cfg.Backtest.CostSweep
	if *costList != "" {
		if costs, err = parseFloats(*costList); err != nil {
			return err
		}
	}
	bars, err := a.loadBars(ctx, &c)
	if err != nil {
		return err
	}
	reps, err := a.bt.Sweep(ctx, *name, bars, c.engineConfig(fs, a.cfg.EngineConfig()), costs)
	if err != nil {
		return err
	}
	report.Sweep(os.Stdout, reps)
	return nil
}

func cmdSplit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("split", flag.ExitOnError)
	var c commonFlags
	c.register(fs)
	name := fs.String("strategy", builtins.NameSMATrend, "strategy name")
	at := fs.String("at", "", "first out-of-sample date, YYYY-MM-DD (default backtest.split_date)")
	fs.Parse(args)

	a, err := newApp(c.configPath, !c.noSave)
	if err != nil {
		return err
	}
	defer a.close()

	date := *at
	if date == "" {
		date = a.cfg.Backtest.SplitDate
	}
	if date == "" {
		return fmt.Errorf("no split date: pass -at or set backtest.split_date")
	}
	splitAt, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return fmt.Errorf("split date: %w", err)
	}

	bars, err := a.loadBars(ctx, &c)
	if err != nil {
		return err
	}
	cfg := c.engineConfig(fs, a.cfg.EngineConfig())
	in, out := strategy.SplitBars(bars, splitAt)
	for _, part := range []struct {
		label string
		bars  []domain.Bar
	}{{"in-sample", in}, {"out-of-sample", out}} {
		if len(part.bars) == 0 {
			fmt.Printf("%s: no bars\n\n", part.label)
			continue
		}
		rep, err := a.bt.RunBars(ctx, *name, part.bars, cfg)
		if err != nil {
			return fmt.Errorf("%s: %w", part.label, err)
		}
		fmt.Printf("[%s]\n", part.label)
		report.Summary(os.Stdout, rep)
		fmt.Println()
	}
	return nil
}

func cmdFetch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	configPath := fs.String("config", config.PathFromEnv(), "config file")
	symbols := fs.String("symbols", "", "comma-separated symbols (default data.symbols)")
	full := fs.Bool("full", false, "ignore fetch progress and refetch from data.start_date")
	fs.Parse(args)

	a, err := newApp(*configPath, false)
	if err != nil {
		return err
	}
	defer a.close()

	if a.cfg.Alpaca.APIKey == "" || a.cfg.Alpaca.APISecret == "" {
		return fmt.Errorf("alpaca credentials missing: set ALPACA_API_KEY and ALPACA_API_SECRET")
	}
	start, _, err := a.cfg.DateRange()
	if err != nil {
		return err
	}
	syms := a.cfg.Data.Symbols
	if *symbols != "" {
		syms = strings.Split(*symbols, ",")
	}

	client := us.NewClient(a.cfg.Alpaca.APIKey, a.cfg.Alpaca.APISecret, a.cfg.Alpaca.DataURL)
	g := us.NewDailyBarGatherer(client, a.bars, a.cfg.Storage.DataDir, us.Options{
		Symbols:         syms,
		Start:           start,
		Feed:            a.cfg.Alpaca.Feed,
		RateLimitPerMin: a.cfg.Alpaca.RateLimitPerMin,
		Full:            *full,
	})
	written, err := g.Fetch(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tBARS")
	for _, s := range syms {
		s = strings.ToUpper(strings.TrimSpace(s))
		fmt.Fprintf(tw, "%s\t%s\n", s, report.FormatInt(written[s]))
	}
	return tw.Flush()
}

func cmdImport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configPath := fs.String("config", config.PathFromEnv(), "config file")
	csvPath := fs.String("csv", "", "CSV file with date, open, high, low, close[, volume] columns")
	symbol := fs.String("symbol", "", "symbol (default: file name)")
	market := fs.String("market", "", "market to store under (default data.market)")
	fs.Parse(args)
	if *csvPath == "" {
		return fmt.Errorf("-csv is required")
	}

	a, err := newApp(*configPath, false)
	if err != nil {
		return err
	}
	defer a.close()

	sym := strings.ToUpper(*symbol)
	if sym == "" {
		sym = symbolFromPath(*csvPath)
	}
	bars, err := store.LoadCSV(*csvPath, sym)
	if err != nil {
		return err
	}
	mkt := a.cfg.Data.Market
	if *market != "" {
		mkt = domain.Market(strings.ToLower(*market))
	}
	if err := a.bars.WriteBars(ctx, mkt, bars); err != nil {
		return err
	}
	fmt.Printf("imported %s bars for %s/%s (%s .. %s)\n", report.FormatInt(len(bars)), mkt, sym,
		bars[0].Timestamp.Format(time.DateOnly), bars[len(bars)-1].Timestamp.Format(time.DateOnly))
	return nil
}

func cmdStrategies(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("strategies", flag.ExitOnError)
	configPath := fs.String("config", config.PathFromEnv(), "config file")
	server := fs.String("server", "", "list strategies on a strategylab-server at this URL")
	fs.Parse(args)

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tWARMUP")
	if *server != "" {
		infos, err := strategylab.NewClient(*server).ListStrategies(ctx)
		if err != nil {
			return err
		}
		for _, s := range infos {
			fmt.Fprintf(tw, "%s\t%d\n", s.Name, s.Warmup)
		}
		return tw.Flush()
	}

	a, err := newApp(*configPath, false)
	if err != nil {
		return err
	}
	defer a.close()
	reg := a.bt.Registry()
	for _, n := range reg.List() {
		s, _ := reg.Get(n)
		fmt.Fprintf(tw, "%s\t%d\n", n, s.Warmup())
	}
	return tw.Flush()
}

func cmdRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	configPath := fs.String("config", config.PathFromEnv(), "config file")
	limit := fs.Int("limit", 20, "runs to list, 0 for all")
	id := fs.String("id", "", "show one run with its trades")
	server := fs.String("server", "", "query a strategylab-server at this URL")
	fs.Parse(args)

	if *server != "" {
		client := strategylab.NewClient(*server)
		if *id != "" {
			detail, err := client.GetRun(ctx, *id)
			if err != nil {
				return err
			}
			report.Runs(os.Stdout, []domain.RunRecord{detail.Run})
			fmt.Println()
			report.Trades(os.Stdout, detail.Trades, 0)
			return nil
		}
		runs, err := client.ListRuns(ctx, *limit)
		if err != nil {
			return err
		}
		report.Runs(os.Stdout, runs)
		return nil
	}

	a, err := newApp(*configPath, true)
	if err != nil {
		return err
	}
	defer a.close()

	if *id != "" {
		rec, err := a.runs.GetRun(ctx, *id)
		if err != nil {
			return err
		}
		trades, err := a.runs.ListTrades(ctx, *id)
		if err != nil {
			return err
		}
		report.Runs(os.Stdout, []domain.RunRecord{*rec})
		fmt.Println()
		report.Trades(os.Stdout, trades, 0)
		return nil
	}
	runs, err := a.runs.ListRuns(ctx, *limit)
	if err != nil {
		return err
	}
	report.Runs(os.Stdout, runs)
	return nil
}
