package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	"strategylab/internal/api"
	"strategylab/internal/config"
	"strategylab/internal/store"
	"strategylab/internal/strategy"
	"strategylab/internal/strategy/builtins"
	"strategylab/internal/util"
)

func main() {
	cfgPath := flag.String("config", config.PathFromEnv(), "config file")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	start, _, err := cfg.DateRange()
	if err != nil {
		log.Fatalf("invalid data range: %v", err)
	}

	pstore := store.NewParquetStore(cfg.Storage.DataDir)
	runs, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open run store: %v", err)
	}
	defer runs.Close()

	reg, err := builtins.NewRegistry(cfg.Strategies)
	if err != nil {
		log.Fatalf("invalid strategy parameters: %v", err)
	}
	bt := strategy.NewBacktester(pstore, reg, strategy.Options{
		Runs:        runs,
		Results:     pstore,
		RiskFree:    cfg.RiskFree(),
		MaxParallel: cfg.Backtest.MaxParallel,
		Logger:      logger,
	})
	svc := api.NewService(bt, runs, cfg.EngineConfig(), cfg.Strategies, cfg.Data.Market, start, logger)
	srv := api.NewServer(cfg.Server, svc, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("strategylab-server starting",
		"dataDir", cfg.Storage.DataDir,
		"sqlite", cfg.Storage.SQLitePath,
		"strategies", reg.List(),
	)
	if err := srv.ListenAndServe(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
