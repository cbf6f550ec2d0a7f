// Package api exposes the backtester over gRPC and JSON HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"strategylab/internal/domain"
	"strategylab/internal/engine"
	"strategylab/internal/store"
	"strategylab/internal/strategy"
	"strategylab/internal/strategy/builtins"
)

// ErrBadRequest marks a malformed or incomplete request.
var ErrBadRequest = errors.New("bad request")

// BacktestRequest asks for one backtest over stored bars. Unset engine
// fields fall back to the service defaults; dates are YYYY-MM-DD.
type BacktestRequest struct {
	Strategy        string   `json:"strategy"`
	Symbol          string   `json:"symbol"`
	Market          string   `json:"market,omitempty"`
	Start           string   `json:"start,omitempty"`
	End             string   `json:"end,omitempty"`
	InitialCapital  *float64 `json:"initial_capital,omitempty"`
	TransactionCost *float64 `json:"transaction_cost,omitempty"`
	StopLoss        *float64 `json:"stop_loss,omitempty"`
	TakeProfit      *float64 `json:"take_profit,omitempty"`
	PositionSize    *float64 `json:"position_size,omitempty"`
	DividendYield   *float64 `json:"dividend_yield,omitempty"`

	// NoStopLoss and NoTakeProfit switch off a threshold the service
	// defaults would otherwise apply.
	NoStopLoss   bool `json:"no_stop_loss,omitempty"`
	NoTakeProfit bool `json:"no_take_profit,omitempty"`

	Params *StrategyParams `json:"params,omitempty"`
}

// StrategyParams overrides individual strategy parameters for one request.
// Unset fields keep the service's configured values.
type StrategyParams struct {
	SMAWindow     *int     `json:"sma_window,omitempty"`
	BandWindow    *int     `json:"band_window,omitempty"`
	BandStdDev    *float64 `json:"band_std_dev,omitempty"`
	RSIPeriod     *int     `json:"rsi_period,omitempty"`
	RSIOversold   *float64 `json:"rsi_oversold,omitempty"`
	RSIOverbought *float64 `json:"rsi_overbought,omitempty"`
	RSIMidline    *float64 `json:"rsi_midline,omitempty"`
}

func (p *StrategyParams) apply(base builtins.Params) builtins.Params {
	out := base
	setInt := func(dst *int, v *int) {
		if v != nil {
			*dst = *v
		}
	}
	setFloat := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	setInt(&out.SMAWindow, p.SMAWindow)
	setInt(&out.BandWindow, p.BandWindow)
	setFloat(&out.BandStdDev, p.BandStdDev)
	setInt(&out.RSIPeriod, p.RSIPeriod)
	setFloat(&out.RSIOversold, p.RSIOversold)
	setFloat(&out.RSIOverbought, p.RSIOverbought)
	setFloat(&out.RSIMidline, p.RSIMidline)
	return out
}

// StrategyInfo describes one registered strategy.
type StrategyInfo struct {
	Name   string `json:"name"`
	Warmup int    `json:"warmup"`
}

// RunDetail is a stored run with its trade ledger.
type RunDetail struct {
	Run    domain.RunRecord `json:"run"`
	Trades []domain.Trade   `json:"trades"`
}

// Service implements the operations shared by the gRPC and HTTP surfaces.
type Service struct {
	bt       *strategy.Backtester
	runs     store.RunStore
	defaults engine.Config
	params   builtins.Params
	market   domain.Market
	start    time.Time
	now      func() time.Time
	log      *slog.Logger
}

// NewService creates a Service. defaults seeds every request's engine
// configuration and params its strategy parameters; market and start apply
// when a request omits them.
func NewService(bt *strategy.Backtester, runs store.RunStore, defaults engine.Config, params builtins.Params, market domain.Market, start time.Time, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		bt:       bt,
		runs:     runs,
		defaults: defaults,
		params:   params,
		market:   market,
		start:    start,
		now:      time.Now,
		log:      log.With("component", "api"),
	}
}

// Run executes the requested backtest and persists it.
func (s *Service) Run(ctx context.Context, req BacktestRequest) (*strategy.Report, error) {
	name := strings.TrimSpace(req.Strategy)
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if name == "" || symbol == "" {
		return nil, fmt.Errorf("%w: strategy and symbol are required", ErrBadRequest)
	}

	market := s.market
	if req.Market != "" {
		market = domain.Market(strings.ToLower(req.Market))
		if market != domain.MarketUS && market != domain.MarketIN {
			return nil, fmt.Errorf("%w: unknown market %q", ErrBadRequest, req.Market)
		}
	}
	start, err := parseDate(req.Start, s.start)
	if err != nil {
		return nil, err
	}
	end, err := parseDate(req.End, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end %s before start %s", ErrBadRequest, req.End, req.Start)
	}

	cfg, err := req.engineConfig(s.defaults)
	if err != nil {
		return nil, err
	}
	if req.Params == nil {
		return s.bt.Run(ctx, name, symbol, market, start, end, cfg)
	}

	strat, err := builtins.New(name, req.Params.apply(s.params))
	if err != nil {
		return nil, err
	}
	bars, err := s.bt.LoadBars(ctx, symbol, market, start, end)
	if err != nil {
		return nil, err
	}
	return s.bt.RunStrategy(ctx, strat, bars, cfg)
}

func (r BacktestRequest) engineConfig(base engine.Config) (engine.Config, error) {
	if r.NoStopLoss && r.StopLoss != nil {
		return engine.Config{}, fmt.Errorf("%w: stop_loss set together with no_stop_loss", ErrBadRequest)
	}
	if r.NoTakeProfit && r.TakeProfit != nil {
		return engine.Config{}, fmt.Errorf("%w: take_profit set together with no_take_profit", ErrBadRequest)
	}
	cfg := base
	if r.InitialCapital != nil {
		cfg.InitialCapital = *r.InitialCapital
	}
	if r.TransactionCost != nil {
		cfg.TransactionCost = *r.TransactionCost
	}
	if r.StopLoss != nil {
		cfg.StopLoss = engine.Float(*r.StopLoss)
	}
	if r.TakeProfit != nil {
		cfg.TakeProfit = engine.Float(*r.TakeProfit)
	}
	if r.PositionSize != nil {
		cfg.PositionSize = *r.PositionSize
	}
	if r.DividendYield != nil {
		cfg.DividendYield = *r.DividendYield
	}
	if r.NoStopLoss {
		cfg.StopLoss = nil
	}
	if r.NoTakeProfit {
		cfg.TakeProfit = nil
	}
	return cfg, nil
}

func parseDate(s string, fallback time.Time) (time.Time, error) {
	if s == "" {
		return fallback, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q: want YYYY-MM-DD", ErrBadRequest, s)
	}
	return t, nil
}

// Strategies lists the registered strategies sorted by name.
func (s *Service) Strategies() []StrategyInfo {
	reg := s.bt.Registry()
	names := reg.List()
	out := make([]StrategyInfo, 0, len(names))
	for _, n := range names {
		st, _ := reg.Get(n)
		out = append(out, StrategyInfo{Name: n, Warmup: st.Warmup()})
	}
	return out
}

// GetRun returns a stored run and its trades.
func (s *Service) GetRun(ctx context.Context, id string) (*RunDetail, error) {
	if s.runs == nil {
		return nil, fmt.Errorf("%w: %s", store.ErrRunNotFound, id)
	}
	rec, err := s.runs.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	trades, err := s.runs.ListTrades(ctx, id)
	if err != nil {
		return nil, err
	}
	return &RunDetail{Run: *rec, Trades: trades}, nil
}

// ListRuns returns up to limit stored runs, newest first.
func (s *Service) ListRuns(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	if s.runs == nil {
		return []domain.RunRecord{}, nil
	}
	return s.runs.ListRuns(ctx, limit)
}

// isClientError reports whether err was caused by the request rather than
// the server.
func isClientError(err error) bool {
	return errors.Is(err, ErrBadRequest) ||
		errors.Is(err, engine.ErrInvalidConfig) ||
		errors.Is(err, engine.ErrUnorderedBars) ||
		errors.Is(err, builtins.ErrInvalidParams)
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrRunNotFound) ||
		errors.Is(err, strategy.ErrUnknownStrategy) ||
		errors.Is(err, engine.ErrNoBars)
}
