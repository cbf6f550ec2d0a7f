package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"strategylab/internal/domain"
	"strategylab/internal/engine"
	"strategylab/internal/metrics"
	"strategylab/internal/strategy/builtins"
)

// DefaultPath is used when STRATEGYLAB_CONFIG is unset and no -config flag
// is given.
const DefaultPath = "config/strategylab.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for strategylab.
type Config struct {
	Storage    Storage         `yaml:"storage"`
	Server     Server          `yaml:"server"`
	Alpaca     Alpaca          `yaml:"alpaca"`
	Logging    Logging         `yaml:"logging"`
	Data       Data            `yaml:"data"`
	Backtest   Backtest        `yaml:"backtest"`
	Strategies builtins.Params `yaml:"strategies"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Alpaca holds credentials and endpoints for the Alpaca market data API.
type Alpaca struct {
	APIKey          string `yaml:"api_key"`
	APISecret       string `yaml:"api_secret"`
	DataURL         string `yaml:"data_url"`
	Feed            string `yaml:"feed"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Data selects the bar universe a backtest reads.
type Data struct {
	Market    domain.Market `yaml:"market"`
	Symbols   []string      `yaml:"symbols"`
	StartDate string        `yaml:"start_date"`
	EndDate   string        `yaml:"end_date"`
}

// Backtest holds engine and run-orchestration parameters.
type Backtest struct {
	InitialCapital  float64   `yaml:"initial_capital"`
	TransactionCost *float64  `yaml:"transaction_cost"`
	StopLoss        *float64  `yaml:"stop_loss"`
	TakeProfit      *float64  `yaml:"take_profit"`
	PositionSize    float64   `yaml:"position_size"`
	DividendYield   *float64  `yaml:"dividend_yield"`
	RiskFreeRate    *float64  `yaml:"risk_free_rate"`
	MaxParallel     int       `yaml:"max_parallel"`
	CostSweep       []float64 `yaml:"cost_sweep"`
	SplitDate       string    `yaml:"split_date"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, fills defaults and then applies environment variable
// overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields Default with
// environment overrides applied.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg = Default()
		applyEnvOverrides(cfg)
		return cfg, nil
	}
	return cfg, err
}

// PathFromEnv returns STRATEGYLAB_CONFIG or DefaultPath.
func PathFromEnv() string {
	if v := os.Getenv("STRATEGYLAB_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "data/strategylab.db"
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.GRPCPort == 0 {
		cfg.Server.GRPCPort = 9090
	}
	if cfg.Alpaca.DataURL == "" {
		cfg.Alpaca.DataURL = "https://data.alpaca.markets"
	}
	if cfg.Alpaca.Feed == "" {
		cfg.Alpaca.Feed = "sip"
	}
	if cfg.Alpaca.RateLimitPerMin == 0 {
		cfg.Alpaca.RateLimitPerMin = 200
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Data.Market == "" {
		cfg.Data.Market = domain.MarketUS
	}

	def := engine.DefaultConfig()
	b := &cfg.Backtest
	if b.InitialCapital == 0 {
		b.InitialCapital = def.InitialCapital
	}
	if b.TransactionCost == nil {
		b.TransactionCost = engine.Float(def.TransactionCost)
	}
	if b.PositionSize == 0 {
		b.PositionSize = def.PositionSize
	}
	if b.DividendYield == nil {
		b.DividendYield = engine.Float(def.DividendYield)
	}
	if b.RiskFreeRate == nil {
		b.RiskFreeRate = engine.Float(metrics.DefaultRiskFreeRate)
	}
	if b.MaxParallel <= 0 {
		b.MaxParallel = 4
	}
	if len(b.CostSweep) == 0 {
		b.CostSweep = []float64{0, 0.0005, 0.001, 0.002, 0.005}
	}

	p := &cfg.Strategies
	dp := builtins.DefaultParams()
	if p.SMAWindow == 0 {
		p.SMAWindow = dp.SMAWindow
	}
	if p.BandWindow == 0 {
		p.BandWindow = dp.BandWindow
	}
	if p.BandStdDev == 0 {
		p.BandStdDev = dp.BandStdDev
	}
	if p.RSIPeriod == 0 {
		p.RSIPeriod = dp.RSIPeriod
	}
	if p.RSIOversold == 0 {
		p.RSIOversold = dp.RSIOversold
	}
	if p.RSIOverbought == 0 {
		p.RSIOverbought = dp.RSIOverbought
	}
	if p.RSIMidline == 0 {
		p.RSIMidline = dp.RSIMidline
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set. A .env file in the
// working directory is loaded first; variables already set win over it.
func applyEnvOverrides(cfg *Config) {
	_ = godotenv.Load()

	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}

	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("STRATEGYLAB_SYMBOL"); v != "" {
		cfg.Data.Symbols = []string{strings.ToUpper(v)}
	}

	// Standard Alpaca env vars take precedence.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

// ---------------------------------------------------------------------------
// Derived values
// ---------------------------------------------------------------------------

// EngineConfig converts the backtest section to an engine configuration.
// Validation is left to engine.New.
func (c *Config) EngineConfig() engine.Config {
	b := c.Backtest
	ec := engine.Config{
		InitialCapital: b.InitialCapital,
		StopLoss:       b.StopLoss,
		TakeProfit:     b.TakeProfit,
		PositionSize:   b.PositionSize,
	}
	if b.TransactionCost != nil {
		ec.TransactionCost = *b.TransactionCost
	}
	if b.DividendYield != nil {
		ec.DividendYield = *b.DividendYield
	}
	return ec
}

// RiskFree returns the configured annual risk-free rate.
func (c *Config) RiskFree() float64 {
	if c.Backtest.RiskFreeRate == nil {
		return metrics.DefaultRiskFreeRate
	}
	return *c.Backtest.RiskFreeRate
}

// DateRange parses data.start_date and data.end_date (YYYY-MM-DD). An empty
// start means the beginning of 2000 and an empty end means now.
func (c *Config) DateRange() (start, end time.Time, err error) {
	start = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	end = time.Now().UTC()
	if c.Data.StartDate != "" {
		if start, err = time.Parse(time.DateOnly, c.Data.StartDate); err != nil {
			return start, end, fmt.Errorf("data.start_date: %w", err)
		}
	}
	if c.Data.EndDate != "" {
		if end, err = time.Parse(time.DateOnly, c.Data.EndDate); err != nil {
			return start, end, fmt.Errorf("data.end_date: %w", err)
		}
	}
	if end.Before(start) {
		return start, end, fmt.Errorf("data.end_date %s before start_date %s", c.Data.EndDate, c.Data.StartDate)
	}
	return start, end, nil
}
