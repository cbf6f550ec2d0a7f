// Package us gathers US equity daily bars from the Alpaca market-data API.
package us

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"strategylab/internal/domain"
	"strategylab/internal/gather"
	"strategylab/internal/store"
	"strategylab/internal/util"
)

var _ gather.Gatherer = (*DailyBarGatherer)(nil)

// BarFetcher is the subset of *marketdata.Client the gatherer uses.
type BarFetcher interface {
	GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error)
}

// NewClient returns an Alpaca market-data client. An empty dataURL keeps the
// SDK default.
func NewClient(apiKey, apiSecret, dataURL string) *marketdata.Client {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return marketdata.NewClient(opts)
}

// Options configures a DailyBarGatherer.
type Options struct {
	Symbols         []string
	Start           time.Time
	Feed            string // "sip" or "iex"
	BatchSize       int    // symbols per API call
	RateLimitPerMin int
	MaxAttempts     int
	// Full ignores stored progress and refetches from Start.
	Full bool
}

// DailyBarGatherer fetches daily bars for a configured symbol list and merges
// them into the Parquet bar store under the US market. Each symbol resumes
// from the day after its last fetched session.
type DailyBarGatherer struct {
	client   BarFetcher
	store    store.BarStore
	dataDir  string
	opts     Options
	limiter  *util.RateLimiter
	calendar *util.TradingCalendar
	now      func() time.Time
	log      *slog.Logger
}

// NewDailyBarGatherer creates a DailyBarGatherer writing into s. dataDir is
// the bar store root, where fetch progress is kept.
func NewDailyBarGatherer(client BarFetcher, s store.BarStore, dataDir string, opts Options) *DailyBarGatherer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Feed == "" {
		opts.Feed = "sip"
	}
	syms := make([]string, 0, len(opts.Symbols))
	for _, s := range opts.Symbols {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			syms = append(syms, s)
		}
	}
	opts.Symbols = syms

	return &DailyBarGatherer{
		client:   client,
		store:    s,
		dataDir:  dataDir,
		opts:     opts,
		limiter:  util.NewRateLimiter(opts.RateLimitPerMin, 1),
		calendar: util.NewTradingCalendar(domain.MarketUS),
		now:      time.Now,
		log:      slog.Default().With("gatherer", "us-daily"),
	}
}

// Name returns the gatherer identifier.
func (g *DailyBarGatherer) Name() string { return "us-daily" }

// Run performs one incremental fetch up to the last completed session.
func (g *DailyBarGatherer) Run(ctx context.Context) error {
	_, err := g.Fetch(ctx)
	return err
}

// Fetch performs one incremental fetch and returns the number of bars
// written per symbol.
func (g *DailyBarGatherer) Fetch(ctx context.Context) (map[string]int, error) {
	if len(g.opts.Symbols) == 0 {
		return nil, fmt.Errorf("us-daily: no symbols configured")
	}
	end := g.calendar.LastCompletedSession(g.now())

	tracker, err := newProgressTracker(filepath.Join(g.dataDir, string(domain.MarketUS), "daily"))
	if err != nil {
		return nil, fmt.Errorf("creating progress tracker: %w", err)
	}
	defer tracker.Close()
	if g.opts.Full {
		if err := tracker.Reset(); err != nil {
			return nil, fmt.Errorf("resetting tracker: %w", err)
		}
	}

	// Group symbols by the first day they still need.
	pending := make(map[time.Time][]string)
	for _, sym := range g.opts.Symbols {
		from := g.opts.Start
		if last, ok := tracker.LastFetched(sym); ok {
			from = last.AddDate(0, 0, 1)
		}
		if from.After(end) {
			continue
		}
		pending[from] = append(pending[from], sym)
	}

	starts := make([]time.Time, 0, len(pending))
	for s := range pending {
		starts = append(starts, s)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })

	g.log.Info("starting us-daily",
		"endDate", end.Format(time.DateOnly),
		"symbols", len(g.opts.Symbols),
		"groups", len(starts),
	)

	written := make(map[string]int, len(g.opts.Symbols))
	runStart := time.Now()
	for _, from := range starts {
		syms := pending[from]
		for i := 0; i < len(syms); i += g.opts.BatchSize {
			batch := syms[i:min(i+g.opts.BatchSize, len(syms))]

			bars, err := g.fetchBatch(ctx, batch, from, end)
			if err != nil {
				return written, err
			}
			if len(bars) > 0 {
				if err := g.store.WriteBars(ctx, domain.MarketUS, bars); err != nil {
					return written, fmt.Errorf("writing bars: %w", err)
				}
			}
			for _, b := range bars {
				written[b.Symbol]++
			}
			for _, sym := range batch {
				if written[sym] == 0 {
					g.log.Warn("no bars returned", "symbol", sym, "from", from.Format(time.DateOnly))
				}
			}
			if err := tracker.MarkFetched(batch, end); err != nil {
				return written, err
			}

			g.log.Info("batch done",
				"from", from.Format(time.DateOnly),
				"symbols", len(batch),
				"bars", len(bars),
				"elapsed", time.Since(runStart).Round(time.Second),
			)
		}
	}
	return written, nil
}

// fetchBatch fetches daily bars for several symbols in one API call, with
// rate limiting and retries. Authorization and request errors are not
// retried.
func (g *DailyBarGatherer) fetchBatch(ctx context.Context, symbols []string, start, end time.Time) ([]domain.Bar, error) {
	var multiBars map[string][]marketdata.Bar
	err := util.Retry(ctx, g.opts.MaxAttempts, time.Second, 30*time.Second, func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		var err error
		multiBars, err = g.client.GetMultiBars(symbols, marketdata.GetBarsRequest{
			TimeFrame: marketdata.OneDay,
			Start:     start,
			End:       end.Add(24*time.Hour - time.Second),
			Feed:      marketdata.Feed(g.opts.Feed),
		})
		if err != nil {
			var apiErr *alpaca.APIError
			if errors.As(err, &apiErr) && isClientError(apiErr.StatusCode) {
				return util.Permanent(err)
			}
			g.log.Warn("GetMultiBars failed, retrying", "symbols", len(symbols), "err", err)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("GetMultiBars: %w", err)
	}

	var bars []domain.Bar
	for symbol, alpacaBars := range multiBars {
		for _, ab := range alpacaBars {
			bars = append(bars, toBar(symbol, ab))
		}
	}
	return bars, nil
}

func isClientError(code int) bool {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusUnprocessableEntity, http.StatusBadRequest:
		return true
	}
	return false
}

// toBar converts an Alpaca daily bar, stamped at midnight New York time, to a
// domain bar stamped at UTC midnight of the same session date.
func toBar(symbol string, ab marketdata.Bar) domain.Bar {
	ts := ab.Timestamp.UTC()
	return domain.Bar{
		Symbol:    strings.ToUpper(symbol),
		Timestamp: time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC),
		Open:      ab.Open,
		High:      ab.High,
		Low:       ab.Low,
		Close:     ab.Close,
		Volume:    int64(ab.Volume),
	}
}
