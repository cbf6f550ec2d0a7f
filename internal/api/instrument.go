package api

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BacktestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "strategylab_backtests_total", Help: "Backtest requests by strategy and outcome"},
		[]string{"strategy", "outcome"},
	)
	BacktestSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "strategylab_backtest_duration_seconds",
			Help:    "Wall time of backtest requests",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"strategy"},
	)
)

func init() {
	prometheus.MustRegister(BacktestsTotal, BacktestSeconds)
}

// observeRun records one backtest request.
func observeRun(strategy string, start time.Time, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case isNotFound(err):
		outcome = "not_found"
	case isClientError(err):
		outcome = "invalid"
	default:
		outcome = "error"
	}
	BacktestsTotal.WithLabelValues(strategy, outcome).Inc()
	BacktestSeconds.WithLabelValues(strategy).Observe(time.Since(start).Seconds())
}

// MetricsHandler serves the Prometheus exposition format.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
