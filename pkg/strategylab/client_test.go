package strategylab

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"strategylab/internal/domain"
	"strategylab/internal/engine"
)

func TestNewClient(t *testing.T) {
	c := NewClient("http://localhost:8080/")
	if c.baseURL != "http://localhost:8080" {
		t.Errorf("baseURL = %q, want trailing slash trimmed", c.baseURL)
	}
	if c.httpClient == nil {
		t.Fatal("expected non-nil httpClient")
	}
}

func newFakeServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/backtests", func(w http.ResponseWriter, r *http.Request) {
		var req BacktestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Strategy == "bad" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid engine configuration"})
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Report{
			RunID:  "run-1",
			Symbol: req.Symbol,
			Result: &engine.Result{Strategy: req.Strategy, Config: engine.DefaultConfig()},
		})
	})
	mux.HandleFunc("GET /api/v1/backtests/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "run-1" {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "run not found"})
			return
		}
		json.NewEncoder(w).Encode(RunDetail{Run: domain.RunRecord{ID: "run-1"}, Trades: []domain.Trade{{ExitReason: domain.ExitSignal}}})
	})
	mux.HandleFunc("GET /api/v1/backtests", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "5" {
			http.Error(w, "limit", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode([]domain.RunRecord{{ID: "run-1"}})
	})
	mux.HandleFunc("GET /api/v1/strategies", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode([]StrategyInfo{{Name: "rsi", Warmup: 14}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientRoundTrips(t *testing.T) {
	c := NewClient(newFakeServer(t).URL)
	ctx := context.Background()

	rep, err := c.RunBacktest(ctx, BacktestRequest{Strategy: "rsi", Symbol: "SPY"})
	if err != nil {
		t.Fatalf("RunBacktest: %v", err)
	}
	if rep.RunID != "run-1" || rep.Symbol != "SPY" || rep.Result.Strategy != "rsi" {
		t.Errorf("report = %+v", rep)
	}

	detail, err := c.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if len(detail.Trades) != 1 || detail.Trades[0].ExitReason != domain.ExitSignal {
		t.Errorf("trades = %+v", detail.Trades)
	}

	runs, err := c.ListRuns(ctx, 5)
	if err != nil || len(runs) != 1 {
		t.Errorf("ListRuns = %v, %v", runs, err)
	}

	infos, err := c.ListStrategies(ctx)
	if err != nil || len(infos) != 1 || infos[0].Warmup != 14 {
		t.Errorf("ListStrategies = %v, %v", infos, err)
	}
}

func TestClientErrors(t *testing.T) {
	c := NewClient(newFakeServer(t).URL)
	ctx := context.Background()

	_, err := c.GetRun(ctx, "other")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun(other) = %v, want ErrNotFound", err)
	}

	_, err = c.RunBacktest(ctx, BacktestRequest{Strategy: "bad", Symbol: "SPY"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("RunBacktest(bad) = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Message != "invalid engine configuration" {
		t.Errorf("APIError = %+v", apiErr)
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("400 should not match ErrNotFound")
	}
}
