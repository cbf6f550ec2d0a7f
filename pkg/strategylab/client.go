// Package strategylab is a Go client for the strategylab-server HTTP API.
package strategylab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"strategylab/internal/api"
	"strategylab/internal/domain"
	"strategylab/internal/strategy"
)

// ErrNotFound is returned when the server answers 404.
var ErrNotFound = errors.New("not found")

// Re-exported request and response types.
type (
	BacktestRequest = api.BacktestRequest
	StrategyParams  = api.StrategyParams
	StrategyInfo    = api.StrategyInfo
	RunDetail       = api.RunDetail
	Report          = strategy.Report
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("strategylab: %d %s", e.StatusCode, e.Message)
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Client provides a Go SDK for interacting with the strategylab-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new strategylab API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// RunBacktest runs a backtest on the server and returns its report.
func (c *Client) RunBacktest(ctx context.Context, req BacktestRequest) (*Report, error) {
	var rep Report
	if err := c.do(ctx, http.MethodPost, "/api/v1/backtests", req, &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

// GetRun retrieves a stored run and its trades.
func (c *Client) GetRun(ctx context.Context, id string) (*RunDetail, error) {
	var out RunDetail
	if err := c.do(ctx, http.MethodGet, "/api/v1/backtests/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListRuns retrieves up to limit stored runs, newest first. limit 0 means
// all runs.
func (c *Client) ListRuns(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	var out []domain.RunRecord
	path := "/api/v1/backtests?limit=" + strconv.Itoa(limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListStrategies retrieves the strategies registered on the server.
func (c *Client) ListStrategies(ctx context.Context) ([]StrategyInfo, error) {
	var out []StrategyInfo
	if err := c.do(ctx, http.MethodGet, "/api/v1/strategies", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
