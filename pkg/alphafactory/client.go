// Package alphafactory is a Go SDK for the alphafactory server's HTTP API.
package alphafactory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"alphafactory/internal/api"
	"alphafactory/internal/config"
	"alphafactory/internal/report"
)

// Wire types shared with the server.
type (
	BacktestRequest = api.BacktestRequest
	Settings        = config.Backtest
	Report          = report.Report
	Summary         = report.Summary
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("alphafactory: %d: %s", e.StatusCode, e.Message)
}

// Client provides a Go SDK for interacting with the alphafactory server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new alphafactory API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// Strategies lists the strategies the server can run.
func (c *Client) Strategies(ctx context.Context) ([]string, error) {
	var names []string
	err := c.do(ctx, http.MethodGet, "/api/v1/strategies", nil, &names)
	return names, err
}

// ListBacktests returns up to limit stored run summaries, newest first.
func (c *Client) ListBacktests(ctx context.Context, limit int) ([]Summary, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/v1/backtests"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []Summary
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// GetBacktest retrieves a full report including trades and equity.
func (c *Client) GetBacktest(ctx context.Context, id string) (*Report, error) {
	var rep Report
	if err := c.do(ctx, http.MethodGet, "/api/v1/backtests/"+url.PathEscape(id)+"?full=true", nil, &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

// RunBacktest submits req and waits for the finished report.
func (c *Client) RunBacktest(ctx context.Context, req BacktestRequest) (*Report, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	var rep Report
	if err := c.do(ctx, http.MethodPost, "/api/v1/backtests", body, &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
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
