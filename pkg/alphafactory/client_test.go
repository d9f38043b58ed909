package alphafactory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
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

func TestClientRoundTrips(t *testing.T) {
	var posted BacktestRequest
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/backtests", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("limit"); got != "3" {
			t.Errorf("limit = %q, want 3", got)
		}
		json.NewEncoder(w).Encode([]Summary{{ID: "a"}, {ID: "b"}})
	})
	mux.HandleFunc("GET /api/v1/backtests/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "a" {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "backtest not found"})
			return
		}
		json.NewEncoder(w).Encode(Report{ID: "a", NumTrades: 2})
	})
	mux.HandleFunc("POST /api/v1/backtests", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&posted)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Report{ID: "new", Strategy: posted.Strategy})
	})
	mux.HandleFunc("GET /api/v1/strategies", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]string{"mean_reversion", "sma_cross"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL)
	ctx := context.Background()

	list, err := c.ListBacktests(ctx, 3)
	if err != nil || len(list) != 2 {
		t.Fatalf("ListBacktests = %v (%v)", list, err)
	}

	rep, err := c.GetBacktest(ctx, "a")
	if err != nil || rep.NumTrades != 2 {
		t.Fatalf("GetBacktest = %+v (%v)", rep, err)
	}

	_, err = c.GetBacktest(ctx, "zzz")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound || apiErr.Message != "backtest not found" {
		t.Errorf("GetBacktest(missing) err = %v, want 404 APIError", err)
	}

	settings := Settings{InitialCapital: 5000}
	rep, err = c.RunBacktest(ctx, BacktestRequest{Strategy: "sma_cross", Symbols: []string{"AAPL"}, Settings: &settings})
	if err != nil || rep.ID != "new" || rep.Strategy != "sma_cross" {
		t.Fatalf("RunBacktest = %+v (%v)", rep, err)
	}
	if posted.Settings == nil || posted.Settings.InitialCapital != 5000 {
		t.Errorf("posted settings = %+v", posted.Settings)
	}

	names, err := c.Strategies(ctx)
	if err != nil || len(names) != 2 {
		t.Errorf("Strategies = %v (%v)", names, err)
	}
}
