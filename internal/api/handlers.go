package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"alphafactory/internal/domain"
	"alphafactory/internal/report"
)

// maxRequestBody bounds POST bodies.
const maxRequestBody = 1 << 20

// defaultListLimit applies when GET /api/v1/backtests has no limit.
const defaultListLimit = 50

// RegisterRoutes registers all API routes on the given mux.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/v1/strategies", s.handleStrategies)
	mux.HandleFunc("GET /api/v1/backtests", s.handleListBacktests)
	mux.HandleFunc("POST /api/v1/backtests", s.handleRunBacktest)
	mux.HandleFunc("GET /api/v1/backtests/{id}", s.handleGetBacktest)
	mux.HandleFunc("GET /api/v1/backtests/{id}/trades", s.handleTrades)
	mux.HandleFunc("GET /api/v1/backtests/{id}/equity", s.handleEquity)
	if s.hub != nil {
		mux.HandleFunc("GET /ws", s.hub.HandleWS)
	}
}

// Handler returns an http.Handler with CORS middleware.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// errorStatus maps a service error onto an HTTP status.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case isClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Service) handleStrategies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.Strategies())
}

func (s *Service) handleListBacktests(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	summaries, err := s.ListReports(r.Context(), limit)
	if err != nil {
		s.log.Error("listing reports", "error", err)
		writeError(w, http.StatusInternalServerError, "listing backtests failed")
		return
	}
	if summaries == nil {
		summaries = []report.Summary{}
	}
	writeJSON(w, summaries)
}

func (s *Service) handleRunBacktest(w http.ResponseWriter, r *http.Request) {
	req := s.NewRequest()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	rep, err := s.RunBacktest(r.Context(), req)
	if err != nil {
		status := errorStatus(err)
		if status == http.StatusInternalServerError {
			s.log.Error("running backtest", "error", err)
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSONStatus(w, http.StatusCreated, rep)
}

// report loads the {id} report, writing the error response on failure.
func (s *Service) report(w http.ResponseWriter, r *http.Request) (*report.Report, bool) {
	id := r.PathValue("id")
	rep, err := s.GetReport(r.Context(), id)
	if err != nil {
		status := errorStatus(err)
		if status == http.StatusInternalServerError {
			s.log.Error("loading report", "id", id, "error", err)
			writeError(w, status, "loading backtest failed")
		} else {
			writeError(w, status, "backtest "+id+" not found")
		}
		return nil, false
	}
	return rep, true
}

func (s *Service) handleGetBacktest(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.report(w, r)
	if !ok {
		return
	}
	if r.URL.Query().Get("full") == "true" {
		writeJSON(w, rep)
		return
	}
	writeJSON(w, rep.Header())
}

func (s *Service) handleTrades(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.report(w, r)
	if !ok {
		return
	}
	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="`+rep.ID+`-trades.csv"`)
		if err := report.WriteTradesCSV(w, rep); err != nil {
			s.log.Error("writing trades csv", "id", rep.ID, "error", err)
		}
		return
	}
	writeJSON(w, rep.Trades)
}

func (s *Service) handleEquity(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.report(w, r)
	if !ok {
		return
	}
	writeJSON(w, rep.Equity)
}
