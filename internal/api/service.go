package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"alphafactory/internal/config"
	"alphafactory/internal/domain"
	"alphafactory/internal/report"
	"alphafactory/internal/store"
	"alphafactory/internal/strategy"
)

// BacktestRequest is the body of POST /api/v1/backtests. Empty fields take
// the server's configured defaults; Settings is decoded over them, so a
// partial settings object overrides only the keys it names.
type BacktestRequest struct {
	Name      string           `json:"name,omitempty"`
	Strategy  string           `json:"strategy,omitempty"`
	Params    map[string]any   `json:"params,omitempty"`
	Market    string           `json:"market,omitempty"`
	Symbols   []string         `json:"symbols"`
	StartDate string           `json:"start_date,omitempty"`
	EndDate   string           `json:"end_date,omitempty"`
	Settings  *config.Backtest `json:"settings,omitempty"`
}

// Archiver copies a finished report to long-term storage.
type Archiver interface {
	Archive(ctx context.Context, r *report.Report) error
}

// Service runs backtests and serves stored reports. It backs both the HTTP
// and gRPC surfaces.
type Service struct {
	results  store.ResultStore
	bt       *strategy.Backtester
	registry *strategy.Registry
	archiver Archiver
	hub      *Hub
	defaults config.Config
	log      *slog.Logger
}

// NewService creates a Service. defaults supplies the strategy, market,
// start date and settings used when a request leaves them out.
func NewService(results store.ResultStore, bt *strategy.Backtester, registry *strategy.Registry, defaults config.Config, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		results:  results,
		bt:       bt,
		registry: registry,
		defaults: defaults,
		log:      log.With("component", "api"),
	}
}

// SetArchiver enables archiving of every completed backtest.
func (s *Service) SetArchiver(a Archiver) { s.archiver = a }

// SetHub enables completion events on the websocket hub.
func (s *Service) SetHub(h *Hub) { s.hub = h }

// Strategies lists the registered strategy names.
func (s *Service) Strategies() []string {
	return s.registry.List()
}

// NewRequest returns a request pre-filled with the configured settings, for
// decoding a client body over.
func (s *Service) NewRequest() BacktestRequest {
	def := s.defaults.Backtest
	return BacktestRequest{Settings: &def}
}

// RunBacktest runs req, persists the report and archives it. An archive
// failure is logged, not returned.
func (s *Service) RunBacktest(ctx context.Context, req BacktestRequest) (*report.Report, error) {
	run, err := s.runRequest(req)
	if err != nil {
		return nil, err
	}

	rep, err := s.bt.Run(ctx, run)
	if err != nil {
		return nil, err
	}
	if err := s.results.SaveReport(ctx, rep); err != nil {
		return nil, fmt.Errorf("saving report %s: %w", rep.ID, err)
	}
	if s.archiver != nil {
		if err := s.archiver.Archive(ctx, rep); err != nil {
			s.log.Warn("archiving report", "id", rep.ID, "error", err)
		}
	}
	if s.hub != nil {
		s.hub.Publish("backtest_completed", rep.Summary())
	}
	return rep, nil
}

// GetReport returns a stored report, or domain.ErrNotFound.
func (s *Service) GetReport(ctx context.Context, id string) (*report.Report, error) {
	return s.results.GetReport(ctx, id)
}

// ListReports returns up to limit summaries, newest first.
func (s *Service) ListReports(ctx context.Context, limit int) ([]report.Summary, error) {
	return s.results.ListReports(ctx, limit)
}

func (s *Service) runRequest(req BacktestRequest) (strategy.RunRequest, error) {
	symbols := make([]string, 0, len(req.Symbols))
	for _, sym := range req.Symbols {
		if sym = strings.ToUpper(strings.TrimSpace(sym)); sym != "" {
			symbols = append(symbols, sym)
		}
	}
	if len(symbols) == 0 {
		return strategy.RunRequest{}, fmt.Errorf("%w: symbols is required", domain.ErrInvalidConfig)
	}

	name := req.Strategy
	if name == "" {
		name = s.defaults.Strategy.Name
	}
	if _, ok := s.registry.Get(name); !ok {
		return strategy.RunRequest{}, fmt.Errorf("%w: %q", domain.ErrUnknownStrategy, name)
	}
	params := req.Params
	if params == nil && req.Strategy == "" {
		params = s.defaults.Strategy.Params
	}

	market := req.Market
	if market == "" {
		market = s.defaults.Import.Market
	}

	start := s.defaults.Import.StartTime()
	if req.StartDate != "" {
		t, err := time.Parse(time.DateOnly, req.StartDate)
		if err != nil {
			return strategy.RunRequest{}, fmt.Errorf("%w: start_date %q", domain.ErrInvalidConfig, req.StartDate)
		}
		start = t
	}
	end := time.Now().UTC()
	if req.EndDate != "" {
		t, err := time.Parse(time.DateOnly, req.EndDate)
		if err != nil {
			return strategy.RunRequest{}, fmt.Errorf("%w: end_date %q", domain.ErrInvalidConfig, req.EndDate)
		}
		end = t
	}
	if end.Before(start) {
		return strategy.RunRequest{}, fmt.Errorf("%w: end_date before start_date", domain.ErrInvalidConfig)
	}

	bt := s.defaults.Backtest
	if req.Settings != nil {
		bt = *req.Settings
	}
	settings := bt.EngineSettings()
	if err := settings.Validate(); err != nil {
		return strategy.RunRequest{}, err
	}

	return strategy.RunRequest{
		Name:              req.Name,
		Strategy:          name,
		Params:            params,
		Market:            market,
		Symbols:           symbols,
		Start:             start,
		End:               end,
		Settings:          settings,
		ComputeIndicators: bt.ComputeIndicators,
	}, nil
}

// isClientError reports whether err stems from a bad request.
func isClientError(err error) bool {
	return errors.Is(err, domain.ErrInvalidConfig) ||
		errors.Is(err, domain.ErrUnknownStrategy) ||
		errors.Is(err, domain.ErrNoBars)
}
