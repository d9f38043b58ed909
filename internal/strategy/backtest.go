package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"time"

	"alphafactory/internal/domain"
	"alphafactory/internal/engine"
	"alphafactory/internal/indicator"
	"alphafactory/internal/report"
	"alphafactory/internal/store"
)

// RunRequest describes one backtest.
type RunRequest struct {
	Name     string
	Strategy string
	Params   map[string]any
	Market   string
	Symbols  []string
	Start    time.Time
	End      time.Time
	Settings engine.Settings

	// ComputeIndicators attaches the default indicator set to bars before
	// annotation, for stores holding raw bars only.
	ComputeIndicators bool
}

// Backtester loads bars, annotates them with a strategy's signals and runs
// the simulation engine.
type Backtester struct {
	store    store.BarStore
	registry *Registry
	log      *slog.Logger
}

// NewBacktester creates a Backtester that reads bars from the given store and
// looks up strategies in the provided registry.
func NewBacktester(barStore store.BarStore, registry *Registry, log *slog.Logger) *Backtester {
	if log == nil {
		log = slog.Default()
	}
	return &Backtester{
		store:    barStore,
		registry: registry,
		log:      log.With("component", "backtester"),
	}
}

// Run loads req.Symbols from the store and runs the backtest.
func (bt *Backtester) Run(ctx context.Context, req RunRequest) (*report.Report, error) {
	if len(req.Symbols) == 0 {
		return nil, fmt.Errorf("%w: no symbols", domain.ErrInvalidConfig)
	}
	if bt.store == nil {
		return nil, errors.New("backtester has no bar store")
	}

	series := make(map[string][]domain.Bar, len(req.Symbols))
	for _, sym := range req.Symbols {
		bars, err := bt.store.ReadBars(ctx, sym, req.Market, req.Start, req.End)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", sym, err)
		}
		if len(bars) == 0 {
			bt.log.Warn("no bars in range", "symbol", sym, "market", req.Market)
			continue
		}
		series[sym] = bars
	}
	if len(series) == 0 {
		return nil, fmt.Errorf("%d symbols in %s: %w", len(req.Symbols), req.Market, domain.ErrNoBars)
	}
	return bt.RunSeries(ctx, req, series)
}

// RunSeries runs the backtest over pre-loaded series. series is not
// modified, so one set of bars may back many concurrent runs.
//
// A single series with no position ceiling runs on the single-instrument
// engine; anything else runs on the portfolio engine. On cancellation the
// partial report is returned with ctx.Err().
func (bt *Backtester) RunSeries(ctx context.Context, req RunRequest, series map[string][]domain.Bar) (*report.Report, error) {
	symbols := make([]string, 0, len(series))
	for sym := range series {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	annotated := make(map[string][]domain.Bar, len(series))
	for _, sym := range symbols {
		s, err := bt.registry.New(req.Strategy, req.Params)
		if err != nil {
			return nil, err
		}
		bars := series[sym]
		if req.ComputeIndicators {
			bars = cloneBars(bars)
			indicator.Attach(bars, indicator.DefaultSet())
		}
		bars, err = Annotate(ctx, s, bars)
		if err != nil {
			return nil, err
		}
		annotated[sym] = bars
	}

	start := time.Now()
	var (
		res *engine.Result
		err error
	)
	if len(symbols) == 1 && req.Settings.MaxConcurrentPositions == 0 {
		eng, nerr := engine.NewEngine(req.Settings, nil, bt.log)
		if nerr != nil {
			return nil, nerr
		}
		res, err = eng.Run(ctx, symbols[0], annotated[symbols[0]])
	} else {
		pf, nerr := engine.NewPortfolio(req.Settings, nil, bt.log)
		if nerr != nil {
			return nil, nerr
		}
		res, err = pf.Run(ctx, annotated)
	}
	if res == nil {
		return nil, err
	}

	rep := report.Assemble(res, report.Meta{
		Name:     req.Name,
		Strategy: req.Strategy,
		Market:   req.Market,
	})
	bt.log.Info("backtest finished",
		"id", rep.ID,
		"strategy", req.Strategy,
		"symbols", len(symbols),
		"trades", rep.NumTrades,
		"total_return", rep.TotalReturn,
		"elapsed", time.Since(start),
	)
	return rep, err
}

func cloneBars(bars []domain.Bar) []domain.Bar {
	out := make([]domain.Bar, len(bars))
	for i, b := range bars {
		b.Indicators = maps.Clone(b.Indicators)
		out[i] = b
	}
	return out
}
