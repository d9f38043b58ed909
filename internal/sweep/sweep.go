// Package sweep runs many independent backtests over the same pre-loaded bars
// with different risk and sizing settings, bounded in parallelism.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"alphafactory/internal/domain"
	"alphafactory/internal/engine"
	"alphafactory/internal/report"
	"alphafactory/internal/strategy"
)

// Variant is one point of a sweep: a label plus the settings it runs with.
type Variant struct {
	Name     string
	Settings engine.Settings
	Params   map[string]any
}

// Outcome pairs a variant with its report or error.
type Outcome struct {
	Variant Variant
	Report  *report.Report
	Err     error
}

// Grid is a cartesian grid over the common risk and sizing knobs. Empty axes
// keep the base value.
type Grid struct {
	StopLossPct     []float64 `yaml:"stop_loss_pct" toml:"stop_loss_pct"`
	TakeProfitPct   []float64 `yaml:"take_profit_pct" toml:"take_profit_pct"`
	TrailingStopPct []float64 `yaml:"trailing_stop_pct" toml:"trailing_stop_pct"`
	MaxHoldBars     []int     `yaml:"max_hold_bars" toml:"max_hold_bars"`
	PositionPct     []float64 `yaml:"position_pct" toml:"position_pct"`
}

// Variants expands the grid over base.
func (g Grid) Variants(base engine.Settings) []Variant {
	orBase := func(vs []float64, b float64) []float64 {
		if len(vs) == 0 {
			return []float64{b}
		}
		return vs
	}
	holds := g.MaxHoldBars
	if len(holds) == 0 {
		holds = []int{base.Risk.MaxHoldBars}
	}

	var out []Variant
	for _, sl := range orBase(g.StopLossPct, base.Risk.StopLossPct) {
		for _, tp := range orBase(g.TakeProfitPct, base.Risk.TakeProfitPct) {
			for _, tr := range orBase(g.TrailingStopPct, base.Risk.TrailingStopPct) {
				for _, mh := range holds {
					for _, pp := range orBase(g.PositionPct, base.Sizer.PositionPct) {
						s := base
						s.Risk.StopLossPct = sl
						s.Risk.TakeProfitPct = tp
						s.Risk.TrailingStopPct = tr
						s.Risk.MaxHoldBars = mh
						s.Sizer.PositionPct = pp
						out = append(out, Variant{
							Name:     fmt.Sprintf("sl=%g tp=%g trail=%g hold=%d pos=%g", sl, tp, tr, mh, pp),
							Settings: s,
						})
					}
				}
			}
		}
	}
	return out
}

// Runner runs sweeps on a Backtester.
type Runner struct {
	bt  *strategy.Backtester
	log *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(bt *strategy.Backtester, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{bt: bt, log: log.With("component", "sweep")}
}

// Run executes every variant over series with at most parallelism runs in
// flight (<= 0 means one per variant). Each run gets its own strategy
// instances and engine state; series is shared read-only.
//
// A failing variant is recorded in its Outcome and does not stop the sweep.
// Outcomes come back ranked by Sharpe ratio, best first, failures last.
// Cancellation stops scheduling and returns ctx.Err().
func (r *Runner) Run(ctx context.Context, req strategy.RunRequest, series map[string][]domain.Bar, variants []Variant, parallelism int) ([]Outcome, error) {
	if len(variants) == 0 {
		return nil, fmt.Errorf("%w: no sweep variants", domain.ErrInvalidConfig)
	}
	if len(series) == 0 {
		return nil, domain.ErrNoBars
	}

	outcomes := make([]Outcome, len(variants))
	g, gctx := errgroup.WithContext(ctx)
	if parallelism > 0 {
		g.SetLimit(parallelism)
	}

	for i, v := range variants {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			vreq := req
			vreq.Settings = v.Settings
			vreq.Name = v.Name
			if v.Params != nil {
				vreq.Params = v.Params
			}
			rep, err := r.bt.RunSeries(gctx, vreq, series)
			outcomes[i] = Outcome{Variant: v, Report: rep, Err: err}
			if err != nil {
				r.log.Warn("variant failed", "variant", v.Name, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	Rank(outcomes)
	r.log.Info("sweep finished", "variants", len(variants), "parallelism", parallelism)
	return outcomes, nil
}

// Rank orders outcomes by Sharpe ratio descending, then by total return,
// then by variant name. Failed variants sort last.
func Rank(outcomes []Outcome) {
	sort.SliceStable(outcomes, func(i, j int) bool {
		a, b := outcomes[i], outcomes[j]
		aok, bok := a.Err == nil && a.Report != nil, b.Err == nil && b.Report != nil
		if aok != bok {
			return aok
		}
		if !aok {
			return a.Variant.Name < b.Variant.Name
		}
		if a.Report.SharpeRatio != b.Report.SharpeRatio {
			return a.Report.SharpeRatio > b.Report.SharpeRatio
		}
		if a.Report.TotalReturn != b.Report.TotalReturn {
			return a.Report.TotalReturn > b.Report.TotalReturn
		}
		return a.Variant.Name < b.Variant.Name
	})
}
