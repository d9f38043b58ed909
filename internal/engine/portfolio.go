package engine

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sort"
	"time"

	"alphafactory/internal/broker"
	"alphafactory/internal/domain"
)

// Portfolio runs many instruments against one cash pool and a ceiling on
// concurrently open positions.
type Portfolio struct {
	settings Settings
	broker   broker.Broker
	log      *slog.Logger
}

// NewPortfolio validates settings and returns a Portfolio engine.
// MaxConcurrentPositions must be positive.
func NewPortfolio(settings Settings, b broker.Broker, log *slog.Logger) (*Portfolio, error) {
	settings = settings.withDefaults()
	if settings.MaxConcurrentPositions <= 0 {
		return nil, fmt.Errorf("%w: max_concurrent_positions must be > 0, got %d", domain.ErrInvalidConfig, settings.MaxConcurrentPositions)
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if b == nil {
		b = broker.NewSimulatorBroker(settings.CommissionPct, settings.SlippagePct, settings.MinCommission)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Portfolio{
		settings: settings,
		broker:   b,
		log:      log.With("component", "portfolio"),
	}, nil
}

type candidate struct {
	symbol   string
	strength float64
	bar      domain.Bar
}

// Run simulates every series in lockstep by date. For each date, exits are
// resolved across all open positions first, then entry candidates are ranked
// by signal strength (ties to the lower symbol) and opened one at a time
// against the shrinking cash pool until slots or cash run out. Instruments
// without a bar on a date sit that date out. One snapshot is taken per date.
//
// If ctx is cancelled the partial result is returned along with ctx.Err().
func (p *Portfolio) Run(ctx context.Context, series map[string][]domain.Bar) (*Result, error) {
	symbols := make([]string, 0, len(series))
	for sym := range series {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	clean := make(map[string][]domain.Bar, len(series))
	var diags []domain.Diagnostic
	for _, sym := range symbols {
		if err := checkIndicators(p.settings, sym, series[sym]); err != nil {
			return nil, err
		}
		bars, d := sanitize(sym, series[sym])
		clean[sym] = bars
		diags = append(diags, d...)
	}
	for _, d := range diags {
		p.log.Warn("bar skipped", "symbol", d.Symbol, "date", d.Timestamp, "reason", d.Reason)
	}

	timeline := buildTimeline(clean)
	if len(timeline) == 0 {
		return nil, fmt.Errorf("portfolio of %d symbols: %w", len(symbols), domain.ErrNoBars)
	}

	bk := newBook(p.settings, p.broker, p.log)
	res := &Result{
		Symbols:        symbols,
		InitialCapital: p.settings.InitialCapital,
		Diagnostics:    diags,
		Equity:         make([]domain.EquitySnapshot, 0, len(timeline)),
	}

	var (
		runErr     error
		cursor     = make(map[string]int, len(symbols))
		last       = make(map[string]domain.Bar, len(symbols))
		prevEquity = p.settings.InitialCapital
	)
	for _, ts := range timeline {
		if err := ctx.Err(); err != nil {
			p.log.Warn("run cancelled", "processed", len(res.Equity), "dates", len(timeline))
			runErr = err
			break
		}

		var stamp time.Time
		today := make(map[string]domain.Bar)
		for _, sym := range symbols {
			i := cursor[sym]
			if i < len(clean[sym]) && clean[sym][i].Timestamp.UnixNano() == ts {
				stamp = clean[sym][i].Timestamp
				today[sym] = clean[sym][i]
				last[sym] = clean[sym][i]
				cursor[sym] = i + 1
			}
		}

		closed := make(map[string]bool)
		for _, sym := range symbols {
			bar, ok := today[sym]
			if !ok {
				continue
			}
			if pos := bk.positions[sym]; pos != nil && bk.advance(pos, bar) {
				closed[sym] = true
			}
		}

		var cands []candidate
		for _, sym := range symbols {
			bar, ok := today[sym]
			if !ok || closed[sym] || bk.positions[sym] != nil || bar.Signal.Type != domain.SignalEnterLong {
				continue
			}
			s := bar.Signal.Strength
			if math.IsNaN(s) {
				s = 0
			}
			cands = append(cands, candidate{symbol: sym, strength: s, bar: bar})
		}
		rankCandidates(cands)

		free := p.settings.MaxConcurrentPositions - len(bk.positions)
		for _, c := range cands {
			if free <= 0 {
				break
			}
			if bk.tryOpen(c.bar) {
				free--
			}
		}

		snap := bk.snapshot(stamp, prevEquity)
		res.Equity = append(res.Equity, snap)
		prevEquity = snap.Equity
	}

	if len(res.Equity) > 0 {
		bk.forceCloseAll(last, res)
	}
	res.Trades = bk.trades
	res.Opened = bk.opened

	p.log.Info("run complete",
		"symbols", len(symbols),
		"dates", len(res.Equity),
		"trades", len(res.Trades),
		"skipped", len(diags),
		"final_equity", res.FinalEquity(),
	)
	return res, runErr
}

// rankCandidates orders entries by strength, strongest first; equal
// strengths go to the lexically lower symbol.
func rankCandidates(cands []candidate) {
	slices.SortFunc(cands, func(a, b candidate) int {
		if c := cmp.Compare(b.strength, a.strength); c != 0 {
			return c
		}
		return cmp.Compare(a.symbol, b.symbol)
	})
}

// buildTimeline returns the sorted union of bar timestamps (UnixNano).
func buildTimeline(series map[string][]domain.Bar) []int64 {
	seen := make(map[int64]struct{})
	for _, bars := range series {
		for _, b := range bars {
			seen[b.Timestamp.UnixNano()] = struct{}{}
		}
	}
	out := make([]int64, 0, len(seen))
	for ts := range seen {
		out = append(out, ts)
	}
	slices.Sort(out)
	return out
}
