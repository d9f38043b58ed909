// Package engine simulates a strategy's signal stream against daily bars:
// position lifecycle, exit rules, position sizing and cash accounting, for a
// single instrument or for a portfolio sharing one cash pool.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"alphafactory/internal/broker"
	"alphafactory/internal/domain"
)

// DefaultATRIndicator is the indicator read for ATR sizing and stops.
const DefaultATRIndicator = "atr_14"

// Settings configures one simulation run.
type Settings struct {
	InitialCapital float64
	CommissionPct  float64
	SlippagePct    float64
	MinCommission  float64

	Sizer        Sizer
	Risk         RiskPolicy
	ATRIndicator string

	// Portfolio mode only.
	MaxConcurrentPositions int
	ReserveCashPct         float64
}

// Validate rejects settings that would make a run meaningless. It is called
// before any bar is processed.
func (s Settings) Validate() error {
	switch {
	case !(s.InitialCapital > 0):
		return fmt.Errorf("%w: initial_capital must be > 0, got %v", domain.ErrInvalidConfig, s.InitialCapital)
	case s.CommissionPct < 0:
		return fmt.Errorf("%w: commission_pct must be >= 0, got %v", domain.ErrInvalidConfig, s.CommissionPct)
	case s.SlippagePct < 0:
		return fmt.Errorf("%w: slippage_pct must be >= 0, got %v", domain.ErrInvalidConfig, s.SlippagePct)
	case s.MinCommission < 0:
		return fmt.Errorf("%w: min_commission must be >= 0, got %v", domain.ErrInvalidConfig, s.MinCommission)
	case s.MaxConcurrentPositions < 0:
		return fmt.Errorf("%w: max_concurrent_positions must be > 0, got %d", domain.ErrInvalidConfig, s.MaxConcurrentPositions)
	case s.ReserveCashPct < 0 || s.ReserveCashPct >= 1:
		return fmt.Errorf("%w: reserve_cash_pct %v not in [0,1)", domain.ErrInvalidConfig, s.ReserveCashPct)
	}
	if err := s.Sizer.Validate(); err != nil {
		return err
	}
	return s.Risk.Validate()
}

func (s Settings) needsATR() bool {
	return s.Sizer.NeedsATR() || s.Risk.StopATRMultiple > 0
}

func (s Settings) withDefaults() Settings {
	if s.ATRIndicator == "" {
		s.ATRIndicator = DefaultATRIndicator
	}
	return s
}

// Result is the raw output of a run: the ledger, one equity snapshot per
// processed bar, and the bars that were skipped as unusable.
type Result struct {
	Symbols        []string
	InitialCapital float64
	Trades         []domain.ClosedTrade
	Equity         []domain.EquitySnapshot
	Diagnostics    []domain.Diagnostic
	Opened         int
}

// FinalEquity is the equity of the last snapshot, or the initial capital
// when no bar was processed.
func (r *Result) FinalEquity() float64 {
	if len(r.Equity) == 0 {
		return r.InitialCapital
	}
	return r.Equity[len(r.Equity)-1].Equity
}

// Engine runs the FLAT -> OPEN -> CLOSED state machine over one instrument.
type Engine struct {
	settings Settings
	broker   broker.Broker
	log      *slog.Logger
}

// NewEngine validates settings and returns an Engine. A nil broker selects
// the simulator with the settings' cost model; a nil logger uses the
// default logger.
func NewEngine(settings Settings, b broker.Broker, log *slog.Logger) (*Engine, error) {
	settings = settings.withDefaults()
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if b == nil {
		b = broker.NewSimulatorBroker(settings.CommissionPct, settings.SlippagePct, settings.MinCommission)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		settings: settings,
		broker:   b,
		log:      log.With("component", "engine"),
	}, nil
}

// Run simulates bars for symbol. Per bar: an open position is advanced
// through the exit rules or closed on an exit signal; otherwise an entry
// signal is sized and opened; then a snapshot is taken. A position is never
// opened and closed on the same bar, and anything still open after the last
// bar is force-closed at its close.
//
// If ctx is cancelled the partial result is returned along with ctx.Err().
func (e *Engine) Run(ctx context.Context, symbol string, bars []domain.Bar) (*Result, error) {
	if err := checkIndicators(e.settings, symbol, bars); err != nil {
		return nil, err
	}
	clean, diags := sanitize(symbol, bars)
	for _, d := range diags {
		e.log.Warn("bar skipped", "symbol", d.Symbol, "date", d.Timestamp, "reason", d.Reason)
	}
	if len(clean) == 0 {
		return nil, fmt.Errorf("%s: %w", symbol, domain.ErrNoBars)
	}

	bk := newBook(e.settings, e.broker, e.log)
	res := &Result{
		Symbols:        []string{symbol},
		InitialCapital: e.settings.InitialCapital,
		Diagnostics:    diags,
		Equity:         make([]domain.EquitySnapshot, 0, len(clean)),
	}

	var (
		runErr     error
		last       domain.Bar
		prevEquity = e.settings.InitialCapital
	)
	for _, bar := range clean {
		if err := ctx.Err(); err != nil {
			e.log.Warn("run cancelled", "symbol", symbol, "processed", len(res.Equity))
			runErr = err
			break
		}

		closed := false
		if pos := bk.positions[symbol]; pos != nil {
			closed = bk.advance(pos, bar)
		}
		if !closed && bk.positions[symbol] == nil && bar.Signal.Type == domain.SignalEnterLong {
			bk.tryOpen(bar)
		}

		snap := bk.snapshot(bar.Timestamp, prevEquity)
		res.Equity = append(res.Equity, snap)
		prevEquity = snap.Equity
		last = bar
	}

	if len(res.Equity) > 0 {
		bk.forceCloseAll(map[string]domain.Bar{symbol: last}, res)
	}
	res.Trades = bk.trades
	res.Opened = bk.opened

	e.log.Info("run complete",
		"symbol", symbol,
		"bars", len(res.Equity),
		"trades", len(res.Trades),
		"skipped", len(diags),
		"final_equity", res.FinalEquity(),
	)
	return res, runErr
}
