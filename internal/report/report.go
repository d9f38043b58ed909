// Package report turns a raw engine result into the performance report that
// persistence, the API and the CLI binaries consume.
package report

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"alphafactory/internal/domain"
	"alphafactory/internal/engine"
	"alphafactory/internal/metrics"
)

// Meta identifies a run.
type Meta struct {
	ID        string
	Name      string
	Strategy  string
	Market    string
	CreatedAt time.Time
}

// Report is the complete output of one backtest.
type Report struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Strategy  string    `json:"strategy,omitempty"`
	Market    string    `json:"market,omitempty"`
	Symbols   []string  `json:"symbols"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	CreatedAt time.Time `json:"created_at"`

	InitialCapital float64 `json:"initial_capital"`
	FinalEquity    float64 `json:"final_equity"`
	TotalReturn    float64 `json:"total_return"`
	AnnualReturn   float64 `json:"annual_return"`
	Volatility     float64 `json:"volatility"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
	SortinoRatio   float64 `json:"sortino_ratio"`
	MaxDrawdown    float64 `json:"max_drawdown"`
	CalmarRatio    float64 `json:"calmar_ratio"`

	NumTrades     int     `json:"num_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`

	// ProfitFactor is 0 with ProfitFactorInfinite set when there were gains
	// and no losses.
	ProfitFactor         float64 `json:"profit_factor"`
	ProfitFactorInfinite bool    `json:"profit_factor_infinite,omitempty"`
	AvgWin               float64 `json:"avg_win"`
	AvgLoss              float64 `json:"avg_loss"`
	AvgBarsHeld          float64 `json:"avg_bars_held"`
	AvgMAE               float64 `json:"avg_mae"`
	AvgMFE               float64 `json:"avg_mfe"`
	CommissionTotal      float64 `json:"commission_total"`
	SlippageTotal        float64 `json:"slippage_total"`

	ExitReasons map[domain.ExitReason]int `json:"exit_reasons"`

	Trades      []domain.ClosedTrade    `json:"trades"`
	Equity      []domain.EquitySnapshot `json:"equity"`
	Diagnostics []domain.Diagnostic     `json:"diagnostics,omitempty"`
}

// Assemble computes every metric for res. A missing ID is generated and a
// zero CreatedAt is set to now.
func Assemble(res *engine.Result, meta Meta) *Report {
	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}

	symbols := append([]string(nil), res.Symbols...)
	sort.Strings(symbols)

	r := &Report{
		ID:             meta.ID,
		Name:           meta.Name,
		Strategy:       meta.Strategy,
		Market:         meta.Market,
		Symbols:        symbols,
		CreatedAt:      meta.CreatedAt,
		InitialCapital: res.InitialCapital,
		FinalEquity:    res.FinalEquity(),
		Trades:         res.Trades,
		Equity:         res.Equity,
		Diagnostics:    res.Diagnostics,
		ExitReasons:    make(map[domain.ExitReason]int),
	}
	if r.Trades == nil {
		r.Trades = []domain.ClosedTrade{}
	}
	if r.Equity == nil {
		r.Equity = []domain.EquitySnapshot{}
	}
	if n := len(res.Equity); n > 0 {
		r.Start = res.Equity[0].Timestamp
		r.End = res.Equity[n-1].Timestamp
	}

	curve := make([]float64, len(res.Equity))
	for i, s := range res.Equity {
		curve[i] = s.Equity
	}
	returns := metrics.DailyReturns(res.InitialCapital, curve)

	r.TotalReturn = metrics.TotalReturn(res.InitialCapital, r.FinalEquity)
	r.AnnualReturn = metrics.AnnualizedReturn(r.TotalReturn, len(curve))
	r.Volatility = metrics.Volatility(returns)
	r.SharpeRatio = metrics.Sharpe(returns)
	r.SortinoRatio = metrics.Sortino(returns)
	r.MaxDrawdown = metrics.MaxDrawdown(curve)
	r.CalmarRatio = metrics.Calmar(r.AnnualReturn, r.MaxDrawdown)

	stats := metrics.ComputeTradeStats(res.Trades)
	r.NumTrades = stats.Trades
	r.WinningTrades = stats.Wins
	r.LosingTrades = stats.Losses
	r.WinRate = stats.WinRate()
	r.AvgWin = stats.AvgWin
	r.AvgLoss = stats.AvgLoss
	if pf := stats.ProfitFactor(); math.IsInf(pf, 1) {
		r.ProfitFactorInfinite = true
	} else {
		r.ProfitFactor = pf
	}

	var held, mae, mfe float64
	for _, t := range res.Trades {
		r.ExitReasons[t.ExitReason]++
		r.CommissionTotal += t.Commission
		r.SlippageTotal += t.Slippage
		held += float64(t.BarsHeld)
		mae += t.MAE
		mfe += t.MFE
	}
	if n := float64(len(res.Trades)); n > 0 {
		r.AvgBarsHeld = held / n
		r.AvgMAE = mae / n
		r.AvgMFE = mfe / n
	}
	return r
}

// Summary is the list view of a report: metadata and headline metrics
// without the trade ledger or equity curve.
type Summary struct {
	ID             string    `json:"id"`
	Name           string    `json:"name,omitempty"`
	Strategy       string    `json:"strategy,omitempty"`
	Market         string    `json:"market,omitempty"`
	Symbols        []string  `json:"symbols"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	CreatedAt      time.Time `json:"created_at"`
	InitialCapital float64   `json:"initial_capital"`
	FinalEquity    float64   `json:"final_equity"`
	TotalReturn    float64   `json:"total_return"`
	SharpeRatio    float64   `json:"sharpe_ratio"`
	MaxDrawdown    float64   `json:"max_drawdown"`
	NumTrades      int       `json:"num_trades"`
	WinRate        float64   `json:"win_rate"`
}

// Summary returns the list view of r.
func (r *Report) Summary() Summary {
	return Summary{
		ID:             r.ID,
		Name:           r.Name,
		Strategy:       r.Strategy,
		Market:         r.Market,
		Symbols:        r.Symbols,
		Start:          r.Start,
		End:            r.End,
		CreatedAt:      r.CreatedAt,
		InitialCapital: r.InitialCapital,
		FinalEquity:    r.FinalEquity,
		TotalReturn:    r.TotalReturn,
		SharpeRatio:    r.SharpeRatio,
		MaxDrawdown:    r.MaxDrawdown,
		NumTrades:      r.NumTrades,
		WinRate:        r.WinRate,
	}
}

// Header returns a shallow copy of r without the trade ledger and equity
// curve. Diagnostics stay with the header; stores persist it as one document.
func (r *Report) Header() Report {
	h := *r
	h.Trades, h.Equity = nil, nil
	return h
}
