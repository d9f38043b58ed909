// Package domain holds the value types shared by the backtesting engine,
// stores, strategies and reporting.
package domain

import (
	"math"
	"time"
)

// Market identifies the exchange group a symbol belongs to. It is also the
// first path segment of the on-disk bar layout.
type Market string

const (
	MarketUS Market = "us"
	MarketCN Market = "cn"
)

// OrderSide is the direction of a simulated fill.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// SignalType is the tri-state tag a signal provider attaches to each bar.
type SignalType string

const (
	SignalNone      SignalType = ""
	SignalEnterLong SignalType = "enter_long"
	SignalExitLong  SignalType = "exit_long"
)

// Signal is the strategy output for one bar. Strength is an optional
// confidence in [0,1] used to rank competing entries.
type Signal struct {
	Type     SignalType `json:"type,omitempty"`
	Strength float64    `json:"strength,omitempty"`
	Reason   string     `json:"reason,omitempty"`
}

// Bar is one daily OHLCV observation plus the indicator values computed for
// it upstream and the signal derived from them.
type Bar struct {
	Symbol     string             `json:"symbol"`
	Timestamp  time.Time          `json:"timestamp"`
	Open       float64            `json:"open"`
	High       float64            `json:"high"`
	Low        float64            `json:"low"`
	Close      float64            `json:"close"`
	Volume     int64              `json:"volume"`
	TradeCount int64              `json:"trade_count,omitempty"`
	VWAP       float64            `json:"vwap,omitempty"`
	Indicators map[string]float64 `json:"indicators,omitempty"`
	Signal     Signal             `json:"signal"`
}

// Indicator returns the named indicator value. ok is false when the value is
// absent or NaN.
func (b Bar) Indicator(name string) (float64, bool) {
	v, ok := b.Indicators[name]
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// HasIndicator reports whether the indicator key is present on the bar, even
// if its value is still NaN (e.g. during an indicator's warm-up window).
func (b Bar) HasIndicator(name string) bool {
	_, ok := b.Indicators[name]
	return ok
}

// Position is an open long holding. It is owned and mutated only by the
// engine that opened it.
type Position struct {
	Symbol          string    `json:"symbol"`
	EntryTime       time.Time `json:"entry_time"`
	EntryPrice      float64   `json:"entry_price"`
	Qty             int64     `json:"qty"`
	StopPrice       float64   `json:"stop_price,omitempty"`
	TargetPrice     float64   `json:"target_price,omitempty"`
	HighWaterMark   float64   `json:"high_water_mark"`
	BarsHeld        int       `json:"bars_held"`
	Strength        float64   `json:"strength,omitempty"`
	EntryCommission float64   `json:"entry_commission"`
	EntrySlippage   float64   `json:"entry_slippage"`
	LastPrice       float64   `json:"last_price"`
	MAE             float64   `json:"mae"`
	MFE             float64   `json:"mfe"`
}

// MarketValue is the mark-to-market value at the last seen close.
func (p *Position) MarketValue() float64 {
	return float64(p.Qty) * p.LastPrice
}

// Mark updates the last price and the excursion extremes from a bar.
func (p *Position) Mark(bar Bar) {
	p.LastPrice = bar.Close
	if p.EntryPrice <= 0 {
		return
	}
	if adverse := bar.Low/p.EntryPrice - 1; adverse < p.MAE {
		p.MAE = adverse
	}
	if favorable := bar.High/p.EntryPrice - 1; favorable > p.MFE {
		p.MFE = favorable
	}
}

// ExitReason records which rule closed a position.
type ExitReason string

const (
	ExitSignal       ExitReason = "signal"
	ExitStopLoss     ExitReason = "stop_loss"
	ExitTakeProfit   ExitReason = "take_profit"
	ExitTrailingStop ExitReason = "trailing_stop"
	ExitMaxHold      ExitReason = "max_hold"
	ExitForcedClose  ExitReason = "forced_close"
)

// ExitReasons lists every reason in reporting order.
var ExitReasons = []ExitReason{
	ExitSignal, ExitStopLoss, ExitTakeProfit, ExitTrailingStop, ExitMaxHold, ExitForcedClose,
}

// ClosedTrade is the immutable ledger row produced when a position closes.
// NetPnL = GrossPnL - Commission - Slippage and
// ReturnPct = NetPnL / (EntryPrice * Qty).
type ClosedTrade struct {
	Symbol     string     `json:"symbol"`
	EntryTime  time.Time  `json:"entry_time"`
	ExitTime   time.Time  `json:"exit_time"`
	EntryPrice float64    `json:"entry_price"`
	ExitPrice  float64    `json:"exit_price"`
	Qty        int64      `json:"qty"`
	GrossPnL   float64    `json:"gross_pnl"`
	Commission float64    `json:"commission"`
	Slippage   float64    `json:"slippage"`
	NetPnL     float64    `json:"net_pnl"`
	ReturnPct  float64    `json:"return_pct"`
	ExitReason ExitReason `json:"exit_reason"`
	BarsHeld   int        `json:"bars_held"`
	Strength   float64    `json:"strength,omitempty"`
	MAE        float64    `json:"mae"`
	MFE        float64    `json:"mfe"`
}

// EquitySnapshot is the account state after one processed bar.
type EquitySnapshot struct {
	Timestamp      time.Time `json:"timestamp"`
	Cash           float64   `json:"cash"`
	PositionsValue float64   `json:"positions_value"`
	Equity         float64   `json:"equity"`
	DailyReturn    float64   `json:"daily_return"`
	OpenPositions  int       `json:"open_positions"`
}

// Diagnostic flags a bar the engine skipped because its data was unusable.
type Diagnostic struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
}
