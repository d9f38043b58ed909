package engine

import (
	"fmt"
	"math"

	"alphafactory/internal/domain"
	"alphafactory/internal/metrics"
)

// SizingMethod selects how an entry is sized.
type SizingMethod string

const (
	SizingFixed           SizingMethod = "fixed"
	SizingVolatilityATR   SizingMethod = "volatility_atr"
	SizingFixedFractional SizingMethod = "fixed_fractional"
	SizingKelly           SizingMethod = "kelly"
)

// Default Kelly tuning: half-Kelly once 20 trades have closed.
const (
	DefaultKellyScale     = 0.5
	DefaultKellyMinTrades = 20
)

// shareEpsilon absorbs float error so 399.99999999999994 shares sizes as 400.
const shareEpsilon = 1e-9

// Sizer maps available capital and price to a whole-share quantity.
//
//   - PositionPct: fraction of capital for fixed sizing and the Kelly
//     fallback.
//   - RiskPerTrade: fraction of capital put at risk by the ATR and
//     fixed-fractional methods.
//   - ATRMultiple: stop distance in ATRs for volatility_atr.
//   - StopLossPct: stop distance as a fraction of price for fixed_fractional.
//   - KellyScale, KellyMinTrades: Kelly damping and warm-up.
//   - MaxPositionPct: optional cap on any single position (0 disables).
type Sizer struct {
	Method         SizingMethod
	PositionPct    float64
	RiskPerTrade   float64
	ATRMultiple    float64
	StopLossPct    float64
	KellyScale     float64
	KellyMinTrades int
	MaxPositionPct float64
}

// SizingInput carries the per-entry context some methods need.
type SizingInput struct {
	ATR   float64
	Stats metrics.TradeStats
}

// Validate checks the method tag and the parameters that method uses.
func (s Sizer) Validate() error {
	inUnit := func(v float64) bool { return v > 0 && v <= 1 }
	switch s.Method {
	case SizingFixed:
		if !inUnit(s.PositionPct) {
			return fmt.Errorf("%w: position_pct %v not in (0,1]", domain.ErrInvalidConfig, s.PositionPct)
		}
	case SizingVolatilityATR:
		if !inUnit(s.RiskPerTrade) {
			return fmt.Errorf("%w: risk_per_trade %v not in (0,1]", domain.ErrInvalidConfig, s.RiskPerTrade)
		}
		if s.ATRMultiple <= 0 {
			return fmt.Errorf("%w: atr_multiplier must be > 0 for volatility_atr sizing", domain.ErrInvalidConfig)
		}
	case SizingFixedFractional:
		if !inUnit(s.RiskPerTrade) {
			return fmt.Errorf("%w: risk_per_trade %v not in (0,1]", domain.ErrInvalidConfig, s.RiskPerTrade)
		}
		if s.StopLossPct <= 0 {
			return fmt.Errorf("%w: stop_loss_pct must be > 0 for fixed_fractional sizing", domain.ErrInvalidConfig)
		}
	case SizingKelly:
		if !inUnit(s.PositionPct) {
			return fmt.Errorf("%w: position_pct %v not in (0,1] (kelly fallback)", domain.ErrInvalidConfig, s.PositionPct)
		}
		if s.KellyScale < 0 || s.KellyScale > 1 {
			return fmt.Errorf("%w: kelly_fraction %v not in [0,1]", domain.ErrInvalidConfig, s.KellyScale)
		}
	default:
		return fmt.Errorf("%w: unknown position_sizing_method %q", domain.ErrInvalidConfig, s.Method)
	}
	if s.MaxPositionPct < 0 || s.MaxPositionPct > 1 {
		return fmt.Errorf("%w: max_position_pct %v not in [0,1]", domain.ErrInvalidConfig, s.MaxPositionPct)
	}
	return nil
}

// NeedsATR reports whether sizing reads the ATR indicator.
func (s Sizer) NeedsATR() bool {
	return s.Method == SizingVolatilityATR
}

// Size returns the share quantity and the capital it consumes. The result
// is (0, 0) whenever no whole share fits; capitalUsed never exceeds
// available.
func (s Sizer) Size(available, price float64, in SizingInput) (qty int64, capitalUsed float64) {
	if !(available > 0) || !(price > 0) || math.IsInf(available, 0) || math.IsInf(price, 0) {
		return 0, 0
	}

	var shares float64
	switch s.Method {
	case SizingFixed:
		shares = available * s.PositionPct / price
	case SizingVolatilityATR:
		dist := in.ATR * s.ATRMultiple
		if !(dist > 0) {
			return 0, 0
		}
		shares = available * s.RiskPerTrade / dist
	case SizingFixedFractional:
		dist := price * s.StopLossPct
		if !(dist > 0) {
			return 0, 0
		}
		shares = available * s.RiskPerTrade / dist
	case SizingKelly:
		shares = available * s.kellyFraction(in.Stats) / price
	default:
		return 0, 0
	}

	limit := available
	if s.MaxPositionPct > 0 {
		limit = available * s.MaxPositionPct
	}
	shares = math.Min(shares, limit/price)

	qty = int64(math.Floor(shares + shareEpsilon))
	if qty < 1 {
		return 0, 0
	}
	capitalUsed = float64(qty) * price
	for capitalUsed > available && qty > 0 {
		qty--
		capitalUsed = float64(qty) * price
	}
	if qty < 1 {
		return 0, 0
	}
	return qty, capitalUsed
}

// kellyFraction returns the scaled Kelly fraction, or PositionPct while the
// history is too short to trust.
func (s Sizer) kellyFraction(stats metrics.TradeStats) float64 {
	minTrades := s.KellyMinTrades
	if minTrades <= 0 {
		minTrades = DefaultKellyMinTrades
	}
	if stats.Trades < minTrades {
		return s.PositionPct
	}

	w := stats.WinRate()
	var k float64
	switch {
	case stats.AvgWin <= 0:
		k = 0
	case stats.AvgLoss <= 0:
		k = w
	default:
		k = w - (1-w)/(stats.AvgWin/stats.AvgLoss)
	}
	k = math.Max(0, math.Min(1, k))

	scale := s.KellyScale
	if scale == 0 {
		scale = DefaultKellyScale
	}
	return k * scale
}
