package engine

import (
	"fmt"

	"alphafactory/internal/domain"
)

// RiskPolicy holds the exit rules applied to every open position. A zero
// value disables the corresponding rule.
//
//   - StopLossPct: initial stop at entry*(1-StopLossPct) (e.g. 0.05).
//   - StopATRMultiple: when > 0 and the entry bar carries an ATR value, the
//     initial stop is entry - ATR*StopATRMultiple instead.
//   - TakeProfitPct: target at entry*(1+TakeProfitPct).
//   - TrailingStopPct: exit once the low falls TrailingStopPct below the
//     highest high seen since entry.
//   - MaxHoldBars: exit at the close once the position has been held this
//     many bars.
type RiskPolicy struct {
	StopLossPct     float64
	StopATRMultiple float64
	TakeProfitPct   float64
	TrailingStopPct float64
	MaxHoldBars     int
}

// ExitDecision is a triggered exit rule and the price it fills at.
type ExitDecision struct {
	Reason domain.ExitReason
	Price  float64
}

// Validate checks that every threshold is in range.
func (rp RiskPolicy) Validate() error {
	switch {
	case rp.StopLossPct < 0 || rp.StopLossPct >= 1:
		return fmt.Errorf("%w: stop_loss_pct %v not in [0,1)", domain.ErrInvalidConfig, rp.StopLossPct)
	case rp.StopATRMultiple < 0:
		return fmt.Errorf("%w: atr_multiplier %v is negative", domain.ErrInvalidConfig, rp.StopATRMultiple)
	case rp.TakeProfitPct < 0:
		return fmt.Errorf("%w: take_profit_pct %v is negative", domain.ErrInvalidConfig, rp.TakeProfitPct)
	case rp.TrailingStopPct < 0 || rp.TrailingStopPct >= 1:
		return fmt.Errorf("%w: trailing_stop_pct %v not in [0,1)", domain.ErrInvalidConfig, rp.TrailingStopPct)
	case rp.MaxHoldBars < 0:
		return fmt.Errorf("%w: max_hold_bars %d is negative", domain.ErrInvalidConfig, rp.MaxHoldBars)
	}
	return nil
}

// Levels returns the initial stop and target for an entry at price. atr is
// ignored when it is not positive. A zero level means the rule is off.
func (rp RiskPolicy) Levels(price, atr float64) (stop, target float64) {
	switch {
	case rp.StopATRMultiple > 0 && atr > 0:
		stop = price - atr*rp.StopATRMultiple
	case rp.StopLossPct > 0:
		stop = price * (1 - rp.StopLossPct)
	}
	if stop < 0 {
		stop = 0
	}
	if rp.TakeProfitPct > 0 {
		target = price * (1 + rp.TakeProfitPct)
	}
	return stop, target
}

// EvaluateExit checks the exit rules against bar in fixed priority order:
// stop-loss, trailing stop, take-profit, max hold. Only the first eligible
// rule fires. The trailing high-water mark is ratcheted to bar.High before
// the trailing rule is checked, so pos is mutated even when nothing fires.
func (rp RiskPolicy) EvaluateExit(pos *domain.Position, bar domain.Bar) *ExitDecision {
	if pos.StopPrice > 0 && bar.Low <= pos.StopPrice {
		return &ExitDecision{Reason: domain.ExitStopLoss, Price: pos.StopPrice}
	}

	if bar.High > pos.HighWaterMark {
		pos.HighWaterMark = bar.High
	}
	if rp.TrailingStopPct > 0 {
		trail := pos.HighWaterMark * (1 - rp.TrailingStopPct)
		if bar.Low <= trail {
			return &ExitDecision{Reason: domain.ExitTrailingStop, Price: trail}
		}
	}

	if pos.TargetPrice > 0 && bar.High >= pos.TargetPrice {
		return &ExitDecision{Reason: domain.ExitTakeProfit, Price: pos.TargetPrice}
	}

	if rp.MaxHoldBars > 0 && pos.BarsHeld >= rp.MaxHoldBars {
		return &ExitDecision{Reason: domain.ExitMaxHold, Price: bar.Close}
	}
	return nil
}
