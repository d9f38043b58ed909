package engine

import (
	"errors"
	"math"
	"testing"

	"alphafactory/internal/domain"
)

func TestRiskPolicyStopPrecedence(t *testing.T) {
	rp := RiskPolicy{StopLossPct: 0.05, TakeProfitPct: 0.10, TrailingStopPct: 0.02, MaxHoldBars: 1}
	pos := &domain.Position{EntryPrice: 100, StopPrice: 95, TargetPrice: 110, HighWaterMark: 100, BarsHeld: 5}

	// Every rule is eligible on this bar; the stop must win at its own level.
	d := rp.EvaluateExit(pos, domain.Bar{Open: 100, High: 112, Low: 94, Close: 105})
	if d == nil {
		t.Fatal("EvaluateExit returned nil, want stop_loss")
	}
	if d.Reason != domain.ExitStopLoss {
		t.Errorf("Reason = %q, want %q", d.Reason, domain.ExitStopLoss)
	}
	if d.Price != 95 {
		t.Errorf("Price = %v, want 95", d.Price)
	}
}

func TestRiskPolicyTrailingStop(t *testing.T) {
	rp := RiskPolicy{TrailingStopPct: 0.10}
	pos := &domain.Position{EntryPrice: 100, HighWaterMark: 100}

	// New high ratchets the mark to 120 (trail 108) before the check.
	if d := rp.EvaluateExit(pos, domain.Bar{High: 120, Low: 109, Close: 115}); d != nil {
		t.Fatalf("unexpected exit %+v", d)
	}
	if pos.HighWaterMark != 120 {
		t.Errorf("HighWaterMark = %v, want 120", pos.HighWaterMark)
	}

	// A lower high must not pull the mark down.
	d := rp.EvaluateExit(pos, domain.Bar{High: 115, Low: 107, Close: 110})
	if pos.HighWaterMark != 120 {
		t.Errorf("HighWaterMark = %v, want 120 after lower high", pos.HighWaterMark)
	}
	if d == nil || d.Reason != domain.ExitTrailingStop {
		t.Fatalf("EvaluateExit = %+v, want trailing_stop", d)
	}
	if math.Abs(d.Price-108) > 1e-9 {
		t.Errorf("Price = %v, want 108", d.Price)
	}
}

func TestRiskPolicyTrailingUsesSameBarHigh(t *testing.T) {
	rp := RiskPolicy{TrailingStopPct: 0.05}
	pos := &domain.Position{EntryPrice: 100, HighWaterMark: 100}

	// High of 110 lifts the trail to 104.5 and the low of 104 then hits it.
	d := rp.EvaluateExit(pos, domain.Bar{High: 110, Low: 104, Close: 106})
	if d == nil || d.Reason != domain.ExitTrailingStop {
		t.Fatalf("EvaluateExit = %+v, want trailing_stop", d)
	}
	if math.Abs(d.Price-104.5) > 1e-9 {
		t.Errorf("Price = %v, want 104.5", d.Price)
	}
}

func TestRiskPolicyTakeProfitAndMaxHold(t *testing.T) {
	rp := RiskPolicy{TakeProfitPct: 0.10, MaxHoldBars: 3}

	pos := &domain.Position{EntryPrice: 100, TargetPrice: 110, HighWaterMark: 100, BarsHeld: 3}
	d := rp.EvaluateExit(pos, domain.Bar{High: 111, Low: 101, Close: 108})
	if d == nil || d.Reason != domain.ExitTakeProfit || d.Price != 110 {
		t.Fatalf("EvaluateExit = %+v, want take_profit at 110", d)
	}

	d = rp.EvaluateExit(pos, domain.Bar{High: 105, Low: 101, Close: 103})
	if d == nil || d.Reason != domain.ExitMaxHold || d.Price != 103 {
		t.Fatalf("EvaluateExit = %+v, want max_hold at close 103", d)
	}

	pos.BarsHeld = 2
	if d := rp.EvaluateExit(pos, domain.Bar{High: 105, Low: 101, Close: 103}); d != nil {
		t.Errorf("EvaluateExit = %+v, want nil before max hold", d)
	}
}

func TestRiskPolicyLevels(t *testing.T) {
	tests := []struct {
		name       string
		rp         RiskPolicy
		atr        float64
		wantStop   float64
		wantTarget float64
	}{
		{"pct", RiskPolicy{StopLossPct: 0.05, TakeProfitPct: 0.2}, 0, 95, 120},
		{"atr", RiskPolicy{StopLossPct: 0.05, StopATRMultiple: 2}, 3, 94, 0},
		{"atr missing falls back", RiskPolicy{StopLossPct: 0.05, StopATRMultiple: 2}, 0, 95, 0},
		{"disabled", RiskPolicy{}, 3, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stop, target := tt.rp.Levels(100, tt.atr)
			if math.Abs(stop-tt.wantStop) > 1e-9 || math.Abs(target-tt.wantTarget) > 1e-9 {
				t.Errorf("Levels = (%v, %v), want (%v, %v)", stop, target, tt.wantStop, tt.wantTarget)
			}
		})
	}
}

func TestRiskPolicyValidate(t *testing.T) {
	bad := []RiskPolicy{
		{StopLossPct: -0.1},
		{StopLossPct: 1},
		{TakeProfitPct: -1},
		{TrailingStopPct: 1.5},
		{MaxHoldBars: -1},
		{StopATRMultiple: -2},
	}
	for _, rp := range bad {
		if err := rp.Validate(); !errors.Is(err, domain.ErrInvalidConfig) {
			t.Errorf("Validate(%+v) = %v, want ErrInvalidConfig", rp, err)
		}
	}
	if err := (RiskPolicy{StopLossPct: 0.05, TakeProfitPct: 0.1}).Validate(); err != nil {
		t.Errorf("Validate(valid) = %v", err)
	}
}
