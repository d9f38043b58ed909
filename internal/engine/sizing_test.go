package engine

import (
	"errors"
	"testing"

	"alphafactory/internal/domain"
	"alphafactory/internal/metrics"
)

func TestSizerFixedPercent(t *testing.T) {
	s := Sizer{Method: SizingFixed, PositionPct: 0.10}
	qty, used := s.Size(100000, 50, SizingInput{})
	if qty != 200 {
		t.Errorf("qty = %d, want 200", qty)
	}
	if used != 10000 {
		t.Errorf("capital used = %v, want 10000", used)
	}
}

func TestSizerVolatilityATR(t *testing.T) {
	s := Sizer{Method: SizingVolatilityATR, RiskPerTrade: 0.01, ATRMultiple: 2}

	// risk 1000 / stop distance 4 = 250 shares.
	qty, used := s.Size(100000, 50, SizingInput{ATR: 2})
	if qty != 250 || used != 12500 {
		t.Errorf("Size = (%d, %v), want (250, 12500)", qty, used)
	}

	// A tiny ATR would ask for more than the account holds; it is capped.
	qty, used = s.Size(100000, 500, SizingInput{ATR: 0.1})
	if qty != 200 || used != 100000 {
		t.Errorf("capped Size = (%d, %v), want (200, 100000)", qty, used)
	}

	if qty, _ := s.Size(100000, 50, SizingInput{}); qty != 0 {
		t.Errorf("Size without ATR = %d, want 0", qty)
	}
}

func TestSizerFixedFractional(t *testing.T) {
	s := Sizer{Method: SizingFixedFractional, RiskPerTrade: 0.02, StopLossPct: 0.05}

	// risk 2000 / (40 * 0.05) = 1000 shares.
	qty, used := s.Size(100000, 40, SizingInput{})
	if qty != 1000 || used != 40000 {
		t.Errorf("Size = (%d, %v), want (1000, 40000)", qty, used)
	}
}

func TestSizerKelly(t *testing.T) {
	s := Sizer{Method: SizingKelly, PositionPct: 0.10, KellyScale: 0.5, KellyMinTrades: 20}

	// Too few trades: fixed-percent fallback.
	qty, _ := s.Size(100000, 50, SizingInput{Stats: metrics.TradeStats{Trades: 5, Wins: 5, AvgWin: 100}})
	if qty != 200 {
		t.Errorf("fallback qty = %d, want 200", qty)
	}

	// w=0.6, R=2: kelly 0.4, half-kelly 0.2 -> 20000 / 50.
	stats := metrics.TradeStats{Trades: 20, Wins: 12, Losses: 8, AvgWin: 200, AvgLoss: 100}
	qty, used := s.Size(100000, 50, SizingInput{Stats: stats})
	if qty != 400 || used != 20000 {
		t.Errorf("kelly Size = (%d, %v), want (400, 20000)", qty, used)
	}

	// Negative edge clips to zero: no entry.
	losing := metrics.TradeStats{Trades: 20, Wins: 4, Losses: 16, AvgWin: 100, AvgLoss: 100}
	if qty, _ := s.Size(100000, 50, SizingInput{Stats: losing}); qty != 0 {
		t.Errorf("negative kelly qty = %d, want 0", qty)
	}
}

func TestSizerMaxPositionCap(t *testing.T) {
	s := Sizer{Method: SizingFixed, PositionPct: 0.5, MaxPositionPct: 0.2}
	qty, used := s.Size(100000, 100, SizingInput{})
	if qty != 200 || used != 20000 {
		t.Errorf("Size = (%d, %v), want (200, 20000)", qty, used)
	}
}

func TestSizerNeverExceedsAvailable(t *testing.T) {
	sizers := []Sizer{
		{Method: SizingFixed, PositionPct: 1},
		{Method: SizingVolatilityATR, RiskPerTrade: 1, ATRMultiple: 0.01},
		{Method: SizingFixedFractional, RiskPerTrade: 1, StopLossPct: 0.001},
		{Method: SizingKelly, PositionPct: 1},
	}
	inputs := []struct{ avail, price, atr float64 }{
		{100000, 50, 0.5},
		{999.99, 333.33, 0.01},
		{10, 11, 1},
		{0, 10, 1},
		{5000, 0, 1},
		{1e9, 0.37, 0.0001},
	}
	for _, s := range sizers {
		for _, in := range inputs {
			qty, used := s.Size(in.avail, in.price, SizingInput{ATR: in.atr})
			if qty < 0 {
				t.Errorf("%s Size(%v, %v) qty = %d, want >= 0", s.Method, in.avail, in.price, qty)
			}
			if used > in.avail {
				t.Errorf("%s Size(%v, %v) used %v > available", s.Method, in.avail, in.price, used)
			}
			if qty == 0 && used != 0 {
				t.Errorf("%s Size(%v, %v) zero qty with used %v", s.Method, in.avail, in.price, used)
			}
		}
	}
}

func TestSizerValidate(t *testing.T) {
	bad := []Sizer{
		{Method: "martingale"},
		{Method: SizingFixed},
		{Method: SizingVolatilityATR, RiskPerTrade: 0.01},
		{Method: SizingFixedFractional, RiskPerTrade: 2, StopLossPct: 0.05},
		{Method: SizingFixed, PositionPct: 0.1, MaxPositionPct: 2},
	}
	for _, s := range bad {
		if err := s.Validate(); !errors.Is(err, domain.ErrInvalidConfig) {
			t.Errorf("Validate(%+v) = %v, want ErrInvalidConfig", s, err)
		}
	}
}

func TestCashBook(t *testing.T) {
	cb := NewCashBook(1000)
	if err := cb.Debit(400.25); err != nil {
		t.Fatalf("Debit: %v", err)
	}
	cb.Credit(100.5)
	if got := cb.Balance(); got != 700.25 {
		t.Errorf("Balance = %v, want 700.25", got)
	}
	if err := cb.Debit(700.26); !errors.Is(err, domain.ErrInsufficientCash) {
		t.Errorf("overdraw Debit = %v, want ErrInsufficientCash", err)
	}
	if got := cb.Balance(); got != 700.25 {
		t.Errorf("Balance after failed debit = %v, want 700.25", got)
	}
}
