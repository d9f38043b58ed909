package metrics

import (
	"math"
	"testing"

	"alphafactory/internal/domain"
)

const eps = 1e-9

func approx(a, b float64) bool { return math.Abs(a-b) < eps }

func TestReturns(t *testing.T) {
	if got := TotalReturn(100, 110); !approx(got, 0.1) {
		t.Errorf("TotalReturn(100, 110) = %v, want 0.1", got)
	}
	if got := TotalReturn(0, 110); got != 0 {
		t.Errorf("TotalReturn(0, 110) = %v, want 0", got)
	}

	tests := []struct {
		total float64
		days  int
		want  float64
	}{
		{0.1, 252, 0.1},
		{0.21, 504, 0.1},
		{-1.5, 10, -1},
		{0.1, 0, 0},
	}
	for _, tt := range tests {
		if got := AnnualizedReturn(tt.total, tt.days); !approx(got, tt.want) {
			t.Errorf("AnnualizedReturn(%v, %d) = %v, want %v", tt.total, tt.days, got, tt.want)
		}
	}

	rets := DailyReturns(100, []float64{110, 99})
	if len(rets) != 2 || !approx(rets[0], 0.1) || !approx(rets[1], -0.1) {
		t.Errorf("DailyReturns = %v, want [0.1 -0.1]", rets)
	}
}

func TestSharpeAndVolatility(t *testing.T) {
	rets := []float64{0.01, -0.01, 0.02, 0.0}

	mean := 0.005
	std := math.Sqrt((0.005*0.005 + 0.015*0.015 + 0.015*0.015 + 0.005*0.005) / 3)
	wantVol := std * math.Sqrt(252)
	if got := Volatility(rets); !approx(got, wantVol) {
		t.Errorf("Volatility = %v, want %v", got, wantVol)
	}
	if got, want := Sharpe(rets), mean*252/wantVol; !approx(got, want) {
		t.Errorf("Sharpe = %v, want %v", got, want)
	}

	if got := Volatility([]float64{0.05}); got != 0 {
		t.Errorf("Volatility(single) = %v, want 0", got)
	}
	if got := Sharpe([]float64{0.01, 0.01, 0.01}); got != 0 {
		t.Errorf("Sharpe(flat) = %v, want 0", got)
	}
	if got := Sharpe(nil); got != 0 {
		t.Errorf("Sharpe(nil) = %v, want 0", got)
	}
}

func TestSortino(t *testing.T) {
	rets := []float64{0.02, -0.01, 0.03, -0.03}
	mean := 0.0025
	downStd := math.Sqrt(0.0002) // sample stdev of {-0.01, -0.03}
	want := mean * 252 / (downStd * math.Sqrt(252))
	if got := Sortino(rets); !approx(got, want) {
		t.Errorf("Sortino = %v, want %v", got, want)
	}

	tests := []struct {
		name string
		rets []float64
		mean float64
		down float64
	}{
		{"one negative", []float64{0.02, -0.01, 0.03}, 0.04 / 3, 0.01},
		{"identical negatives", []float64{0.02, -0.01, 0.03, -0.01}, 0.0075, 0.01},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := tt.mean * 252 / (tt.down * math.Sqrt(252))
			got := Sortino(tt.rets)
			if !approx(got, want) {
				t.Errorf("Sortino = %v, want %v", got, want)
			}
			if got <= 0 {
				t.Errorf("Sortino = %v, want > 0 for a net-positive series", got)
			}
		})
	}
}

func TestMonotonicEquityCurve(t *testing.T) {
	equity := []float64{101, 103, 104, 108}
	rets := DailyReturns(100, equity)

	if got := MaxDrawdown(equity); got != 0 {
		t.Errorf("MaxDrawdown = %v, want 0", got)
	}
	s := Sortino(rets)
	if math.IsNaN(s) || math.IsInf(s, 0) {
		t.Fatalf("Sortino = %v, want a finite value", s)
	}
	if s != Sharpe(rets) || s <= 0 {
		t.Errorf("Sortino = %v, want Sharpe %v (> 0)", s, Sharpe(rets))
	}
	if got := Calmar(0.3, MaxDrawdown(equity)); got != 0 {
		t.Errorf("Calmar with no drawdown = %v, want 0", got)
	}
}

func TestDrawdown(t *testing.T) {
	equity := []float64{100, 120, 90, 130, 117}
	want := []float64{0, 0, -0.25, 0, -0.1}

	got := DrawdownSeries(equity)
	for i := range want {
		if !approx(got[i], want[i]) {
			t.Errorf("drawdown[%d] = %v, want %v", i, got[i], want[i])
		}
		if got[i] > 0 {
			t.Errorf("drawdown[%d] = %v, must be <= 0", i, got[i])
		}
	}
	if md := MaxDrawdown(equity); !approx(md, -0.25) {
		t.Errorf("MaxDrawdown = %v, want -0.25", md)
	}
	if c := Calmar(0.2, -0.25); !approx(c, 0.8) {
		t.Errorf("Calmar = %v, want 0.8", c)
	}
}

func TestTradeStats(t *testing.T) {
	trades := []domain.ClosedTrade{
		{NetPnL: 100}, {NetPnL: -50}, {NetPnL: 0}, {NetPnL: 200},
	}
	ts := ComputeTradeStats(trades)

	if ts.Wins != 2 || ts.Losses != 1 || ts.Trades != 4 {
		t.Errorf("wins/losses/trades = %d/%d/%d, want 2/1/4", ts.Wins, ts.Losses, ts.Trades)
	}
	if got := WinRate(trades); got != 0.5 {
		t.Errorf("WinRate = %v, want 0.5", got)
	}
	if got := ProfitFactor(trades); got != 6 {
		t.Errorf("ProfitFactor = %v, want 6", got)
	}
	if ts.AvgWin != 150 || ts.AvgLoss != 50 {
		t.Errorf("AvgWin/AvgLoss = %v/%v, want 150/50", ts.AvgWin, ts.AvgLoss)
	}
}

func TestProfitFactorGuards(t *testing.T) {
	if got := ProfitFactor([]domain.ClosedTrade{{NetPnL: 10}}); !math.IsInf(got, 1) {
		t.Errorf("ProfitFactor(no losses) = %v, want +Inf", got)
	}
	if got := ProfitFactor(nil); got != 0 {
		t.Errorf("ProfitFactor(nil) = %v, want 0", got)
	}
	if got := WinRate(nil); got != 0 {
		t.Errorf("WinRate(nil) = %v, want 0", got)
	}
}
