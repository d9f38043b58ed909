// Package metrics computes return, risk and trade statistics from an equity
// curve and a closed-trade ledger. Every function is pure and guards its
// numeric degeneracies with sentinel values instead of returning errors.
package metrics

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"alphafactory/internal/domain"
)

// TradingDaysPerYear is the annualization factor for daily bars.
const TradingDaysPerYear = 252

// zeroVol is the volatility below which a return series is treated as flat.
const zeroVol = 1e-12

// DailyReturns converts an equity curve to simple returns. The first return
// is measured against initial.
func DailyReturns(initial float64, equity []float64) []float64 {
	out := make([]float64, len(equity))
	prev := initial
	for i, e := range equity {
		if prev != 0 {
			out[i] = e/prev - 1
		}
		prev = e
	}
	return out
}

// TotalReturn is final/initial - 1, or 0 when initial is not positive.
func TotalReturn(initial, final float64) float64 {
	if initial <= 0 {
		return 0
	}
	return final/initial - 1
}

// AnnualizedReturn compounds totalReturn over days trading days to a yearly
// rate. A wiped-out account annualizes to -1.
func AnnualizedReturn(totalReturn float64, days int) float64 {
	if days <= 0 {
		return 0
	}
	growth := 1 + totalReturn
	if growth <= 0 {
		return -1
	}
	return math.Pow(growth, float64(TradingDaysPerYear)/float64(days)) - 1
}

// Volatility is the annualized sample standard deviation of returns.
func Volatility(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	return stat.StdDev(returns, nil) * math.Sqrt(TradingDaysPerYear)
}

// Sharpe is mean(returns)*252 / Volatility(returns), 0 for a flat series.
func Sharpe(returns []float64) float64 {
	vol := Volatility(returns)
	if vol < zeroVol {
		return 0
	}
	return stat.Mean(returns, nil) * TradingDaysPerYear / vol
}

// Sortino replaces the Sharpe denominator with the annualized standard
// deviation of the negative returns only. With no negative returns it equals
// Sharpe. When that deviation is undefined (one negative return) or zero
// (identical negative returns), the root mean square of the negative returns
// around zero is used instead.
func Sortino(returns []float64) float64 {
	var downside []float64
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if len(downside) == 0 {
		return Sharpe(returns)
	}
	dd := Volatility(downside)
	if dd < zeroVol {
		dd = downsideRMS(downside) * math.Sqrt(TradingDaysPerYear)
	}
	if dd < zeroVol {
		return 0
	}
	return stat.Mean(returns, nil) * TradingDaysPerYear / dd
}

func downsideRMS(downside []float64) float64 {
	var sum float64
	for _, r := range downside {
		sum += r * r
	}
	return math.Sqrt(sum / float64(len(downside)))
}

// DrawdownSeries returns equity_t / running_max_t - 1 for every point.
// Values are always <= 0.
func DrawdownSeries(equity []float64) []float64 {
	out := make([]float64, len(equity))
	peak := math.Inf(-1)
	for i, e := range equity {
		if e > peak {
			peak = e
		}
		if peak > 0 {
			out[i] = e/peak - 1
		}
	}
	return out
}

// MaxDrawdown is the minimum of DrawdownSeries, 0 for an empty curve.
func MaxDrawdown(equity []float64) float64 {
	worst := 0.0
	for _, d := range DrawdownSeries(equity) {
		worst = math.Min(worst, d)
	}
	return worst
}

// Calmar is annualReturn / |maxDrawdown|, 0 when there was no drawdown.
func Calmar(annualReturn, maxDrawdown float64) float64 {
	if maxDrawdown == 0 {
		return 0
	}
	return annualReturn / math.Abs(maxDrawdown)
}

// TradeStats summarizes a closed-trade ledger. AvgLoss is a positive
// magnitude.
type TradeStats struct {
	Trades      int
	Wins        int
	Losses      int
	GrossProfit float64
	GrossLoss   float64
	AvgWin      float64
	AvgLoss     float64
}

// ComputeTradeStats tallies wins (net > 0) and losses (net < 0).
func ComputeTradeStats(trades []domain.ClosedTrade) TradeStats {
	var ts TradeStats
	ts.Trades = len(trades)
	for _, t := range trades {
		switch {
		case t.NetPnL > 0:
			ts.Wins++
			ts.GrossProfit += t.NetPnL
		case t.NetPnL < 0:
			ts.Losses++
			ts.GrossLoss += -t.NetPnL
		}
	}
	if ts.Wins > 0 {
		ts.AvgWin = ts.GrossProfit / float64(ts.Wins)
	}
	if ts.Losses > 0 {
		ts.AvgLoss = ts.GrossLoss / float64(ts.Losses)
	}
	return ts
}

// WinRate is the fraction of trades with positive net P&L.
func (ts TradeStats) WinRate() float64 {
	if ts.Trades == 0 {
		return 0
	}
	return float64(ts.Wins) / float64(ts.Trades)
}

// ProfitFactor is gross profit over gross loss. It is +Inf when there were
// gains but no losses and 0 when there were neither.
func (ts TradeStats) ProfitFactor() float64 {
	if ts.GrossLoss == 0 {
		if ts.GrossProfit > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return ts.GrossProfit / ts.GrossLoss
}

// WinRate is a convenience wrapper over ComputeTradeStats.
func WinRate(trades []domain.ClosedTrade) float64 {
	return ComputeTradeStats(trades).WinRate()
}

// ProfitFactor is a convenience wrapper over ComputeTradeStats.
func ProfitFactor(trades []domain.ClosedTrade) float64 {
	return ComputeTradeStats(trades).ProfitFactor()
}
