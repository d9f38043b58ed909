// Package indicator computes the indicator columns attached to daily bars
// before a backtest. Every series is aligned to its input, with NaN during
// warm-up.
package indicator

import (
	"fmt"
	"math"

	"alphafactory/internal/domain"
)

// Column names written by Attach.
const (
	BBUpper     = "bb_upper"
	BBMiddle    = "bb_middle"
	BBLower     = "bb_lower"
	VolumeSMA20 = "volume_sma_20"
	MACD        = "macd"
	MACDSignal  = "macd_signal"
	MACDHist    = "macd_hist"
)

// SMAName returns the column name of a p-period close SMA.
func SMAName(p int) string { return fmt.Sprintf("sma_%d", p) }

// ATRName returns the column name of a p-period ATR.
func ATRName(p int) string { return fmt.Sprintf("atr_%d", p) }

// RSIName returns the column name of a p-period RSI.
func RSIName(p int) string { return fmt.Sprintf("rsi_%d", p) }

// ADXName returns the column name of a p-period ADX.
func ADXName(p int) string { return fmt.Sprintf("adx_%d", p) }

// SMA over the last p points.
func SMA(x []float64, p int) []float64 {
	if p <= 0 {
		return nil
	}
	out := make([]float64, len(x))
	var sum float64
	for i := range x {
		sum += x[i]
		if i < p-1 {
			out[i] = math.NaN()
			continue
		}
		if i >= p {
			sum -= x[i-p]
		}
		out[i] = sum / float64(p)
	}
	return out
}

// MeanStd returns the rolling mean and population standard deviation over
// window p.
func MeanStd(x []float64, p int) (mean, std []float64) {
	if p <= 0 {
		return nil, nil
	}
	n := len(x)
	mean = make([]float64, n)
	std = make([]float64, n)

	var sum, sum2 float64
	for i := 0; i < n; i++ {
		sum += x[i]
		sum2 += x[i] * x[i]
		if i < p-1 {
			mean[i] = math.NaN()
			std[i] = math.NaN()
			continue
		}
		if i >= p {
			sum -= x[i-p]
			sum2 -= x[i-p] * x[i-p]
		}
		m := sum / float64(p)
		v := sum2/float64(p) - m*m
		if v < 0 {
			v = 0
		}
		mean[i] = m
		std[i] = math.Sqrt(v)
	}
	return mean, std
}

// Bollinger returns upper, middle and lower bands k deviations around a
// p-period mean.
func Bollinger(x []float64, p int, k float64) (upper, middle, lower []float64) {
	middle, std := MeanStd(x, p)
	upper = make([]float64, len(x))
	lower = make([]float64, len(x))
	for i := range x {
		upper[i] = middle[i] + k*std[i]
		lower[i] = middle[i] - k*std[i]
	}
	return upper, middle, lower
}

// EMA is the exponential moving average with smoothing 2/(p+1), seeded with
// the SMA of the first p points. The first value appears at index p-1.
func EMA(x []float64, p int) []float64 {
	out := make([]float64, len(x))
	for i := range out {
		out[i] = math.NaN()
	}
	if p <= 0 || len(x) < p {
		return out
	}
	var seed float64
	for i := 0; i < p; i++ {
		seed += x[i]
	}
	out[p-1] = seed / float64(p)
	k := 2 / float64(p+1)
	for i := p; i < len(x); i++ {
		out[i] = out[i-1] + k*(x[i]-out[i-1])
	}
	return out
}

// MACDLines returns the MACD line (fast EMA minus slow EMA), its signal EMA
// and the histogram. The line starts at index slow-1, the signal and
// histogram signal-1 bars later.
func MACDLines(close []float64, fast, slow, signal int) (line, sig, hist []float64) {
	n := len(close)
	line = make([]float64, n)
	sig = make([]float64, n)
	hist = make([]float64, n)
	for i := 0; i < n; i++ {
		line[i], sig[i], hist[i] = math.NaN(), math.NaN(), math.NaN()
	}
	if fast <= 0 || slow <= fast || signal <= 0 || n < slow {
		return line, sig, hist
	}

	ef, es := EMA(close, fast), EMA(close, slow)
	for i := slow - 1; i < n; i++ {
		line[i] = ef[i] - es[i]
	}
	se := EMA(line[slow-1:], signal)
	for j, v := range se {
		i := slow - 1 + j
		if math.IsNaN(v) {
			continue
		}
		sig[i] = v
		hist[i] = line[i] - v
	}
	return line, sig, hist
}

// ADX is Wilder's average directional index. DX is available from index p,
// and the first ADX, the mean of p DX values, appears at index 2p-1.
func ADX(high, low, close []float64, p int) []float64 {
	n := len(close)
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	if p <= 0 || n < 2*p {
		return out
	}

	var trS, plusS, minusS float64
	dx := make([]float64, n)
	for i := 1; i < n; i++ {
		up := high[i] - high[i-1]
		down := low[i-1] - low[i]
		var plusDM, minusDM float64
		if up > down && up > 0 {
			plusDM = up
		}
		if down > up && down > 0 {
			minusDM = down
		}
		tr := math.Max(high[i]-low[i], math.Max(math.Abs(high[i]-close[i-1]), math.Abs(low[i]-close[i-1])))

		if i <= p {
			trS += tr
			plusS += plusDM
			minusS += minusDM
			if i < p {
				continue
			}
		} else {
			trS += tr - trS/float64(p)
			plusS += plusDM - plusS/float64(p)
			minusS += minusDM - minusS/float64(p)
		}
		dx[i] = directionalIndex(plusS, minusS, trS)
	}

	var sum float64
	for i := p; i < 2*p; i++ {
		sum += dx[i]
	}
	out[2*p-1] = sum / float64(p)
	for i := 2 * p; i < n; i++ {
		out[i] = (out[i-1]*float64(p-1) + dx[i]) / float64(p)
	}
	return out
}

func directionalIndex(plus, minus, tr float64) float64 {
	if tr <= 0 {
		return 0
	}
	pdi, mdi := 100*plus/tr, 100*minus/tr
	if pdi+mdi == 0 {
		return 0
	}
	return 100 * math.Abs(pdi-mdi) / (pdi + mdi)
}

// RSI is Wilder's relative strength index. The first value appears at index p.
func RSI(close []float64, p int) []float64 {
	out := make([]float64, len(close))
	for i := range out {
		out[i] = math.NaN()
	}
	if p <= 0 || len(close) <= p {
		return out
	}

	var gain, loss float64
	for i := 1; i <= p; i++ {
		d := close[i] - close[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	gain /= float64(p)
	loss /= float64(p)
	out[p] = rsi(gain, loss)

	for i := p + 1; i < len(close); i++ {
		d := close[i] - close[i-1]
		g, l := 0.0, 0.0
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		gain = (gain*float64(p-1) + g) / float64(p)
		loss = (loss*float64(p-1) + l) / float64(p)
		out[i] = rsi(gain, loss)
	}
	return out
}

func rsi(gain, loss float64) float64 {
	if loss == 0 {
		if gain == 0 {
			return 50
		}
		return 100
	}
	return 100 - 100/(1+gain/loss)
}

// ATR is Wilder's average true range. The first value appears at index p-1.
func ATR(high, low, close []float64, p int) []float64 {
	n := len(close)
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	if p <= 0 || n < p {
		return out
	}

	tr := make([]float64, n)
	for i := 0; i < n; i++ {
		tr[i] = high[i] - low[i]
		if i > 0 {
			tr[i] = math.Max(tr[i], math.Max(math.Abs(high[i]-close[i-1]), math.Abs(low[i]-close[i-1])))
		}
	}

	var seed float64
	for i := 0; i < p; i++ {
		seed += tr[i]
	}
	out[p-1] = seed / float64(p)
	for i := p; i < n; i++ {
		out[i] = (out[i-1]*float64(p-1) + tr[i]) / float64(p)
	}
	return out
}

// Set selects the columns Attach computes. MACD is computed when all three
// MACD periods are set.
type Set struct {
	SMAPeriods       []int
	ATRPeriod        int
	RSIPeriods       []int
	BollingerPeriod  int
	BollingerK       float64
	MACDFastPeriod   int
	MACDSlowPeriod   int
	MACDSignalPeriod int
	ADXPeriod        int
}

// DefaultSet covers what the built-in strategies and ATR sizing read.
func DefaultSet() Set {
	return Set{
		SMAPeriods:       []int{20, 50, 200},
		ATRPeriod:        14,
		RSIPeriods:       []int{14, 7},
		BollingerPeriod:  20,
		BollingerK:       2,
		MACDFastPeriod:   12,
		MACDSlowPeriod:   26,
		MACDSignalPeriod: 9,
		ADXPeriod:        14,
	}
}

// Attach computes set over bars (assumed chronological for one symbol) and
// stores the values in each bar's Indicators map. Warm-up NaNs are not
// stored.
func Attach(bars []domain.Bar, set Set) {
	n := len(bars)
	if n == 0 {
		return
	}
	high := make([]float64, n)
	low := make([]float64, n)
	closes := make([]float64, n)
	vol := make([]float64, n)
	for i, b := range bars {
		high[i], low[i], closes[i], vol[i] = b.High, b.Low, b.Close, float64(b.Volume)
	}

	cols := make(map[string][]float64)
	for _, p := range set.SMAPeriods {
		cols[SMAName(p)] = SMA(closes, p)
	}
	if set.ATRPeriod > 0 {
		cols[ATRName(set.ATRPeriod)] = ATR(high, low, closes, set.ATRPeriod)
	}
	for _, p := range set.RSIPeriods {
		cols[RSIName(p)] = RSI(closes, p)
	}
	if set.BollingerPeriod > 0 {
		up, mid, lo := Bollinger(closes, set.BollingerPeriod, set.BollingerK)
		cols[BBUpper], cols[BBMiddle], cols[BBLower] = up, mid, lo
		cols[VolumeSMA20] = SMA(vol, 20)
	}
	if set.MACDFastPeriod > 0 && set.MACDSlowPeriod > 0 && set.MACDSignalPeriod > 0 {
		line, sig, hist := MACDLines(closes, set.MACDFastPeriod, set.MACDSlowPeriod, set.MACDSignalPeriod)
		cols[MACD], cols[MACDSignal], cols[MACDHist] = line, sig, hist
	}
	if set.ADXPeriod > 0 {
		cols[ADXName(set.ADXPeriod)] = ADX(high, low, closes, set.ADXPeriod)
	}

	for i := range bars {
		for name, series := range cols {
			v := series[i]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			if bars[i].Indicators == nil {
				bars[i].Indicators = make(map[string]float64, len(cols))
			}
			bars[i].Indicators[name] = v
		}
	}
}
