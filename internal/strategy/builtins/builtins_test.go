package builtins

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"alphafactory/internal/domain"
	"alphafactory/internal/indicator"
	"alphafactory/internal/strategy"
)

func smaBar(day int, fast, slow float64) domain.Bar {
	return domain.Bar{
		Symbol:    "AAPL",
		Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC).AddDate(0, 0, day),
		Close:     100,
		Indicators: map[string]float64{
			indicator.SMAName(20): fast,
			indicator.SMAName(50): slow,
		},
	}
}

func TestRegistryHasBuiltins(t *testing.T) {
	r := NewRegistry()
	names := r.List()
	want := []string{"bb_breakout", "bb_combo", "bb_mean_reversion", "mean_reversion", "rsi_macd", "rsi_macd_enhanced", "sma_cross"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("List = %v, want %v", names, want)
	}
}

func TestSMACrossSignals(t *testing.T) {
	s := NewSMACross(DefaultSMACrossParams())
	bars := []domain.Bar{
		smaBar(0, 99, 100),
		smaBar(1, 101, 100), // cross up
		smaBar(2, 102, 100),
		{Symbol: "AAPL", Timestamp: smaBar(3, 0, 0).Timestamp, Close: 100}, // gap in indicators
		smaBar(4, 98, 100), // cross down
	}
	out, err := strategy.Annotate(context.Background(), s, bars)
	if err != nil {
		t.Fatalf("Annotate: %v", err)
	}
	want := []domain.SignalType{
		domain.SignalNone, domain.SignalEnterLong, domain.SignalNone, domain.SignalNone, domain.SignalExitLong,
	}
	for i, w := range want {
		if out[i].Signal.Type != w {
			t.Errorf("bar %d = %q, want %q", i, out[i].Signal.Type, w)
		}
	}
	// (101-100)/100 * 10
	if got := out[1].Signal.Strength; got < 0.0999 || got > 0.1001 {
		t.Errorf("strength = %v, want 0.1", got)
	}
}

func TestSMACrossInitResets(t *testing.T) {
	s := NewSMACross(DefaultSMACrossParams())
	ctx := context.Background()
	_, _ = strategy.Annotate(ctx, s, []domain.Bar{smaBar(0, 99, 100)})

	// A fresh series must not see a cross against the previous one.
	out, err := strategy.Annotate(ctx, s, []domain.Bar{smaBar(0, 101, 100)})
	if err != nil {
		t.Fatalf("Annotate: %v", err)
	}
	if out[0].Signal.Type != domain.SignalNone {
		t.Errorf("first bar after Init = %q, want none", out[0].Signal.Type)
	}
}

func TestSMACrossWithParams(t *testing.T) {
	r := NewRegistry()
	s, err := r.New("sma_cross", map[string]any{"fast_period": 10, "slow_period": 30})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	req := s.RequiredIndicators()
	if req[0] != "sma_10" || req[1] != "sma_30" {
		t.Errorf("RequiredIndicators = %v, want [sma_10 sma_30]", req)
	}
	if got := s.(*SMACross).Params().StrengthScale; got != 10 {
		t.Errorf("StrengthScale = %v, want default 10", got)
	}

	if _, err := r.New("sma_cross", map[string]any{"fast_period": 50, "slow_period": 20}); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("inverted periods = %v, want ErrInvalidConfig", err)
	}
}

func mrBar(close, rsi float64, volume int64) domain.Bar {
	return domain.Bar{
		Symbol: "XYZ",
		Close:  close,
		Volume: volume,
		Indicators: map[string]float64{
			indicator.BBLower:     100,
			indicator.BBMiddle:    110,
			indicator.RSIName(14): rsi,
			indicator.VolumeSMA20: 1_000_000,
		},
	}
}

func TestMeanReversionSignals(t *testing.T) {
	m := NewMeanReversion(DefaultMeanReversionParams())
	ctx := context.Background()

	tests := []struct {
		name string
		bar  domain.Bar
		want domain.SignalType
	}{
		{"entry", mrBar(98, 20, 2_000_000), domain.SignalEnterLong},
		{"not far enough below band", mrBar(99.5, 20, 2_000_000), domain.SignalNone},
		{"not oversold", mrBar(98, 40, 2_000_000), domain.SignalNone},
		{"no volume surge", mrBar(98, 20, 1_200_000), domain.SignalNone},
		{"middle band exit", mrBar(111, 45, 900_000), domain.SignalExitLong},
		{"rsi exit", mrBar(105, 55, 900_000), domain.SignalExitLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, err := m.OnBar(ctx, tt.bar)
			if err != nil {
				t.Fatalf("OnBar: %v", err)
			}
			if sig.Type != tt.want {
				t.Errorf("signal = %q, want %q", sig.Type, tt.want)
			}
			if sig.Strength < 0 || sig.Strength > 1 {
				t.Errorf("strength %v outside [0,1]", sig.Strength)
			}
		})
	}

	illiquid := mrBar(98, 20, 400_000)
	illiquid.Indicators[indicator.VolumeSMA20] = 100_000
	if sig, _ := m.OnBar(ctx, illiquid); sig.Type != domain.SignalNone {
		t.Errorf("illiquid entry = %q, want none", sig.Type)
	}
}

func TestMeanReversionPresets(t *testing.T) {
	r := NewRegistry()
	s, err := r.New("mean_reversion", map[string]any{"preset": "conservative"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p := s.(*MeanReversion).Params()
	if p.RSIOversold != 25 || p.VolumeSurgeRatio != 2.0 {
		t.Errorf("conservative = %+v", p)
	}

	// Explicit values override the preset.
	s, err = r.New("mean_reversion", map[string]any{"preset": "aggressive", "rsi_oversold": 33})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p := s.(*MeanReversion).Params(); p.RSIOversold != 33 || p.VolumeSurgeRatio != 1.3 {
		t.Errorf("aggressive override = %+v", p)
	}

	if _, err := r.New("mean_reversion", map[string]any{"preset": "yolo"}); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("unknown preset = %v, want ErrInvalidConfig", err)
	}
}

// lastSignal runs a fresh clone of s over bars and returns the final bar's
// signal.
func lastSignal(t *testing.T, s strategy.Strategy, bars ...domain.Bar) domain.Signal {
	t.Helper()
	out, err := strategy.Annotate(context.Background(), s.Clone(), bars)
	if err != nil {
		t.Fatalf("Annotate: %v", err)
	}
	sig := out[len(out)-1].Signal
	if sig.Strength < 0 || sig.Strength > 1 {
		t.Errorf("strength %v outside [0,1]", sig.Strength)
	}
	return sig
}

func macdBar(rsi, line, signal float64, volume int64) domain.Bar {
	return domain.Bar{
		Symbol: "XYZ",
		Close:  100,
		Volume: volume,
		Indicators: map[string]float64{
			indicator.RSIName(14):  rsi,
			indicator.MACD:         line,
			indicator.MACDSignal:   signal,
			indicator.MACDHist:     line - signal,
			indicator.VolumeSMA20:  1_000_000,
			indicator.SMAName(200): 90,
			indicator.ADXName(14):  30,
		},
	}
}

func TestRSIMACDSignals(t *testing.T) {
	below := macdBar(50, -1, 0, 1_000_000)
	above := macdBar(50, 1, 0, 1_000_000)

	tests := []struct {
		name string
		prev domain.Bar
		cur  domain.Bar
		want domain.SignalType
	}{
		{"entry", below, macdBar(25, 0.5, 0, 2_000_000), domain.SignalEnterLong},
		{"not oversold", below, macdBar(40, 0.5, 0, 2_000_000), domain.SignalNone},
		{"no cross", above, macdBar(25, 1.5, 0, 2_000_000), domain.SignalNone},
		{"thin volume", below, macdBar(25, 0.5, 0, 1_100_000), domain.SignalNone},
		{"exit", above, macdBar(75, -0.5, 0, 500_000), domain.SignalExitLong},
		{"exit needs overbought", above, macdBar(60, -0.5, 0, 500_000), domain.SignalNone},
	}
	s := NewRSIMACD(DefaultRSIMACDParams())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := lastSignal(t, s, tt.prev, tt.cur).Type; got != tt.want {
				t.Errorf("signal = %q, want %q", got, tt.want)
			}
		})
	}

	// A cross on the very first bar has nothing to cross from.
	if got := lastSignal(t, s, macdBar(25, 0.5, 0, 2_000_000)).Type; got != domain.SignalNone {
		t.Errorf("first bar = %q, want none", got)
	}
}

func TestRSIMACDEnhancedFilters(t *testing.T) {
	s, err := NewRegistry().New("rsi_macd_enhanced", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	below := macdBar(50, -1, 0, 1_000_000)
	entry := func(mod func(*domain.Bar)) domain.Bar {
		b := macdBar(25, 0.5, 0, 2_000_000)
		mod(&b)
		return b
	}

	tests := []struct {
		name string
		cur  domain.Bar
		want domain.SignalType
	}{
		{"trend and adx pass", entry(func(*domain.Bar) {}), domain.SignalEnterLong},
		{"below trend", entry(func(b *domain.Bar) { b.Indicators[indicator.SMAName(200)] = 110 }), domain.SignalNone},
		{"weak trend", entry(func(b *domain.Bar) { b.Indicators[indicator.ADXName(14)] = 20 }), domain.SignalNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := lastSignal(t, s, below, tt.cur).Type; got != tt.want {
				t.Errorf("signal = %q, want %q", got, tt.want)
			}
		})
	}

	// The plain variant ignores both filters.
	plain := entry(func(b *domain.Bar) { b.Indicators[indicator.SMAName(200)] = 110 })
	if got := lastSignal(t, NewRSIMACD(DefaultRSIMACDParams()), below, plain).Type; got != domain.SignalEnterLong {
		t.Errorf("rsi_macd below trend = %q, want enter_long", got)
	}
}

func TestRSIMACDPresets(t *testing.T) {
	r := NewRegistry()
	s, err := r.New("rsi_macd", map[string]any{"preset": "scalping"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p := s.(*RSIMACD).Params()
	if p.RSIPeriod != 7 || p.RSIOversold != 20 || p.RSIOverbought != 80 || p.MinVolumeRatio != 1.5 {
		t.Errorf("scalping = %+v", p)
	}
	if req := s.RequiredIndicators(); req[0] != "rsi_7" {
		t.Errorf("RequiredIndicators = %v, want rsi_7 first", req)
	}

	s, err = r.New("rsi_macd", map[string]any{"preset": "conservative", "volume_filter": false})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p := s.(*RSIMACD).Params(); p.RSIOversold != 25 || p.RSIOverbought != 75 || p.VolumeFilter {
		t.Errorf("conservative override = %+v", p)
	}
	if s.Name() != "rsi_macd" {
		t.Errorf("Name = %q, want rsi_macd", s.Name())
	}

	bad := []map[string]any{
		{"preset": "yolo"},
		{"rsi_oversold": 80, "rsi_overbought": 70},
		{"rsi_period": 0},
	}
	for _, params := range bad {
		if _, err := r.New("rsi_macd", params); !errors.Is(err, domain.ErrInvalidConfig) {
			t.Errorf("New(%v) = %v, want ErrInvalidConfig", params, err)
		}
	}
}

// bandBar is a bar against bands 110/100/90 unless overridden.
func bandBar(low, close, high, rsi float64, volume int64, adx float64) domain.Bar {
	return domain.Bar{
		Symbol: "XYZ",
		Low:    low,
		Close:  close,
		High:   high,
		Volume: volume,
		Indicators: map[string]float64{
			indicator.BBUpper:     110,
			indicator.BBMiddle:    100,
			indicator.BBLower:     90,
			indicator.RSIName(14): rsi,
			indicator.VolumeSMA20: 1_000_000,
			indicator.ADXName(14): adx,
		},
	}
}

func TestBBMeanReversionSignals(t *testing.T) {
	prev := bandBar(94, 95, 96, 45, 1_000_000, 20)

	tests := []struct {
		name string
		cur  domain.Bar
		want domain.SignalType
	}{
		{"lower touch", bandBar(89, 92, 93, 40, 2_000_000, 20), domain.SignalEnterLong},
		{"no surge", bandBar(89, 92, 93, 40, 1_200_000, 20), domain.SignalNone},
		{"rsi extreme", bandBar(89, 92, 93, 85, 2_000_000, 20), domain.SignalNone},
		{"upper touch", bandBar(105, 108, 111, 60, 2_000_000, 20), domain.SignalExitLong},
		{"middle cross", bandBar(99, 101, 102, 50, 900_000, 20), domain.SignalExitLong},
	}
	s := NewBBMeanReversion(DefaultBBMeanReversionParams())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := lastSignal(t, s, prev, tt.cur).Type; got != tt.want {
				t.Errorf("signal = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBBMeanReversionSqueeze(t *testing.T) {
	p := DefaultBBMeanReversionParams()
	p.RequireSqueeze = true
	p.ExitAtMiddle = false
	s := NewBBMeanReversion(p)

	narrow := bandBar(99, 99.4, 99.6, 40, 2_000_000, 20)
	narrow.Indicators[indicator.BBUpper] = 100.5
	narrow.Indicators[indicator.BBLower] = 99.5
	wide := bandBar(89, 92, 93, 40, 2_000_000, 20)

	out, err := strategy.Annotate(context.Background(), s, []domain.Bar{narrow, wide, wide})
	if err != nil {
		t.Fatalf("Annotate: %v", err)
	}
	want := []domain.SignalType{domain.SignalNone, domain.SignalEnterLong, domain.SignalNone}
	for i, w := range want {
		if out[i].Signal.Type != w {
			t.Errorf("bar %d = %q, want %q", i, out[i].Signal.Type, w)
		}
	}
}

func TestBBBreakoutSignals(t *testing.T) {
	inside := bandBar(104, 105, 106, 50, 1_000_000, 30)
	lowSide := bandBar(94, 95, 96, 50, 1_000_000, 30)

	tests := []struct {
		name string
		prev domain.Bar
		cur  domain.Bar
		want domain.SignalType
	}{
		{"breakout", inside, bandBar(109, 112, 113, 60, 2_500_000, 30), domain.SignalEnterLong},
		{"weak trend", inside, bandBar(109, 112, 113, 60, 2_500_000, 20), domain.SignalNone},
		{"no surge", inside, bandBar(109, 112, 113, 60, 1_500_000, 30), domain.SignalNone},
		{"already above", bandBar(110, 111, 112, 60, 1_000_000, 30), bandBar(109, 112, 113, 60, 2_500_000, 30), domain.SignalNone},
		{"breakdown exit", lowSide, bandBar(87, 88, 96, 40, 500_000, 10), domain.SignalExitLong},
	}
	s := NewBBBreakout(DefaultBBBreakoutParams())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := lastSignal(t, s, tt.prev, tt.cur).Type; got != tt.want {
				t.Errorf("signal = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBBComboRegimes(t *testing.T) {
	tests := []struct {
		name string
		prev domain.Bar
		cur  domain.Bar
		want domain.SignalType
	}{
		{"ranging lower touch", bandBar(94, 95, 96, 45, 0, 15), bandBar(89, 92, 93, 40, 0, 15), domain.SignalEnterLong},
		{"ranging upper touch", bandBar(104, 105, 106, 55, 0, 15), bandBar(105, 108, 111, 60, 0, 15), domain.SignalExitLong},
		{"between regimes", bandBar(94, 95, 96, 45, 0, 25), bandBar(89, 92, 93, 40, 0, 25), domain.SignalNone},
		{"trending breakout", bandBar(104, 105, 106, 60, 0, 35), bandBar(109, 112, 113, 65, 0, 35), domain.SignalEnterLong},
		{"trending breakdown", bandBar(94, 95, 96, 40, 0, 35), bandBar(87, 88, 96, 35, 0, 35), domain.SignalExitLong},
	}
	s := NewBBCombo(DefaultBBComboParams())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := lastSignal(t, s, tt.prev, tt.cur).Type; got != tt.want {
				t.Errorf("signal = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := NewRegistry().New("bb_combo", map[string]any{"adx_ranging_threshold": 40}); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("ranging above trending = %v, want ErrInvalidConfig", err)
	}
}
