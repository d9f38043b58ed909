package builtins

import (
	"context"
	"fmt"

	"alphafactory/internal/domain"
	"alphafactory/internal/indicator"
	"alphafactory/internal/strategy"
)

// Compile-time interface checks.
var (
	_ strategy.Strategy     = (*RSIMACD)(nil)
	_ strategy.Configurable = (*RSIMACD)(nil)
)

var adx14 = indicator.ADXName(14)

// RSIMACDParams configures RSIMACD. The MACD columns are the stored
// 12/26/9 lines.
type RSIMACDParams struct {
	Preset           string  `yaml:"preset"`
	RSIPeriod        int     `yaml:"rsi_period"`
	RSIOversold      float64 `yaml:"rsi_oversold"`
	RSIOverbought    float64 `yaml:"rsi_overbought"`
	RequireHistogram bool    `yaml:"require_macd_histogram_positive"`
	VolumeFilter     bool    `yaml:"volume_filter"`
	MinVolumeRatio   float64 `yaml:"min_volume_ratio"`

	// Trend and ADX filters; on by default for rsi_macd_enhanced.
	TrendFilter    bool    `yaml:"use_trend_filter"`
	TrendSMAPeriod int     `yaml:"trend_sma_period"`
	ADXFilter      bool    `yaml:"use_adx_filter"`
	MinADX         float64 `yaml:"min_adx"`
}

// DefaultRSIMACDParams returns RSI 14 at 30/70 with the volume filter on.
func DefaultRSIMACDParams() RSIMACDParams {
	return RSIMACDParams{
		RSIPeriod:        14,
		RSIOversold:      30,
		RSIOverbought:    70,
		RequireHistogram: true,
		VolumeFilter:     true,
		MinVolumeRatio:   1.2,
		TrendSMAPeriod:   200,
		MinADX:           25,
	}
}

// DefaultRSIMACDEnhancedParams adds the 200-day trend filter and ADX >= 25.
func DefaultRSIMACDEnhancedParams() RSIMACDParams {
	p := DefaultRSIMACDParams()
	p.TrendFilter = true
	p.ADXFilter = true
	return p
}

func (p *RSIMACDParams) applyPreset() error {
	switch p.Preset {
	case "", "standard":
	case "conservative":
		p.RSIOversold, p.RSIOverbought = 25, 75
	case "aggressive":
		p.RSIOversold, p.RSIOverbought = 35, 65
	case "scalping":
		p.RSIPeriod, p.RSIOversold, p.RSIOverbought = 7, 20, 80
		p.VolumeFilter, p.MinVolumeRatio = true, 1.5
	default:
		return fmt.Errorf("%w: unknown rsi_macd preset %q", domain.ErrInvalidConfig, p.Preset)
	}
	return nil
}

func (p RSIMACDParams) validate() error {
	switch {
	case p.RSIPeriod <= 0:
		return fmt.Errorf("%w: rsi_period must be > 0", domain.ErrInvalidConfig)
	case p.RSIOversold <= 0 || p.RSIOverbought >= 100 || p.RSIOversold >= p.RSIOverbought:
		return fmt.Errorf("%w: rsi_macd needs 0 < rsi_oversold < rsi_overbought < 100, got %v/%v",
			domain.ErrInvalidConfig, p.RSIOversold, p.RSIOverbought)
	case p.VolumeFilter && p.MinVolumeRatio <= 0:
		return fmt.Errorf("%w: min_volume_ratio must be > 0", domain.ErrInvalidConfig)
	case p.TrendFilter && p.TrendSMAPeriod <= 0:
		return fmt.Errorf("%w: trend_sma_period must be > 0", domain.ErrInvalidConfig)
	case p.MinADX < 0:
		return fmt.Errorf("%w: min_adx must be >= 0", domain.ErrInvalidConfig)
	}
	return nil
}

// RSIMACD enters when RSI is oversold on the bar MACD crosses above its
// signal line, and exits when RSI is overbought as MACD crosses back below.
// The volume, trend and ADX filters gate entries only.
type RSIMACD struct {
	name   string
	params RSIMACDParams

	rsiName           string
	prevLine, prevSig float64
	havePrev          bool
}

// NewRSIMACD creates the "rsi_macd" strategy.
func NewRSIMACD(p RSIMACDParams) *RSIMACD {
	return newRSIMACD("rsi_macd", p)
}

// NewRSIMACDEnhanced creates the "rsi_macd_enhanced" strategy, which is
// RSIMACD registered with the trend and ADX filters enabled.
func NewRSIMACDEnhanced(p RSIMACDParams) *RSIMACD {
	return newRSIMACD("rsi_macd_enhanced", p)
}

func newRSIMACD(name string, p RSIMACDParams) *RSIMACD {
	return &RSIMACD{name: name, params: p, rsiName: indicator.RSIName(p.RSIPeriod)}
}

func (s *RSIMACD) Name() string { return s.name }

// Params returns the active parameters.
func (s *RSIMACD) Params() RSIMACDParams { return s.params }

// Init clears the crossover state.
func (s *RSIMACD) Init(_ context.Context) error {
	s.prevLine, s.prevSig, s.havePrev = 0, 0, false
	return nil
}

func (s *RSIMACD) RequiredIndicators() []string {
	req := []string{s.rsiName, indicator.MACD, indicator.MACDSignal, indicator.MACDHist}
	if s.params.VolumeFilter {
		req = append(req, indicator.VolumeSMA20)
	}
	if s.params.TrendFilter {
		req = append(req, indicator.SMAName(s.params.TrendSMAPeriod))
	}
	if s.params.ADXFilter {
		req = append(req, adx14)
	}
	return req
}

func (s *RSIMACD) Clone() strategy.Strategy { return newRSIMACD(s.name, s.params) }

// WithParams returns a copy with params overlaid; a preset is applied
// before the explicit values.
func (s *RSIMACD) WithParams(params map[string]any) (strategy.Strategy, error) {
	p := s.params
	if preset, ok := params["preset"].(string); ok {
		p.Preset = preset
		if err := p.applyPreset(); err != nil {
			return nil, err
		}
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return newRSIMACD(s.name, p), nil
}

// OnBar tracks the MACD/signal crossover on every bar carrying both lines.
func (s *RSIMACD) OnBar(_ context.Context, bar domain.Bar) (domain.Signal, error) {
	rsi, ok1 := bar.Indicator(s.rsiName)
	line, ok2 := bar.Indicator(indicator.MACD)
	sig, ok3 := bar.Indicator(indicator.MACDSignal)
	hist, ok4 := bar.Indicator(indicator.MACDHist)
	if !ok2 || !ok3 {
		return domain.Signal{}, nil
	}
	crossUp := s.havePrev && s.prevLine <= s.prevSig && line > sig
	crossDown := s.havePrev && s.prevLine >= s.prevSig && line < sig
	s.prevLine, s.prevSig, s.havePrev = line, sig, true
	if !ok1 || !ok4 {
		return domain.Signal{}, nil
	}
	p := s.params

	if crossUp && rsi < p.RSIOversold && (!p.RequireHistogram || hist > 0) && s.entryAllowed(bar) {
		return domain.Signal{
			Type:     domain.SignalEnterLong,
			Strength: clamp01((p.RSIOversold - rsi) / p.RSIOversold * 2),
			Reason:   "rsi_oversold_macd_cross_up",
		}, nil
	}
	if crossDown && rsi > p.RSIOverbought && (!p.RequireHistogram || hist < 0) {
		return domain.Signal{Type: domain.SignalExitLong, Reason: "rsi_overbought_macd_cross_down"}, nil
	}
	return domain.Signal{}, nil
}

func (s *RSIMACD) entryAllowed(bar domain.Bar) bool {
	p := s.params
	if p.VolumeFilter {
		avg, ok := bar.Indicator(indicator.VolumeSMA20)
		if !ok || avg <= 0 || float64(bar.Volume)/avg < p.MinVolumeRatio {
			return false
		}
	}
	if p.TrendFilter {
		trend, ok := bar.Indicator(indicator.SMAName(p.TrendSMAPeriod))
		if !ok || bar.Close < trend {
			return false
		}
	}
	if p.ADXFilter {
		adx, ok := bar.Indicator(adx14)
		if !ok || adx < p.MinADX {
			return false
		}
	}
	return true
}
