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
	_ strategy.Strategy     = (*MeanReversion)(nil)
	_ strategy.Configurable = (*MeanReversion)(nil)
)

var rsi14 = indicator.RSIName(14)

// MeanReversionParams configures MeanReversion.
type MeanReversionParams struct {
	Preset           string  `yaml:"preset"`
	RSIOversold      float64 `yaml:"rsi_oversold"`
	RSIExit          float64 `yaml:"rsi_exit_threshold"`
	VolumeSurgeRatio float64 `yaml:"volume_surge_ratio"`
	// BelowBandPct is how far under the lower band the close must be.
	BelowBandPct   float64 `yaml:"price_below_bb_threshold"`
	MinAvgVolume   float64 `yaml:"min_avg_volume"`
	ExitAtBBMiddle bool    `yaml:"exit_at_bb_middle"`
	ExitAtRSI      bool    `yaml:"exit_at_rsi_threshold"`
}

// DefaultMeanReversionParams returns the standard short-term setup.
func DefaultMeanReversionParams() MeanReversionParams {
	return MeanReversionParams{
		RSIOversold:      30,
		RSIExit:          50,
		VolumeSurgeRatio: 1.5,
		BelowBandPct:     0.01,
		MinAvgVolume:     500_000,
		ExitAtBBMiddle:   true,
		ExitAtRSI:        true,
	}
}

// applyPreset adjusts the signal thresholds for a named preset. The matching
// stop and hold settings live in the backtest configuration.
func (p *MeanReversionParams) applyPreset() error {
	switch p.Preset {
	case "", "standard":
	case "conservative":
		p.RSIOversold, p.VolumeSurgeRatio = 25, 2.0
	case "aggressive":
		p.RSIOversold, p.VolumeSurgeRatio = 35, 1.3
	case "scalping":
		p.RSIOversold, p.VolumeSurgeRatio = 20, 2.5
	default:
		return fmt.Errorf("%w: unknown mean_reversion preset %q", domain.ErrInvalidConfig, p.Preset)
	}
	return nil
}

// MeanReversion buys oversold closes below the lower Bollinger band on a
// volume surge, and exits when price recovers to the middle band or RSI
// rises past the exit threshold. It is stateless across bars.
type MeanReversion struct {
	params MeanReversionParams
}

// NewMeanReversion creates a MeanReversion with the given parameters.
func NewMeanReversion(p MeanReversionParams) *MeanReversion {
	return &MeanReversion{params: p}
}

// Name returns "mean_reversion".
func (m *MeanReversion) Name() string { return "mean_reversion" }

// Params returns the active parameters.
func (m *MeanReversion) Params() MeanReversionParams { return m.params }

func (m *MeanReversion) Init(_ context.Context) error { return nil }

func (m *MeanReversion) RequiredIndicators() []string {
	return []string{indicator.BBLower, indicator.BBMiddle, rsi14, indicator.VolumeSMA20}
}

func (m *MeanReversion) Clone() strategy.Strategy { return NewMeanReversion(m.params) }

// WithParams returns a new MeanReversion with params overlaid on the current
// ones. A preset is applied before the explicit thresholds.
func (m *MeanReversion) WithParams(params map[string]any) (strategy.Strategy, error) {
	p := m.params
	if preset, ok := params["preset"].(string); ok {
		p.Preset = preset
		if err := p.applyPreset(); err != nil {
			return nil, err
		}
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	switch {
	case p.RSIOversold <= 0 || p.RSIOversold >= 100:
		return nil, fmt.Errorf("%w: rsi_oversold %v not in (0,100)", domain.ErrInvalidConfig, p.RSIOversold)
	case p.VolumeSurgeRatio <= 0:
		return nil, fmt.Errorf("%w: volume_surge_ratio must be > 0", domain.ErrInvalidConfig)
	case p.BelowBandPct < 0:
		return nil, fmt.Errorf("%w: price_below_bb_threshold must be >= 0", domain.ErrInvalidConfig)
	}
	return NewMeanReversion(p), nil
}

// OnBar applies the entry filter first, then the exit rules.
func (m *MeanReversion) OnBar(_ context.Context, bar domain.Bar) (domain.Signal, error) {
	lower, ok1 := bar.Indicator(indicator.BBLower)
	middle, ok2 := bar.Indicator(indicator.BBMiddle)
	rsi, ok3 := bar.Indicator(rsi14)
	avgVol, ok4 := bar.Indicator(indicator.VolumeSMA20)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return domain.Signal{}, nil
	}
	p := m.params

	belowBand := bar.Close < lower*(1-p.BelowBandPct)
	oversold := rsi < p.RSIOversold
	surge := avgVol > 0 && float64(bar.Volume) > avgVol*p.VolumeSurgeRatio
	liquid := avgVol >= p.MinAvgVolume
	if belowBand && oversold && surge && liquid {
		depth := (p.RSIOversold - rsi) / p.RSIOversold
		volume := (float64(bar.Volume)/avgVol - p.VolumeSurgeRatio) / p.VolumeSurgeRatio
		return domain.Signal{
			Type:     domain.SignalEnterLong,
			Strength: clamp01(0.5*clamp01(depth) + 0.5*clamp01(volume)),
			Reason:   "bb_lower_rsi_oversold",
		}, nil
	}

	switch {
	case p.ExitAtBBMiddle && bar.Close >= middle:
		return domain.Signal{Type: domain.SignalExitLong, Reason: "bb_middle"}, nil
	case p.ExitAtRSI && rsi > p.RSIExit:
		return domain.Signal{Type: domain.SignalExitLong, Reason: "rsi_exit"}, nil
	}
	return domain.Signal{}, nil
}
