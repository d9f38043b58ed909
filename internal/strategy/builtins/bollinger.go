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
	_ strategy.Strategy     = (*BBMeanReversion)(nil)
	_ strategy.Configurable = (*BBMeanReversion)(nil)
	_ strategy.Strategy     = (*BBBreakout)(nil)
	_ strategy.Configurable = (*BBBreakout)(nil)
	_ strategy.Strategy     = (*BBCombo)(nil)
	_ strategy.Configurable = (*BBCombo)(nil)
)

// squeezeWindow is the look-back for the narrowest-band test.
const squeezeWindow = 20

// bands is one bar's Bollinger reading, kept as the previous bar for
// crossover tests.
type bands struct {
	close, upper, middle, lower float64
	ok                          bool
}

func readBands(bar domain.Bar) (bands, bool) {
	up, ok1 := bar.Indicator(indicator.BBUpper)
	mid, ok2 := bar.Indicator(indicator.BBMiddle)
	lo, ok3 := bar.Indicator(indicator.BBLower)
	if !ok1 || !ok2 || !ok3 {
		return bands{}, false
	}
	return bands{close: bar.Close, upper: up, middle: mid, lower: lo, ok: true}, true
}

func (b bands) breakoutAbove(prev bands) bool {
	return prev.ok && b.close > b.upper && prev.close <= prev.upper
}

func (b bands) breakoutBelow(prev bands) bool {
	return prev.ok && b.close < b.lower && prev.close >= prev.lower
}

func volumeRatio(bar domain.Bar) (float64, bool) {
	avg, ok := bar.Indicator(indicator.VolumeSMA20)
	if !ok || avg <= 0 {
		return 0, false
	}
	return float64(bar.Volume) / avg, true
}

// BBMeanReversionParams configures BBMeanReversion. All Bollinger
// strategies read the stored 20-period, 2-deviation bands.
type BBMeanReversionParams struct {
	RSIExtremeHigh   float64 `yaml:"rsi_extreme_high"`
	RSIExtremeLow    float64 `yaml:"rsi_extreme_low"`
	VolumeSurgeRatio float64 `yaml:"volume_surge_ratio"`
	ExitAtMiddle     bool    `yaml:"exit_at_middle_band"`
	RequireSqueeze   bool    `yaml:"require_bb_squeeze"`
	SqueezeThreshold float64 `yaml:"squeeze_threshold"`
}

// DefaultBBMeanReversionParams returns the band-touch setup without the
// squeeze requirement.
func DefaultBBMeanReversionParams() BBMeanReversionParams {
	return BBMeanReversionParams{
		RSIExtremeHigh:   80,
		RSIExtremeLow:    20,
		VolumeSurgeRatio: 1.5,
		ExitAtMiddle:     true,
		SqueezeThreshold: 0.02,
	}
}

// BBMeanReversion buys a touch of the lower band on a volume surge unless
// RSI is already extreme, and exits on a touch of the upper band or when the
// close crosses back above the middle band. With RequireSqueeze, entries
// wait for the bar on which a band squeeze ends.
type BBMeanReversion struct {
	params BBMeanReversionParams

	prev        bands
	widths      []float64
	prevSqueeze bool
}

// NewBBMeanReversion creates the "bb_mean_reversion" strategy.
func NewBBMeanReversion(p BBMeanReversionParams) *BBMeanReversion {
	return &BBMeanReversion{params: p}
}

func (m *BBMeanReversion) Name() string { return "bb_mean_reversion" }

// Params returns the active parameters.
func (m *BBMeanReversion) Params() BBMeanReversionParams { return m.params }

func (m *BBMeanReversion) Init(_ context.Context) error {
	m.prev, m.widths, m.prevSqueeze = bands{}, nil, false
	return nil
}

func (m *BBMeanReversion) RequiredIndicators() []string {
	return []string{indicator.BBUpper, indicator.BBMiddle, indicator.BBLower, rsi14, indicator.VolumeSMA20}
}

func (m *BBMeanReversion) Clone() strategy.Strategy { return NewBBMeanReversion(m.params) }

func (m *BBMeanReversion) WithParams(params map[string]any) (strategy.Strategy, error) {
	p := m.params
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	switch {
	case p.RSIExtremeLow < 0 || p.RSIExtremeHigh > 100 || p.RSIExtremeLow >= p.RSIExtremeHigh:
		return nil, fmt.Errorf("%w: bb_mean_reversion needs 0 <= rsi_extreme_low < rsi_extreme_high <= 100",
			domain.ErrInvalidConfig)
	case p.VolumeSurgeRatio <= 0:
		return nil, fmt.Errorf("%w: volume_surge_ratio must be > 0", domain.ErrInvalidConfig)
	case p.RequireSqueeze && p.SqueezeThreshold <= 0:
		return nil, fmt.Errorf("%w: squeeze_threshold must be > 0", domain.ErrInvalidConfig)
	}
	return NewBBMeanReversion(p), nil
}

// squeeze records b's band width and reports whether the bands are in a
// squeeze: narrower than the threshold or the narrowest of the window.
func (m *BBMeanReversion) squeeze(b bands) bool {
	if b.middle <= 0 {
		return false
	}
	w := (b.upper - b.lower) / b.middle
	m.widths = append(m.widths, w)
	if len(m.widths) > squeezeWindow {
		m.widths = m.widths[1:]
	}
	narrowest := len(m.widths) == squeezeWindow
	for _, x := range m.widths {
		if x < w {
			narrowest = false
			break
		}
	}
	return w < m.params.SqueezeThreshold || narrowest
}

// OnBar evaluates the entry, then the upper-band exit, then the middle-band
// exit; a later match replaces an earlier one.
func (m *BBMeanReversion) OnBar(_ context.Context, bar domain.Bar) (domain.Signal, error) {
	b, ok := readBands(bar)
	rsi, ok2 := bar.Indicator(rsi14)
	ratio, ok3 := volumeRatio(bar)
	if !ok || !ok2 || !ok3 {
		return domain.Signal{}, nil
	}
	prev := m.prev
	m.prev = b

	p := m.params
	squeezeEnded := true
	if p.RequireSqueeze {
		sq := m.squeeze(b)
		squeezeEnded = m.prevSqueeze && !sq
		m.prevSqueeze = sq
	}
	surge := ratio > p.VolumeSurgeRatio

	var sig domain.Signal
	if (bar.Low <= b.lower || b.close <= b.lower) && surge && rsi < p.RSIExtremeHigh && squeezeEnded {
		sig = domain.Signal{
			Type:     domain.SignalEnterLong,
			Strength: clamp01((ratio - p.VolumeSurgeRatio) / p.VolumeSurgeRatio),
			Reason:   "bb_lower_touch",
		}
	}
	if (bar.High >= b.upper || b.close >= b.upper) && surge && rsi > p.RSIExtremeLow && squeezeEnded {
		sig = domain.Signal{Type: domain.SignalExitLong, Reason: "bb_upper_touch"}
	}
	if p.ExitAtMiddle && prev.ok && b.close >= b.middle && prev.close < prev.middle {
		sig = domain.Signal{Type: domain.SignalExitLong, Reason: "bb_middle"}
	}
	return sig, nil
}

// BBBreakoutParams configures BBBreakout.
type BBBreakoutParams struct {
	VolumeSurgeRatio float64 `yaml:"volume_surge_ratio"`
	MinADX           float64 `yaml:"min_adx"`
}

// DefaultBBBreakoutParams requires double volume and ADX above 25.
func DefaultBBBreakoutParams() BBBreakoutParams {
	return BBBreakoutParams{VolumeSurgeRatio: 2.0, MinADX: 25}
}

// BBBreakout buys a close that breaks above the upper band on a volume
// surge in a trending market, and exits when the close breaks below the
// lower band.
type BBBreakout struct {
	params BBBreakoutParams
	prev   bands
}

// NewBBBreakout creates the "bb_breakout" strategy.
func NewBBBreakout(p BBBreakoutParams) *BBBreakout {
	return &BBBreakout{params: p}
}

func (s *BBBreakout) Name() string { return "bb_breakout" }

// Params returns the active parameters.
func (s *BBBreakout) Params() BBBreakoutParams { return s.params }

func (s *BBBreakout) Init(_ context.Context) error {
	s.prev = bands{}
	return nil
}

func (s *BBBreakout) RequiredIndicators() []string {
	return []string{indicator.BBUpper, indicator.BBMiddle, indicator.BBLower, adx14, indicator.VolumeSMA20}
}

func (s *BBBreakout) Clone() strategy.Strategy { return NewBBBreakout(s.params) }

func (s *BBBreakout) WithParams(params map[string]any) (strategy.Strategy, error) {
	p := s.params
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.VolumeSurgeRatio <= 0 || p.MinADX < 0 || p.MinADX >= 100 {
		return nil, fmt.Errorf("%w: bb_breakout needs volume_surge_ratio > 0 and min_adx in [0,100)",
			domain.ErrInvalidConfig)
	}
	return NewBBBreakout(p), nil
}

func (s *BBBreakout) OnBar(_ context.Context, bar domain.Bar) (domain.Signal, error) {
	b, ok := readBands(bar)
	adx, ok2 := bar.Indicator(adx14)
	if !ok || !ok2 {
		return domain.Signal{}, nil
	}
	prev := s.prev
	s.prev = b

	if b.breakoutBelow(prev) {
		return domain.Signal{Type: domain.SignalExitLong, Reason: "bb_breakout_down"}, nil
	}
	ratio, ok := volumeRatio(bar)
	if b.breakoutAbove(prev) && ok && ratio > s.params.VolumeSurgeRatio && adx > s.params.MinADX {
		return domain.Signal{
			Type:     domain.SignalEnterLong,
			Strength: clamp01((adx - s.params.MinADX) / (100 - s.params.MinADX) * 2),
			Reason:   "bb_breakout_up",
		}, nil
	}
	return domain.Signal{}, nil
}

// BBComboParams configures BBCombo.
type BBComboParams struct {
	ADXRanging    float64 `yaml:"adx_ranging_threshold"`
	ADXTrending   float64 `yaml:"adx_trending_threshold"`
	RSIOverbought float64 `yaml:"rsi_overbought"`
	RSIOversold   float64 `yaml:"rsi_oversold"`
}

// DefaultBBComboParams treats ADX below 20 as ranging and above 30 as
// trending.
func DefaultBBComboParams() BBComboParams {
	return BBComboParams{ADXRanging: 20, ADXTrending: 30, RSIOverbought: 70, RSIOversold: 30}
}

// BBCombo switches on market regime: band-touch mean reversion while ADX
// says the market is ranging, band breakouts while it is trending, and no
// new signals in between.
type BBCombo struct {
	params BBComboParams
	prev   bands
}

// NewBBCombo creates the "bb_combo" strategy.
func NewBBCombo(p BBComboParams) *BBCombo {
	return &BBCombo{params: p}
}

func (s *BBCombo) Name() string { return "bb_combo" }

// Params returns the active parameters.
func (s *BBCombo) Params() BBComboParams { return s.params }

func (s *BBCombo) Init(_ context.Context) error {
	s.prev = bands{}
	return nil
}

func (s *BBCombo) RequiredIndicators() []string {
	return []string{indicator.BBUpper, indicator.BBMiddle, indicator.BBLower, adx14, rsi14}
}

func (s *BBCombo) Clone() strategy.Strategy { return NewBBCombo(s.params) }

func (s *BBCombo) WithParams(params map[string]any) (strategy.Strategy, error) {
	p := s.params
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.ADXRanging <= 0 || p.ADXTrending < p.ADXRanging || p.RSIOversold >= p.RSIOverbought {
		return nil, fmt.Errorf("%w: bb_combo needs 0 < adx_ranging <= adx_trending and rsi_oversold < rsi_overbought",
			domain.ErrInvalidConfig)
	}
	return NewBBCombo(p), nil
}

func (s *BBCombo) OnBar(_ context.Context, bar domain.Bar) (domain.Signal, error) {
	b, ok := readBands(bar)
	adx, ok2 := bar.Indicator(adx14)
	rsi, ok3 := bar.Indicator(rsi14)
	if !ok || !ok2 || !ok3 {
		return domain.Signal{}, nil
	}
	prev := s.prev
	s.prev = b
	p := s.params

	ranging := adx < p.ADXRanging
	trending := adx > p.ADXTrending

	long := (ranging && bar.Low <= b.lower && rsi < p.RSIOverbought) || (trending && b.breakoutAbove(prev))
	exit := (ranging && bar.High >= b.upper && rsi > p.RSIOversold) || (trending && b.breakoutBelow(prev))

	switch {
	case exit:
		return domain.Signal{Type: domain.SignalExitLong, Reason: "bb_combo_exit"}, nil
	case long:
		strength := 0.5
		if b.upper > b.lower {
			strength = clamp01(1 - (b.close-b.lower)/(b.upper-b.lower))
		}
		if trending {
			strength = clamp01((adx-p.ADXTrending)/p.ADXTrending + 0.5)
		}
		return domain.Signal{Type: domain.SignalEnterLong, Strength: strength, Reason: "bb_combo_entry"}, nil
	}
	return domain.Signal{}, nil
}
