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
	_ strategy.Strategy     = (*SMACross)(nil)
	_ strategy.Configurable = (*SMACross)(nil)
)

// SMACrossParams configures SMACross.
type SMACrossParams struct {
	FastPeriod int `yaml:"fast_period"`
	SlowPeriod int `yaml:"slow_period"`
	// StrengthScale multiplies the fast/slow spread into a [0,1] strength.
	StrengthScale float64 `yaml:"strength_scale"`
}

// DefaultSMACrossParams returns the 20/50 crossover.
func DefaultSMACrossParams() SMACrossParams {
	return SMACrossParams{FastPeriod: 20, SlowPeriod: 50, StrengthScale: 10}
}

// SMACross enters when the fast SMA crosses above the slow SMA and exits on
// the cross back below. The averages are read from the bar's sma_<period>
// indicators.
type SMACross struct {
	params SMACrossParams

	fastName, slowName string
	prevFast, prevSlow float64
	havePrev           bool
}

// NewSMACross creates an SMACross with the given parameters.
func NewSMACross(p SMACrossParams) *SMACross {
	return &SMACross{
		params:   p,
		fastName: indicator.SMAName(p.FastPeriod),
		slowName: indicator.SMAName(p.SlowPeriod),
	}
}

// Name returns "sma_cross".
func (s *SMACross) Name() string {
	return "sma_cross"
}

// Params returns the active parameters.
func (s *SMACross) Params() SMACrossParams { return s.params }

// Init clears the crossover state.
func (s *SMACross) Init(_ context.Context) error {
	s.prevFast, s.prevSlow, s.havePrev = 0, 0, false
	return nil
}

func (s *SMACross) RequiredIndicators() []string {
	return []string{s.fastName, s.slowName}
}

func (s *SMACross) Clone() strategy.Strategy {
	return NewSMACross(s.params)
}

// WithParams returns a new SMACross with params overlaid on the current ones.
func (s *SMACross) WithParams(params map[string]any) (strategy.Strategy, error) {
	p := s.params
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.FastPeriod <= 0 || p.SlowPeriod <= p.FastPeriod {
		return nil, fmt.Errorf("%w: sma_cross needs 0 < fast_period < slow_period, got %d/%d",
			domain.ErrInvalidConfig, p.FastPeriod, p.SlowPeriod)
	}
	if p.StrengthScale <= 0 {
		return nil, fmt.Errorf("%w: sma_cross strength_scale must be > 0", domain.ErrInvalidConfig)
	}
	return NewSMACross(p), nil
}

// OnBar emits enter_long on an upward cross and exit_long on a downward
// cross. Bars missing either average emit nothing and do not move the state.
func (s *SMACross) OnBar(_ context.Context, bar domain.Bar) (domain.Signal, error) {
	fast, ok1 := bar.Indicator(s.fastName)
	slow, ok2 := bar.Indicator(s.slowName)
	if !ok1 || !ok2 || slow <= 0 {
		return domain.Signal{}, nil
	}

	var sig domain.Signal
	if s.havePrev {
		switch {
		case s.prevFast <= s.prevSlow && fast > slow:
			sig = domain.Signal{
				Type:     domain.SignalEnterLong,
				Strength: clamp01((fast - slow) / slow * s.params.StrengthScale),
				Reason:   "sma_cross_up",
			}
		case s.prevFast >= s.prevSlow && fast < slow:
			sig = domain.Signal{Type: domain.SignalExitLong, Reason: "sma_cross_down"}
		}
	}
	s.prevFast, s.prevSlow, s.havePrev = fast, slow, true
	return sig, nil
}
