// Package builtins provides the strategies that ship with alphafactory.
package builtins

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"alphafactory/internal/domain"
	"alphafactory/internal/strategy"
)

// Register adds every built-in strategy, with default parameters, to r.
func Register(r *strategy.Registry) {
	r.Register(NewSMACross(DefaultSMACrossParams()))
	r.Register(NewMeanReversion(DefaultMeanReversionParams()))
	r.Register(NewRSIMACD(DefaultRSIMACDParams()))
	r.Register(NewRSIMACDEnhanced(DefaultRSIMACDEnhancedParams()))
	r.Register(NewBBMeanReversion(DefaultBBMeanReversionParams()))
	r.Register(NewBBBreakout(DefaultBBBreakoutParams()))
	r.Register(NewBBCombo(DefaultBBComboParams()))
}

// NewRegistry returns a registry holding the built-in strategies.
func NewRegistry() *strategy.Registry {
	r := strategy.NewRegistry()
	Register(r)
	return r
}

// decodeParams overlays a loosely typed parameter map (from YAML, TOML or
// JSON) onto dst by round-tripping it through YAML.
func decodeParams(params map[string]any, dst any) error {
	raw, err := yaml.Marshal(params)
	if err != nil {
		return fmt.Errorf("%w: encoding params: %v", domain.ErrInvalidConfig, err)
	}
	if err := yaml.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: decoding params: %v", domain.ErrInvalidConfig, err)
	}
	return nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
