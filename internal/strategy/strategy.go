// Package strategy defines the signal-provider side of a backtest: the
// Strategy interface, a Registry of named strategies, and the Backtester
// that feeds annotated bars into the simulation engine.
package strategy

import (
	"context"
	"fmt"
	"sort"

	"alphafactory/internal/domain"
)

// Strategy turns a chronological bar stream for one symbol into signals.
// Implementations keep per-symbol state, so a fresh Clone is used for every
// series.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// Init resets any state before a new series is processed.
	Init(ctx context.Context) error

	// OnBar returns the signal for bar, or a zero Signal for none.
	OnBar(ctx context.Context, bar domain.Bar) (domain.Signal, error)

	// RequiredIndicators lists the indicator columns OnBar reads.
	RequiredIndicators() []string

	// Clone returns an independent copy with the same parameters.
	Clone() Strategy
}

// Configurable is implemented by strategies that accept parameters.
type Configurable interface {
	WithParams(params map[string]any) (Strategy, error)
}

// Registry holds a named collection of strategy prototypes.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
	}
}

// Register adds a strategy to the registry, keyed by its Name().
func (r *Registry) Register(s Strategy) {
	r.strategies[s.Name()] = s
}

// Get retrieves a strategy by name. The second return value indicates whether
// the strategy was found.
func (r *Registry) Get(name string) (Strategy, bool) {
	s, ok := r.strategies[name]
	return s, ok
}

// New returns a fresh instance of the named strategy configured with params.
func (r *Registry) New(name string, params map[string]any) (Strategy, error) {
	proto, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownStrategy, name)
	}
	if len(params) == 0 {
		return proto.Clone(), nil
	}
	c, ok := proto.(Configurable)
	if !ok {
		return nil, fmt.Errorf("%w: strategy %q takes no parameters", domain.ErrInvalidConfig, name)
	}
	return c.WithParams(params)
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Annotate runs s over bars and returns a copy of bars with each Signal set.
// It fails when a required indicator is absent from every bar.
func Annotate(ctx context.Context, s Strategy, bars []domain.Bar) ([]domain.Bar, error) {
	if len(bars) > 0 {
		for _, name := range s.RequiredIndicators() {
			if !anyHas(bars, name) {
				return nil, fmt.Errorf("%s: %s needs %q: %w", bars[0].Symbol, s.Name(), name, domain.ErrMissingIndicator)
			}
		}
	}
	if err := s.Init(ctx); err != nil {
		return nil, fmt.Errorf("init %s: %w", s.Name(), err)
	}

	out := make([]domain.Bar, len(bars))
	for i, b := range bars {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sig, err := s.OnBar(ctx, b)
		if err != nil {
			return nil, fmt.Errorf("%s %s on %s: %w", s.Name(), b.Symbol, b.Timestamp.Format("2006-01-02"), err)
		}
		b.Signal = sig
		out[i] = b
	}
	return out, nil
}

func anyHas(bars []domain.Bar, name string) bool {
	for _, b := range bars {
		if b.HasIndicator(name) {
			return true
		}
	}
	return false
}
