package broker

import (
	"math"

	"alphafactory/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*SimulatorBroker)(nil)

// SimulatorBroker fills every order in full at the reference price and
// charges commission and slippage as fractions of the notional. A non-zero
// minCommission sets a floor on each fill's commission.
type SimulatorBroker struct {
	commissionPct float64
	slippagePct   float64
	minCommission float64
}

// NewSimulatorBroker creates a SimulatorBroker with the given cost model.
func NewSimulatorBroker(commissionPct, slippagePct, minCommission float64) *SimulatorBroker {
	return &SimulatorBroker{
		commissionPct: commissionPct,
		slippagePct:   slippagePct,
		minCommission: minCommission,
	}
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// Execute returns the fill for qty shares at price.
func (b *SimulatorBroker) Execute(side domain.OrderSide, price float64, qty int64) Fill {
	notional := float64(qty) * price
	commission := notional * b.commissionPct
	if qty > 0 && b.minCommission > 0 {
		commission = math.Max(commission, b.minCommission)
	}
	return Fill{
		Side:       side,
		Price:      price,
		Qty:        qty,
		Notional:   notional,
		Commission: commission,
		Slippage:   notional * b.slippagePct,
	}
}

// MinCommission is the per-fill commission floor (0 when disabled).
func (b *SimulatorBroker) MinCommission() float64 {
	return b.minCommission
}
