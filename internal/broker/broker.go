// Package broker defines the Broker interface used by the backtesting engine
// to turn a decision into a priced fill, and the simulator that implements
// it with proportional commission and slippage.
package broker

import "alphafactory/internal/domain"

// Fill is the result of executing qty shares at a reference price.
// Commission and Slippage are cash costs on top of Notional.
type Fill struct {
	Side       domain.OrderSide
	Price      float64
	Qty        int64
	Notional   float64
	Commission float64
	Slippage   float64
}

// Cost is the total cash cost of the fill beyond its notional.
func (f Fill) Cost() float64 {
	return f.Commission + f.Slippage
}

// Broker abstracts fill pricing for the simulation loop.
type Broker interface {
	// Name returns the broker identifier (e.g. "simulator").
	Name() string

	// Execute prices a fill of qty shares at price.
	Execute(side domain.OrderSide, price float64, qty int64) Fill
}
