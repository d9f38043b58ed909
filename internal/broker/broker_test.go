package broker

import (
	"math"
	"testing"

	"alphafactory/internal/domain"
)

func TestSimulatorBrokerName(t *testing.T) {
	b := NewSimulatorBroker(0, 0, 0)
	if got := b.Name(); got != "simulator" {
		t.Errorf("SimulatorBroker.Name() = %q, want %q", got, "simulator")
	}
}

func TestSimulatorBrokerExecute(t *testing.T) {
	b := NewSimulatorBroker(0.001, 0.0005, 0)

	f := b.Execute(domain.OrderSideSell, 50, 200)
	if f.Notional != 10000 {
		t.Errorf("Notional = %v, want 10000", f.Notional)
	}
	if math.Abs(f.Commission-10) > 1e-9 {
		t.Errorf("Commission = %v, want 10", f.Commission)
	}
	if math.Abs(f.Slippage-5) > 1e-9 {
		t.Errorf("Slippage = %v, want 5", f.Slippage)
	}
	if math.Abs(f.Cost()-15) > 1e-9 {
		t.Errorf("Cost() = %v, want 15", f.Cost())
	}
}

func TestSimulatorBrokerMinCommission(t *testing.T) {
	b := NewSimulatorBroker(0.001, 0, 1)

	if f := b.Execute(domain.OrderSideBuy, 10, 5); f.Commission != 1 {
		t.Errorf("small fill Commission = %v, want floor 1", f.Commission)
	}
	if f := b.Execute(domain.OrderSideBuy, 100, 50); math.Abs(f.Commission-5) > 1e-9 {
		t.Errorf("large fill Commission = %v, want 5", f.Commission)
	}
	if f := b.Execute(domain.OrderSideBuy, 100, 0); f.Commission != 0 {
		t.Errorf("empty fill Commission = %v, want 0", f.Commission)
	}
}
