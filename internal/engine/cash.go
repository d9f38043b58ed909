package engine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"alphafactory/internal/domain"
)

// CashBook is the single cash pool of a run. Every debit and credit goes
// through it so no instrument ever sizes against capital another instrument
// has already spent. Balances are kept as decimals to keep long runs free of
// float drift.
type CashBook struct {
	balance decimal.Decimal
}

// NewCashBook opens a book with the given starting balance.
func NewCashBook(initial float64) *CashBook {
	return &CashBook{balance: decimal.NewFromFloat(initial)}
}

// Balance returns the current balance.
func (c *CashBook) Balance() float64 {
	f, _ := c.balance.Float64()
	return f
}

// Debit removes amount from the book. It fails without changing the balance
// when amount exceeds it.
func (c *CashBook) Debit(amount float64) error {
	d := decimal.NewFromFloat(amount)
	if d.GreaterThan(c.balance) {
		return fmt.Errorf("debit %s from %s: %w", d.StringFixed(2), c.balance.StringFixed(2), domain.ErrInsufficientCash)
	}
	c.balance = c.balance.Sub(d)
	return nil
}

// Credit adds amount to the book. Negative amounts are allowed so an exit
// whose costs exceed its proceeds can still be booked.
func (c *CashBook) Credit(amount float64) {
	c.balance = c.balance.Add(decimal.NewFromFloat(amount))
}
