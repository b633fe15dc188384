package trader

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// VolumePrecision is the number of decimal places kept for coin quantities.
const VolumePrecision = 8

// Ledger is the virtual account owned by one trader. Balance is whole KRW.
// Operations that would drive either side negative are rejected.
type Ledger struct {
	budget   int64
	balance  int64
	holdings decimal.Decimal
}

func NewLedger(budget int64) *Ledger {
	if budget < 0 {
		budget = 0
	}
	return &Ledger{budget: budget, balance: budget, holdings: decimal.Zero}
}

func (l *Ledger) Budget() int64              { return l.budget }
func (l *Ledger) Balance() int64             { return l.balance }
func (l *Ledger) Holdings() decimal.Decimal { return l.holdings }

// PlanBuy sizes a buy of ratio of the initial budget at price.
func (l *Ledger) PlanBuy(ratio, price decimal.Decimal) (spend int64, qty decimal.Decimal, err error) {
	if !price.IsPositive() {
		return 0, decimal.Zero, fmt.Errorf("buy price %s: %w", price, ErrRejected)
	}
	spend = ratio.Mul(decimal.NewFromInt(l.budget)).Floor().IntPart()
	qty = decimal.NewFromInt(spend).Div(price).Truncate(VolumePrecision)
	if spend <= 0 || !qty.IsPositive() {
		return 0, decimal.Zero, fmt.Errorf("buy too small (spend %d): %w", spend, ErrRejected)
	}
	return spend, qty, nil
}

// PlanSell sizes a sell of ratio of current holdings at price.
func (l *Ledger) PlanSell(ratio, price decimal.Decimal) (qty decimal.Decimal, proceeds int64, err error) {
	if !price.IsPositive() {
		return decimal.Zero, 0, fmt.Errorf("sell price %s: %w", price, ErrRejected)
	}
	qty = ratio.Mul(l.holdings).Truncate(VolumePrecision)
	if !qty.IsPositive() {
		return decimal.Zero, 0, fmt.Errorf("nothing to sell: %w", ErrInsufficientHoldings)
	}
	proceeds = qty.Mul(price).Floor().IntPart()
	return qty, proceeds, nil
}

// Buy debits spend plus fee and credits qty.
func (l *Ledger) Buy(spend int64, qty decimal.Decimal, fee decimal.Decimal) error {
	if spend < 0 || qty.IsNegative() || fee.IsNegative() {
		return fmt.Errorf("negative buy amounts: %w", ErrRejected)
	}
	cost := spend + fee.Ceil().IntPart()
	if cost > l.balance {
		return fmt.Errorf("cost %d exceeds balance %d: %w", cost, l.balance, ErrInsufficientFunds)
	}
	l.balance -= cost
	l.holdings = l.holdings.Add(qty)
	return nil
}

// Sell debits qty and credits proceeds minus fee.
func (l *Ledger) Sell(qty decimal.Decimal, proceeds int64, fee decimal.Decimal) error {
	if proceeds < 0 || qty.IsNegative() || fee.IsNegative() {
		return fmt.Errorf("negative sell amounts: %w", ErrRejected)
	}
	if qty.GreaterThan(l.holdings) {
		return fmt.Errorf("quantity %s exceeds holdings %s: %w", qty, l.holdings, ErrInsufficientHoldings)
	}
	net := proceeds - fee.Ceil().IntPart()
	if l.balance+net < 0 {
		return fmt.Errorf("fee exceeds balance: %w", ErrInsufficientFunds)
	}
	l.holdings = l.holdings.Sub(qty)
	l.balance += net
	return nil
}
