// Package strategy turns a window of market snapshots into a trading
// decision. Strategies are pure: the same window always yields the same
// decision.
package strategy

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"smtm/internal/market"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
	SideHold Side = "hold"
)

var ErrUnknownStrategy = errors.New("unknown strategy")

// Decision is consumed once by a trader. Ratio is the fraction of the initial
// budget for buys and of current holdings for sells.
type Decision struct {
	Side   Side            `json:"side"`
	Price  decimal.Decimal `json:"price"`
	Ratio  decimal.Decimal `json:"ratio"`
	Reason string          `json:"reason,omitempty"`
}

func (d Decision) IsHold() bool {
	return d.Side == SideHold || d.Side == ""
}

// Validate checks that an actionable decision carries a positive price and a
// ratio in (0,1].
func (d Decision) Validate() error {
	if d.IsHold() {
		return nil
	}
	if d.Side != SideBuy && d.Side != SideSell {
		return fmt.Errorf("invalid side %q", d.Side)
	}
	if !d.Price.IsPositive() {
		return fmt.Errorf("price must be positive, got %s", d.Price)
	}
	if !d.Ratio.IsPositive() || d.Ratio.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("ratio must be in (0,1], got %s", d.Ratio)
	}
	return nil
}

func Hold(reason string) Decision {
	return Decision{Side: SideHold, Reason: reason}
}

type Strategy interface {
	Name() string
	Decide(history market.Snapshots) Decision
}

type factory struct {
	name string
	make func() Strategy
}

var registry = []factory{
	{name: "buy-and-hold", make: func() Strategy { return NewBuyAndHold() }},
	{name: "sma-cross", make: func() Strategy { return NewSMACross(5, 20) }},
	{name: "rsi", make: func() Strategy { return NewRSI(14, 30, 70) }},
}

// ByIndex returns a fresh instance of the strategy registered at index.
func ByIndex(index int) (Strategy, error) {
	if index < 0 || index >= len(registry) {
		return nil, fmt.Errorf("%w: index %d (have %d)", ErrUnknownStrategy, index, len(registry))
	}
	return registry[index].make(), nil
}

func Count() int { return len(registry) }

// Names lists registered strategies in index order.
func Names() []string {
	out := make([]string, len(registry))
	for i, f := range registry {
		out[i] = f.name
	}
	return out
}

func lastPrice(history market.Snapshots) (decimal.Decimal, bool) {
	last, ok := history.Last()
	if !ok || !last.TradePrice.IsPositive() {
		return decimal.Zero, false
	}
	return last.TradePrice, true
}
