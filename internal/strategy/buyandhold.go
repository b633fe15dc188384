package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"smtm/internal/market"
)

const buyAndHoldSteps = 5

// BuyAndHold spends a fifth of the budget on each of the first five
// snapshots and holds afterwards.
type BuyAndHold struct {
	ratio decimal.Decimal
}

func NewBuyAndHold() *BuyAndHold {
	return &BuyAndHold{ratio: decimal.NewFromInt(1).Div(decimal.NewFromInt(buyAndHoldSteps))}
}

func (*BuyAndHold) Name() string { return "buy-and-hold" }

func (b *BuyAndHold) Decide(history market.Snapshots) Decision {
	price, ok := lastPrice(history)
	if !ok {
		return Hold("no price")
	}
	if len(history) > buyAndHoldSteps {
		return Hold("holding")
	}
	return Decision{
		Side:   SideBuy,
		Price:  price,
		Ratio:  b.ratio,
		Reason: fmt.Sprintf("accumulate %d/%d", len(history), buyAndHoldSteps),
	}
}
