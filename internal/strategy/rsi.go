package strategy

import (
	"fmt"

	"github.com/markcheno/go-talib"
	"github.com/shopspring/decimal"

	"smtm/internal/market"
)

// RSI buys a third of the budget when oversold and sells everything when
// overbought.
type RSI struct {
	period               int
	oversold, overbought float64
	buyRatio             decimal.Decimal
}

func NewRSI(period int, oversold, overbought float64) *RSI {
	if period <= 1 {
		period = 14
	}
	if oversold <= 0 || overbought <= oversold || overbought >= 100 {
		oversold, overbought = 30, 70
	}
	return &RSI{
		period:     period,
		oversold:   oversold,
		overbought: overbought,
		buyRatio:   decimal.NewFromInt(1).Div(decimal.NewFromInt(3)),
	}
}

func (r *RSI) Name() string { return "rsi" }

func (r *RSI) Decide(history market.Snapshots) Decision {
	price, ok := lastPrice(history)
	if !ok {
		return Hold("no price")
	}
	if len(history) <= r.period {
		return Hold("warming up")
	}
	series := talib.Rsi(history.Closes(), r.period)
	value := series[len(series)-1]
	if !finite(value) {
		return Hold("indicator unavailable")
	}
	switch {
	case value < r.oversold:
		return Decision{Side: SideBuy, Price: price, Ratio: r.buyRatio, Reason: fmt.Sprintf("rsi%d=%.2f oversold", r.period, value)}
	case value > r.overbought:
		return Decision{Side: SideSell, Price: price, Ratio: decimal.NewFromInt(1), Reason: fmt.Sprintf("rsi%d=%.2f overbought", r.period, value)}
	default:
		return Hold(fmt.Sprintf("rsi%d=%.2f", r.period, value))
	}
}
