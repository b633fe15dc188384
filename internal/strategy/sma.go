package strategy

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"
	"github.com/shopspring/decimal"

	"smtm/internal/market"
)

// SMACross buys half the budget on a golden cross of the short SMA over the
// long SMA and sells all holdings on a dead cross.
type SMACross struct {
	short, long int
	buyRatio    decimal.Decimal
}

func NewSMACross(short, long int) *SMACross {
	if short <= 0 {
		short = 5
	}
	if long <= short {
		long = short * 4
	}
	return &SMACross{short: short, long: long, buyRatio: decimal.NewFromFloat(0.5)}
}

func (s *SMACross) Name() string { return "sma-cross" }

func (s *SMACross) Decide(history market.Snapshots) Decision {
	price, ok := lastPrice(history)
	if !ok {
		return Hold("no price")
	}
	if len(history) < s.long+1 {
		return Hold("warming up")
	}
	closes := history.Closes()
	short := talib.Sma(closes, s.short)
	long := talib.Sma(closes, s.long)
	n := len(closes)
	prevShort, prevLong := short[n-2], long[n-2]
	curShort, curLong := short[n-1], long[n-1]
	if !finite(prevShort, prevLong, curShort, curLong) {
		return Hold("indicator unavailable")
	}
	switch {
	case prevShort <= prevLong && curShort > curLong:
		return Decision{Side: SideBuy, Price: price, Ratio: s.buyRatio,
			Reason: fmt.Sprintf("golden cross sma%d=%.2f sma%d=%.2f", s.short, curShort, s.long, curLong)}
	case prevShort >= prevLong && curShort < curLong:
		return Decision{Side: SideSell, Price: price, Ratio: decimal.NewFromInt(1),
			Reason: fmt.Sprintf("dead cross sma%d=%.2f sma%d=%.2f", s.short, curShort, s.long, curLong)}
	default:
		return Hold("no cross")
	}
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
