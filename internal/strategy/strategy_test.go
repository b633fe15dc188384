package strategy

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smtm/internal/market"
)

func series(prices ...float64) market.Snapshots {
	out := make(market.Snapshots, len(prices))
	for i, p := range prices {
		out[i] = market.Snapshot{Market: "KRW-BTC", TradePrice: decimal.NewFromFloat(p)}
	}
	return out
}

func flat(n int, price float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = price
	}
	return out
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, 3, Count())
	assert.Equal(t, []string{"buy-and-hold", "sma-cross", "rsi"}, Names())
	for i := 0; i < Count(); i++ {
		s, err := ByIndex(i)
		require.NoError(t, err)
		assert.Equal(t, Names()[i], s.Name())
	}
	_, err := ByIndex(3)
	assert.ErrorIs(t, err, ErrUnknownStrategy)
	_, err = ByIndex(-1)
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestBuyAndHold(t *testing.T) {
	s := NewBuyAndHold()
	assert.True(t, s.Decide(nil).IsHold())

	d := s.Decide(series(100, 101, 102))
	assert.Equal(t, SideBuy, d.Side)
	assert.Equal(t, "102", d.Price.String())
	assert.Equal(t, "0.2", d.Ratio.String())
	require.NoError(t, d.Validate())

	assert.Equal(t, SideBuy, s.Decide(series(flat(5, 100)...)).Side)
	assert.True(t, s.Decide(series(flat(6, 100)...)).IsHold())
}

func TestSMACrossGoldenAndDeadCross(t *testing.T) {
	s := NewSMACross(5, 20)
	assert.True(t, s.Decide(series(flat(20, 100)...)).IsHold())

	up := append(flat(25, 100), 130)
	d := s.Decide(series(up...))
	assert.Equal(t, SideBuy, d.Side)
	assert.Equal(t, "0.5", d.Ratio.String())

	down := append(flat(25, 100), 70)
	d = s.Decide(series(down...))
	assert.Equal(t, SideSell, d.Side)
	assert.Equal(t, "1", d.Ratio.String())

	assert.True(t, s.Decide(series(flat(30, 100)...)).IsHold())
}

func TestRSIThresholds(t *testing.T) {
	s := NewRSI(14, 30, 70)
	assert.True(t, s.Decide(series(flat(14, 100)...)).IsHold())

	falling := make([]float64, 30)
	rising := make([]float64, 30)
	for i := range falling {
		falling[i] = 200 - float64(i)*3
		rising[i] = 100 + float64(i)*3
	}
	assert.Equal(t, SideBuy, s.Decide(series(falling...)).Side)
	assert.Equal(t, SideSell, s.Decide(series(rising...)).Side)
}

func TestStrategiesArePure(t *testing.T) {
	history := series(100, 98, 97, 99, 103, 104, 101, 99, 95, 94, 96, 98, 102, 105, 107, 104, 100, 97, 96, 99, 103, 108)
	for i := 0; i < Count(); i++ {
		a, _ := ByIndex(i)
		b, _ := ByIndex(i)
		assert.Equal(t, a.Decide(history), a.Decide(history))
		assert.Equal(t, a.Decide(history), b.Decide(history))
	}
}

func TestDecisionValidate(t *testing.T) {
	p := decimal.NewFromInt(100)
	assert.NoError(t, Hold("x").Validate())
	assert.NoError(t, Decision{Side: SideSell, Price: p, Ratio: decimal.NewFromInt(1)}.Validate())
	assert.Error(t, Decision{Side: SideBuy, Price: p, Ratio: decimal.Zero}.Validate())
	assert.Error(t, Decision{Side: SideBuy, Price: p, Ratio: decimal.NewFromFloat(1.5)}.Validate())
	assert.Error(t, Decision{Side: SideBuy, Price: decimal.Zero, Ratio: decimal.NewFromFloat(0.5)}.Validate())
	assert.Error(t, Decision{Side: "short", Price: p, Ratio: decimal.NewFromFloat(0.5)}.Validate())
}
