package trader

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smtm/internal/market"
	"smtm/internal/strategy"
)

func snapAt(price string) market.Snapshot {
	return market.Snapshot{Market: "KRW-BTC", DateTimeUTC: "2024-02-25T06:41:00", TradePrice: dec(price)}
}

func buy(ratio string) strategy.Decision {
	return strategy.Decision{Side: strategy.SideBuy, Price: dec("100"), Ratio: dec(ratio), Reason: "test"}
}

func sell(ratio string) strategy.Decision {
	return strategy.Decision{Side: strategy.SideSell, Price: dec("100"), Ratio: dec(ratio), Reason: "test"}
}

func TestSimulationFillsAtSnapshotPrice(t *testing.T) {
	ctx := context.Background()
	tr := NewSimulation("KRW-BTC", 10000)

	res, err := tr.Execute(ctx, snapAt("200"), buy("0.5"))
	require.NoError(t, err)
	assert.Equal(t, StatusFilled, res.Status)
	assert.Equal(t, "200", res.Price.String())
	assert.Equal(t, "25", res.Amount.String())
	assert.Equal(t, int64(5000), res.Funds)
	assert.True(t, res.Fee.IsZero())
	assert.Equal(t, int64(5000), res.Balance)
	assert.Equal(t, "25", res.Holdings.String())
	assert.NotEmpty(t, res.OrderID)
	assert.Equal(t, "2024-02-25T06:41:00", res.Timestamp.UTC().Format(market.TimeLayout))

	res, err = tr.Execute(ctx, snapAt("400"), sell("1"))
	require.NoError(t, err)
	assert.Equal(t, int64(10000), res.Funds)
	assert.Equal(t, int64(15000), res.Balance)
	assert.True(t, res.Holdings.IsZero())

	acc, err := tr.Account(ctx)
	require.NoError(t, err)
	assert.Equal(t, Account{Budget: 10000, Balance: 15000, Holdings: res.Holdings, Price: dec("400")}, acc)
}

func TestSimulationBuyBeyondBalanceIsSkipped(t *testing.T) {
	ctx := context.Background()
	tr := NewSimulation("KRW-BTC", 1000)
	_, err := tr.Execute(ctx, snapAt("100"), buy("0.6"))
	require.NoError(t, err)

	res, err := tr.Execute(ctx, snapAt("100"), buy("0.6"))
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, StatusSkipped, res.Status)
	assert.Equal(t, int64(400), res.Balance)
	assert.Equal(t, "6", res.Holdings.String())
	assert.True(t, res.Amount.IsZero())
	assert.Empty(t, res.OrderID)
}

func TestSimulationSellWithoutHoldingsIsSkipped(t *testing.T) {
	res, err := NewSimulation("KRW-BTC", 1000).Execute(context.Background(), snapAt("100"), sell("1"))
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, StatusSkipped, res.Status)
	assert.Equal(t, int64(1000), res.Balance)
}

func TestSimulationInvalidDecisionIsRejected(t *testing.T) {
	d := strategy.Decision{Side: strategy.SideBuy, Price: dec("1"), Ratio: decimal.NewFromInt(2)}
	res, err := NewSimulation("KRW-BTC", 1000).Execute(context.Background(), snapAt("100"), d)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, StatusSkipped, res.Status)
}

func TestSimulationIsDeterministic(t *testing.T) {
	run := func() []TradeResult {
		tr := NewSimulation("KRW-BTC", 50000)
		var out []TradeResult
		for i, p := range []string{"100", "110", "90", "120"} {
			d := buy("0.2")
			if i == 3 {
				d = sell("1")
			}
			res, _ := tr.Execute(context.Background(), snapAt(p), d)
			out = append(out, res)
		}
		return out
	}
	assert.Equal(t, run(), run())
}
