package dataprovider

import (
	"context"
	"errors"
	"testing"
	"time"

	"smtm/internal/market"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockCandleSource struct {
	mock.Mock
}

func (m *MockCandleSource) FetchCandles(ctx context.Context, req CandleRequest) ([]market.Snapshot, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]market.Snapshot), args.Error(1)
}

type MockTickerSource struct {
	mock.Mock
}

func (m *MockTickerSource) Ticker(ctx context.Context, mkt string) (market.Snapshot, error) {
	args := m.Called(ctx, mkt)
	return args.Get(0).(market.Snapshot), args.Error(1)
}

func TestSimulationYieldsCandlesInOrderThenExhausts(t *testing.T) {
	ctx := context.Background()
	end := time.Date(2024, 2, 25, 6, 41, 0, 0, time.UTC)
	src := new(MockCandleSource)
	src.On("FetchCandles", ctx, CandleRequest{Market: "KRW-BTC", Unit: 1, End: end, Count: 50}).
		Return([]market.Snapshot{{Market: "apple"}, {Market: "banana"}}, nil)

	p := NewSimulation(src, "KRW-BTC", 1)
	require.NoError(t, p.InitializeSimulation(ctx, end, 50))
	assert.Equal(t, 2, p.Remaining())

	first, err := p.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "apple", first.Market)
	second, err := p.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "banana", second.Market)

	_, err = p.Next(ctx)
	assert.ErrorIs(t, err, ErrExhausted)
	_, err = p.Next(ctx)
	assert.ErrorIs(t, err, ErrExhausted)
	src.AssertExpectations(t)
}

func TestSimulationEmptyWindowExhaustsImmediately(t *testing.T) {
	ctx := context.Background()
	src := new(MockCandleSource)
	src.On("FetchCandles", ctx, mock.Anything).Return([]market.Snapshot{}, nil)
	p := NewSimulation(src, "KRW-BTC", 1)
	require.NoError(t, p.InitializeSimulation(ctx, time.Time{}, 10))
	_, err := p.Next(ctx)
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestSimulationBeforeInitializeIsExhausted(t *testing.T) {
	p := NewSimulation(new(MockCandleSource), "KRW-BTC", 1)
	_, err := p.Next(context.Background())
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestSimulationInitializeErrors(t *testing.T) {
	ctx := context.Background()
	src := new(MockCandleSource)
	src.On("FetchCandles", ctx, mock.Anything).Return(nil, errors.New("down"))
	p := NewSimulation(src, "KRW-BTC", 1)
	assert.Error(t, p.InitializeSimulation(ctx, time.Time{}, 10))
	assert.Error(t, p.InitializeSimulation(ctx, time.Time{}, 0))
	assert.Error(t, NewSimulation(nil, "KRW-BTC", 1).InitializeSimulation(ctx, time.Time{}, 1))
}

func TestLivePollsTickerEachCall(t *testing.T) {
	ctx := context.Background()
	src := new(MockTickerSource)
	src.On("Ticker", ctx, "KRW-BTC").Return(market.Snapshot{Market: "KRW-BTC", TradePrice: decimal.NewFromInt(100)}, nil).Twice()

	p := NewLive(src, "KRW-BTC")
	for i := 0; i < 2; i++ {
		snap, err := p.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, "100", snap.TradePrice.String())
	}
	src.AssertNumberOfCalls(t, "Ticker", 2)
}

func TestLiveWrapsTickerErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("timeout")
	src := new(MockTickerSource)
	src.On("Ticker", ctx, "KRW-BTC").Return(market.Snapshot{}, boom)
	_, err := NewLive(src, "KRW-BTC").Next(ctx)
	assert.ErrorIs(t, err, boom)
}
