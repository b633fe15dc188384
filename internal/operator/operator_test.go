package operator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"smtm/internal/analyzer"
	"smtm/internal/dataprovider"
	"smtm/internal/market"
	"smtm/internal/metrics"
	"smtm/internal/pkg/backoff"
	"smtm/internal/strategy"
	"smtm/internal/trader"
)

type staticSource struct {
	candles []market.Snapshot
}

func (s staticSource) FetchCandles(ctx context.Context, req dataprovider.CandleRequest) ([]market.Snapshot, error) {
	return s.candles, nil
}

type MockTrader struct {
	mock.Mock
}

func (m *MockTrader) Execute(ctx context.Context, snap market.Snapshot, d strategy.Decision) (trader.TradeResult, error) {
	args := m.Called(ctx, snap, d)
	return args.Get(0).(trader.TradeResult), args.Error(1)
}

func (m *MockTrader) Account(ctx context.Context) (trader.Account, error) {
	args := m.Called(ctx)
	return args.Get(0).(trader.Account), args.Error(1)
}

type fixedStrategy struct {
	d strategy.Decision
}

func (fixedStrategy) Name() string                            { return "fixed" }
func (f fixedStrategy) Decide(market.Snapshots) strategy.Decision { return f.d }

func candles(n int) []market.Snapshot {
	start := time.Date(2024, 2, 25, 6, 0, 0, 0, time.UTC)
	out := make([]market.Snapshot, n)
	for i := range out {
		// 15 falling candles then 15 rising ones, repeated
		phase := i % 30
		if phase >= 15 {
			phase = 30 - phase
		}
		out[i] = market.Snapshot{
			Market:      "KRW-BTC",
			DateTimeUTC: start.Add(time.Duration(i) * time.Minute).Format(market.TimeLayout),
			TradePrice:  decimal.NewFromInt(int64(50000000 - phase*200000)),
			Unit:        1,
		}
	}
	return out
}

func simProvider(t *testing.T, n int) *dataprovider.Simulation {
	t.Helper()
	p := dataprovider.NewSimulation(staticSource{candles: candles(n)}, "KRW-BTC", 1)
	require.NoError(t, p.InitializeSimulation(context.Background(), time.Time{}, n))
	return p
}

func fastRetry() Option {
	return WithRetry(backoff.Policy{Retries: 2, Base: time.Millisecond, Max: 2 * time.Millisecond})
}

func waitDone(t *testing.T, op *Operator) {
	t.Helper()
	select {
	case <-op.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("operator did not terminate, state=%s", op.State())
	}
}

func buyDecision() strategy.Decision {
	return strategy.Decision{Side: strategy.SideBuy, Price: decimal.NewFromInt(100), Ratio: decimal.NewFromFloat(0.5)}
}

func TestStartWithoutInitializeFails(t *testing.T) {
	op := New()
	assert.False(t, op.Start())
	assert.Equal(t, StateReady, op.State())
	assert.False(t, op.IsInitialized())
	select {
	case <-op.Done():
		t.Fatal("done closed without a run")
	case <-time.After(20 * time.Millisecond):
	}
	assert.Equal(t, 0, op.Ticks())
}

func TestInitializeValidation(t *testing.T) {
	op := New()
	assert.Error(t, op.Initialize(nil, trader.NewSimulation("KRW-BTC", 1000), strategy.NewBuyAndHold()))
	require.NoError(t, op.Initialize(simProvider(t, 1), trader.NewSimulation("KRW-BTC", 1000), strategy.NewBuyAndHold()))
	assert.Equal(t, "buy-and-hold", op.StrategyName())

	assert.ErrorIs(t, op.Setup(9), strategy.ErrUnknownStrategy)
	require.NoError(t, op.Setup(2))
	assert.Equal(t, "rsi", op.StrategyName())
}

func TestSetIntervalKeepsLastValidValue(t *testing.T) {
	op := New()
	assert.True(t, op.SetInterval(0.05))
	assert.False(t, op.SetInterval(-5))
	assert.Equal(t, 0.05, op.Interval())
	assert.True(t, op.SetInterval(0.01))
	assert.Equal(t, 0.01, op.Interval())
	assert.False(t, op.SetInterval(0))
	assert.False(t, op.SetInterval(math.NaN()))
	assert.Equal(t, 0.01, op.Interval())

	assert.True(t, op.SetTickLimit(3))
	assert.False(t, op.SetTickLimit(0))
	assert.False(t, op.SetTickLimit(-1))
	assert.Equal(t, 3, op.TickLimit())
}

func TestRunStopsAtTickLimit(t *testing.T) {
	op := New()
	require.NoError(t, op.Initialize(simProvider(t, 10), trader.NewSimulation("KRW-BTC", 50000), strategy.NewBuyAndHold()))
	op.SetInterval(0.001)
	op.SetTickLimit(4)
	require.True(t, op.Start())
	assert.False(t, op.Start())

	waitDone(t, op)
	assert.Equal(t, StateTerminated, op.State())
	assert.Equal(t, 4, op.Ticks())
	results := op.GetTradingResults()
	require.Len(t, results, 4)
	for i, r := range results {
		assert.Equal(t, i+1, r.Tick)
		assert.Equal(t, trader.StatusFilled, r.Status)
		assert.GreaterOrEqual(t, r.Balance, int64(0))
		assert.False(t, r.Holdings.IsNegative())
	}
	assert.Equal(t, int64(10000), results[3].Balance)
	assert.False(t, op.Start())
}

func TestRunTerminatesWhenDataIsExhausted(t *testing.T) {
	op := New()
	require.NoError(t, op.Initialize(simProvider(t, 3), trader.NewSimulation("KRW-BTC", 50000), strategy.NewBuyAndHold()))
	op.SetInterval(0.001)
	require.True(t, op.Start())
	waitDone(t, op)
	assert.Equal(t, StateTerminated, op.State())
	assert.Equal(t, 3, op.Ticks())
	assert.Len(t, op.GetTradingResults(), 3)
}

func TestBudgetExhaustionRecordsSkippedCycles(t *testing.T) {
	op := New()
	require.NoError(t, op.Initialize(simProvider(t, 3), trader.NewSimulation("KRW-BTC", 50000), fixedStrategy{d: strategy.Decision{
		Side: strategy.SideBuy, Price: decimal.NewFromInt(1), Ratio: decimal.NewFromFloat(0.6),
	}}))
	op.SetInterval(0.001)
	require.True(t, op.Start())
	waitDone(t, op)

	results := op.GetTradingResults()
	require.Len(t, results, 3)
	assert.Equal(t, trader.StatusFilled, results[0].Status)
	for _, r := range results[1:] {
		assert.Equal(t, trader.StatusSkipped, r.Status)
		assert.Equal(t, int64(20000), r.Balance)
		assert.Contains(t, r.Reason, "insufficient funds")
	}
}

func TestReplayIsDeterministic(t *testing.T) {
	run := func(index int) []trader.TradeResult {
		op := New()
		st, err := strategy.ByIndex(index)
		require.NoError(t, err)
		require.NoError(t, op.Initialize(simProvider(t, 60), trader.NewSimulation("KRW-BTC", 100000), st))
		op.SetInterval(0.001)
		require.True(t, op.Start())
		waitDone(t, op)
		return op.GetTradingResults()
	}
	for i := 0; i < strategy.Count(); i++ {
		first := run(i)
		assert.NotEmpty(t, first, "strategy %d", i)
		assert.Equal(t, first, run(i), "strategy %d", i)
	}
}

func TestStopIsIdempotentAndLetsTickFinish(t *testing.T) {
	op := New()
	require.NoError(t, op.Initialize(simProvider(t, 10), trader.NewSimulation("KRW-BTC", 50000), strategy.NewBuyAndHold()))
	op.SetInterval(3600)
	require.True(t, op.Start())
	require.Eventually(t, func() bool { return op.Ticks() == 1 }, 2*time.Second, time.Millisecond)

	op.Stop()
	op.Stop()
	waitDone(t, op)
	op.Stop()
	assert.Equal(t, StateTerminated, op.State())
	assert.Len(t, op.GetTradingResults(), 1)
	assert.False(t, op.Start())
}

func TestStopBeforeStartTerminates(t *testing.T) {
	op := New()
	require.NoError(t, op.Initialize(simProvider(t, 1), trader.NewSimulation("KRW-BTC", 1000), strategy.NewBuyAndHold()))
	op.Stop()
	waitDone(t, op)
	assert.Equal(t, StateTerminated, op.State())
	assert.False(t, op.Start())
}

func TestGetScoreWhileRunningAndAfterTermination(t *testing.T) {
	op := New()
	require.NoError(t, op.Initialize(simProvider(t, 10), trader.NewSimulation("KRW-BTC", 50000), strategy.NewBuyAndHold()))
	op.SetInterval(3600)
	require.True(t, op.Start())
	require.Eventually(t, func() bool { return len(op.GetTradingResults()) == 1 }, 2*time.Second, time.Millisecond)

	scores := make(chan analyzer.Score, 1)
	op.GetScore(func(s analyzer.Score) { scores <- s })
	select {
	case s := <-scores:
		assert.Equal(t, int64(50000), s.InitialBalance)
		assert.Equal(t, int64(40000), s.Balance)
		assert.Equal(t, 1, s.Filled)
		assert.True(t, s.Price.IsPositive())
	case <-time.After(2 * time.Second):
		t.Fatal("score callback not invoked")
	}
	assert.Equal(t, 1, op.LastScore().Filled)

	op.Stop()
	waitDone(t, op)
	op.GetScore(func(s analyzer.Score) { scores <- s })
	select {
	case s := <-scores:
		assert.Equal(t, 1, s.Filled)
	case <-time.After(2 * time.Second):
		t.Fatal("score callback not invoked after termination")
	}
}

func TestGetScoreBeforeInitializeIsZero(t *testing.T) {
	scores := make(chan analyzer.Score, 1)
	New().GetScore(func(s analyzer.Score) { scores <- s })
	assert.Equal(t, analyzer.Score{}, <-scores)
}

func TestTransientFailuresAreRetriedThenSkipped(t *testing.T) {
	tr := new(MockTrader)
	tr.On("Account", mock.Anything).Return(trader.Account{Budget: 1000, Balance: 1000}, nil)
	tr.On("Execute", mock.Anything, mock.Anything, mock.Anything).
		Return(trader.TradeResult{}, fmt.Errorf("place order: %w", trader.ErrTransient))

	obs := metrics.New(nil)
	op := New(fastRetry(), WithObserver(obs))
	require.NoError(t, op.Initialize(simProvider(t, 1), tr, fixedStrategy{d: buyDecision()}))
	op.SetInterval(0.001)
	require.True(t, op.Start())
	waitDone(t, op)

	tr.AssertNumberOfCalls(t, "Execute", 3)
	results := op.GetTradingResults()
	require.Len(t, results, 1)
	assert.Equal(t, trader.StatusSkipped, results[0].Status)
	assert.Equal(t, int64(1000), results[0].Balance)
	assert.Equal(t, "KRW-BTC", results[0].Market)
	assert.Contains(t, results[0].Reason, "transient")
	assert.Equal(t, 2.0, testutil.ToFloat64(obs.Retries))
	assert.Equal(t, 1.0, testutil.ToFloat64(obs.Cycles.WithLabelValues("skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(obs.Ticks))
}

func TestTransientFailureRecovers(t *testing.T) {
	tr := new(MockTrader)
	tr.On("Account", mock.Anything).Return(trader.Account{Budget: 1000, Balance: 1000}, nil)
	tr.On("Execute", mock.Anything, mock.Anything, mock.Anything).
		Return(trader.TradeResult{}, trader.ErrTransient).Once()
	tr.On("Execute", mock.Anything, mock.Anything, mock.Anything).
		Return(trader.TradeResult{Status: trader.StatusFilled, Balance: 500, Holdings: decimal.NewFromInt(5)}, nil).Once()

	op := New(fastRetry())
	require.NoError(t, op.Initialize(simProvider(t, 1), tr, fixedStrategy{d: buyDecision()}))
	op.SetInterval(0.001)
	require.True(t, op.Start())
	waitDone(t, op)

	tr.AssertNumberOfCalls(t, "Execute", 2)
	results := op.GetTradingResults()
	require.Len(t, results, 1)
	assert.Equal(t, trader.StatusFilled, results[0].Status)
	assert.Equal(t, 1, results[0].Tick)
}

func TestRejectionIsNotRetried(t *testing.T) {
	tr := new(MockTrader)
	tr.On("Account", mock.Anything).Return(trader.Account{Budget: 1000, Balance: 1000}, nil)
	tr.On("Execute", mock.Anything, mock.Anything, mock.Anything).
		Return(trader.TradeResult{Market: "KRW-BTC", Status: trader.StatusSkipped, Balance: 1000}, trader.ErrInsufficientFunds)

	op := New(fastRetry())
	require.NoError(t, op.Initialize(simProvider(t, 2), tr, fixedStrategy{d: buyDecision()}))
	op.SetInterval(0.001)
	require.True(t, op.Start())
	waitDone(t, op)

	tr.AssertNumberOfCalls(t, "Execute", 2)
	for _, r := range op.GetTradingResults() {
		assert.Equal(t, trader.StatusSkipped, r.Status)
		assert.Equal(t, int64(1000), r.Balance)
		assert.True(t, errors.Is(trader.ErrInsufficientFunds, trader.ErrRejected))
	}
}

func TestHoldDecisionsRecordNothing(t *testing.T) {
	tr := new(MockTrader)
	tr.On("Account", mock.Anything).Return(trader.Account{Budget: 1000, Balance: 1000}, nil)

	op := New()
	require.NoError(t, op.Initialize(simProvider(t, 5), tr, fixedStrategy{d: strategy.Hold("flat")}))
	op.SetInterval(0.001)
	require.True(t, op.Start())
	waitDone(t, op)

	assert.Equal(t, 5, op.Ticks())
	assert.Empty(t, op.GetTradingResults())
	tr.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
}

func TestHistoryWindowIsBounded(t *testing.T) {
	op := New(WithHistorySize(3))
	require.NoError(t, op.Initialize(simProvider(t, 8), trader.NewSimulation("KRW-BTC", 1000), fixedStrategy{d: strategy.Hold("")}))
	op.SetInterval(0.001)
	require.True(t, op.Start())
	waitDone(t, op)
	assert.Len(t, op.history, 3)
	assert.Equal(t, candles(8)[7].DateTimeUTC, op.history[2].DateTimeUTC)
}

func TestContextCancellationTerminates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	op := New(WithContext(ctx))
	require.NoError(t, op.Initialize(simProvider(t, 10), trader.NewSimulation("KRW-BTC", 1000), strategy.NewBuyAndHold()))
	op.SetInterval(3600)
	require.True(t, op.Start())
	require.Eventually(t, func() bool { return op.Ticks() == 1 }, 2*time.Second, time.Millisecond)
	cancel()
	waitDone(t, op)
	assert.Equal(t, StateTerminated, op.State())
}

type scriptedProvider struct {
	steps []func() (market.Snapshot, error)
	calls int
}

func (p *scriptedProvider) Next(ctx context.Context) (market.Snapshot, error) {
	if p.calls >= len(p.steps) {
		return market.Snapshot{}, dataprovider.ErrExhausted
	}
	step := p.steps[p.calls]
	p.calls++
	return step()
}

func TestProviderFailureIsRecordedAsSkipped(t *testing.T) {
	snap := candles(1)[0]
	dp := &scriptedProvider{steps: []func() (market.Snapshot, error){
		func() (market.Snapshot, error) { return market.Snapshot{}, errors.New("ticker timeout") },
		func() (market.Snapshot, error) { return snap, nil },
	}}
	tr := new(MockTrader)
	tr.On("Account", mock.Anything).Return(trader.Account{Budget: 1000, Balance: 1000}, nil)
	tr.On("Execute", mock.Anything, mock.Anything, mock.Anything).
		Return(trader.TradeResult{Market: "KRW-BTC", Status: trader.StatusFilled, Balance: 500, Holdings: decimal.NewFromInt(5)}, nil)

	op := New(fastRetry())
	require.NoError(t, op.Initialize(dp, tr, fixedStrategy{d: buyDecision()}))
	op.SetInterval(0.001)
	require.True(t, op.Start())
	waitDone(t, op)

	assert.Equal(t, 2, op.Ticks())
	results := op.GetTradingResults()
	require.Len(t, results, 2)
	assert.Equal(t, 1, results[0].Tick)
	assert.Equal(t, trader.StatusSkipped, results[0].Status)
	assert.Contains(t, results[0].Reason, "ticker timeout")
	assert.Equal(t, int64(1000), results[0].Balance)
	assert.Equal(t, 2, results[1].Tick)
	assert.Equal(t, trader.StatusFilled, results[1].Status)
	assert.Equal(t, 1, op.LastScore().Skipped)
}

func TestProviderFailureFallsBackToBudgetWithoutAccount(t *testing.T) {
	dp := &scriptedProvider{steps: []func() (market.Snapshot, error){
		func() (market.Snapshot, error) { return market.Snapshot{}, errors.New("ticker timeout") },
	}}
	tr := new(MockTrader)
	tr.On("Account", mock.Anything).Return(trader.Account{Budget: 1000, Balance: 1000}, nil).Once()
	tr.On("Account", mock.Anything).Return(trader.Account{}, errors.New("exchange down"))

	op := New()
	require.NoError(t, op.Initialize(dp, tr, fixedStrategy{d: buyDecision()}))
	op.SetInterval(0.001)
	require.True(t, op.Start())
	waitDone(t, op)

	results := op.GetTradingResults()
	require.Len(t, results, 1)
	assert.Equal(t, int64(1000), results[0].Balance)
}

func TestGetScoreKeepsLastScoreWhenAccountFails(t *testing.T) {
	tr := new(MockTrader)
	tr.On("Account", mock.Anything).Return(trader.Account{Budget: 1000, Balance: 1000}, nil).Once()
	tr.On("Account", mock.Anything).Return(trader.Account{}, errors.New("exchange down"))
	tr.On("Execute", mock.Anything, mock.Anything, mock.Anything).
		Return(trader.TradeResult{Market: "KRW-BTC", Status: trader.StatusFilled, Balance: 500, Holdings: decimal.NewFromInt(5)}, nil)

	op := New()
	require.NoError(t, op.Initialize(simProvider(t, 1), tr, fixedStrategy{d: buyDecision()}))
	op.SetInterval(0.001)
	require.True(t, op.Start())
	waitDone(t, op)

	scores := make(chan analyzer.Score, 1)
	op.GetScore(func(s analyzer.Score) { scores <- s })
	select {
	case s := <-scores:
		assert.Equal(t, op.LastScore(), s)
		assert.Equal(t, int64(1000), s.InitialBalance)
		assert.Equal(t, int64(500), s.Balance)
	case <-time.After(2 * time.Second):
		t.Fatal("score callback not invoked")
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "terminating", StateTerminating.String())
}
