package console

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"smtm/internal/analyzer"
	"smtm/internal/operator"
	"smtm/internal/strategy"
	"smtm/internal/trader"
)

type MockBuilder struct {
	mock.Mock
}

func (m *MockBuilder) Build(ctx context.Context, s Settings) (Operator, error) {
	args := m.Called(ctx, s)
	op, _ := args.Get(0).(Operator)
	return op, args.Error(1)
}

type fakeOperator struct {
	mu       sync.Mutex
	state    operator.State
	done     chan struct{}
	stops    int
	results  []trader.TradeResult
	finishOn bool // close done as soon as Start is called
}

func newFakeOperator() *fakeOperator {
	return &fakeOperator{state: operator.StateReady, done: make(chan struct{})}
}

func (f *fakeOperator) Start() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != operator.StateReady {
		return false
	}
	f.state = operator.StateRunning
	if f.finishOn {
		f.state = operator.StateTerminated
		close(f.done)
	}
	return true
}

func (f *fakeOperator) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

func (f *fakeOperator) State() operator.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeOperator) Done() <-chan struct{} { return f.done }

func (f *fakeOperator) GetScore(cb func(analyzer.Score)) {
	go cb(analyzer.Score{InitialBalance: 50000, Equity: decimal.NewFromInt(51000), ReturnPct: 2})
}

func (f *fakeOperator) GetTradingResults() []trader.TradeResult { return f.results }

func (f *fakeOperator) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

func defaultSettings() Settings {
	return Settings{Market: "KRW-BTC", Count: 100, Interval: 0.1, Budget: 50000}
}

func runConsole(t *testing.T, b Builder, input string) (*Console, string) {
	t.Helper()
	var out bytes.Buffer
	c := New(strings.NewReader(input), &out, b, defaultSettings())
	require.NoError(t, c.Run(context.Background()))
	return c, out.String()
}

func TestCommandTableHasTwelveEntries(t *testing.T) {
	assert.Len(t, commands, 12)
	seen := map[string]bool{}
	for _, c := range commands {
		assert.False(t, seen[c.cmd], c.cmd)
		assert.False(t, seen[c.short], c.short)
		seen[c.cmd], seen[c.short] = true, true
		if c.needValue {
			assert.NotEmpty(t, c.valueGuide, c.cmd)
		}
	}
}

func TestHelpPrintsGuides(t *testing.T) {
	_, out := runConsole(t, new(MockBuilder), "h\nt\n")
	assert.Contains(t, out, "command list =================")
	for _, c := range commands {
		assert.Contains(t, out, c.guide)
	}
}

func TestInvalidCommand(t *testing.T) {
	_, out := runConsole(t, new(MockBuilder), "hell\nt\n")
	assert.Contains(t, out, "invalid command")
}

func TestSettersKeepPreviousValueOnInvalidInput(t *testing.T) {
	input := strings.Join([]string{
		"c", "777", "c", "0",
		"int", "0.05", "int", "-5",
		"b", "90000", "b", "-100",
		"st", "1", "st", "99",
		"e", "2020-04-30T17:00:00", "e", "tomorrow",
		"t",
	}, "\n") + "\n"
	c, out := runConsole(t, new(MockBuilder), input)

	s := c.Settings()
	assert.Equal(t, 777, s.Count)
	assert.Equal(t, 0.05, s.Interval)
	assert.Equal(t, int64(90000), s.Budget)
	assert.Equal(t, 1, s.Strategy)
	assert.Equal(t, time.Date(2020, 4, 30, 17, 0, 0, 0, time.UTC), s.End)
	assert.Equal(t, 5, strings.Count(out, "keeping previous value"))
}

func TestStartRequiresInitialize(t *testing.T) {
	b := new(MockBuilder)
	_, out := runConsole(t, b, "s\nt\n")
	assert.Contains(t, out, "not initialized")
	b.AssertNotCalled(t, "Build", mock.Anything, mock.Anything)
}

func TestInitializeStartQueryTerminate(t *testing.T) {
	op := newFakeOperator()
	b := new(MockBuilder)
	b.On("Build", mock.Anything, mock.MatchedBy(func(s Settings) bool { return s.Count == 30 })).Return(op, nil).Once()

	_, out := runConsole(t, b, "c\n30\ni\ns\nq\nstate\nq\nscore\nt\n")
	b.AssertExpectations(t)
	assert.Contains(t, out, "initialized")
	assert.Contains(t, out, "started")
	assert.Contains(t, out, "running")
	assert.Contains(t, out, "return 2.0000%")
	assert.Equal(t, 1, op.stopCount())
}

func TestInitializeFailureIsReported(t *testing.T) {
	b := new(MockBuilder)
	b.On("Build", mock.Anything, mock.Anything).Return(nil, errors.New("no candles"))
	_, out := runConsole(t, b, "i\ns\nt\n")
	assert.Contains(t, out, "initialize failed: no candles")
	assert.Contains(t, out, "not initialized")
}

func TestRunWaitsForTermination(t *testing.T) {
	op := newFakeOperator()
	op.finishOn = true
	b := new(MockBuilder)
	b.On("Build", mock.Anything, mock.Anything).Return(op, nil)

	_, out := runConsole(t, b, "r\nt\n")
	assert.Contains(t, out, "started")
	assert.Contains(t, out, "equity 51000")
}

func TestQueryResultPrintsTable(t *testing.T) {
	op := newFakeOperator()
	op.results = []trader.TradeResult{{
		Tick: 1, Side: strategy.SideBuy, Status: trader.StatusFilled,
		Price: decimal.NewFromInt(100), Amount: decimal.RequireFromString("0.5"),
		Balance: 950, Holdings: decimal.RequireFromString("0.5"),
	}}
	b := new(MockBuilder)
	b.On("Build", mock.Anything, mock.Anything).Return(op, nil)

	_, out := runConsole(t, b, "i\nq\nresult\nt\n")
	assert.Contains(t, out, "TICK")
	assert.Contains(t, out, "filled")
	assert.Contains(t, out, "950")
}

func TestQueryConfigDumpsYAML(t *testing.T) {
	_, out := runConsole(t, new(MockBuilder), "b\n90000\nq\nconfig\nt\n")
	assert.Contains(t, out, "budget: 90000")
	assert.Contains(t, out, "market: KRW-BTC")
}

func TestQueryBeforeInitialize(t *testing.T) {
	_, out := runConsole(t, new(MockBuilder), "q\nstate\nq\nbogus\nt\n")
	assert.Contains(t, out, "not initialized")
	assert.Contains(t, out, "invalid query target")
}

func TestEOFStopsOperator(t *testing.T) {
	op := newFakeOperator()
	b := new(MockBuilder)
	b.On("Build", mock.Anything, mock.Anything).Return(op, nil)

	_, _ = runConsole(t, b, "i\ns\n")
	assert.Equal(t, 1, op.stopCount())
}

func TestEOFWhileWaitingForValue(t *testing.T) {
	c, _ := runConsole(t, new(MockBuilder), "c\n")
	assert.Equal(t, 100, c.Settings().Count)
}
