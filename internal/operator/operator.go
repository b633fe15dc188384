// Package operator runs the trading control loop: on every tick it pulls a
// snapshot, asks the strategy for a decision, hands it to the trader and
// records the result, while staying queryable and stoppable from other
// goroutines.
package operator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"smtm/internal/analyzer"
	"smtm/internal/dataprovider"
	"smtm/internal/logger"
	"smtm/internal/market"
	"smtm/internal/pkg/backoff"
	"smtm/internal/scheduler"
	"smtm/internal/strategy"
	"smtm/internal/trader"
)

const (
	DefaultIntervalSeconds = 10
	DefaultHistorySize     = 200
	scoreQueueSize         = 16
)

var ErrNotInitialized = errors.New("operator not initialized")

// DefaultRetry bounds re-attempts of a decision after a transient trader failure.
var DefaultRetry = backoff.Policy{Retries: 2, Base: 500 * time.Millisecond, Max: 5 * time.Second}

type Option func(*Operator)

func WithHistorySize(n int) Option {
	return func(o *Operator) {
		if n > 0 {
			o.historySize = n
		}
	}
}

func WithRetry(p backoff.Policy) Option {
	return func(o *Operator) {
		if p.Retries >= 0 {
			o.retry = p
		}
	}
}

func WithObserver(obs Observer) Option {
	return func(o *Operator) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithContext bounds every blocking call the operator makes. Cancelling it
// aborts the in-flight tick; Stop does not.
func WithContext(ctx context.Context) Option {
	return func(o *Operator) {
		if ctx != nil {
			o.ctx = ctx
		}
	}
}

// Operator instances are single use: once terminated they cannot start again.
type Operator struct {
	log         *logger.Logger
	historySize int
	retry       backoff.Policy
	observer    Observer
	ctx         context.Context

	// mu guards the state machine, configuration, analyzer and running score.
	mu          sync.Mutex
	state       State
	initialized bool
	started     bool
	provider    dataprovider.Provider
	trader      trader.Trader
	strategy    strategy.Strategy
	intervalSec float64
	interval    time.Duration
	tickLimit   int
	ticks       int
	budget      int64
	analyzer    *analyzer.Analyzer
	score       analyzer.Score

	// execMu serializes trader access between ticks and score lookups.
	execMu sync.Mutex

	stopping  atomic.Bool
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneOnce  sync.Once
	done      chan struct{}
	scoreReqs chan func(analyzer.Score)

	history market.Snapshots // scheduler goroutine only
}

func New(opts ...Option) *Operator {
	o := &Operator{
		log:         logger.Named("operator"),
		historySize: DefaultHistorySize,
		retry:       DefaultRetry,
		observer:    nopObserver{},
		ctx:         context.Background(),
		state:       StateReady,
		intervalSec: DefaultIntervalSeconds,
		interval:    DefaultIntervalSeconds * time.Second,
		analyzer:    analyzer.New(),
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
		scoreReqs:   make(chan func(analyzer.Score), scoreQueueSize),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Initialize wires the data provider, trader and strategy. It is only
// accepted before the operator has started.
func (o *Operator) Initialize(dp dataprovider.Provider, tr trader.Trader, st strategy.Strategy) error {
	if dp == nil || tr == nil || st == nil {
		return fmt.Errorf("initialize: data provider, trader and strategy are required")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateReady || o.started {
		return fmt.Errorf("initialize: operator is %s", o.state)
	}
	o.provider, o.trader, o.strategy = dp, tr, st
	o.initialized = true
	o.log.Infof("initialized strategy=%s interval=%gs", st.Name(), o.intervalSec)
	return nil
}

// Setup swaps the strategy by registry index. Strategies only change before start.
func (o *Operator) Setup(index int) error {
	st, err := strategy.ByIndex(index)
	if err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateReady || o.started {
		return fmt.Errorf("setup: operator is %s", o.state)
	}
	o.strategy = st
	o.log.Infof("strategy set to %s", st.Name())
	return nil
}

// SetInterval accepts a positive tick interval in seconds; anything else is
// ignored and the previous value kept. A running loop picks it up after the
// current tick.
func (o *Operator) SetInterval(seconds float64) bool {
	d, ok := scheduler.SecondsToDuration(seconds)
	if !ok {
		o.log.Warnf("ignored invalid interval %v", seconds)
		return false
	}
	o.mu.Lock()
	o.intervalSec, o.interval = seconds, d
	o.mu.Unlock()
	return true
}

// SetTickLimit caps the number of ticks; invalid values are ignored.
func (o *Operator) SetTickLimit(n int) bool {
	if n <= 0 {
		o.log.Warnf("ignored invalid tick limit %d", n)
		return false
	}
	o.mu.Lock()
	o.tickLimit = n
	o.mu.Unlock()
	return true
}

func (o *Operator) Interval() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.intervalSec
}

func (o *Operator) TickLimit() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tickLimit
}

func (o *Operator) Ticks() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ticks
}

func (o *Operator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Operator) IsInitialized() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.initialized
}

// StrategyName reports the wired strategy, empty before Initialize.
func (o *Operator) StrategyName() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.strategy == nil {
		return ""
	}
	return o.strategy.Name()
}

// Done is closed once the operator reaches terminated.
func (o *Operator) Done() <-chan struct{} { return o.done }

// Start launches the scheduler goroutine. It fails, without any state
// change, when the operator is not initialized or has already started.
func (o *Operator) Start() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.initialized {
		o.log.Warnf("start refused: %v", ErrNotInitialized)
		return false
	}
	if o.state != StateReady || o.started || o.stopping.Load() {
		o.log.Warnf("start refused: operator is %s", o.state)
		return false
	}
	o.started = true
	o.setStateLocked(StateRunning)
	go o.run()
	return true
}

// Stop requests termination. The in-flight tick, retries included, runs to
// completion first. Stop never blocks on the tick and is safe to call any
// number of times from any goroutine.
func (o *Operator) Stop() {
	o.stopping.Store(true)
	o.stopOnce.Do(func() { close(o.stopCh) })

	o.mu.Lock()
	defer o.mu.Unlock()
	switch o.state {
	case StateRunning:
		o.setStateLocked(StateTerminating)
	case StateReady:
		if !o.started {
			o.setStateLocked(StateTerminated)
			o.doneOnce.Do(func() { close(o.done) })
		}
	}
}

// GetTradingResults returns a copy of every recorded result in tick order.
func (o *Operator) GetTradingResults() []trader.TradeResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.analyzer.Results()
}

// LastScore is the score as of the latest tick, without a fresh price lookup.
func (o *Operator) LastScore() analyzer.Score {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.score
}

// GetScore delivers the score, priced through the trader, to cb on its own
// goroutine. While the scheduler runs the request is served between ticks.
func (o *Operator) GetScore(cb func(analyzer.Score)) {
	if cb == nil {
		return
	}
	o.mu.Lock()
	if o.state == StateRunning || o.state == StateTerminating {
		select {
		case o.scoreReqs <- cb:
			o.mu.Unlock()
			return
		default:
		}
	}
	o.mu.Unlock()
	go o.serveScore(cb)
}

func (o *Operator) serveScore(cb func(analyzer.Score)) {
	o.mu.Lock()
	tr := o.trader
	o.mu.Unlock()

	var (
		acc    trader.Account
		accErr error
	)
	if tr != nil {
		o.execMu.Lock()
		acc, accErr = tr.Account(o.ctx)
		o.execMu.Unlock()
		if accErr != nil {
			o.log.Warnf("score: account lookup failed, using last known score: %v", accErr)
		}
	}

	o.mu.Lock()
	var score analyzer.Score
	switch {
	case tr == nil:
	case accErr != nil:
		score = o.score
	default:
		score = o.analyzer.Score(acc)
	}
	o.mu.Unlock()
	go cb(score)
}

func (o *Operator) setStateLocked(s State) {
	if o.state == s {
		return
	}
	o.log.Infof("state %s -> %s", o.state, s)
	o.state = s
	o.observer.ObserveState(string(s))
}

func (o *Operator) config() (dataprovider.Provider, trader.Trader, strategy.Strategy, time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.provider, o.trader, o.strategy, o.interval
}

func (o *Operator) currentInterval() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.interval
}
