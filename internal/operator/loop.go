package operator

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"smtm/internal/dataprovider"
	"smtm/internal/market"
	"smtm/internal/pkg/backoff"
	"smtm/internal/scheduler"
	"smtm/internal/strategy"
	"smtm/internal/trader"
)

func (o *Operator) run() {
	defer o.finish()

	o.loadBudget()
	sched := scheduler.NewFixed(o.currentInterval())
	sched.Anchor()
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-o.ctx.Done():
			o.log.Warnf("context done: %v", o.ctx.Err())
			return
		case <-o.stopCh:
			return
		case cb := <-o.scoreReqs:
			o.serveScore(cb)
			continue
		case <-timer.C:
		}
		if o.stopping.Load() {
			return
		}
		if !o.tick() {
			return
		}
		if iv := o.currentInterval(); iv != sched.Interval() {
			sched = scheduler.NewFixed(iv)
			sched.Anchor()
		}
		timer.Reset(sched.Until(sched.Next()))
	}
}

// finish moves to terminated and answers score requests that were queued
// while the loop was still active.
func (o *Operator) finish() {
	o.mu.Lock()
	o.setStateLocked(StateTerminated)
	o.mu.Unlock()
	for {
		select {
		case cb := <-o.scoreReqs:
			o.serveScore(cb)
		default:
			o.doneOnce.Do(func() { close(o.done) })
			return
		}
	}
}

func (o *Operator) loadBudget() {
	_, tr, _, _ := o.config()
	o.execMu.Lock()
	acc, err := tr.Account(o.ctx)
	o.execMu.Unlock()
	if err != nil {
		o.log.Warnf("initial account lookup failed: %v", err)
	}
	o.mu.Lock()
	o.budget = acc.Budget
	o.score = o.analyzer.Score(acc)
	o.mu.Unlock()
}

// tick runs one cycle and reports whether the loop should continue.
func (o *Operator) tick() bool {
	started := time.Now()
	o.execMu.Lock()
	defer o.execMu.Unlock()

	dp, tr, st, _ := o.config()
	snap, err := dp.Next(o.ctx)
	if errors.Is(err, dataprovider.ErrExhausted) {
		o.log.Infof("data exhausted after %d ticks", o.Ticks())
		o.toTerminating()
		return false
	}
	defer func() { o.observer.ObserveTick(time.Since(started)) }()

	o.mu.Lock()
	o.ticks++
	tick := o.ticks
	limit := o.tickLimit
	o.mu.Unlock()

	if err != nil {
		o.log.Warnf("tick %d: data provider: %v", tick, err)
		res := o.providerFailure(tr, err)
		res.Tick = tick
		o.record(res, res.Price)
		o.observer.ObserveCycle("error")
		return o.continueAfter(tick, limit)
	}

	o.remember(snap)
	decision := st.Decide(o.history)
	o.log.Debugf("tick %d %s price=%s decision=%s ratio=%s %s", tick, snap.TimeString(), snap.TradePrice, decision.Side, decision.Ratio, decision.Reason)

	o.mu.Lock()
	o.analyzer.MarkPrice(snap.TradePrice)
	o.mu.Unlock()

	if decision.IsHold() {
		o.observer.ObserveCycle("hold")
		return o.continueAfter(tick, limit)
	}

	res := o.execute(tr, snap, decision)
	res.Tick = tick

	returnPct := o.record(res, snap.TradePrice)
	o.observer.ObserveCycle(string(res.Status))
	o.observer.ObserveScore(returnPct)
	return o.continueAfter(tick, limit)
}

// record appends res to the ledger and refreshes the running score.
func (o *Operator) record(res trader.TradeResult, price decimal.Decimal) float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.analyzer.Append(res)
	o.score = o.analyzer.Score(trader.Account{
		Budget:   o.budget,
		Balance:  res.Balance,
		Holdings: res.Holdings,
		Price:    price,
	})
	return o.score.ReturnPct
}

// providerFailure is the skipped entry for a tick that got no snapshot.
func (o *Operator) providerFailure(tr trader.Trader, err error) trader.TradeResult {
	acc, accErr := tr.Account(o.ctx)
	if accErr != nil {
		o.log.Warnf("account lookup after provider failure: %v", accErr)
		acc = o.lastAccount()
	}
	res := trader.TradeResult{
		Side:      strategy.SideHold,
		Status:    trader.StatusSkipped,
		Reason:    fmt.Sprintf("data provider: %v", err),
		Price:     acc.Price,
		Balance:   acc.Balance,
		Holdings:  acc.Holdings,
		Timestamp: time.Now().UTC(),
	}
	if n := len(o.history); n > 0 {
		res.Market = o.history[n-1].Market
	}
	return res
}

func (o *Operator) continueAfter(tick, limit int) bool {
	if limit > 0 && tick >= limit {
		o.log.Infof("tick limit %d reached", limit)
		o.toTerminating()
		return false
	}
	return true
}

func (o *Operator) toTerminating() {
	o.mu.Lock()
	if o.state == StateRunning {
		o.setStateLocked(StateTerminating)
	}
	o.mu.Unlock()
}

func (o *Operator) remember(snap market.Snapshot) {
	o.history = append(o.history, snap)
	if over := len(o.history) - o.historySize; over > 0 {
		o.history = append(market.Snapshots(nil), o.history[over:]...)
	}
}

// execute hands the decision to the trader, re-attempting transient
// failures with backoff. A failure that is not retried, or outlives the
// retries, comes back as a skipped result carrying the error.
func (o *Operator) execute(tr trader.Trader, snap market.Snapshot, d strategy.Decision) trader.TradeResult {
	for attempt := 0; ; attempt++ {
		res, err := tr.Execute(o.ctx, snap, d)
		if err == nil {
			return res
		}
		if errors.Is(err, trader.ErrTransient) && attempt < o.retry.Retries {
			delay := o.retry.Delay(attempt)
			o.observer.ObserveRetry()
			o.log.Warnf("trader transient failure (retry %d/%d in %s): %v", attempt+1, o.retry.Retries, delay, err)
			if backoff.Sleep(o.ctx, delay) {
				continue
			}
		}
		o.log.Warnf("cycle skipped: %v", err)
		return o.skippedResult(tr, res, snap, d, err)
	}
}

func (o *Operator) skippedResult(tr trader.Trader, res trader.TradeResult, snap market.Snapshot, d strategy.Decision, err error) trader.TradeResult {
	if res.Status == "" {
		acc, _ := tr.Account(o.ctx)
		res = trader.TradeResult{
			Market:    snap.Market,
			Side:      d.Side,
			Price:     d.Price,
			Balance:   acc.Balance,
			Holdings:  acc.Holdings,
			Timestamp: snap.Time(),
		}
	}
	res.Status = trader.StatusSkipped
	res.Reason = err.Error()
	return res
}


// lastAccount is the ledger as of the latest recorded result, or the
// untouched budget before any.
func (o *Operator) lastAccount() trader.Account {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.analyzer.Len() == 0 {
		return trader.Account{Budget: o.budget, Balance: o.budget}
	}
	return trader.Account{
		Budget:   o.budget,
		Balance:  o.score.Balance,
		Holdings: o.score.Holdings,
		Price:    o.score.Price,
	}
}
