package app

import (
	"smtm/internal/analyzer"
	"smtm/internal/operator"
	"smtm/internal/trader"
)

// currentOperator forwards query API calls to whichever operator the app
// built last. Before the first build it reports an idle, empty operator.
type currentOperator struct{ a *App }

func (c currentOperator) State() operator.State {
	if op := c.a.Current(); op != nil {
		return op.State()
	}
	return operator.StateReady
}

func (c currentOperator) Ticks() int {
	if op := c.a.Current(); op != nil {
		return op.Ticks()
	}
	return 0
}

func (c currentOperator) TickLimit() int {
	if op := c.a.Current(); op != nil {
		return op.TickLimit()
	}
	return 0
}

func (c currentOperator) Interval() float64 {
	if op := c.a.Current(); op != nil {
		return op.Interval()
	}
	return 0
}

func (c currentOperator) StrategyName() string {
	if op := c.a.Current(); op != nil {
		return op.StrategyName()
	}
	return ""
}

func (c currentOperator) GetTradingResults() []trader.TradeResult {
	if op := c.a.Current(); op != nil {
		return op.GetTradingResults()
	}
	return []trader.TradeResult{}
}

func (c currentOperator) LastScore() analyzer.Score {
	if op := c.a.Current(); op != nil {
		return op.LastScore()
	}
	return analyzer.Score{}
}

func (c currentOperator) GetScore(cb func(analyzer.Score)) {
	if op := c.a.Current(); op != nil {
		op.GetScore(cb)
		return
	}
	go cb(analyzer.Score{})
}

func (c currentOperator) Stop() { c.a.Stop() }
