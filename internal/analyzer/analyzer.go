// Package analyzer keeps the append-only record of completed cycles and
// computes the running score. It does no locking of its own; the operator
// serializes access with its state lock.
package analyzer

import (
	"github.com/montanaflynn/stats"
	"github.com/shopspring/decimal"

	"smtm/internal/trader"
)

type Score struct {
	InitialBalance int64           `json:"initial_balance"`
	Balance        int64           `json:"balance"`
	Holdings       decimal.Decimal `json:"holdings"`
	Price          decimal.Decimal `json:"price"`
	Equity         decimal.Decimal `json:"equity"`
	ReturnPct      float64         `json:"return_pct"`
	Filled         int             `json:"filled"`
	Skipped        int             `json:"skipped"`
	MeanReturnPct  float64         `json:"mean_return_pct"`
	VolatilityPct  float64         `json:"volatility_pct"`
	MaxDrawdownPct float64         `json:"max_drawdown_pct"`
}

type Analyzer struct {
	results []trader.TradeResult
	mark    decimal.Decimal
}

func New() *Analyzer {
	return &Analyzer{}
}

// Append records r; entries are never reordered or removed.
func (a *Analyzer) Append(r trader.TradeResult) {
	a.results = append(a.results, r)
}

func (a *Analyzer) Len() int { return len(a.results) }

// Results returns a copy of the ledger.
func (a *Analyzer) Results() []trader.TradeResult {
	out := make([]trader.TradeResult, len(a.results))
	copy(out, a.results)
	return out
}

// MarkPrice remembers the latest observed market price.
func (a *Analyzer) MarkPrice(price decimal.Decimal) {
	if price.IsPositive() {
		a.mark = price
	}
}

// Score values the account at its price, or at the latest mark when the
// account carries none. An empty ledger scores zero.
func (a *Analyzer) Score(acc trader.Account) Score {
	s := Score{
		InitialBalance: acc.Budget,
		Balance:        acc.Balance,
		Holdings:       acc.Holdings,
		Price:          a.priceFor(acc),
	}
	if len(a.results) == 0 {
		s.Equity = decimal.NewFromInt(acc.Balance).Add(acc.Holdings.Mul(s.Price)).Round(2)
		return s
	}
	for _, r := range a.results {
		if r.Filled() {
			s.Filled++
		} else {
			s.Skipped++
		}
	}
	s.Equity = decimal.NewFromInt(acc.Balance).Add(acc.Holdings.Mul(s.Price)).Round(2)
	if acc.Budget > 0 {
		s.ReturnPct = pct(s.Equity, decimal.NewFromInt(acc.Budget))
	}

	curve := EquityCurve(acc.Budget, a.results)
	if rets := periodReturns(curve); len(rets) > 0 {
		if mean, err := stats.Mean(rets); err == nil {
			s.MeanReturnPct = round4(mean)
		}
		if len(rets) > 1 {
			if sd, err := stats.StandardDeviationSample(rets); err == nil {
				s.VolatilityPct = round4(sd)
			}
		}
	}
	s.MaxDrawdownPct = maxDrawdown(curve)
	return s
}

func (a *Analyzer) priceFor(acc trader.Account) decimal.Decimal {
	if acc.Price.IsPositive() {
		return acc.Price
	}
	if a.mark.IsPositive() {
		return a.mark
	}
	for i := len(a.results) - 1; i >= 0; i-- {
		if a.results[i].Price.IsPositive() {
			return a.results[i].Price
		}
	}
	return decimal.Zero
}

// EquityCurve marks every result at its own price, starting from budget.
func EquityCurve(budget int64, results []trader.TradeResult) []float64 {
	curve := make([]float64, 0, len(results)+1)
	curve = append(curve, float64(budget))
	for _, r := range results {
		eq := decimal.NewFromInt(r.Balance).Add(r.Holdings.Mul(r.Price))
		curve = append(curve, eq.InexactFloat64())
	}
	return curve
}

func periodReturns(curve []float64) []float64 {
	out := make([]float64, 0, len(curve))
	for i := 1; i < len(curve); i++ {
		if curve[i-1] == 0 {
			continue
		}
		out = append(out, (curve[i]-curve[i-1])/curve[i-1]*100)
	}
	return out
}

func maxDrawdown(curve []float64) float64 {
	peak, worst := 0.0, 0.0
	for _, v := range curve {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak * 100; dd > worst {
				worst = dd
			}
		}
	}
	return round4(worst)
}

func pct(value, base decimal.Decimal) float64 {
	if base.IsZero() {
		return 0
	}
	return value.Sub(base).Div(base).Mul(decimal.NewFromInt(100)).Round(4).InexactFloat64()
}

func round4(v float64) float64 {
	r, err := stats.Round(v, 4)
	if err != nil {
		return v
	}
	return r
}
