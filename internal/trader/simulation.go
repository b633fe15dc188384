package trader

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"smtm/internal/logger"
	"smtm/internal/market"
	"smtm/internal/strategy"
)

var simOrderNamespace = uuid.MustParse("6f1c1f0e-5a3b-4c55-9d55-7f4e8f0a2b11")

// Simulation fills every decision at the snapshot trade price with no fee and
// no slippage. Order ids are derived from the fill sequence so repeated runs
// produce identical results.
type Simulation struct {
	market string
	log    *logger.Logger

	mu     sync.Mutex
	ledger *Ledger
	last   decimal.Decimal
	seq    int
}

func NewSimulation(mkt string, budget int64) *Simulation {
	return &Simulation{market: mkt, ledger: NewLedger(budget), log: logger.Named("sim-trader")}
}

func (s *Simulation) Execute(ctx context.Context, snap market.Snapshot, d strategy.Decision) (TradeResult, error) {
	if err := ctx.Err(); err != nil {
		return TradeResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	at := snap.Time()
	mkt := snap.Market
	if mkt == "" {
		mkt = s.market
	}
	if snap.TradePrice.IsPositive() {
		s.last = snap.TradePrice
	}
	if err := d.Validate(); err != nil {
		err = fmt.Errorf("%v: %w", err, ErrRejected)
		return skipped(mkt, d, s.ledger, err.Error(), at), err
	}
	price := snap.TradePrice
	res := skipped(mkt, d, s.ledger, "", at)
	res.Price = price

	switch d.Side {
	case strategy.SideBuy:
		spend, qty, err := s.ledger.PlanBuy(d.Ratio, price)
		if err == nil {
			err = s.ledger.Buy(spend, qty, decimal.Zero)
		}
		if err != nil {
			return s.reject(res, err)
		}
		res.Amount, res.Funds = qty, spend
	case strategy.SideSell:
		qty, proceeds, err := s.ledger.PlanSell(d.Ratio, price)
		if err == nil {
			err = s.ledger.Sell(qty, proceeds, decimal.Zero)
		}
		if err != nil {
			return s.reject(res, err)
		}
		res.Amount, res.Funds = qty, proceeds
	default:
		res.Reason = "hold"
		return res, nil
	}

	s.seq++
	res.Status = StatusFilled
	res.Reason = d.Reason
	res.Balance = s.ledger.Balance()
	res.Holdings = s.ledger.Holdings()
	res.OrderID = uuid.NewSHA1(simOrderNamespace, []byte(fmt.Sprintf("%s/%d", mkt, s.seq))).String()
	s.log.Debugf("filled %s %s @ %s balance=%d holdings=%s", res.Side, res.Amount, res.Price, res.Balance, res.Holdings)
	return res, nil
}

func (s *Simulation) reject(res TradeResult, err error) (TradeResult, error) {
	res.Reason = err.Error()
	res.Balance = s.ledger.Balance()
	res.Holdings = s.ledger.Holdings()
	s.log.Debugf("skip %s: %v", res.Side, err)
	return res, err
}

func (s *Simulation) Account(ctx context.Context) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Account{
		Budget:   s.ledger.Budget(),
		Balance:  s.ledger.Balance(),
		Holdings: s.ledger.Holdings(),
		Price:    s.last,
	}, nil
}
