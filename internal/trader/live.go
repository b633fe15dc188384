package trader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"smtm/internal/logger"
	"smtm/internal/market"
	"smtm/internal/pkg/backoff"
	"smtm/internal/strategy"
	"smtm/internal/upbit"
)

// OrderAPI is the slice of the Upbit client the live trader needs.
type OrderAPI interface {
	PlaceOrder(ctx context.Context, req upbit.OrderRequest) (upbit.Order, error)
	GetOrder(ctx context.Context, id string) (upbit.Order, error)
	CancelOrder(ctx context.Context, id string) (upbit.Order, error)
	GetOrderByIdentifier(ctx context.Context, identifier string) (upbit.Order, error)
	Ticker(ctx context.Context, mkt string) (market.Snapshot, error)
}

type LiveConfig struct {
	Market       string
	Budget       int64
	FeeRate      decimal.Decimal
	FillTimeout  time.Duration
	PollInterval time.Duration
	Retry        backoff.Policy
}

// DefaultRetry is the network retry schedule for exchange calls.
var DefaultRetry = backoff.Policy{Retries: 3, Base: 500 * time.Millisecond, Max: 4 * time.Second}

// Live trades market orders on Upbit against a ledger limited to the
// configured budget, so only that budget is ever committed.
type Live struct {
	api OrderAPI
	cfg LiveConfig
	log *logger.Logger

	sleep func(context.Context, time.Duration) bool
	now   func() time.Time

	mu      sync.Mutex
	ledger  *Ledger
	last    decimal.Decimal
	pending *pendingOrder
}

// pendingOrder is a placement whose outcome is unknown after a transient
// failure. Retries of the same decision reuse its identifier and look it
// up before sending again, so one decision is at most one exchange order.
type pendingOrder struct {
	key  string
	req  upbit.OrderRequest
	sent bool
}

func NewLive(api OrderAPI, cfg LiveConfig) *Live {
	if cfg.FillTimeout <= 0 {
		cfg.FillTimeout = 10 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.Retry == (backoff.Policy{}) {
		cfg.Retry = DefaultRetry
	}
	if cfg.FeeRate.IsNegative() {
		cfg.FeeRate = decimal.Zero
	}
	return &Live{
		api:    api,
		cfg:    cfg,
		log:    logger.Named("live-trader"),
		sleep:  backoff.Sleep,
		now:    time.Now,
		ledger: NewLedger(cfg.Budget),
	}
}

func (t *Live) Execute(ctx context.Context, snap market.Snapshot, d strategy.Decision) (TradeResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	at := t.now()
	if snap.TradePrice.IsPositive() {
		t.last = snap.TradePrice
	}
	if err := d.Validate(); err != nil {
		err = fmt.Errorf("%v: %w", err, ErrRejected)
		return skipped(t.cfg.Market, d, t.ledger, err.Error(), at), err
	}
	req, err := t.requestFor(decisionKey(snap, d), d)
	if err != nil {
		res := skipped(t.cfg.Market, d, t.ledger, err.Error(), at)
		return res, err
	}

	var placed upbit.Order
	err = t.retry(ctx, "place order", func() error {
		var callErr error
		placed, callErr = t.place(ctx)
		return callErr
	})
	if err != nil {
		if !errors.Is(err, ErrTransient) {
			t.pending = nil
		}
		return skipped(t.cfg.Market, d, t.ledger, err.Error(), at), err
	}
	t.pending = nil
	t.log.Infof("placed %s %s uuid=%s", req.Side, req.OrdType, placed.UUID)

	final, err := t.awaitFill(ctx, placed)
	if err != nil {
		res := skipped(t.cfg.Market, d, t.ledger, err.Error(), at)
		res.OrderID = placed.UUID
		return res, err
	}
	return t.book(d, final, at)
}

// decisionKey identifies a decision on a snapshot; the operator retries a
// decision by calling Execute again with the same pair.
func decisionKey(snap market.Snapshot, d strategy.Decision) string {
	return fmt.Sprintf("%s|%s|%d|%s|%s|%s", snap.Market, snap.DateTimeUTC, snap.Timestamp, d.Side, d.Ratio, d.Price)
}

// requestFor reuses the unconfirmed request of the same decision, or sizes
// a new one. An unconfirmed order from another decision is given up on.
func (t *Live) requestFor(key string, d strategy.Decision) (upbit.OrderRequest, error) {
	if p := t.pending; p != nil {
		if p.key == key {
			return p.req, nil
		}
		t.log.Warnf("giving up on unconfirmed order identifier=%s", p.req.Identifier)
		t.pending = nil
	}
	req, err := t.orderRequest(d)
	if err != nil {
		return req, err
	}
	t.pending = &pendingOrder{key: key, req: req}
	return req, nil
}

// place sends the pending request. When an earlier send may have reached
// the exchange it first looks the identifier up and returns that order.
func (t *Live) place(ctx context.Context) (upbit.Order, error) {
	p := t.pending
	if p.sent {
		prior, err := t.api.GetOrderByIdentifier(ctx, p.req.Identifier)
		if err == nil {
			t.log.Infof("order identifier=%s already placed as uuid=%s", p.req.Identifier, prior.UUID)
			return prior, nil
		}
		if !upbit.IsNotFound(err) {
			return upbit.Order{}, err
		}
	}
	p.sent = true
	return t.api.PlaceOrder(ctx, p.req)
}

// orderRequest sizes the decision against the ledger before anything is
// sent. Buys reserve the fee on top of the spend.
func (t *Live) orderRequest(d strategy.Decision) (upbit.OrderRequest, error) {
	req := upbit.OrderRequest{Market: t.cfg.Market, Identifier: uuid.NewString()}
	switch d.Side {
	case strategy.SideBuy:
		spend, _, err := t.ledger.PlanBuy(d.Ratio, d.Price)
		if err != nil {
			return req, err
		}
		fee := t.cfg.FeeRate.Mul(decimal.NewFromInt(spend)).Ceil().IntPart()
		if spend+fee > t.ledger.Balance() {
			return req, fmt.Errorf("spend %d + fee %d exceeds balance %d: %w", spend, fee, t.ledger.Balance(), ErrInsufficientFunds)
		}
		req.Side, req.OrdType, req.Price = upbit.SideBid, upbit.OrdTypePrice, decimal.NewFromInt(spend)
	case strategy.SideSell:
		qty, _, err := t.ledger.PlanSell(d.Ratio, d.Price)
		if err != nil {
			return req, err
		}
		req.Side, req.OrdType, req.Volume = upbit.SideAsk, upbit.OrdTypeMarket, qty
	default:
		return req, fmt.Errorf("side %q: %w", d.Side, ErrRejected)
	}
	return req, nil
}

// awaitFill polls until the order is finished or the fill timeout passes,
// then cancels whatever is still open.
func (t *Live) awaitFill(ctx context.Context, order upbit.Order) (upbit.Order, error) {
	deadline := t.now().Add(t.cfg.FillTimeout)
	for !order.Finished() {
		if !t.now().Before(deadline) {
			t.log.Warnf("order %s not finished after %s, cancelling", order.UUID, t.cfg.FillTimeout)
			var cancelled upbit.Order
			err := t.retry(ctx, "cancel order", func() error {
				var callErr error
				cancelled, callErr = t.api.CancelOrder(ctx, order.UUID)
				return callErr
			})
			if err != nil {
				return order, err
			}
			if cancelled.UUID == "" {
				cancelled = order
			}
			return cancelled, nil
		}
		if !t.sleep(ctx, t.cfg.PollInterval) {
			return order, fmt.Errorf("await order %s: %w", order.UUID, ctx.Err())
		}
		err := t.retry(ctx, "get order", func() error {
			var callErr error
			order, callErr = t.api.GetOrder(ctx, order.UUID)
			return callErr
		})
		if err != nil {
			return order, err
		}
	}
	return order, nil
}

func (t *Live) book(d strategy.Decision, o upbit.Order, at time.Time) (TradeResult, error) {
	res := skipped(t.cfg.Market, d, t.ledger, "", at)
	res.OrderID = o.UUID
	if !o.ExecutedVolume.IsPositive() {
		res.Reason = fmt.Sprintf("order %s %s without fill", o.UUID, o.State)
		return res, nil
	}
	funds := o.Funds()
	var err error
	switch d.Side {
	case strategy.SideBuy:
		spend := funds.Ceil().IntPart()
		err = t.ledger.Buy(spend, o.ExecutedVolume, o.PaidFee)
		res.Funds = spend
	case strategy.SideSell:
		proceeds := funds.Floor().IntPart()
		err = t.ledger.Sell(o.ExecutedVolume, proceeds, o.PaidFee)
		res.Funds = proceeds
	}
	if err != nil {
		// The exchange already filled; the ledger disagrees with it.
		t.log.Errorf("booking order %s failed: %v", o.UUID, err)
		res.Reason = err.Error()
		return res, err
	}
	res.Status = StatusFilled
	res.Reason = d.Reason
	res.Price = o.AvgPrice().Round(2)
	res.Amount = o.ExecutedVolume
	res.Fee = o.PaidFee
	res.Balance = t.ledger.Balance()
	res.Holdings = t.ledger.Holdings()
	if res.Price.IsPositive() {
		t.last = res.Price
	}
	return res, nil
}

// retry re-runs fn on transient exchange errors. Rejections come back as
// ErrRejected, exhausted retries as ErrTransient.
func (t *Live) retry(ctx context.Context, what string, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) {
			return err
		}
		if !upbit.IsTransient(err) {
			return fmt.Errorf("%s: %v: %w", what, err, ErrRejected)
		}
		if attempt >= t.cfg.Retry.Retries {
			break
		}
		delay := t.cfg.Retry.Delay(attempt)
		t.log.Warnf("%s failed (attempt %d/%d), retry in %s: %v", what, attempt+1, t.cfg.Retry.Retries+1, delay, err)
		if !t.sleep(ctx, delay) {
			return fmt.Errorf("%s: %w", what, ctx.Err())
		}
	}
	return fmt.Errorf("%s: %v: %w", what, err, ErrTransient)
}

func (t *Live) Account(ctx context.Context) (Account, error) {
	t.mu.Lock()
	acc := Account{Budget: t.ledger.Budget(), Balance: t.ledger.Balance(), Holdings: t.ledger.Holdings(), Price: t.last}
	t.mu.Unlock()

	var snap market.Snapshot
	err := t.retry(ctx, "ticker", func() error {
		var callErr error
		snap, callErr = t.api.Ticker(ctx, t.cfg.Market)
		return callErr
	})
	if err != nil {
		return acc, err
	}
	if snap.TradePrice.IsPositive() {
		acc.Price = snap.TradePrice
		t.mu.Lock()
		t.last = snap.TradePrice
		t.mu.Unlock()
	}
	return acc, nil
}
