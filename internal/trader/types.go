package trader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"smtm/internal/market"
	"smtm/internal/strategy"
)

var (
	// ErrRejected marks a decision that cannot be executed and must not be retried.
	ErrRejected = errors.New("order rejected")
	// ErrTransient marks a failure worth retrying with the same decision.
	ErrTransient = errors.New("transient trader failure")

	ErrInsufficientFunds    = fmt.Errorf("insufficient funds: %w", ErrRejected)
	ErrInsufficientHoldings = fmt.Errorf("insufficient holdings: %w", ErrRejected)
)

type Status string

const (
	StatusFilled  Status = "filled"
	StatusSkipped Status = "skipped"
)

// TradeResult records one executed or skipped cycle. Balance and Holdings are
// the ledger after the cycle.
type TradeResult struct {
	Tick      int             `json:"tick"`
	Market    string          `json:"market"`
	Side      strategy.Side   `json:"side"`
	Status    Status          `json:"status"`
	Reason    string          `json:"reason,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Amount    decimal.Decimal `json:"amount"`
	Funds     int64           `json:"funds"`
	Fee       decimal.Decimal `json:"fee"`
	Balance   int64           `json:"balance"`
	Holdings  decimal.Decimal `json:"holdings"`
	OrderID   string          `json:"order_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

func (r TradeResult) Filled() bool { return r.Status == StatusFilled }

// Account is a read of the trader's ledger plus the latest known price.
type Account struct {
	Budget   int64           `json:"budget"`
	Balance  int64           `json:"balance"`
	Holdings decimal.Decimal `json:"holdings"`
	Price    decimal.Decimal `json:"price"`
}

type Trader interface {
	Execute(ctx context.Context, snap market.Snapshot, d strategy.Decision) (TradeResult, error)
	Account(ctx context.Context) (Account, error)
}

func skipped(mkt string, d strategy.Decision, l *Ledger, reason string, at time.Time) TradeResult {
	return TradeResult{
		Market:    mkt,
		Side:      d.Side,
		Status:    StatusSkipped,
		Reason:    reason,
		Price:     d.Price,
		Amount:    decimal.Zero,
		Fee:       decimal.Zero,
		Balance:   l.Balance(),
		Holdings:  l.Holdings(),
		Timestamp: at,
	}
}
