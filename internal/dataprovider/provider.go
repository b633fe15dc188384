// Package dataprovider supplies market snapshots to the operator. The
// simulation provider replays a pre-fetched candle window; the live provider
// polls the exchange ticker on every call.
package dataprovider

import (
	"context"
	"errors"
	"time"

	"smtm/internal/market"
)

// ErrExhausted signals that a simulation has no more candles to replay.
var ErrExhausted = errors.New("data provider exhausted")

type Provider interface {
	Next(ctx context.Context) (market.Snapshot, error)
}

// CandleRequest describes a historical window: Count candles of Unit minutes
// ending before End (zero End means the most recent).
type CandleRequest struct {
	Market string
	Unit   int
	End    time.Time
	Count  int
}

// CandleSource fetches historical candles oldest-first.
type CandleSource interface {
	FetchCandles(ctx context.Context, req CandleRequest) ([]market.Snapshot, error)
}

// TickerSource returns the latest ticker for a market.
type TickerSource interface {
	Ticker(ctx context.Context, mkt string) (market.Snapshot, error)
}
