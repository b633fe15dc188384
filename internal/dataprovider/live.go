package dataprovider

import (
	"context"
	"fmt"

	"smtm/internal/market"
)

// Live polls the ticker once per Next call and keeps nothing between calls.
type Live struct {
	source TickerSource
	market string
}

func NewLive(source TickerSource, mkt string) *Live {
	return &Live{source: source, market: mkt}
}

func (l *Live) Next(ctx context.Context) (market.Snapshot, error) {
	if l.source == nil {
		return market.Snapshot{}, fmt.Errorf("live provider: ticker source is nil")
	}
	snap, err := l.source.Ticker(ctx, l.market)
	if err != nil {
		return market.Snapshot{}, fmt.Errorf("live provider: ticker %s: %w", l.market, err)
	}
	return snap, nil
}
