package dataprovider

import (
	"context"

	"smtm/internal/market"
	"smtm/internal/upbit"
)

// UpbitSource adapts the Upbit client to CandleSource.
type UpbitSource struct {
	client *upbit.Client
}

func NewUpbitSource(client *upbit.Client) *UpbitSource {
	return &UpbitSource{client: client}
}

func (u *UpbitSource) FetchCandles(ctx context.Context, req CandleRequest) ([]market.Snapshot, error) {
	return u.client.FetchCandles(ctx, upbit.CandleRequest{
		Market: req.Market,
		Unit:   req.Unit,
		To:     req.End,
		Count:  req.Count,
	})
}
