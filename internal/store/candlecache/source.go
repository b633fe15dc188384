package candlecache

import (
	"context"

	"smtm/internal/dataprovider"
	"smtm/internal/logger"
	"smtm/internal/market"
)

// CachedSource answers repeated historical windows from the store and
// forwards everything else to the wrapped source. Requests without an end
// time always go upstream since "most recent" moves.
type CachedSource struct {
	inner dataprovider.CandleSource
	store *Store
	log   *logger.Logger
}

func NewCachedSource(inner dataprovider.CandleSource, store *Store) *CachedSource {
	return &CachedSource{inner: inner, store: store, log: logger.Named("candle-cache")}
}

func (c *CachedSource) FetchCandles(ctx context.Context, req dataprovider.CandleRequest) ([]market.Snapshot, error) {
	endMs := int64(0)
	if !req.End.IsZero() {
		endMs = req.End.UnixMilli()
		hit, err := c.store.HasWindow(ctx, req.Market, req.Unit, endMs, req.Count)
		if err != nil {
			c.log.Warnf("cache lookup failed: %v", err)
		}
		if hit {
			candles, err := c.store.Window(ctx, req.Market, req.Unit, endMs, req.Count)
			if err == nil {
				c.log.Debugf("cache hit %s %dm end=%d count=%d", req.Market, req.Unit, endMs, len(candles))
				return candles, nil
			}
			c.log.Warnf("cache read failed, fetching upstream: %v", err)
		}
	}

	candles, err := c.inner.FetchCandles(ctx, req)
	if err != nil {
		return nil, err
	}
	if _, err := c.store.Insert(ctx, req.Unit, candles); err != nil {
		c.log.Warnf("cache write failed: %v", err)
		return candles, nil
	}
	if endMs > 0 {
		if err := c.store.RecordWindow(ctx, req.Market, req.Unit, endMs, req.Count); err != nil {
			c.log.Warnf("cache window record failed: %v", err)
		}
	}
	return candles, nil
}
