package upbit

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"smtm/internal/market"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// ToLayout is the `to` parameter format accepted by the candle endpoint.
const ToLayout = "2006-01-02T15:04:05Z"

// CandleRequest asks for Count minute candles of Unit minutes ending before
// To. A zero To means the most recent candles.
type CandleRequest struct {
	Market string
	Unit   int
	To     time.Time
	Count  int
}

// FetchCandles returns the requested window oldest-first, paging backwards
// when Count exceeds what one request may return.
func (c *Client) FetchCandles(ctx context.Context, req CandleRequest) ([]market.Snapshot, error) {
	if req.Market == "" {
		return nil, fmt.Errorf("upbit: market is required")
	}
	if req.Count <= 0 {
		return nil, fmt.Errorf("upbit: count must be positive, got %d", req.Count)
	}
	unit := req.Unit
	if unit <= 0 {
		unit = 1
	}
	var newestFirst market.Snapshots
	to := req.To
	remaining := req.Count
	for remaining > 0 {
		batchSize := min(remaining, MaxCandlesPerRequest)
		batch, err := c.fetchCandleBatch(ctx, req.Market, unit, to, batchSize)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		newestFirst = append(newestFirst, batch...)
		remaining -= len(batch)
		if len(batch) < batchSize {
			break
		}
		oldest := batch[len(batch)-1].Time()
		if oldest.IsZero() {
			break
		}
		to = oldest
	}
	c.log.Debugf("fetched %d candles market=%s unit=%d to=%s", len(newestFirst), req.Market, unit, formatTo(req.To))
	return newestFirst.Reverse(), nil
}

func (c *Client) fetchCandleBatch(ctx context.Context, mkt string, unit int, to time.Time, count int) (market.Snapshots, error) {
	q := url.Values{}
	q.Set("market", mkt)
	q.Set("count", strconv.Itoa(count))
	if !to.IsZero() {
		q.Set("to", formatTo(to))
	}
	raw, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/v1/candles/minutes/" + strconv.Itoa(unit),
		query:  q,
	})
	if err != nil {
		return nil, err
	}
	return ParseCandles(raw), nil
}

func formatTo(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(ToLayout)
}

// ParseCandles decodes a candle array in the order given. An empty or
// malformed body yields no snapshots.
func ParseCandles(body []byte) market.Snapshots {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return nil
	}
	res := gjson.ParseBytes(body)
	if !res.IsArray() {
		return nil
	}
	items := res.Array()
	out := make(market.Snapshots, 0, len(items))
	for _, item := range items {
		if !item.IsObject() {
			continue
		}
		out = append(out, market.Snapshot{
			Market:         item.Get("market").String(),
			DateTimeUTC:    item.Get("candle_date_time_utc").String(),
			DateTimeKST:    item.Get("candle_date_time_kst").String(),
			OpeningPrice:   decimalOf(item.Get("opening_price")),
			HighPrice:      decimalOf(item.Get("high_price")),
			LowPrice:       decimalOf(item.Get("low_price")),
			TradePrice:     decimalOf(item.Get("trade_price")),
			Timestamp:      item.Get("timestamp").Int(),
			AccTradePrice:  decimalOf(item.Get("candle_acc_trade_price")),
			AccTradeVolume: decimalOf(item.Get("candle_acc_trade_volume")),
			Unit:           int(item.Get("unit").Int()),
		})
	}
	return out
}

// Ticker returns the current ticker of mkt shaped as a snapshot.
func (c *Client) Ticker(ctx context.Context, mkt string) (market.Snapshot, error) {
	q := url.Values{}
	q.Set("markets", mkt)
	raw, err := c.do(ctx, request{method: http.MethodGet, path: "/v1/ticker", query: q})
	if err != nil {
		return market.Snapshot{}, err
	}
	item := gjson.GetBytes(raw, "0")
	if !item.Exists() {
		return market.Snapshot{}, fmt.Errorf("upbit: empty ticker for %s", mkt)
	}
	ts := item.Get("trade_timestamp").Int()
	if ts == 0 {
		ts = item.Get("timestamp").Int()
	}
	tradeAt := time.UnixMilli(ts).UTC()
	kst := tradeAt.In(time.FixedZone("KST", 9*3600))
	return market.Snapshot{
		Market:         item.Get("market").String(),
		DateTimeUTC:    tradeAt.Format(market.TimeLayout),
		DateTimeKST:    kst.Format(market.TimeLayout),
		OpeningPrice:   decimalOf(item.Get("opening_price")),
		HighPrice:      decimalOf(item.Get("high_price")),
		LowPrice:       decimalOf(item.Get("low_price")),
		TradePrice:     decimalOf(item.Get("trade_price")),
		Timestamp:      ts,
		AccTradePrice:  decimalOf(item.Get("acc_trade_price")),
		AccTradeVolume: decimalOf(item.Get("acc_trade_volume")),
	}, nil
}

func decimalOf(r gjson.Result) decimal.Decimal {
	if !r.Exists() || r.Type == gjson.Null {
		return decimal.Zero
	}
	src := r.String()
	if r.Type == gjson.Number {
		src = r.Raw
	}
	d, err := decimal.NewFromString(src)
	if err != nil {
		return decimal.Zero
	}
	return d
}
