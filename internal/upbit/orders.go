package upbit

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

const (
	SideBid = "bid"
	SideAsk = "ask"

	OrdTypeLimit  = "limit"
	OrdTypePrice  = "price"  // market buy by total KRW
	OrdTypeMarket = "market" // market sell by volume

	StateWait   = "wait"
	StateWatch  = "watch"
	StateDone   = "done"
	StateCancel = "cancel"
)

type Account struct {
	Currency     string
	Balance      decimal.Decimal
	Locked       decimal.Decimal
	AvgBuyPrice  decimal.Decimal
	UnitCurrency string
}

type OrderRequest struct {
	Market     string
	Side       string
	OrdType    string
	Volume     decimal.Decimal
	Price      decimal.Decimal
	Identifier string
}

type Trade struct {
	Price  decimal.Decimal
	Volume decimal.Decimal
	Funds  decimal.Decimal
}

type Order struct {
	UUID            string
	Market          string
	Side            string
	OrdType         string
	State           string
	Price           decimal.Decimal
	Volume          decimal.Decimal
	RemainingVolume decimal.Decimal
	ExecutedVolume  decimal.Decimal
	PaidFee         decimal.Decimal
	Trades          []Trade
}

// Finished reports whether the exchange will not fill the order further.
func (o Order) Finished() bool {
	return o.State == StateDone || o.State == StateCancel
}

// Funds is the quote amount actually exchanged across all trades.
func (o Order) Funds() decimal.Decimal {
	total := decimal.Zero
	for _, t := range o.Trades {
		funds := t.Funds
		if funds.IsZero() {
			funds = t.Price.Mul(t.Volume)
		}
		total = total.Add(funds)
	}
	return total
}

// AvgPrice is the volume-weighted fill price, zero when nothing filled.
func (o Order) AvgPrice() decimal.Decimal {
	if o.ExecutedVolume.IsZero() {
		return decimal.Zero
	}
	return o.Funds().Div(o.ExecutedVolume)
}

func (c *Client) Accounts(ctx context.Context) ([]Account, error) {
	raw, err := c.do(ctx, request{method: http.MethodGet, path: "/v1/accounts", signed: true})
	if err != nil {
		return nil, err
	}
	items := gjson.ParseBytes(raw).Array()
	out := make([]Account, 0, len(items))
	for _, item := range items {
		out = append(out, Account{
			Currency:     item.Get("currency").String(),
			Balance:      decimalOf(item.Get("balance")),
			Locked:       decimalOf(item.Get("locked")),
			AvgBuyPrice:  decimalOf(item.Get("avg_buy_price")),
			UnitCurrency: item.Get("unit_currency").String(),
		})
	}
	return out, nil
}

func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (Order, error) {
	body, err := orderBody(req)
	if err != nil {
		return Order{}, err
	}
	var raw []byte
	err = c.orders.Do(func() error {
		var callErr error
		raw, callErr = c.do(ctx, request{method: http.MethodPost, path: "/v1/orders", body: body, signed: true})
		return callErr
	})
	if err != nil {
		return Order{}, err
	}
	return parseOrder(raw), nil
}

func (c *Client) GetOrder(ctx context.Context, id string) (Order, error) {
	return c.orderCall(ctx, http.MethodGet, "uuid", id)
}

// GetOrderByIdentifier looks an order up by the client-chosen identifier
// it was placed with. Unknown identifiers fail with IsNotFound.
func (c *Client) GetOrderByIdentifier(ctx context.Context, identifier string) (Order, error) {
	return c.orderCall(ctx, http.MethodGet, "identifier", identifier)
}

func (c *Client) CancelOrder(ctx context.Context, id string) (Order, error) {
	return c.orderCall(ctx, http.MethodDelete, "uuid", id)
}

func (c *Client) orderCall(ctx context.Context, method, key, id string) (Order, error) {
	if strings.TrimSpace(id) == "" {
		return Order{}, fmt.Errorf("upbit: order %s is required", key)
	}
	q := url.Values{}
	q.Set(key, id)
	var raw []byte
	err := c.orders.Do(func() error {
		var callErr error
		raw, callErr = c.do(ctx, request{method: method, path: "/v1/order", query: q, signed: true})
		return callErr
	})
	if err != nil {
		return Order{}, err
	}
	return parseOrder(raw), nil
}

func orderBody(req OrderRequest) (map[string]string, error) {
	if req.Market == "" {
		return nil, fmt.Errorf("upbit: order market is required")
	}
	body := map[string]string{
		"market":   req.Market,
		"side":     req.Side,
		"ord_type": req.OrdType,
	}
	switch req.OrdType {
	case OrdTypePrice:
		if req.Side != SideBid || !req.Price.IsPositive() {
			return nil, fmt.Errorf("upbit: price order needs side=bid and a positive price")
		}
		body["price"] = req.Price.String()
	case OrdTypeMarket:
		if req.Side != SideAsk || !req.Volume.IsPositive() {
			return nil, fmt.Errorf("upbit: market order needs side=ask and a positive volume")
		}
		body["volume"] = req.Volume.String()
	case OrdTypeLimit:
		if !req.Price.IsPositive() || !req.Volume.IsPositive() {
			return nil, fmt.Errorf("upbit: limit order needs price and volume")
		}
		body["price"] = req.Price.String()
		body["volume"] = req.Volume.String()
	default:
		return nil, fmt.Errorf("upbit: unsupported ord_type %q", req.OrdType)
	}
	if req.Identifier != "" {
		body["identifier"] = req.Identifier
	}
	return body, nil
}

func parseOrder(raw []byte) Order {
	res := gjson.ParseBytes(raw)
	o := Order{
		UUID:            res.Get("uuid").String(),
		Market:          res.Get("market").String(),
		Side:            res.Get("side").String(),
		OrdType:         res.Get("ord_type").String(),
		State:           res.Get("state").String(),
		Price:           decimalOf(res.Get("price")),
		Volume:          decimalOf(res.Get("volume")),
		RemainingVolume: decimalOf(res.Get("remaining_volume")),
		ExecutedVolume:  decimalOf(res.Get("executed_volume")),
		PaidFee:         decimalOf(res.Get("paid_fee")),
	}
	for _, t := range res.Get("trades").Array() {
		o.Trades = append(o.Trades, Trade{
			Price:  decimalOf(t.Get("price")),
			Volume: decimalOf(t.Get("volume")),
			Funds:  decimalOf(t.Get("funds")),
		})
	}
	return o
}
