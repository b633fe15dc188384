package market

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TimeLayout is the layout of candle_date_time_utc / candle_date_time_kst.
const TimeLayout = "2006-01-02T15:04:05"

// Snapshot is one exchange candle. It is never modified after it is fetched.
type Snapshot struct {
	Market         string          `json:"market"`
	DateTimeUTC    string          `json:"candle_date_time_utc"`
	DateTimeKST    string          `json:"candle_date_time_kst"`
	OpeningPrice   decimal.Decimal `json:"opening_price"`
	HighPrice      decimal.Decimal `json:"high_price"`
	LowPrice       decimal.Decimal `json:"low_price"`
	TradePrice     decimal.Decimal `json:"trade_price"`
	Timestamp      int64           `json:"timestamp"`
	AccTradePrice  decimal.Decimal `json:"candle_acc_trade_price"`
	AccTradeVolume decimal.Decimal `json:"candle_acc_trade_volume"`
	Unit           int             `json:"unit"`
}

// Time returns the candle's UTC start time, falling back to the trade timestamp.
func (s Snapshot) Time() time.Time {
	if raw := strings.TrimSuffix(strings.TrimSpace(s.DateTimeUTC), "Z"); raw != "" {
		if t, err := time.ParseInLocation(TimeLayout, raw, time.UTC); err == nil {
			return t
		}
	}
	if s.Timestamp > 0 {
		return time.UnixMilli(s.Timestamp).UTC()
	}
	return time.Time{}
}

func (s Snapshot) TimeString() string {
	t := s.Time()
	if t.IsZero() {
		return "-"
	}
	return t.Format("01-02 15:04") + "Z"
}

type Snapshots []Snapshot

// Closes returns trade prices as float64, the shape indicator libraries want.
func (ss Snapshots) Closes() []float64 {
	out := make([]float64, len(ss))
	for i, s := range ss {
		out[i] = s.TradePrice.InexactFloat64()
	}
	return out
}

func (ss Snapshots) Last() (Snapshot, bool) {
	if len(ss) == 0 {
		return Snapshot{}, false
	}
	return ss[len(ss)-1], true
}

// Reverse returns a reversed copy; the exchange answers most-recent-first.
func (ss Snapshots) Reverse() Snapshots {
	out := make(Snapshots, len(ss))
	for i, s := range ss {
		out[len(ss)-1-i] = s
	}
	return out
}
