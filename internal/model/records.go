package model

import (
	"bytes"
	"encoding/json"
	"strings"
)

// keySep joins the touch identity fields. The API never emits control
// characters in ticker, rank or date values.
const keySep = "\x1f"

// Record is one entity inside a snapshot. The interface is sealed: only
// Touch and Trade implement it.
type Record interface {
	Kind() Kind
	// Key is the dedup identity of the record within its kind and day.
	Key() string
	isRecord()
}

// Touch is a price touching a ranked trade level.
type Touch struct {
	Ticker                 *string `json:"Ticker"`
	TradeLevelRank         Rank    `json:"TradeLevelRank"`
	Date                   Text    `json:"Date"`
	Price                  Number  `json:"Price"`
	MinDate                Text    `json:"MinDate"`
	MaxDate                Text    `json:"MaxDate"`
	RelativeSize           Number  `json:"RelativeSize"`
	CumulativeDistribution Number  `json:"CumulativeDistribution"`
	Sector                 Text    `json:"Sector"`
	Industry               Text    `json:"Industry"`
}

func (Touch) Kind() Kind { return KindTouches }

func (t Touch) Key() string {
	return strings.Join([]string{t.TickerName(), string(t.TradeLevelRank), string(t.Date)}, keySep)
}

// TickerName returns the ticker or "" when the API sent null.
func (t Touch) TickerName() string {
	if t.Ticker == nil {
		return ""
	}
	return *t.Ticker
}

func (Touch) isRecord() {}

// Trade is a single block trade print.
type Trade struct {
	TradeID                TradeID `json:"TradeID"`
	Ticker                 Text    `json:"Ticker"`
	TradeRank              Number  `json:"TradeRank"`
	Price                  Number  `json:"Price"`
	Volume                 Number  `json:"Volume"`
	Dollars                Number  `json:"Dollars"`
	DollarsMultiplier      Number  `json:"DollarsMultiplier"`
	CumulativeDistribution Number  `json:"CumulativeDistribution"`
	DarkPool               Flag    `json:"DarkPool"`
	Sweep                  Flag    `json:"Sweep"`
	Sector                 Text    `json:"Sector"`
	Industry               Text    `json:"Industry"`
}

func (Trade) Kind() Kind { return KindTrades }

func (t Trade) Key() string { return string(t.TradeID) }

func (Trade) isRecord() {}

// TradeID keeps the identifier exactly as the API rendered it, whether
// it arrived as a JSON number or a string.
type TradeID string

func (id *TradeID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = TradeID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = TradeID(n.String())
	return nil
}
