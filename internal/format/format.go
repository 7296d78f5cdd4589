// Package format renders touches and trades as notification text.
package format

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"vlwatch/internal/model"
)

// UnrankedAbove is the largest rank the site treats as ranked.
const UnrankedAbove = 100

var reAspNetDate = regexp.MustCompile(`/Date\((\d+)\)/`)

// Message is the rendered form of one record.
type Message struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func fixed(v float64, places int32) string {
	return decimal.NewFromFloat(v).StringFixed(places)
}

// plain keeps thousands separators and at most three fraction digits.
func plain(v float64) string {
	return humanize.Commaf(decimal.NewFromFloat(v).Round(3).InexactFloat64())
}

func Price(v float64) string { return "$" + fixed(v, 2) }

func RelSize(v float64) string { return fixed(v, 2) }

func Multiplier(v float64) string { return fixed(v, 1) }

// Number abbreviates with B/M/K and one decimal; smaller values keep
// thousands separators.
func Number(v float64) string {
	switch {
	case v >= 1e9:
		return fixed(v/1e9, 1) + "B"
	case v >= 1e6:
		return fixed(v/1e6, 1) + "M"
	case v >= 1e3:
		return fixed(v/1e3, 1) + "K"
	}
	return plain(v)
}

// Dollars is Number with a dollar sign, except thousands round to whole K.
func Dollars(v float64) string {
	switch {
	case v >= 1e9:
		return "$" + fixed(v/1e9, 1) + "B"
	case v >= 1e6:
		return "$" + fixed(v/1e6, 1) + "M"
	case v >= 1e3:
		return "$" + fixed(v/1e3, 0) + "K"
	}
	return "$" + plain(v)
}

// Percent renders a 0..1 percentile as a whole percentage.
func Percent(v float64) string {
	return strconv.Itoa(int(math.Floor(v*100+0.5))) + "%"
}

// ParseAspNetDate decodes "/Date(1700000000000)/".
func ParseAspNetDate(s string) (time.Time, bool) {
	m := reAspNetDate.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}

// LevelAgeDays is the span between a level's first and last print,
// rounded to whole days.
func LevelAgeDays(minDate, maxDate string) (int, bool) {
	lo, ok := ParseAspNetDate(minDate)
	if !ok {
		return 0, false
	}
	hi, ok := ParseAspNetDate(maxDate)
	if !ok {
		return 0, false
	}
	return int(math.Floor(hi.Sub(lo).Hours()/24 + 0.5)), true
}

// TradeTypeSymbol: 🔶 dark pool sweep, 🟠 dark pool, 🔷 lit sweep, 🔵 lit.
func TradeTypeSymbol(darkPool, sweep bool) string {
	switch {
	case darkPool && sweep:
		return "🔶"
	case darkPool:
		return "🟠"
	case sweep:
		return "🔷"
	}
	return "🔵"
}

func sectorLine(sector, industry string) string {
	parts := []string{sector}
	if industry != "" {
		parts = append(parts, industry)
	}
	return strings.Join(parts, " | ")
}

func Touch(t model.Touch) Message {
	rank := ""
	if n, ok := t.TradeLevelRank.Int(); ok && n <= UnrankedAbove {
		rank = " #" + strconv.Itoa(n)
	}
	days := ""
	if n, ok := LevelAgeDays(string(t.MinDate), string(t.MaxDate)); ok {
		days = humanize.Comma(int64(n)) + " days | "
	}
	return Message{
		Title: "🔔 " + t.TickerName() + rank + " touched " + Price(float64(t.Price)),
		Body: days + "RS " + RelSize(float64(t.RelativeSize)) + "x | PCT " + Percent(float64(t.CumulativeDistribution)) +
			"\n" + sectorLine(string(t.Sector), string(t.Industry)),
	}
}

func Trade(t model.Trade) Message {
	rank := ""
	if n := t.TradeRank.Int(); n > 0 && n <= UnrankedAbove {
		rank = "#" + strconv.Itoa(n) + " "
	}
	return Message{
		Title: "💰 " + string(t.Ticker) + " " + rank + TradeTypeSymbol(bool(t.DarkPool), bool(t.Sweep)) + " " + Price(float64(t.Price)),
		Body: "RS " + Multiplier(float64(t.DollarsMultiplier)) + "x | PCT " + Percent(float64(t.CumulativeDistribution)) +
			"\n" + Number(float64(t.Volume)) + " sh | " + Dollars(float64(t.Dollars)) +
			"\n" + sectorLine(string(t.Sector), string(t.Industry)),
	}
}

// Record dispatches on the record's concrete type.
func Record(r model.Record) Message {
	switch v := r.(type) {
	case model.Touch:
		return Touch(v)
	case model.Trade:
		return Trade(v)
	}
	return Message{Title: r.Kind().Label(), Body: r.Key()}
}
