package model

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// The API is loosely typed: the same column can arrive as a number, a
// numeric string or null depending on the page. Display fields decode
// leniently so that one odd value never drops the row it sits in.

var jsonNull = []byte("null")

// Number is a display-only numeric field. It accepts a JSON number, a
// numeric string or null; anything else decodes as zero.
type Number float64

func (n *Number) UnmarshalJSON(b []byte) error {
	*n = 0
	if f, ok := parseNumber(b); ok {
		*n = Number(f)
	}
	return nil
}

// Int truncates toward zero.
func (n Number) Int() int { return int(n) }

// Text is a display-only string field. Strings are kept verbatim, other
// scalars keep their JSON spelling and null becomes "".
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	*t = Text(rawToken(b))
	return nil
}

// Flag is a display-only boolean. It accepts true/false, numbers (non-zero
// is true) and strings understood by strconv.ParseBool.
type Flag bool

func (f *Flag) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*f = false
	switch {
	case len(b) == 0 || bytes.Equal(b, jsonNull):
	case b[0] == '"':
		var s string
		if json.Unmarshal(b, &s) == nil {
			v, _ := strconv.ParseBool(strings.TrimSpace(s))
			*f = Flag(v)
		}
	case bytes.Equal(b, []byte("true")):
		*f = true
	default:
		if v, ok := parseNumber(b); ok {
			*f = v != 0
		}
	}
	return nil
}

// Rank is a trade-level rank kept as the API rendered it, because it is
// part of the touch identity: null ("null"), 0 ("0") and an absent field
// ("") are three different keys. Numbers are rendered in shortest form,
// so 1 and 1.0 key the same.
type Rank string

func (r *Rank) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, jsonNull) {
		*r = "null"
		return nil
	}
	if len(b) > 0 && b[0] != '"' {
		if f, ok := parseNumber(b); ok {
			*r = Rank(strconv.FormatFloat(f, 'f', -1, 64))
			return nil
		}
	}
	*r = Rank(rawToken(b))
	return nil
}

// Int reports the numeric rank when there is one.
func (r Rank) Int() (int, bool) {
	f, ok := parseNumber([]byte(strings.TrimSpace(string(r))))
	if !ok {
		return 0, false
	}
	return int(f), true
}

func parseNumber(b []byte) (float64, bool) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, jsonNull) {
		return 0, false
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return 0, false
		}
		b = []byte(strings.ReplaceAll(strings.TrimSpace(s), ",", ""))
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// rawToken renders a JSON scalar as text: strings unquoted, null as "",
// everything else verbatim.
func rawToken(b []byte) string {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, jsonNull) {
		return ""
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err == nil {
			return s
		}
	}
	return string(b)
}
