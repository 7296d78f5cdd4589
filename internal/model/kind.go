package model

import (
	"regexp"
	"strconv"
	"strings"
)

// Kind identifies one of the record families the watcher understands.
// The set is closed: every Kind carries its own API path, page pattern
// and storage prefix in kindSpecs.
type Kind int

const (
	KindUnknown Kind = iota
	KindTouches
	KindTrades
)

// Kinds lists every supported kind in a stable order.
var Kinds = []Kind{KindTouches, KindTrades}

type kindSpec struct {
	name    string
	label   string
	apiPath string
	prefix  string
	page    *regexp.Regexp
}

var kindSpecs = map[Kind]kindSpec{
	KindTouches: {
		name:    "touches",
		label:   "Trade Level Touches",
		apiPath: "/TradeLevelTouches/GetTradeLevelTouches",
		prefix:  "seenTouches",
		page:    regexp.MustCompile(`(?i)volumeleaders\.com/TradeLevelTouches`),
	},
	KindTrades: {
		name:    "trades",
		label:   "Block Trades",
		apiPath: "/Trades/GetTrades",
		prefix:  "seenTrades",
		page:    regexp.MustCompile(`(?i)volumeleaders\.com/Trades`),
	},
}

func (k Kind) Valid() bool {
	_, ok := kindSpecs[k]
	return ok
}

func (k Kind) String() string {
	if s, ok := kindSpecs[k]; ok {
		return s.name
	}
	return "unknown"
}

// Label is the human readable name used in logs and the status endpoint.
func (k Kind) Label() string {
	return kindSpecs[k].label
}

// APIPath is the URL fragment of the background request that returns
// snapshots of this kind.
func (k Kind) APIPath() string {
	return kindSpecs[k].apiPath
}

// StoragePrefix namespaces the persisted seen-set keys of this kind.
func (k Kind) StoragePrefix() string {
	return kindSpecs[k].prefix
}

// MatchesPage reports whether pageURL is the watched page for this kind.
func (k Kind) MatchesPage(pageURL string) bool {
	s, ok := kindSpecs[k]
	if !ok || pageURL == "" {
		return false
	}
	return s.page.MatchString(pageURL)
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, ok := ParseKind(string(b))
	if !ok {
		return &UnknownKindError{Name: string(b)}
	}
	*k = parsed
	return nil
}

// ParseKind accepts a kind name ("touches") or its storage prefix
// ("seenTouches"), case-insensitively.
func ParseKind(s string) (Kind, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, k := range Kinds {
		spec := kindSpecs[k]
		if s == spec.name || s == strings.ToLower(spec.prefix) {
			return k, true
		}
	}
	return KindUnknown, false
}

// KindForURL finds the kind whose API path occurs in the request URL.
func KindForURL(url string) (Kind, bool) {
	for _, k := range Kinds {
		if strings.Contains(url, kindSpecs[k].apiPath) {
			return k, true
		}
	}
	return KindUnknown, false
}

// KindForPage finds the kind whose watched page matches pageURL.
func KindForPage(pageURL string) (Kind, bool) {
	for _, k := range Kinds {
		if k.MatchesPage(pageURL) {
			return k, true
		}
	}
	return KindUnknown, false
}

type UnknownKindError struct {
	Name string
}

func (e *UnknownKindError) Error() string {
	return "unknown record kind " + strconv.Quote(e.Name)
}
