package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"vlwatch/internal/model"
	"vlwatch/internal/normalize"
)

var ErrNotJSON = errors.New("capture line is not JSON")

// Parser decodes capture lines and message payloads.
type Parser struct {
	now func() time.Time
}

func NewParser() *Parser {
	return &Parser{now: time.Now}
}

// ParseLine decodes one JSON capture. Blank lines yield nil.
func (p *Parser) ParseLine(line string) (*normalize.CaptureFields, error) {
	trim := strings.TrimSpace(line)
	if trim == "" {
		return nil, nil
	}
	if !looksLikeJSON(trim) || trim[0] != '{' {
		return nil, ErrNotJSON
	}
	return ParseJSONBytes([]byte(trim))
}

// ParseCaptures decodes either one capture object or an array of them and
// normalizes each; entries that fail are counted, not returned.
func (p *Parser) ParseCaptures(data []byte, source string) ([]model.Capture, int, error) {
	trim := bytes.TrimSpace(data)
	if len(trim) == 0 {
		return nil, 0, ErrNotJSON
	}
	var objs []map[string]json.RawMessage
	switch trim[0] {
	case '[':
		if err := json.Unmarshal(trim, &objs); err != nil {
			return nil, 0, err
		}
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trim, &obj); err != nil {
			return nil, 0, err
		}
		objs = append(objs, obj)
	default:
		return nil, 0, ErrNotJSON
	}
	out := make([]model.Capture, 0, len(objs))
	failed := 0
	for _, obj := range objs {
		c, err := p.normalize(ParseJSONMap(obj), source)
		if err != nil {
			failed++
			continue
		}
		out = append(out, c)
	}
	return out, failed, nil
}

func (p *Parser) normalize(fields *normalize.CaptureFields, source string) (model.Capture, error) {
	if fields.Source == "" {
		fields.Source = source
	}
	return normalize.Normalize(*fields, p.now())
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}
