package ingest

import (
	"bytes"
	"encoding/json"
	"strings"

	"vlwatch/internal/normalize"
)

// ParseJSONBytes reads one capture object. Two shapes are understood: the
// flat envelope {"event","url","body","at","source"} and a HAR entry
// {"startedDateTime","request":{"url"},"response":{"content":{"text"}}}.
func ParseJSONBytes(data []byte) (*normalize.CaptureFields, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	return ParseJSONMap(obj), nil
}

func ParseJSONMap(obj map[string]json.RawMessage) *normalize.CaptureFields {
	lower := make(map[string]json.RawMessage, len(obj))
	for k, v := range obj {
		lower[strings.ToLower(k)] = v
	}
	if req, ok := lower["request"]; ok {
		if fields := parseHAREntry(lower, req); fields != nil {
			return fields
		}
	}
	return &normalize.CaptureFields{
		Event:     firstString(lower, "event", "type", "kind"),
		URL:       firstString(lower, "url", "request_url", "href"),
		Body:      firstBody(lower, "body", "response", "text", "payload"),
		Timestamp: firstString(lower, "at", "timestamp", "time", "ts"),
		Source:    firstString(lower, "source"),
	}
}

type harEntry struct {
	Request struct {
		URL string `json:"url"`
	} `json:"request"`
	Response struct {
		Content struct {
			Text string `json:"text"`
		} `json:"content"`
	} `json:"response"`
}

func parseHAREntry(lower map[string]json.RawMessage, req json.RawMessage) *normalize.CaptureFields {
	var entry harEntry
	if err := json.Unmarshal(req, &entry.Request); err != nil || entry.Request.URL == "" {
		return nil
	}
	if resp, ok := lower["response"]; ok {
		_ = json.Unmarshal(resp, &entry.Response)
	}
	return &normalize.CaptureFields{
		URL:       entry.Request.URL,
		Body:      entry.Response.Content.Text,
		Timestamp: firstString(lower, "starteddatetime"),
		Source:    "har",
	}
}

// firstString returns the first key holding a JSON string or number.
func firstString(m map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		raw := bytes.TrimSpace(m[k])
		if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
			continue
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil {
			return n.String()
		}
	}
	return ""
}

// firstBody accepts the response either as a string or inline JSON.
func firstBody(m map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		raw := bytes.TrimSpace(m[k])
		if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
			continue
		}
		if raw[0] == '"' {
			var s string
			if err := json.Unmarshal(raw, &s); err == nil {
				return s
			}
			continue
		}
		return string(raw)
	}
	return ""
}
