// Package normalize turns loosely shaped capture fields from any ingest
// source into a model.Capture.
package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"vlwatch/internal/model"
)

var (
	ErrMissingURL = errors.New("capture has no url")
	ErrEmptyBody  = errors.New("response capture has no body")
)

// CaptureFields are the raw string fields a source extracted from one
// message. Body is the response text exactly as captured.
type CaptureFields struct {
	Event     string
	URL       string
	Body      string
	Timestamp string
	Source    string
}

func Normalize(fields CaptureFields, now time.Time) (model.Capture, error) {
	url := strings.TrimSpace(fields.URL)
	if url == "" {
		return model.Capture{}, ErrMissingURL
	}
	event := ParseEvent(fields.Event)
	if event == model.EventResponse && strings.TrimSpace(fields.Body) == "" {
		return model.Capture{}, ErrEmptyBody
	}
	at := now.UTC()
	if fields.Timestamp != "" {
		parsed, err := ParseTimestamp(fields.Timestamp)
		if err != nil {
			return model.Capture{}, fmt.Errorf("parse timestamp: %w", err)
		}
		at = parsed.UTC()
	}
	return model.Capture{
		Event:  event,
		URL:    url,
		Body:   fields.Body,
		Source: strings.TrimSpace(fields.Source),
		At:     at,
	}, nil
}

// ParseEvent maps the names browsers and capture tools use onto the two
// events the engine understands. Anything unrecognised is a response.
func ParseEvent(event string) model.Event {
	switch strings.ToLower(strings.TrimSpace(event)) {
	case "page_load", "pageload", "load", "navigate", "navigation", "domcontentloaded":
		return model.EventPageLoad
	}
	return model.EventResponse
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05.000Z0700",
}

// ParseTimestamp accepts RFC 3339 variants and unix seconds or
// milliseconds. Zone-less layouts are read as UTC.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	if len(value) >= 13 {
		return time.UnixMilli(n).UTC(), nil
	}
	return time.Unix(n, 0).UTC(), nil
}
