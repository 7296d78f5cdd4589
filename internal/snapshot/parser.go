// Package snapshot decodes captured API response bodies into records.
package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"vlwatch/internal/model"
)

var (
	// ErrMalformed marks a payload that is not an object with a "data" array.
	ErrMalformed = errors.New("snapshot: malformed payload")
	// ErrSingleEntity marks a touches response scoped to one ticker, where
	// the API omits the ticker on every row.
	ErrSingleEntity = errors.New("snapshot: single-entity response")
)

type envelope struct {
	Data json.RawMessage `json:"data"`
}

// Parse decodes payload into the ordered records of kind. It never panics;
// callers treat any error as an empty snapshot.
func Parse(kind model.Kind, payload []byte) ([]model.Record, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || payload[0] != '{' {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformed)
	}
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || data[0] != '[' {
		return nil, fmt.Errorf("%w: data is not an array", ErrMalformed)
	}
	switch kind {
	case model.KindTouches:
		return parseTouches(data)
	case model.KindTrades:
		return parseTrades(data)
	default:
		return nil, &model.UnknownKindError{Name: kind.String()}
	}
}

// decodeRows decodes each row on its own so one undecodable row drops only
// itself. The payload is malformed only when no row decodes at all.
func decodeRows[T any](data []byte) ([]T, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	rows := make([]T, 0, len(raw))
	var firstErr error
	for _, r := range raw {
		var row T
		if err := json.Unmarshal(r, &row); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 && firstErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, firstErr)
	}
	return rows, nil
}

func parseTouches(data []byte) ([]model.Record, error) {
	rows, err := decodeRows[model.Touch](data)
	if err != nil {
		return nil, err
	}
	out := make([]model.Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, r)
	}
	if IsSingleEntity(out) {
		return nil, ErrSingleEntity
	}
	return out, nil
}

func parseTrades(data []byte) ([]model.Record, error) {
	rows, err := decodeRows[model.Trade](data)
	if err != nil {
		return nil, err
	}
	out := make([]model.Record, 0, len(rows))
	for _, r := range rows {
		if r.TradeID == "" {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// IsSingleEntity reports whether records is a non-empty touches snapshot
// in which no row names its ticker.
func IsSingleEntity(records []model.Record) bool {
	if len(records) == 0 {
		return false
	}
	for _, r := range records {
		t, ok := r.(model.Touch)
		if !ok || t.Ticker != nil {
			return false
		}
	}
	return true
}
