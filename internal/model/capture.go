package model

import "time"

type Event string

const (
	// EventResponse carries the body of a captured background request.
	EventResponse Event = "response"
	// EventPageLoad signals that a watched page finished (re)loading.
	EventPageLoad Event = "page_load"
)

// Capture is what every ingest source hands to the engine.
type Capture struct {
	Event  Event     `json:"event"`
	URL    string    `json:"url"`
	Body   string    `json:"body,omitempty"`
	Source string    `json:"source,omitempty"`
	At     time.Time `json:"at"`
}
