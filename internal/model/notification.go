package model

import (
	"time"

	"github.com/google/uuid"
)

// Notification is one rendered desktop notification.
type Notification struct {
	ID         uuid.UUID `json:"id"`
	Kind       Kind      `json:"kind"`
	Key        string    `json:"key,omitempty"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	Persistent bool      `json:"persistent"`
	At         time.Time `json:"at"`
}

// AudioCue is the tone played alongside a notification.
type AudioCue struct {
	FrequencyHz float64 `json:"frequency_hz"`
	DurationMs  int     `json:"duration_ms"`
}
