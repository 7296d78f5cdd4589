// Package ingest feeds captured API responses and page-load signals from
// the configured sources into the engine's capture channel.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"vlwatch/internal/metrics"
	"vlwatch/internal/model"
)

// SendNonBlocking hands c to the engine or drops it when the channel is
// full. Sources never block on a slow engine.
func SendNonBlocking(ctx context.Context, out chan<- model.Capture, c model.Capture, logger *slog.Logger) bool {
	source := c.Source
	if source == "" {
		source = "unknown"
	}
	select {
	case <-ctx.Done():
		return false
	default:
	}
	select {
	case out <- c:
		metrics.CapturesReceived.WithLabelValues(source).Inc()
		return true
	default:
		metrics.CapturesDropped.WithLabelValues(source).Inc()
		if logger != nil {
			logger.Warn("capture channel full, dropping capture", "url", c.URL, "source", source)
		}
		return false
	}
}

// BackoffSleep waits d (200ms when unset) and reports false if ctx ended
// first.
func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
