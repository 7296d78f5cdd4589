package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gen2brain/beeep"

	"vlwatch/internal/model"
)

// Sink is one place a notification can be shown or forwarded to.
type Sink interface {
	Name() string
	Send(ctx context.Context, n model.Notification) error
}

// DesktopSink raises an OS notification. Persistent notifications use an
// alert so they stay on screen where the platform supports it.
type DesktopSink struct{}

func (DesktopSink) Name() string { return "desktop" }

func (DesktopSink) Send(_ context.Context, n model.Notification) error {
	if n.Persistent {
		return beeep.Alert(n.Title, n.Body, "")
	}
	return beeep.Notify(n.Title, n.Body, "")
}

// DesktopBeep plays the audio cue on the system speaker.
func DesktopBeep(cue model.AudioCue) error {
	return beeep.Beep(cue.FrequencyHz, cue.DurationMs)
}

// WebhookSink posts the notification as JSON.
type WebhookSink struct {
	URL    string
	Client *http.Client
}

func (w WebhookSink) Name() string { return "webhook" }

func (w WebhookSink) Send(ctx context.Context, n model.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// LogSink writes every notification to the log.
type LogSink struct {
	Logger *slog.Logger
}

func (LogSink) Name() string { return "log" }

func (l LogSink) Send(_ context.Context, n model.Notification) error {
	if l.Logger != nil {
		l.Logger.Info("notification", "kind", n.Kind.String(), "key", n.Key, "title", n.Title)
	}
	return nil
}
