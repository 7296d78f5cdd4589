// Package notify turns newly detected records into desktop notifications.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"vlwatch/internal/alerts"
	"vlwatch/internal/config"
	"vlwatch/internal/format"
	"vlwatch/internal/metrics"
	"vlwatch/internal/model"
)

const (
	testTitle = "🔔 Test Notification"
	testBody  = "vlwatch is working!"
)

type Gateway struct {
	logger  *slog.Logger
	history *alerts.Store
	limiter *rate.Limiter
	desktop Sink
	log     Sink
	client  *http.Client
	beep    func(model.AudioCue) error
	sleep   func(context.Context, time.Duration) error
}

func NewGateway(cfg config.NotificationConfig, logger *slog.Logger, history *alerts.Store) *Gateway {
	if history == nil {
		history = alerts.NewStore(cfg.HistoryLimit)
	}
	return &Gateway{
		logger:  logger,
		history: history,
		limiter: rate.NewLimiter(limitOf(cfg.RatePerSecond), burstOf(cfg.Burst)),
		desktop: DesktopSink{},
		log:     LogSink{Logger: logger},
		client:  &http.Client{Timeout: 5 * time.Second},
		beep:    DesktopBeep,
		sleep:   sleepCtx,
	}
}

func (g *Gateway) History() *alerts.Store { return g.history }

// Deliver shows one notification per record, in order, spacing them by
// settings.Delay. A failing sink is logged and the batch continues; the
// joined errors are returned for the caller to log.
func (g *Gateway) Deliver(ctx context.Context, kind model.Kind, records []model.Record, settings config.NotificationConfig) error {
	if !settings.Enabled || len(records) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { metrics.DeliveryLatency.Observe(time.Since(start).Seconds()) }()
	g.limiter.SetLimit(limitOf(settings.RatePerSecond))
	g.limiter.SetBurst(burstOf(settings.Burst))

	var errs []error
	for i, r := range records {
		if i > 0 && settings.Delay > 0 {
			if err := g.sleep(ctx, settings.Delay); err != nil {
				return errors.Join(append(errs, err)...)
			}
		}
		if err := g.limiter.Wait(ctx); err != nil {
			return errors.Join(append(errs, err)...)
		}
		msg := format.Record(r)
		n := model.Notification{
			ID:         uuid.New(),
			Kind:       kind,
			Key:        r.Key(),
			Title:      msg.Title,
			Body:       msg.Body,
			Persistent: settings.Persistent,
			At:         time.Now().UTC(),
		}
		if err := g.send(ctx, n, settings); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Test sends a fixed notification through the configured sinks regardless
// of settings.Enabled.
func (g *Gateway) Test(ctx context.Context, settings config.NotificationConfig) (model.Notification, error) {
	n := model.Notification{
		ID:         uuid.New(),
		Title:      testTitle,
		Body:       testBody,
		Persistent: settings.Persistent,
		At:         time.Now().UTC(),
	}
	return n, g.send(ctx, n, settings)
}

func (g *Gateway) send(ctx context.Context, n model.Notification, settings config.NotificationConfig) error {
	var errs []error
	for _, sink := range g.sinks(settings) {
		if err := sink.Send(ctx, n); err != nil {
			metrics.NotificationErrors.WithLabelValues(sink.Name()).Inc()
			if g.logger != nil {
				g.logger.Error("notification failed", "sink", sink.Name(), "title", n.Title, "err", err)
			}
			errs = append(errs, err)
			continue
		}
		metrics.NotificationsSent.WithLabelValues(sink.Name()).Inc()
	}
	g.history.Add(n)
	if settings.PlaySound && g.beep != nil {
		cue := model.AudioCue{FrequencyHz: settings.SoundFrequency, DurationMs: settings.SoundDuration}
		if err := g.beep(cue); err != nil && g.logger != nil {
			g.logger.Warn("audio cue failed", "err", err)
		}
	}
	return errors.Join(errs...)
}

func (g *Gateway) sinks(settings config.NotificationConfig) []Sink {
	out := []Sink{g.log}
	if settings.Desktop && g.desktop != nil {
		out = append(out, g.desktop)
	}
	if settings.WebhookURL != "" {
		out = append(out, WebhookSink{URL: settings.WebhookURL, Client: g.client})
	}
	return out
}

func limitOf(perSecond float64) rate.Limit {
	if perSecond <= 0 {
		return rate.Inf
	}
	return rate.Limit(perSecond)
}

func burstOf(b int) int {
	if b <= 0 {
		return 1
	}
	return b
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
