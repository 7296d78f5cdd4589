package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"

	"vlwatch/internal/config"
	"vlwatch/internal/metrics"
	"vlwatch/internal/model"
	"vlwatch/internal/seenset"
	"vlwatch/internal/snapshot"
)

var ErrUnknownKind = errors.New("engine: unknown record kind")

// Notifier receives the records of one snapshot that were not seen before.
// It is called after the seen-set has been committed and outside the kind
// lock, so a slow or failing notifier never blocks detection.
type Notifier interface {
	Deliver(ctx context.Context, kind model.Kind, records []model.Record, settings config.NotificationConfig) error
}

type Engine struct {
	logger   *slog.Logger
	metrics  *metrics.Store
	seen     *seenset.Store
	notifier Notifier
	clock    model.Clock
	cfg      atomic.Value
	locks    map[model.Kind]chan struct{}
	wg       conc.WaitGroup
	started  time.Time
}

// KindStatus is today's state for one kind.
type KindStatus struct {
	Kind        model.Kind        `json:"kind"`
	Day         string            `json:"day"`
	Initialized bool              `json:"initialized"`
	Seen        int               `json:"seen"`
	Stats       metrics.KindStats `json:"stats"`
}

func NewEngine(cfg *config.Config, logger *slog.Logger, seen *seenset.Store, notifier Notifier, clock model.Clock, metricsStore *metrics.Store) *Engine {
	if clock == nil {
		clock = model.SystemClock{}
	}
	if metricsStore == nil {
		metricsStore = metrics.NewStore()
	}
	e := &Engine{
		logger:   logger,
		metrics:  metricsStore,
		seen:     seen,
		notifier: notifier,
		clock:    clock,
		locks:    make(map[model.Kind]chan struct{}, len(model.Kinds)),
		started:  time.Now().UTC(),
	}
	for _, kind := range model.Kinds {
		e.locks[kind] = make(chan struct{}, 1)
	}
	e.cfg.Store(cfg)
	return e
}

func (e *Engine) UpdateConfig(cfg *config.Config) {
	e.cfg.Store(cfg)
}

func (e *Engine) config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		if cfg, ok := v.(*config.Config); ok && cfg != nil {
			return cfg
		}
	}
	return config.DefaultConfig()
}

// Today is the current calendar day in the configured timezone.
func (e *Engine) Today() string {
	return model.DayOf(e.clock.Now(), e.config().Location())
}

func (e *Engine) Started() time.Time { return e.started }

// Start dispatches every capture from in on its own goroutine until ctx is
// done or in is closed. Snapshots of the same kind serialize on the kind
// lock; Wait blocks until in-flight captures finish.
func (e *Engine) Start(ctx context.Context, in <-chan model.Capture) {
	e.wg.Go(func() {
		for {
			select {
			case c, ok := <-in:
				if !ok {
					return
				}
				e.wg.Go(func() {
					if err := e.Handle(ctx, c); err != nil && e.logger != nil {
						e.logger.Error("capture failed", "url", c.URL, "source", c.Source, "err", err)
					}
				})
			case <-ctx.Done():
				return
			}
		}
	})
}

func (e *Engine) Wait() {
	e.wg.Wait()
}

// Handle routes one capture. Responses for unwatched URLs are ignored and
// undecodable bodies count as empty snapshots; only storage failures are
// returned.
func (e *Engine) Handle(ctx context.Context, c model.Capture) error {
	if c.Event == model.EventPageLoad {
		kind, ok := model.KindForPage(c.URL)
		if !ok {
			return nil
		}
		return e.Reset(ctx, kind)
	}
	kind, ok := model.KindForURL(c.URL)
	if !ok {
		return nil
	}
	records, err := snapshot.Parse(kind, []byte(c.Body))
	switch {
	case errors.Is(err, snapshot.ErrSingleEntity):
		e.metrics.Discarded(kind)
		return nil
	case err != nil:
		e.metrics.ParseError(kind)
		if e.logger != nil {
			e.logger.Warn("snapshot parse failed", "kind", kind.String(), "source", c.Source, "err", err)
		}
		return nil
	}
	_, err = e.Process(ctx, kind, records)
	return err
}

// Process commits records to today's seen-set for kind and returns the
// ones that were new, in snapshot order. While the day is uninitialized
// the snapshot only seeds the baseline and nothing is returned.
func (e *Engine) Process(ctx context.Context, kind model.Kind, records []model.Record) ([]model.Record, error) {
	if !kind.Valid() {
		return nil, ErrUnknownKind
	}
	if len(records) == 0 {
		return nil, nil
	}
	if kind == model.KindTouches && snapshot.IsSingleEntity(records) {
		e.metrics.Discarded(kind)
		return nil, nil
	}
	cfg := e.config()
	day := model.DayOf(e.clock.Now(), cfg.Location())
	fresh, seeded, err := e.commit(ctx, kind, day, records)
	if err != nil {
		e.metrics.StoreError(kind)
		return nil, err
	}
	e.metrics.Snapshot(kind, len(records), len(fresh), seeded, e.clock.Now())
	if e.logger != nil {
		if seeded {
			e.logger.Info("baseline seeded", "kind", kind.String(), "day", day, "records", len(records))
		} else if len(fresh) > 0 {
			e.logger.Info("new records", "kind", kind.String(), "day", day, "fresh", len(fresh), "records", len(records))
		}
	}
	if len(fresh) > 0 && e.notifier != nil {
		if err := e.notifier.Deliver(ctx, kind, fresh, cfg.Notifications); err != nil && e.logger != nil {
			e.logger.Error("notification delivery failed", "kind", kind.String(), "err", err)
		}
	}
	return fresh, nil
}

// commit is the read-modify-write of one snapshot under the kind lock.
func (e *Engine) commit(ctx context.Context, kind model.Kind, day string, records []model.Record) ([]model.Record, bool, error) {
	if err := e.lock(ctx, kind); err != nil {
		return nil, false, err
	}
	defer e.unlock(kind)

	entry, err := e.seen.Get(ctx, kind, day)
	if errors.Is(err, seenset.ErrCorrupt) {
		// Start over as if the day had never been seen; Put overwrites both keys.
		if e.logger != nil {
			e.logger.Warn("seen-set corrupt, reseeding", "kind", kind.String(), "day", day, "err", err)
		}
		entry = seenset.Entry{Kind: kind, Day: day, Seen: map[string]bool{}}
	} else if err != nil {
		return nil, false, err
	}

	updated := maps.Clone(entry.Seen)
	if updated == nil {
		updated = make(map[string]bool, len(records))
	}
	var fresh []model.Record
	for _, r := range records {
		key := r.Key()
		if key == "" || updated[key] {
			continue
		}
		updated[key] = true
		if entry.Initialized {
			fresh = append(fresh, r)
		}
	}
	if err := e.seen.Put(ctx, kind, day, updated, true); err != nil {
		return nil, false, err
	}
	return fresh, !entry.Initialized, nil
}

// Reset forgets today's state for kind; the next snapshot reseeds.
func (e *Engine) Reset(ctx context.Context, kind model.Kind) error {
	if !kind.Valid() {
		return ErrUnknownKind
	}
	if err := e.lock(ctx, kind); err != nil {
		return err
	}
	defer e.unlock(kind)
	day := e.Today()
	if err := e.seen.Reset(ctx, kind, day); err != nil {
		e.metrics.StoreError(kind)
		return err
	}
	e.metrics.Reset(kind)
	if e.logger != nil {
		e.logger.Info("state reset", "kind", kind.String(), "day", day)
	}
	return nil
}

// Status reports today's entry per kind alongside the running stats.
func (e *Engine) Status(ctx context.Context) ([]KindStatus, error) {
	day := e.Today()
	out := make([]KindStatus, 0, len(model.Kinds))
	for _, kind := range model.Kinds {
		entry, err := e.seen.Get(ctx, kind, day)
		if err != nil && !errors.Is(err, seenset.ErrCorrupt) {
			return nil, fmt.Errorf("engine: status %s: %w", kind, err)
		}
		stats, _ := e.metrics.Get(kind)
		out = append(out, KindStatus{
			Kind:        kind,
			Day:         day,
			Initialized: entry.Initialized,
			Seen:        entry.Size(),
			Stats:       stats,
		})
	}
	return out, nil
}

func (e *Engine) Metrics() *metrics.Store { return e.metrics }

func (e *Engine) lock(ctx context.Context, kind model.Kind) error {
	select {
	case e.locks[kind] <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("engine: waiting for %s lock: %w", kind, ctx.Err())
	}
}

func (e *Engine) unlock(kind model.Kind) {
	<-e.locks[kind]
}
