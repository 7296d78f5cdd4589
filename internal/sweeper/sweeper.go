// Package sweeper expires seen-set entries older than the retention
// horizon.
package sweeper

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"vlwatch/internal/metrics"
	"vlwatch/internal/model"
	"vlwatch/internal/seenset"
)

const (
	DefaultHorizonDays = 2
	DefaultInterval    = 60 * time.Minute
)

type Sweeper struct {
	seen     *seenset.Store
	clock    model.Clock
	logger   *slog.Logger
	settings atomic.Pointer[settings]
}

// settings are swapped whole so a sweep never mixes an old timezone with a
// new horizon.
type settings struct {
	loc         *time.Location
	horizonDays int
	interval    time.Duration
}

func New(seen *seenset.Store, clock model.Clock, loc *time.Location, horizonDays int, interval time.Duration, logger *slog.Logger) *Sweeper {
	if clock == nil {
		clock = model.SystemClock{}
	}
	s := &Sweeper{seen: seen, clock: clock, logger: logger}
	s.Configure(loc, horizonDays, interval)
	return s
}

// Configure replaces the timezone, horizon and interval. It is safe to
// call while Run is active; a new interval takes effect after the
// current tick.
func (s *Sweeper) Configure(loc *time.Location, horizonDays int, interval time.Duration) {
	if loc == nil {
		loc = time.Local
	}
	if horizonDays <= 0 {
		horizonDays = DefaultHorizonDays
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	s.settings.Store(&settings{loc: loc, horizonDays: horizonDays, interval: interval})
}

// Sweep removes every entry whose age in calendar days is at least the
// horizon and returns how many (kind, day) entries were removed. Entries
// with an unparseable day are left alone.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	entries, err := s.seen.Entries(ctx)
	if err != nil {
		return 0, err
	}
	cur := s.settings.Load()
	today := model.DayOf(s.clock.Now(), cur.loc)
	removed := 0
	for _, e := range entries {
		age, err := model.DayAge(e.Day, today, cur.loc)
		if err != nil || age < cur.horizonDays {
			continue
		}
		if err := s.seen.Reset(ctx, e.Kind, e.Day); err != nil {
			return removed, err
		}
		removed++
		if s.logger != nil {
			s.logger.Debug("seen-set expired", "kind", e.Kind.String(), "day", e.Day, "age_days", age)
		}
	}
	metrics.EntriesSwept.Add(float64(removed))
	return removed, nil
}

// Run removes the legacy flags, sweeps once, then sweeps every interval
// until ctx is done. Failures are logged and the loop continues.
func (s *Sweeper) Run(ctx context.Context) {
	if err := s.seen.RemoveLegacy(ctx); err != nil && s.logger != nil {
		s.logger.Warn("legacy key cleanup failed", "err", err)
	}
	s.sweepAndLog(ctx)
	interval := s.settings.Load().interval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweepAndLog(ctx)
			if next := s.settings.Load().interval; next != interval {
				interval = next
				ticker.Reset(interval)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sweeper) sweepAndLog(ctx context.Context) {
	n, err := s.Sweep(ctx)
	if s.logger == nil {
		return
	}
	if err != nil {
		s.logger.Warn("retention sweep failed", "err", err)
		return
	}
	if n > 0 {
		s.logger.Info("retention sweep", "removed", n, "horizon_days", s.settings.Load().horizonDays)
	}
}
