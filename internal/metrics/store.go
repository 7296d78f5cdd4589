package metrics

import (
	"sync"
	"time"

	"vlwatch/internal/model"
)

// KindStats is the running tally for one record kind since process start
// (or the last Clear).
type KindStats struct {
	Kind         model.Kind `json:"kind"`
	Snapshots    int64      `json:"snapshots"`
	Records      int64      `json:"records"`
	Fresh        int64      `json:"fresh"`
	Seeded       int64      `json:"seeded"`
	Discarded    int64      `json:"discarded"`
	ParseErrors  int64      `json:"parse_errors"`
	StoreErrors  int64      `json:"store_errors"`
	Resets       int64      `json:"resets"`
	LastSnapshot time.Time  `json:"last_snapshot,omitempty"`
	LastFresh    time.Time  `json:"last_fresh,omitempty"`
}

type Store struct {
	mu     sync.RWMutex
	byKind map[model.Kind]*KindStats
}

func NewStore() *Store {
	return &Store{byKind: make(map[model.Kind]*KindStats)}
}

// Snapshot records one committed snapshot. seeded is true when the day
// was not yet initialized and nothing was reported.
func (s *Store) Snapshot(kind model.Kind, records, fresh int, seeded bool, at time.Time) {
	s.update(kind, func(st *KindStats) {
		st.Snapshots++
		st.Records += int64(records)
		st.Fresh += int64(fresh)
		if seeded {
			st.Seeded++
		}
		st.LastSnapshot = at
		if fresh > 0 {
			st.LastFresh = at
		}
	})
	SnapshotsProcessed.WithLabelValues(kind.String()).Inc()
	RecordsFresh.WithLabelValues(kind.String()).Add(float64(fresh))
	if seeded {
		SeedPasses.WithLabelValues(kind.String()).Inc()
	}
}

func (s *Store) Discarded(kind model.Kind) {
	s.update(kind, func(st *KindStats) { st.Discarded++ })
	SnapshotsDiscarded.WithLabelValues(kind.String()).Inc()
}

func (s *Store) ParseError(kind model.Kind) {
	s.update(kind, func(st *KindStats) { st.ParseErrors++ })
	ParseErrors.WithLabelValues(kind.String()).Inc()
}

func (s *Store) StoreError(kind model.Kind) {
	s.update(kind, func(st *KindStats) { st.StoreErrors++ })
	StoreErrors.WithLabelValues(kind.String()).Inc()
}

func (s *Store) Reset(kind model.Kind) {
	s.update(kind, func(st *KindStats) { st.Resets++ })
	Resets.WithLabelValues(kind.String()).Inc()
}

func (s *Store) Get(kind model.Kind) (KindStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.byKind[kind]
	if !ok {
		return KindStats{Kind: kind}, false
	}
	return *st, true
}

// GetAll returns one entry per known kind, zero-valued when unused.
func (s *Store) GetAll() []KindStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]KindStats, 0, len(model.Kinds))
	for _, kind := range model.Kinds {
		if st, ok := s.byKind[kind]; ok {
			out = append(out, *st)
			continue
		}
		out = append(out, KindStats{Kind: kind})
	}
	return out
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byKind = make(map[model.Kind]*KindStats)
}

func (s *Store) update(kind model.Kind, fn func(*KindStats)) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.byKind[kind]
	if !ok {
		st = &KindStats{Kind: kind}
		s.byKind[kind] = st
	}
	fn(st)
}
