package metrics

import (
	"testing"
	"time"

	"vlwatch/internal/model"
)

func TestStoreTallies(t *testing.T) {
	s := NewStore()
	now := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
	s.Snapshot(model.KindTrades, 5, 0, true, now)
	s.Snapshot(model.KindTrades, 6, 1, false, now.Add(time.Minute))
	s.Discarded(model.KindTouches)
	s.StoreError(model.KindTrades)

	st, ok := s.Get(model.KindTrades)
	if !ok {
		t.Fatalf("expected trades stats")
	}
	if st.Snapshots != 2 || st.Records != 11 || st.Fresh != 1 || st.Seeded != 1 || st.StoreErrors != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
	if !st.LastFresh.Equal(now.Add(time.Minute)) {
		t.Fatalf("last fresh %v", st.LastFresh)
	}

	all := s.GetAll()
	if len(all) != len(model.Kinds) {
		t.Fatalf("expected one entry per kind, got %d", len(all))
	}
	if all[0].Kind != model.KindTouches || all[0].Discarded != 1 {
		t.Fatalf("touches stats %+v", all[0])
	}

	s.Clear()
	if _, ok := s.Get(model.KindTrades); ok {
		t.Fatalf("clear kept stats")
	}
}

func TestNilStoreIsNoop(t *testing.T) {
	var s *Store
	s.Discarded(model.KindTouches)
}
