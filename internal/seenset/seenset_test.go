package seenset

import (
	"context"
	"errors"
	"testing"

	"vlwatch/internal/model"
	"vlwatch/internal/storage"
)

func TestGetMissingIsEmptyAndUninitialized(t *testing.T) {
	s := New(storage.NewMemory())
	e, err := s.Get(context.Background(), model.KindTrades, "2026-03-10")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if e.Initialized || e.Size() != 0 || e.Seen == nil {
		t.Fatalf("unexpected entry %+v", e)
	}
}

func TestPutGetReset(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()
	s := New(kv)
	if err := s.Put(ctx, model.KindTouches, "2026-03-10", map[string]bool{"a": true, "b": true}, true); err != nil {
		t.Fatalf("put: %v", err)
	}
	raw, _ := kv.Get(ctx, "seenTouches_2026-03-10", "seenTouches_initialized_2026-03-10")
	if string(raw["seenTouches_initialized_2026-03-10"]) != "true" {
		t.Fatalf("flag layout: %q", raw["seenTouches_initialized_2026-03-10"])
	}
	if string(raw["seenTouches_2026-03-10"]) != `{"a":true,"b":true}` {
		t.Fatalf("seen layout: %s", raw["seenTouches_2026-03-10"])
	}
	e, err := s.Get(ctx, model.KindTouches, "2026-03-10")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !e.Initialized || !e.Seen["a"] || !e.Seen["b"] {
		t.Fatalf("round trip lost data: %+v", e)
	}
	if err := s.Reset(ctx, model.KindTouches, "2026-03-10"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	e, _ = s.Get(ctx, model.KindTouches, "2026-03-10")
	if e.Initialized || e.Size() != 0 {
		t.Fatalf("reset left state behind: %+v", e)
	}
}

func TestEntriesGroupsByKindAndDay(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()
	s := New(kv)
	_ = s.Put(ctx, model.KindTrades, "2026-03-09", map[string]bool{"1": true}, true)
	_ = s.Put(ctx, model.KindTouches, "2026-03-10", map[string]bool{"x": true}, false)
	_ = kv.Set(ctx, map[string][]byte{
		"settings":               []byte(`{}`),
		"seenTrades_initialized": []byte(`true`),
		"seenTrades_2026-03-08":  []byte(`{"7":true}`),
	})
	entries, err := s.Entries(ctx)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %+v", entries)
	}
	if entries[0].Kind != model.KindTouches || entries[0].Day != "2026-03-10" {
		t.Fatalf("unexpected order: %+v", entries)
	}
	if entries[1].Day != "2026-03-08" || entries[1].Initialized {
		t.Fatalf("seen-only entry: %+v", entries[1])
	}
	if entries[2].Day != "2026-03-09" || !entries[2].Initialized {
		t.Fatalf("trades entry: %+v", entries[2])
	}
}

func TestRemoveLegacy(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()
	_ = kv.Set(ctx, map[string][]byte{
		"seenTouches_initialized": []byte(`true`),
		"seenTrades_initialized":  []byte(`true`),
		"seenTrades_2026-03-10":   []byte(`{}`),
	})
	if err := New(kv).RemoveLegacy(ctx); err != nil {
		t.Fatalf("remove legacy: %v", err)
	}
	keys, _ := kv.Keys(ctx)
	if len(keys) != 1 || keys[0] != "seenTrades_2026-03-10" {
		t.Fatalf("unexpected keys %v", keys)
	}
}

func TestCorruptValue(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()
	_ = kv.Set(ctx, map[string][]byte{"seenTrades_2026-03-10": []byte(`[1,2`)})
	if _, err := New(kv).Get(ctx, model.KindTrades, "2026-03-10"); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestParseKey(t *testing.T) {
	cases := []struct {
		key  string
		kind model.Kind
		day  string
		ok   bool
	}{
		{"seenTouches_2026-03-10", model.KindTouches, "2026-03-10", true},
		{"seenTrades_initialized_2026-01-02", model.KindTrades, "2026-01-02", true},
		{"seenTrades_initialized", model.KindUnknown, "", false},
		{"settings", model.KindUnknown, "", false},
		{"seenTrades_yesterday", model.KindUnknown, "", false},
	}
	for _, tc := range cases {
		kind, day, ok := ParseKey(tc.key)
		if kind != tc.kind || day != tc.day || ok != tc.ok {
			t.Fatalf("ParseKey(%q) = %v %q %v", tc.key, kind, day, ok)
		}
	}
}
