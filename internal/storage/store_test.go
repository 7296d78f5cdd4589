package storage

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"vlwatch/internal/config"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	if err := s.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer s.Close()

	if err := s.Set(ctx, map[string][]byte{
		"seenTrades_2026-03-10":             []byte(`{"1":true}`),
		"seenTrades_initialized_2026-03-10": []byte(`true`),
	}); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := s.Get(ctx, "seenTrades_2026-03-10", "seenTrades_initialized_2026-03-10", "missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 values, got %d", len(got))
	}
	if string(got["seenTrades_initialized_2026-03-10"]) != "true" {
		t.Fatalf("unexpected flag value %q", got["seenTrades_initialized_2026-03-10"])
	}

	if err := s.Set(ctx, map[string][]byte{"seenTrades_2026-03-10": []byte(`{"1":true,"2":true}`)}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, _ = s.Get(ctx, "seenTrades_2026-03-10")
	if len(got["seenTrades_2026-03-10"]) == 0 {
		t.Fatalf("overwrite lost the value")
	}

	keys, err := s.Keys(ctx)
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	want := []string{"seenTrades_2026-03-10", "seenTrades_initialized_2026-03-10"}
	if !reflect.DeepEqual(keys, want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}

	if err := s.Remove(ctx, want...); err != nil {
		t.Fatalf("remove: %v", err)
	}
	keys, _ = s.Keys(ctx)
	if len(keys) != 0 {
		t.Fatalf("expected empty store, got %v", keys)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestSQLiteStore(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "kv.db") + "?_pragma=busy_timeout(5000)"
	s, err := NewSQLite(dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	exerciseStore(t, s)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := NewRedis("redis://"+mr.Addr()+"/0", "test:")
	if err != nil {
		t.Fatalf("open redis: %v", err)
	}
	exerciseStore(t, s)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("VLWATCH_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VLWATCH_TEST_POSTGRES_DSN not set")
	}
	s, err := NewPostgres(dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	_ = s.Remove(context.Background(), "seenTrades_2026-03-10", "seenTrades_initialized_2026-03-10")
	exerciseStore(t, s)
}

func TestNewStoreDrivers(t *testing.T) {
	s, err := NewStore(config.StorageConfig{Driver: "memory"})
	if err != nil || s == nil {
		t.Fatalf("memory driver: %v", err)
	}
	if _, err := NewStore(config.StorageConfig{Driver: "etcd"}); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}
