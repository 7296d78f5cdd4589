// Package seenset persists, per record kind and calendar day, the dedup
// keys already observed and whether the day's baseline has been seeded.
//
// Layout in the backing store:
//
//	{prefix}_{YYYY-MM-DD}             -> {"<key>": true, ...}
//	{prefix}_initialized_{YYYY-MM-DD} -> true
package seenset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"vlwatch/internal/model"
	"vlwatch/internal/storage"
)

const initializedInfix = "initialized_"

var (
	ErrCorrupt = errors.New("seenset: corrupt stored value")

	reDay = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// Entry is the state of one (kind, day).
type Entry struct {
	Kind        model.Kind      `json:"kind"`
	Day         string          `json:"day"`
	Seen        map[string]bool `json:"-"`
	Initialized bool            `json:"initialized"`
}

// Size is the number of distinct keys recorded for the day.
func (e Entry) Size() int { return len(e.Seen) }

type Store struct {
	kv storage.Store
}

func New(kv storage.Store) *Store {
	return &Store{kv: kv}
}

func SeenKey(kind model.Kind, day string) string {
	return kind.StoragePrefix() + "_" + day
}

func InitializedKey(kind model.Kind, day string) string {
	return kind.StoragePrefix() + "_" + initializedInfix + day
}

// legacyKey is the flag written before state was scoped by day.
func legacyKey(kind model.Kind) string {
	return kind.StoragePrefix() + "_initialized"
}

func (s *Store) Get(ctx context.Context, kind model.Kind, day string) (Entry, error) {
	entry := Entry{Kind: kind, Day: day, Seen: map[string]bool{}}
	seenKey, initKey := SeenKey(kind, day), InitializedKey(kind, day)
	values, err := s.kv.Get(ctx, seenKey, initKey)
	if err != nil {
		return entry, fmt.Errorf("seenset: get %s: %w", seenKey, err)
	}
	if err := decodeEntry(&entry, values[seenKey], values[initKey]); err != nil {
		return entry, fmt.Errorf("%w: %s: %v", ErrCorrupt, seenKey, err)
	}
	return entry, nil
}

// Put writes the seen map and the initialized flag in one atomic call.
func (s *Store) Put(ctx context.Context, kind model.Kind, day string, seen map[string]bool, initialized bool) error {
	if seen == nil {
		seen = map[string]bool{}
	}
	seenJSON, err := json.Marshal(seen)
	if err != nil {
		return err
	}
	flagJSON, _ := json.Marshal(initialized)
	if err := s.kv.Set(ctx, map[string][]byte{
		SeenKey(kind, day):        seenJSON,
		InitializedKey(kind, day): flagJSON,
	}); err != nil {
		return fmt.Errorf("seenset: put %s: %w", SeenKey(kind, day), err)
	}
	return nil
}

func (s *Store) Reset(ctx context.Context, kind model.Kind, day string) error {
	if err := s.kv.Remove(ctx, SeenKey(kind, day), InitializedKey(kind, day)); err != nil {
		return fmt.Errorf("seenset: reset %s: %w", SeenKey(kind, day), err)
	}
	return nil
}

// Entries lists every (kind, day) that has at least one stored key,
// ordered by kind then day. Keys outside the layout are ignored.
func (s *Store) Entries(ctx context.Context) ([]Entry, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("seenset: list keys: %w", err)
	}
	type slot struct {
		kind model.Kind
		day  string
	}
	found := map[slot]bool{}
	for _, key := range keys {
		kind, day, ok := ParseKey(key)
		if ok {
			found[slot{kind, day}] = true
		}
	}
	out := make([]Entry, 0, len(found))
	for sl := range found {
		e, err := s.Get(ctx, sl.kind, sl.day)
		if err != nil && !errors.Is(err, ErrCorrupt) {
			return nil, err
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Day < out[j].Day
	})
	return out, nil
}

// RemoveLegacy deletes the undated initialized flags.
func (s *Store) RemoveLegacy(ctx context.Context) error {
	keys := make([]string, 0, len(model.Kinds))
	for _, k := range model.Kinds {
		keys = append(keys, legacyKey(k))
	}
	return s.kv.Remove(ctx, keys...)
}

// ParseKey maps a storage key back to its kind and day.
func ParseKey(key string) (model.Kind, string, bool) {
	for _, kind := range model.Kinds {
		rest, ok := strings.CutPrefix(key, kind.StoragePrefix()+"_")
		if !ok {
			continue
		}
		rest = strings.TrimPrefix(rest, initializedInfix)
		if !reDay.MatchString(rest) {
			return model.KindUnknown, "", false
		}
		return kind, rest, true
	}
	return model.KindUnknown, "", false
}

func decodeEntry(e *Entry, seenRaw, flagRaw []byte) error {
	if len(seenRaw) > 0 {
		var seen map[string]bool
		if err := json.Unmarshal(seenRaw, &seen); err != nil {
			return err
		}
		if seen != nil {
			e.Seen = seen
		}
	}
	if len(flagRaw) > 0 {
		var flag bool
		if err := json.Unmarshal(flagRaw, &flag); err != nil {
			return err
		}
		e.Initialized = flag
	}
	return nil
}
