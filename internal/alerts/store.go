// Package alerts keeps a bounded, in-memory history of the notifications
// that were sent.
package alerts

import (
	"sync"
	"time"

	"vlwatch/internal/model"
)

const defaultLimit = 500

// Store is a fixed-size ring; once full, each Add overwrites the oldest
// notification.
type Store struct {
	mu    sync.RWMutex
	ring  []model.Notification
	head  int // index of the oldest entry
	count int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = defaultLimit
	}
	return &Store{ring: make([]model.Notification, limit)}
}

func (s *Store) Add(n model.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	size := len(s.ring)
	if s.count < size {
		s.ring[(s.head+s.count)%size] = n
		s.count++
		return
	}
	s.ring[s.head] = n
	s.head = (s.head + 1) % size
}

// List returns the newest limit notifications, oldest first. A limit of
// zero or less returns everything held.
func (s *Store) List(limit int) []model.Notification {
	return s.filter(limit, func(model.Notification) bool { return true })
}

// ListKind is List restricted to one kind.
func (s *Store) ListKind(kind model.Kind, limit int) []model.Notification {
	return s.filter(limit, func(n model.Notification) bool { return n.Kind == kind })
}

func (s *Store) Since(ts time.Time) []model.Notification {
	return s.filter(0, func(n model.Notification) bool { return !n.At.Before(ts) })
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.ring)
	s.head, s.count = 0, 0
}

// filter walks newest to oldest collecting up to limit matches, then
// returns them in chronological order.
func (s *Store) filter(limit int, keep func(model.Notification) bool) []model.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > s.count {
		limit = s.count
	}
	out := make([]model.Notification, 0, limit)
	size := len(s.ring)
	for i := s.count - 1; i >= 0 && len(out) < limit; i-- {
		n := s.ring[(s.head+i)%size]
		if keep(n) {
			out = append(out, n)
		}
	}
	for l, r := 0, len(out)-1; l < r; l, r = l+1, r-1 {
		out[l], out[r] = out[r], out[l]
	}
	return out
}
