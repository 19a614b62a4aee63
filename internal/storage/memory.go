package storage

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/SmitUplenchwar2687/txreplay/internal/clock"
)

// MemoryStorage is an in-process counter store backed by a map.
// It uses a Clock for expiration checks so tests can run on virtual time.
// Expired items are swept by Increment once the earliest expiry has passed,
// so per-window keys do not accumulate on a long-running server.
// Thread-safe for concurrent use.
type MemoryStorage struct {
	mu         sync.RWMutex
	items      map[string]memItem
	clock      clock.Clock
	nextExpiry time.Time // earliest expiresAt among items; zero when none expire
}

type memItem struct {
	value     int64
	expiresAt time.Time // zero value means no expiration
}

// NewMemoryStorage creates a new in-memory storage using the given clock.
func NewMemoryStorage(c clock.Clock) *MemoryStorage {
	return &MemoryStorage{
		items: make(map[string]memItem),
		clock: c,
	}
}

func (s *MemoryStorage) live(item memItem, now time.Time) bool {
	return item.expiresAt.IsZero() || now.Before(item.expiresAt)
}

func (s *MemoryStorage) Increment(_ context.Context, key string, delta int64, exp time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if !s.nextExpiry.IsZero() && !now.Before(s.nextExpiry) {
		s.sweep(now)
	}

	item, ok := s.items[key]
	if !ok || !s.live(item, now) {
		item = memItem{}
		if exp > 0 {
			item.expiresAt = now.Add(exp)
			if s.nextExpiry.IsZero() || item.expiresAt.Before(s.nextExpiry) {
				s.nextExpiry = item.expiresAt
			}
		}
	}

	item.value += delta
	s.items[key] = item
	return item.value, nil
}

func (s *MemoryStorage) Counter(_ context.Context, key string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[key]
	if !ok || !s.live(item, s.clock.Now()) {
		return 0, nil
	}
	return item.value, nil
}

func (s *MemoryStorage) Counters(_ context.Context, prefix string) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.clock.Now()
	out := make(map[string]int64)
	for key, item := range s.items {
		if strings.HasPrefix(key, prefix) && s.live(item, now) {
			out[key] = item.value
		}
	}
	return out, nil
}

func (s *MemoryStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items, key)
	return nil
}

// Cleanup removes all expired items.
func (s *MemoryStorage) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep(s.clock.Now())
}

// sweep deletes expired items and recomputes nextExpiry. Callers hold mu.
func (s *MemoryStorage) sweep(now time.Time) {
	s.nextExpiry = time.Time{}
	for key, item := range s.items {
		switch {
		case !s.live(item, now):
			delete(s.items, key)
		case !item.expiresAt.IsZero() && (s.nextExpiry.IsZero() || item.expiresAt.Before(s.nextExpiry)):
			s.nextExpiry = item.expiresAt
		}
	}
}

// Len returns the number of items (including expired ones not yet cleaned up).
func (s *MemoryStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *MemoryStorage) Close() error { return nil }
