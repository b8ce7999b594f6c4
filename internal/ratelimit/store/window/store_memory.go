package window

import (
	"context"
	"sync"
	"time"

	"optin/internal/ratelimit/models"
)

// InMemoryStore implements fixed-width windows anchored at each key's first
// use. Not shared across processes; the limiter uses it as the fallback when
// the shared backend is unavailable, and as the primary in single-node setups.
type InMemoryStore struct {
	mu      sync.Mutex
	windows map[string]*fixedWindow
	clock   func() time.Time
}

// fixedWindow is the O(1) per-key state: start of the current window and the
// number of calls counted in it.
type fixedWindow struct {
	start  time.Time
	count  int
	window time.Duration
}

type Option func(*InMemoryStore)

// WithClock sets the clock function for testability.
func WithClock(clock func() time.Time) Option {
	return func(s *InMemoryStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New creates an in-memory window store.
func New(opts ...Option) *InMemoryStore {
	s := &InMemoryStore{
		windows: make(map[string]*fixedWindow),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Allow counts one call against key. A new window opens when none exists or
// the current one is at least window old. Every call increments the count;
// the call is allowed iff the count before incrementing was below limit.
func (s *InMemoryStore) Allow(_ context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error) {
	now := s.clock()
	if limit <= 0 || window <= 0 {
		return models.Unlimited(now), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.windows[key]
	if w == nil || now.Sub(w.start) >= window {
		w = &fixedWindow{start: now, window: window}
		s.windows[key] = w
	}
	w.count++
	return models.NewResult(w.count, limit, w.start, window, now), nil
}

// Reset clears the counter for a key.
func (s *InMemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, key)
	return nil
}

// GetCurrentCount returns the count in the key's live window.
func (s *InMemoryStore) GetCurrentCount(_ context.Context, key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.windows[key]
	if w == nil || s.clock().Sub(w.start) >= w.window {
		return 0, nil
	}
	return w.count, nil
}

// Prune drops windows that have elapsed so idle keys do not accumulate.
func (s *InMemoryStore) Prune(_ context.Context) (int, error) {
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, w := range s.windows {
		if now.Sub(w.start) >= w.window {
			delete(s.windows, key)
			removed++
		}
	}
	return removed, nil
}
