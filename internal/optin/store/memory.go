package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"optin/internal/optin/models"
	"optin/pkg/platform/sentinel"
)

// InMemoryStore keeps records keyed by token. Every method holds the mutex
// for its whole read-check-write, which is what makes Put's status check a
// compare-and-set.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*models.OptInRecord
	// retired holds tokens of deleted records so they are never reissued.
	retired map[string]struct{}
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[string]*models.OptInRecord),
		retired: make(map[string]struct{}),
	}
}

func (s *InMemoryStore) Get(_ context.Context, token string) (*models.OptInRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[token]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *InMemoryStore) Put(_ context.Context, rec *models.OptInRecord, expected *models.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.records[rec.Token]
	if expected == nil {
		if exists {
			return false, nil
		}
		if _, gone := s.retired[rec.Token]; gone {
			return false, nil
		}
		s.records[rec.Token] = rec.Clone()
		return true, nil
	}

	if !exists || current.Status != *expected {
		return false, nil
	}
	s.records[rec.Token] = rec.Clone()
	return true, nil
}

func (s *InMemoryStore) DeleteByToken(_ context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[token]; !ok {
		return false, nil
	}
	delete(s.records, token)
	s.retired[token] = struct{}{}
	return true, nil
}

func (s *InMemoryStore) DeleteByStatusOlderThan(_ context.Context, status models.Status, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for token, rec := range s.records {
		if rec.Status == status && !rec.CreatedAt.After(cutoff) {
			delete(s.records, token)
			s.retired[token] = struct{}{}
			deleted++
		}
	}
	return deleted, nil
}

// FindByEmail returns matches ordered by creation time, oldest first.
func (s *InMemoryStore) FindByEmail(_ context.Context, email string, status *models.Status) ([]*models.OptInRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.OptInRecord
	for _, rec := range s.records {
		if rec.Email != email {
			continue
		}
		if status != nil && rec.Status != *status {
			continue
		}
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemoryStore) Count(_ context.Context, status models.Status) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, rec := range s.records {
		if rec.Status == status {
			n++
		}
	}
	return n, nil
}
