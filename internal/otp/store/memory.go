package store

import (
	"context"
	"sync"
	"time"

	"github.com/ShiroSan123/otp-valhalla/internal/otp/domain"
)

// MemoryStore is an in-process Store backed by a mutex-protected map.
type MemoryStore struct {
	mu sync.RWMutex
	m  map[string]*domain.Session
}

// NewMemoryStore returns an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: make(map[string]*domain.Session)}
}

// Put stores a copy of s.
func (s *MemoryStore) Put(ctx context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[sess.ID] = sess.Clone()
	return nil
}

// Get returns a copy of the session for id, or nil if absent.
func (s *MemoryStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.m[id].Clone(), nil
}

// Delete removes id and reports whether it was present.
func (s *MemoryStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[id]; !ok {
		return false, nil
	}
	delete(s.m, id)
	return true, nil
}

// Sweep removes and returns every session expired at now.
func (s *MemoryStore) Sweep(ctx context.Context, now time.Time) ([]*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Session
	for id, sess := range s.m {
		if sess.Expired(now) {
			out = append(out, sess)
			delete(s.m, id)
		}
	}
	return out, nil
}

// Len returns the number of live entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}
