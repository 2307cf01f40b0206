package store

import (
	"context"
	"sync"

	"github.com/polyagent/arb-engine/internal/model"
)

// MemoryStore implements PortfolioStore in memory. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	portfolio *model.Portfolio
	saves     int
	failNext  error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(_ context.Context) (*model.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.portfolio == nil {
		return nil, ErrNotFound
	}
	// Hand out a copy to avoid external mutation.
	return s.portfolio.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, p *model.Portfolio) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failNext; err != nil {
		s.failNext = nil
		return err
	}
	s.portfolio = p.Clone()
	s.saves++
	return nil
}

// Saves returns how many successful saves the store has seen.
func (s *MemoryStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

// FailNextSave makes the next Save return err without storing anything.
func (s *MemoryStore) FailNextSave(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}
