package store

import (
	"context"
	"sync"
	"time"

	"github.com/layer-3/sentry/ports"
)

// MemoryStore is an in-memory implementation of the Store interface
type MemoryStore struct {
	invalidatedTokens map[string]time.Time
	mu                sync.RWMutex
	now               func() time.Time
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() ports.Store {
	return &MemoryStore{
		invalidatedTokens: make(map[string]time.Time),
		now:               time.Now,
	}
}

// InvalidateToken marks a token as invalidated
func (s *MemoryStore) InvalidateToken(ctx context.Context, tokenID string, expiry time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.invalidateLocked(tokenID, expiry)
	return nil
}

// ConsumeToken marks a token as invalidated unless a live record already exists
func (s *MemoryStore) ConsumeToken(ctx context.Context, tokenID string, expiry time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stored, exists := s.invalidatedTokens[tokenID]; exists && !s.now().After(stored) {
		return false, nil
	}
	s.invalidateLocked(tokenID, expiry)
	return true, nil
}

func (s *MemoryStore) invalidateLocked(tokenID string, expiry time.Duration) {
	expiryTime := s.now().Add(expiry)
	if stored, exists := s.invalidatedTokens[tokenID]; exists && stored.After(expiryTime) {
		return
	}
	s.invalidatedTokens[tokenID] = expiryTime

	time.AfterFunc(expiry, func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		// Only delete if the expiry time hasn't been extended
		if storedExpiry, exists := s.invalidatedTokens[tokenID]; exists && !storedExpiry.After(expiryTime) {
			delete(s.invalidatedTokens, tokenID)
		}
	})
}

// IsTokenInvalidated checks if a token is invalidated
func (s *MemoryStore) IsTokenInvalidated(ctx context.Context, tokenID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expiryTime, exists := s.invalidatedTokens[tokenID]
	if !exists {
		return false, nil
	}

	if s.now().After(expiryTime) {
		return false, nil
	}

	return true, nil
}
