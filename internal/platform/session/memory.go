package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	domain "github.com/TienDattttt/Retail-Chain-Management-sub000/internal/domain"
	"github.com/TienDattttt/Retail-Chain-Management-sub000/internal/services"
)

// MemoryStore keeps sessions in process. Used for local runs and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]domain.Operator
	clock    func() time.Time
}

var _ services.OperatorSessions = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty store. A nil clock uses time.Now.
func NewMemoryStore(clock func() time.Time) *MemoryStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryStore{sessions: make(map[string]domain.Operator), clock: clock}
}

// Put stores or replaces the session keyed by op.Token.
func (s *MemoryStore) Put(op domain.Operator) error {
	token, err := normalizeToken(op.Token)
	if err != nil {
		return fmt.Errorf("%w: token is required", ErrInvalidSession)
	}
	op.Token = token
	s.mu.Lock()
	s.sessions[token] = op
	s.mu.Unlock()
	return nil
}

// Delete removes the session.
func (s *MemoryStore) Delete(token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}

// Lookup implements services.OperatorSessions.
func (s *MemoryStore) Lookup(_ context.Context, token string) (domain.Operator, error) {
	token, err := normalizeToken(token)
	if err != nil {
		return domain.Operator{}, err
	}
	s.mu.RLock()
	op, ok := s.sessions[token]
	s.mu.RUnlock()
	if !ok {
		return domain.Operator{}, ErrSessionNotFound
	}
	if err := checkExpiry(op, s.clock()); err != nil {
		return domain.Operator{}, err
	}
	return op, nil
}
