package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/PabloGalante/mockinterview/internal/domain"
)

// SessionStore keeps sessions in process memory. Values are cloned on the way
// in and out so callers never share state with the store.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*domain.Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[domain.SessionID]*domain.Session),
	}
}

func (s *SessionStore) Create(_ context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.ID]; exists {
		return domain.ErrSessionExists
	}

	session.Version = 1
	s.sessions[session.ID] = session.Clone()
	return nil
}

func (s *SessionStore) Update(_ context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, exists := s.sessions[session.ID]
	if !exists {
		return domain.ErrSessionNotFound
	}
	if cur.Version != session.Version {
		return domain.ErrVersionConflict
	}

	session.Version++
	s.sessions[session.ID] = session.Clone()
	return nil
}

func (s *SessionStore) Get(_ context.Context, id domain.SessionID) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}

	return sess.Clone(), nil
}

func (s *SessionStore) List(_ context.Context) ([]domain.SessionID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]domain.SessionID, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *SessionStore) Close() error {
	return nil
}
