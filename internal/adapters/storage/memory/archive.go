package memory

import (
	"context"
	"sync"

	"github.com/PabloGalante/mockinterview/internal/domain"
)

// Archive is an in-memory domain.SessionArchive.
// It is NOT persistent and is only suitable for development / local mode.
type Archive struct {
	mu          sync.RWMutex
	sessions    map[domain.SessionID]*domain.Session
	byCandidate map[domain.CandidateID][]domain.SessionID
}

func NewArchive() *Archive {
	return &Archive{
		sessions:    make(map[domain.SessionID]*domain.Session),
		byCandidate: make(map[domain.CandidateID][]domain.SessionID),
	}
}

// Archive saves a finished session. Archiving the same id again overwrites
// the copy without duplicating the candidate index.
func (a *Archive) Archive(_ context.Context, s *domain.Session) error {
	if s == nil {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.sessions[s.ID]; !exists {
		a.byCandidate[s.CandidateID] = append(a.byCandidate[s.CandidateID], s.ID)
	}
	a.sessions[s.ID] = s.Clone()
	return nil
}

func (a *Archive) GetArchived(_ context.Context, id domain.SessionID) (*domain.Session, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s, ok := a.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return s.Clone(), nil
}

// ListArchivedByCandidate returns the last `limit` archived sessions of a
// candidate, oldest first. If limit <= 0, returns all.
func (a *Archive) ListArchivedByCandidate(_ context.Context, candidate domain.CandidateID, limit int) ([]*domain.Session, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	ids := a.byCandidate[candidate]
	if len(ids) == 0 {
		return []*domain.Session{}, nil
	}

	if limit <= 0 || limit > len(ids) {
		limit = len(ids)
	}
	selected := ids[len(ids)-limit:]

	out := make([]*domain.Session, 0, len(selected))
	for _, id := range selected {
		if s, ok := a.sessions[id]; ok {
			out = append(out, s.Clone())
		}
	}
	return out, nil
}
