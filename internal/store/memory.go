package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zhouzirui/agent-salon/backend/internal/model/session"
)

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*session.Session)}
}

func (m *MemoryStore) CreateSession(_ context.Context, s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[s.ID]; exists {
		return fmt.Errorf("%w: session %s already exists", ErrDuplicate, s.ID)
	}
	m.sessions[s.ID] = cloneSession(s)
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (*session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", session.ErrNotFound, id)
	}
	return cloneSession(s), nil
}

func (m *MemoryStore) ListSessions(_ context.Context, limit int) ([]*session.Session, error) {
	m.mu.RLock()
	out := make([]*session.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, cloneSession(s))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, id string, status session.Status, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", session.ErrNotFound, id)
	}
	s.Status = status
	s.UpdatedAt = updatedAt
	return nil
}

func (m *MemoryStore) AppendTurns(_ context.Context, id string, turns []session.Turn, status session.Status, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", session.ErrNotFound, id)
	}
	if err := checkContinuity(len(s.Turns), s.MaxTurns, turns); err != nil {
		return err
	}

	s.Turns = append(s.Turns, turns...)
	s.Status = status
	s.UpdatedAt = updatedAt
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
