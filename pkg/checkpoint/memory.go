package checkpoint

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps sessions and state in process memory. Suitable for
// tests and single-node setups without durability requirements.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*SessionInfo
	states   map[string]*AgentState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*SessionInfo),
		states:   make(map[string]*AgentState),
	}
}

func (s *MemoryStore) CreateSession(ctx context.Context, userID, sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sessionID != "" {
		if _, exists := s.sessions[sessionID]; exists {
			return sessionID, nil
		}
	} else {
		sessionID = uuid.NewString()
	}

	now := time.Now().UTC()
	s.sessions[sessionID] = &SessionInfo{
		SessionID: sessionID,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	return sessionID, nil
}

func (s *MemoryStore) Get(ctx context.Context, sessionID string) (*AgentState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, exists := s.states[sessionID]
	if !exists {
		return nil, ErrNotFound
	}
	return state.Clone(), nil
}

func (s *MemoryStore) Put(ctx context.Context, state *AgentState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[state.SessionID] = state.Clone()
	if info, exists := s.sessions[state.SessionID]; exists {
		info.UpdatedAt = time.Now().UTC()
	}

	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.states, sessionID)
	delete(s.sessions, sessionID)

	return nil
}

func (s *MemoryStore) GetSession(ctx context.Context, sessionID string) (*SessionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, exists := s.sessions[sessionID]
	if !exists {
		return nil, ErrNotFound
	}

	copied := *info
	return &copied, nil
}

func (s *MemoryStore) ListUserSessions(ctx context.Context, userID string) ([]*SessionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sessions []*SessionInfo
	for _, info := range s.sessions {
		if info.UserID == userID {
			copied := *info
			sessions = append(sessions, &copied)
		}
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})

	return sessions, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
