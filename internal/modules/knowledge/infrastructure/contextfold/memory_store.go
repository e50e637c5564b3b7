package contextfold

import (
	"context"
	"sync"

	"KnowledgeHub/internal/modules/knowledge/domain/kb"
	"KnowledgeHub/internal/modules/knowledge/domain/repository"
)

// MemorySessionStore 进程内会话存储，单机部署与测试用。
// 每个会话最多保留 maxHistory 条消息，超出淘汰最旧的
type MemorySessionStore struct {
	mu         sync.RWMutex
	maxHistory int
	sessions   map[string][]kb.Message
}

func NewMemorySessionStore(maxHistory int) *MemorySessionStore {
	if maxHistory <= 0 {
		maxHistory = 20
	}
	return &MemorySessionStore{
		maxHistory: maxHistory,
		sessions:   make(map[string][]kb.Message),
	}
}

func (s *MemorySessionStore) Append(ctx context.Context, sessionID string, msg kb.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := append(s.sessions[sessionID], msg)
	if len(history) > s.maxHistory {
		history = history[len(history)-s.maxHistory:]
	}
	s.sessions[sessionID] = history
	return nil
}

func (s *MemorySessionStore) History(ctx context.Context, sessionID string) ([]kb.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.sessions[sessionID]
	out := make([]kb.Message, len(history))
	copy(out, history)
	return out, nil
}

func (s *MemorySessionStore) Clear(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

var _ repository.SessionStore = (*MemorySessionStore)(nil)
