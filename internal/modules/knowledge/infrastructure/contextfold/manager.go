package contextfold

import (
	"context"
	"strings"
	"time"

	"KnowledgeHub/internal/modules/knowledge/domain/kb"
	"KnowledgeHub/internal/modules/knowledge/domain/repository"
)

// Manager 把多轮会话折叠进单条有效查询。
// 折叠只取最近 contextWindow 轮对话，模板固定，保证相同历史产出相同查询
type Manager struct {
	store         repository.SessionStore
	contextWindow int
}

func NewManager(store repository.SessionStore, contextWindow int) *Manager {
	if contextWindow <= 0 {
		contextWindow = 3
	}
	return &Manager{store: store, contextWindow: contextWindow}
}

// Fold 读取会话历史、折叠出有效查询，并把本轮用户提问写入历史。
// 无历史时有效查询就是原始提问
func (m *Manager) Fold(ctx context.Context, sessionID, query string) (string, error) {
	effective := query
	if sessionID != "" {
		history, err := m.store.History(ctx, sessionID)
		if err != nil {
			return "", err
		}
		effective = m.foldHistory(history, query)

		if err := m.store.Append(ctx, sessionID, kb.Message{
			Role:      kb.MessageRoleUser,
			Content:   query,
			CreatedAt: time.Now(),
		}); err != nil {
			return "", err
		}
	}
	return effective, nil
}

// RecordAnswer 把本轮助手回答写入历史，供下一轮折叠
func (m *Manager) RecordAnswer(ctx context.Context, sessionID, answer string) error {
	if sessionID == "" || answer == "" {
		return nil
	}
	return m.store.Append(ctx, sessionID, kb.Message{
		Role:      kb.MessageRoleAssistant,
		Content:   answer,
		CreatedAt: time.Now(),
	})
}

// Clear 清空指定会话
func (m *Manager) Clear(ctx context.Context, sessionID string) error {
	return m.store.Clear(ctx, sessionID)
}

func (m *Manager) foldHistory(history []kb.Message, query string) string {
	if len(history) == 0 {
		return query
	}

	// 一轮 = 一问一答，窗口取最近 contextWindow 轮
	keep := m.contextWindow * 2
	if len(history) > keep {
		history = history[len(history)-keep:]
	}

	var b strings.Builder
	b.WriteString("Previous conversation:\n")
	for _, msg := range history {
		switch msg.Role {
		case kb.MessageRoleAssistant:
			b.WriteString("Assistant: ")
		default:
			b.WriteString("User: ")
		}
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	b.WriteString("Current question: ")
	b.WriteString(query)
	return b.String()
}
