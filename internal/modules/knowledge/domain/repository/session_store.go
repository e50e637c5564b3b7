package repository

import (
	"context"

	"KnowledgeHub/internal/modules/knowledge/domain/kb"
)

// SessionStore 按会话保存有界对话历史。
// 实现必须保证容量上限：超出时先淘汰最旧的消息（FIFO），绝不丢最新的
type SessionStore interface {
	Append(ctx context.Context, sessionID string, msg kb.Message) error

	// History 按时间先后返回当前保留的全部消息
	History(ctx context.Context, sessionID string) ([]kb.Message, error)

	Clear(ctx context.Context, sessionID string) error
}
