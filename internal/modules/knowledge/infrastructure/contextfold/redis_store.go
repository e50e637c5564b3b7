package contextfold

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"KnowledgeHub/internal/modules/knowledge/domain/kb"
	"KnowledgeHub/internal/modules/knowledge/domain/repository"
	"KnowledgeHub/pkg/redis"
	"KnowledgeHub/pkg/zlog"

	"go.uber.org/zap"
)

const sessionKeyPrefix = "kb:session:"

// sessionTTL 会话历史的过期时间，闲置即回收
const sessionTTL = 24 * time.Hour

// RedisSessionStore 多实例部署时的会话存储：RPUSH 追加、LTRIM 截断到上限。
// 消息按 JSON 存为列表元素
type RedisSessionStore struct {
	maxHistory int
}

func NewRedisSessionStore(maxHistory int) *RedisSessionStore {
	if maxHistory <= 0 {
		maxHistory = 20
	}
	return &RedisSessionStore{maxHistory: maxHistory}
}

func sessionKey(sessionID string) string {
	return sessionKeyPrefix + sessionID
}

func (s *RedisSessionStore) Append(ctx context.Context, sessionID string, msg kb.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	key := sessionKey(sessionID)
	if _, err := redis.RPush(ctx, key, payload); err != nil {
		return fmt.Errorf("rpush session: %w", err)
	}
	// 只保留最近 maxHistory 条
	if err := redis.LTrim(ctx, key, int64(-s.maxHistory), -1); err != nil {
		return fmt.Errorf("ltrim session: %w", err)
	}
	if _, err := redis.Expire(ctx, key, sessionTTL); err != nil {
		zlog.Warn("刷新会话 TTL 失败", zap.String("sessionID", sessionID), zap.Error(err))
	}
	return nil
}

func (s *RedisSessionStore) History(ctx context.Context, sessionID string) ([]kb.Message, error) {
	raw, err := redis.LRange(ctx, sessionKey(sessionID), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("lrange session: %w", err)
	}

	out := make([]kb.Message, 0, len(raw))
	for _, item := range raw {
		var msg kb.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			zlog.Warn("会话消息反序列化失败，跳过", zap.String("sessionID", sessionID), zap.Error(err))
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

func (s *RedisSessionStore) Clear(ctx context.Context, sessionID string) error {
	_, err := redis.Del(ctx, sessionKey(sessionID))
	return err
}

var _ repository.SessionStore = (*RedisSessionStore)(nil)
