package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"labsight-go/internal/model"

	"github.com/go-redis/redis/v8"
)

const (
	chatSessionTTL         = 24 * time.Hour
	chatSessionMaxMessages = 20
)

// ChatSessionRepository 保存会话范围内的聊天记录，过期后自动清除。
type ChatSessionRepository interface {
	GetHistory(ctx context.Context, sessionID string) ([]model.ChatMessage, error)
	Append(ctx context.Context, sessionID string, messages ...model.ChatMessage) error
}

type redisChatSessionRepository struct {
	redisClient *redis.Client
}

// NewChatSessionRepository 创建一个新的 ChatSessionRepository 实例。
func NewChatSessionRepository(redisClient *redis.Client) ChatSessionRepository {
	return &redisChatSessionRepository{redisClient: redisClient}
}

func chatSessionKey(sessionID string) string {
	return fmt.Sprintf("chat:session:%s", sessionID)
}

// GetHistory 从 Redis 获取会话记录，不存在时返回空切片。
func (r *redisChatSessionRepository) GetHistory(ctx context.Context, sessionID string) ([]model.ChatMessage, error) {
	jsonData, err := r.redisClient.Get(ctx, chatSessionKey(sessionID)).Result()
	if err == redis.Nil {
		return []model.ChatMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chat session: %w", err)
	}
	var messages []model.ChatMessage
	if err := json.Unmarshal([]byte(jsonData), &messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal chat session: %w", err)
	}
	return messages, nil
}

// Append 追加消息并刷新过期时间，只保留最近 20 条。
func (r *redisChatSessionRepository) Append(ctx context.Context, sessionID string, messages ...model.ChatMessage) error {
	history, err := r.GetHistory(ctx, sessionID)
	if err != nil {
		return err
	}
	history = append(history, messages...)
	if len(history) > chatSessionMaxMessages {
		history = history[len(history)-chatSessionMaxMessages:]
	}
	jsonData, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to marshal chat session: %w", err)
	}
	if err := r.redisClient.Set(ctx, chatSessionKey(sessionID), jsonData, chatSessionTTL).Err(); err != nil {
		return fmt.Errorf("failed to set chat session: %w", err)
	}
	return nil
}
