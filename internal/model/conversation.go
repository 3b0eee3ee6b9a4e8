package model

import "time"

// 聊天角色。
const (
	RoleUser   = "user"
	RoleExpert = "expert"
)

// ChatMessage 是会话中的一条消息，只保存在会话范围内（Redis，带 TTL）。
type ChatMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
