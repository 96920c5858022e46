package model

import "time"

// Session 访客的聊天身份
// 首次提交名字后才写入存储，之后不会被删除
type Session struct {
	ID           string    `json:"sessionId" db:"id"`
	ShortCode    string    `json:"shortCode" db:"short_code"`
	UserName     string    `json:"userName,omitempty" db:"user_name"`
	Email        string    `json:"email,omitempty" db:"email"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	LastActivity time.Time `json:"lastActivity" db:"last_activity"`
}

// SessionPatch 会话的部分更新
// nil 字段保持不变；TouchActivity 为 true 时由存储写入当前时间
type SessionPatch struct {
	Email         *string
	TouchActivity bool
}
