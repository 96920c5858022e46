package model

import "time"

// Conversation 管理后台的会话条目
// 由消息推导得出，不单独存储
type Conversation struct {
	SessionID     string    `json:"sessionId"`
	UserName      string    `json:"userName"`
	LastMessage   string    `json:"lastMessage"`
	LastSender    Sender    `json:"lastSender"`
	LastTimestamp time.Time `json:"lastTimestamp"`
	UnreadCount   int       `json:"unreadCount"`
}
