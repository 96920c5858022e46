package model

import "time"

// Sender 消息发送方
type Sender string

const (
	SenderVisitor Sender = "visitor"
	SenderAdmin   Sender = "admin"
)

// Valid 是否为合法的发送方
func (s Sender) Valid() bool {
	return s == SenderVisitor || s == SenderAdmin
}

// Message 聊天消息
// Read 是唯一可变字段，且只能从 false 变为 true
type Message struct {
	ID        string    `json:"id" db:"id"`
	Text      string    `json:"text" db:"text"`
	Sender    Sender    `json:"sender" db:"sender"`
	SessionID string    `json:"sessionId" db:"session_id"`
	UserName  string    `json:"userName" db:"user_name"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
	Read      bool      `json:"read" db:"read"`
	Seq       int64     `json:"-" db:"seq"` // 存储分配的插入顺序，仅用于同一时间戳的排序
}

// NewVisitorMessage 访客消息，默认未读
func NewVisitorMessage(sessionID, userName, text string) *Message {
	return &Message{
		Text:      text,
		Sender:    SenderVisitor,
		SessionID: sessionID,
		UserName:  userName,
		Read:      false,
	}
}

// NewAdminMessage 管理员消息，自己发出的消息视为已读
func NewAdminMessage(sessionID, adminName, text string) *Message {
	return &Message{
		Text:      text,
		Sender:    SenderAdmin,
		SessionID: sessionID,
		UserName:  adminName,
		Read:      true,
	}
}

// IsUnreadVisitor 是否为未读的访客消息
func (m *Message) IsUnreadVisitor() bool {
	return m.Sender == SenderVisitor && !m.Read
}

// Before 按 (Timestamp, Seq) 比较先后
func (m *Message) Before(other *Message) bool {
	if !m.Timestamp.Equal(other.Timestamp) {
		return m.Timestamp.Before(other.Timestamp)
	}
	return m.Seq < other.Seq
}
