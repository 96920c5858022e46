// Package store 定义消息存储适配层的契约。
//
// 存储负责分配消息ID、写入时间戳和插入序号；调用方只按
// 时间戳排序，从不在本地重排。订阅在每次相关变更时推送
// 完整的匹配结果集（快照），而不是增量。
package store

import (
	"context"
	"errors"
	"sort"

	"sudooom.portfolio.chat/internal/feed"
	"sudooom.portfolio.chat/internal/model"
)

// 集合名称
const (
	CollectionMessages = "messages"
	CollectionSessions = "sessions"
)

var (
	ErrNotFound      = errors.New("document not found")
	ErrAlreadyExists = errors.New("document already exists")
	ErrClosed        = errors.New("store is closed")
)

// Order 时间戳排序方向
type Order int

const (
	Ascending Order = iota
	Descending
)

// MessageQuery 消息过滤条件，零值表示全部消息按时间升序
type MessageQuery struct {
	SessionID  string       // 为空表示所有会话
	Sender     model.Sender // 为空表示不限发送方
	UnreadOnly bool
	Order      Order
}

// Match 消息是否满足过滤条件
func (q MessageQuery) Match(m *model.Message) bool {
	if q.SessionID != "" && m.SessionID != q.SessionID {
		return false
	}
	if q.Sender != "" && m.Sender != q.Sender {
		return false
	}
	if q.UnreadOnly && m.Read {
		return false
	}
	return true
}

// UnreadVisitorQuery 某会话未读访客消息的过滤条件
func UnreadVisitorQuery(sessionID string) MessageQuery {
	return MessageQuery{
		SessionID:  sessionID,
		Sender:     model.SenderVisitor,
		UnreadOnly: true,
	}
}

// MessageStore messages 集合
type MessageStore interface {
	// Append 写入消息，填充 ID/Timestamp/Seq 后返回 ID
	Append(ctx context.Context, msg *model.Message) (string, error)
	// Get 按 ID 读取，不存在返回 ErrNotFound
	Get(ctx context.Context, id string) (*model.Message, error)
	// MarkRead 将消息标记为已读，重复标记无副作用
	MarkRead(ctx context.Context, id string) error
	// Query 一次性查询，不建立订阅
	Query(ctx context.Context, q MessageQuery) ([]model.Message, error)
	// Subscribe 建立订阅，立即推送当前快照
	// ctx 结束或调用 Close 时取消订阅
	Subscribe(ctx context.Context, q MessageQuery) (*feed.Feed[[]model.Message], error)
}

// SessionStore sessions 集合
type SessionStore interface {
	// CreateSession 写入会话，CreatedAt/LastActivity 由存储赋值
	CreateSession(ctx context.Context, s *model.Session) error
	GetSession(ctx context.Context, id string) (*model.Session, error)
	UpdateSession(ctx context.Context, id string, patch model.SessionPatch) error
	FindSessionsByShortCode(ctx context.Context, shortCode string) ([]model.Session, error)
}

// Store 完整的文档存储
type Store interface {
	MessageStore
	SessionStore
	Close() error
}

// SortMessages 按 (Timestamp, Seq) 排序
func SortMessages(msgs []model.Message, order Order) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if order == Descending {
			return msgs[j].Before(&msgs[i])
		}
		return msgs[i].Before(&msgs[j])
	})
}

// closeOnDone ctx 结束时关闭订阅
func closeOnDone[T any](ctx context.Context, f *feed.Feed[T]) {
	if ctx.Done() == nil {
		return
	}
	go func() {
		select {
		case <-ctx.Done():
			f.Close()
		case <-f.Done():
		}
	}()
}

// sortSessionsByActivity 最近活跃的会话在前
func sortSessionsByActivity(sessions []model.Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].LastActivity.After(sessions[j].LastActivity)
	})
}
