// Package inbox 管理后台：登录、会话列表、会话消息和回复。
package inbox

import (
	"context"
	"log/slog"
	"strings"

	"sudooom.portfolio.chat/internal/feed"
	"sudooom.portfolio.chat/internal/model"
	"sudooom.portfolio.chat/internal/store"
	"sudooom.portfolio.chat/internal/thread"
	"sudooom.portfolio.chat/internal/workerpool"
	appErrors "sudooom.portfolio.chat/pkg/errors"
)

// Inbox 管理后台
type Inbox struct {
	messages  store.MessageStore
	auth      *Authenticator
	pool      *workerpool.Pool
	adminName string
	logger    *slog.Logger
}

// New 创建管理后台
// pool 为空时标记已读同步执行
func New(messages store.MessageStore, auth *Authenticator, pool *workerpool.Pool, adminName string) *Inbox {
	return &Inbox{
		messages:  messages,
		auth:      auth,
		pool:      pool,
		adminName: adminName,
		logger:    slog.Default().With("component", "inbox"),
	}
}

// Conversations 一次性读取会话列表
func (i *Inbox) Conversations(ctx context.Context) ([]model.Conversation, error) {
	msgs, err := i.messages.Query(ctx, store.MessageQuery{Order: store.Descending})
	if err != nil {
		i.logger.Error("Failed to load conversations", "error", err)
		return nil, appErrors.ErrStore.Wrap(err)
	}
	convs := Project(msgs)
	i.countUnread(ctx, convs)
	return convs, nil
}

// WatchConversations 订阅会话列表，消息集合每次变化都重新折叠并重新统计未读数
func (i *Inbox) WatchConversations(ctx context.Context) (*feed.Feed[[]model.Conversation], error) {
	sub, err := i.messages.Subscribe(ctx, store.MessageQuery{Order: store.Descending})
	if err != nil {
		i.logger.Error("Failed to subscribe to conversations", "error", err)
		return nil, appErrors.ErrStore.Wrap(err)
	}

	out := feed.New[[]model.Conversation]()
	queryCtx, cancel := context.WithCancel(context.Background())
	out.OnClose(cancel)
	out.OnClose(sub.Close)

	go func() {
		defer out.Close()
		for snapshot := range sub.C() {
			convs := Project(snapshot)
			i.countUnread(queryCtx, convs)
			if !out.Push(convs) {
				return
			}
		}
	}()
	return out, nil
}

// countUnread 按会话一次性查询未读访客消息数
// 查询失败时保留从快照折叠出的数量
func (i *Inbox) countUnread(ctx context.Context, convs []model.Conversation) {
	for k := range convs {
		unread, err := i.messages.Query(ctx, store.UnreadVisitorQuery(convs[k].SessionID))
		if err != nil {
			if ctx.Err() == nil {
				i.logger.Warn("Failed to count unread messages", "session_id", convs[k].SessionID, "error", err)
			}
			continue
		}
		convs[k].UnreadCount = len(unread)
	}
}

// Thread 一次性读取会话消息，并把未读访客消息标记为已读
func (i *Inbox) Thread(ctx context.Context, sessionID string) ([]model.Message, error) {
	if sessionID == "" {
		return nil, appErrors.ErrInvalidParams
	}
	msgs, err := i.messages.Query(ctx, store.MessageQuery{SessionID: sessionID, Order: store.Ascending})
	if err != nil {
		i.logger.Error("Failed to load thread", "session_id", sessionID, "error", err)
		return nil, appErrors.ErrStore.Wrap(err)
	}

	for k := range msgs {
		if !msgs[k].IsUnreadVisitor() {
			continue
		}
		if err := i.messages.MarkRead(ctx, msgs[k].ID); err != nil {
			i.logger.Error("Failed to mark message read", "message_id", msgs[k].ID, "error", err)
			continue
		}
		msgs[k].Read = true
	}
	return msgs, nil
}

// OpenThread 订阅会话消息，每个快照中的未读访客消息都会被标记为已读
func (i *Inbox) OpenThread(ctx context.Context, sessionID string) (*feed.Feed[[]model.Message], error) {
	if sessionID == "" {
		return nil, appErrors.ErrInvalidParams
	}
	sub, err := i.messages.Subscribe(ctx, store.MessageQuery{SessionID: sessionID, Order: store.Ascending})
	if err != nil {
		i.logger.Error("Failed to subscribe to thread", "session_id", sessionID, "error", err)
		return nil, appErrors.ErrStore.Wrap(err)
	}

	out := feed.New[[]model.Message]()
	writeCtx, cancel := context.WithCancel(context.Background())
	out.OnClose(cancel)
	out.OnClose(sub.Close)

	view := thread.NewView()
	go func() {
		defer out.Close()
		for snapshot := range sub.C() {
			i.markRead(writeCtx, snapshot)
			view.Apply(snapshot)
			if !out.Push(view.Messages()) {
				return
			}
		}
	}()
	return out, nil
}

func (i *Inbox) markRead(ctx context.Context, snapshot []model.Message) {
	for k := range snapshot {
		msg := &snapshot[k]
		if !msg.IsUnreadVisitor() {
			continue
		}
		id := msg.ID
		write := func(taskCtx context.Context) {
			if err := i.messages.MarkRead(taskCtx, id); err != nil {
				i.logger.Error("Failed to mark message read", "message_id", id, "error", err)
			}
		}

		if i.pool == nil {
			write(ctx)
			continue
		}
		if !i.pool.SubmitKeyed(id, write) {
			// 池已关闭或队列满，下一个快照还会再次尝试
			i.logger.Warn("Mark read not scheduled", "message_id", id)
		}
	}
}

// Send 以管理员身份回复，管理员消息自带已读
func (i *Inbox) Send(ctx context.Context, sessionID, text string) (*model.Message, error) {
	if sessionID == "" {
		return nil, appErrors.ErrInvalidParams
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, appErrors.ErrEmptyMessage
	}

	msg := model.NewAdminMessage(sessionID, i.adminName, text)
	if _, err := i.messages.Append(ctx, msg); err != nil {
		i.logger.Error("Failed to send admin message", "session_id", sessionID, "error", err)
		return nil, appErrors.ErrStore.Wrap(err)
	}
	return msg, nil
}
