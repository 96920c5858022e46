package inbox

import (
	"fmt"
	"time"

	"sudooom.portfolio.chat/internal/model"
)

// AnonymousName 会话中没有访客名字时的显示名
const AnonymousName = "Anonymous"

// Project 把按时间倒序的消息折叠为会话列表
// 每个会话取最新一条消息的内容和时间，显示名取最新一条访客消息的名字，
// 未读数为该会话中未读访客消息的数量。输出顺序与首次出现的顺序一致。
func Project(desc []model.Message) []model.Conversation {
	index := make(map[string]int)
	named := make(map[string]bool)
	convs := make([]model.Conversation, 0)

	for i := range desc {
		msg := &desc[i]
		pos, seen := index[msg.SessionID]
		if !seen {
			pos = len(convs)
			index[msg.SessionID] = pos
			convs = append(convs, model.Conversation{
				SessionID:     msg.SessionID,
				LastMessage:   msg.Text,
				LastSender:    msg.Sender,
				LastTimestamp: msg.Timestamp,
			})
		}

		c := &convs[pos]
		if !named[msg.SessionID] && msg.Sender == model.SenderVisitor && msg.UserName != "" {
			c.UserName = msg.UserName
			named[msg.SessionID] = true
		}
		if msg.IsUnreadVisitor() {
			c.UnreadCount++
		}
	}

	for i := range convs {
		if convs[i].UserName == "" {
			convs[i].UserName = AnonymousName
		}
	}
	return convs
}

// RelativeTime 相对时间：now、5m ago、3h ago、2d ago
func RelativeTime(ts, now time.Time) string {
	if ts.IsZero() {
		return ""
	}
	diff := now.Sub(ts)
	switch {
	case diff < time.Minute:
		return "now"
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff/time.Minute))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff/time.Hour))
	default:
		return fmt.Sprintf("%dd ago", int(diff/(24*time.Hour)))
	}
}

// ConversationItem 列表展示用的会话
type ConversationItem struct {
	model.Conversation
	LastSeen string `json:"lastSeen"`
}

// Present 附加相对时间
func Present(convs []model.Conversation, now time.Time) []ConversationItem {
	items := make([]ConversationItem, len(convs))
	for i, c := range convs {
		items[i] = ConversationItem{Conversation: c, LastSeen: RelativeTime(c.LastTimestamp, now)}
	}
	return items
}
