// Package thread 维护渲染用的消息列表。
package thread

import (
	"sync"

	"sudooom.portfolio.chat/internal/model"
)

// View 一个会话的消息列表
// 重复推送相同快照不会产生重复或重排；已读状态只进不退
type View struct {
	mu       sync.RWMutex
	messages []model.Message
	read     map[string]struct{}
}

// NewView 创建空列表
func NewView() *View {
	return &View{read: make(map[string]struct{})}
}

// Apply 用完整快照替换列表，保持存储给出的顺序
// 返回列表是否发生变化
func (v *View) Apply(snapshot []model.Message) bool {
	next := make([]model.Message, 0, len(snapshot))
	seen := make(map[string]struct{}, len(snapshot))

	v.mu.Lock()
	defer v.mu.Unlock()

	for _, msg := range snapshot {
		if _, dup := seen[msg.ID]; dup {
			continue
		}
		seen[msg.ID] = struct{}{}

		if msg.Read {
			v.read[msg.ID] = struct{}{}
		} else if _, wasRead := v.read[msg.ID]; wasRead {
			msg.Read = true
		}
		next = append(next, msg)
	}

	changed := !equal(v.messages, next)
	v.messages = next
	return changed
}

// Messages 当前列表的副本
func (v *View) Messages() []model.Message {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make([]model.Message, len(v.messages))
	copy(out, v.messages)
	return out
}

// Len 消息数量
func (v *View) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.messages)
}

// Reset 清空列表（切换会话时使用）
func (v *View) Reset() {
	v.mu.Lock()
	v.messages = nil
	v.read = make(map[string]struct{})
	v.mu.Unlock()
}

func equal(a, b []model.Message) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Read != b[i].Read || a[i].Text != b[i].Text {
			return false
		}
	}
	return true
}
