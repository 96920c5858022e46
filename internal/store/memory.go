package store

import (
	"context"
	"sync"
	"time"

	"sudooom.portfolio.chat/internal/feed"
	"sudooom.portfolio.chat/internal/model"
	"sudooom.portfolio.chat/pkg/snowflake"
)

// Memory 进程内文档存储
// 单实例部署和测试使用；写入后同步向匹配的订阅推送快照
type Memory struct {
	mu       sync.RWMutex
	ids      *snowflake.Node
	now      func() time.Time
	seq      int64
	closed   bool
	messages map[string]*model.Message
	sessions map[string]*model.Session

	watcherSeq int64
	watchers   map[int64]*memoryWatcher
}

type memoryWatcher struct {
	query MessageQuery
	feed  *feed.Feed[[]model.Message]
}

// NewMemory 创建进程内存储
func NewMemory() *Memory {
	return &Memory{
		ids:      snowflake.NewNode(1),
		now:      time.Now,
		messages: make(map[string]*model.Message),
		sessions: make(map[string]*model.Session),
		watchers: make(map[int64]*memoryWatcher),
	}
}

// Append 写入消息
func (s *Memory) Append(ctx context.Context, msg *model.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrClosed
	}

	s.seq++
	stored := *msg
	stored.ID = s.ids.Generate().String()
	stored.Timestamp = s.now()
	stored.Seq = s.seq
	s.messages[stored.ID] = &stored

	msg.ID = stored.ID
	msg.Timestamp = stored.Timestamp
	msg.Seq = stored.Seq

	s.notifyLocked(&stored)
	return stored.ID, nil
}

// Get 读取消息
func (s *Memory) Get(ctx context.Context, id string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *msg
	return &copied, nil
}

// MarkRead 标记已读
func (s *Memory) MarkRead(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	msg, ok := s.messages[id]
	if !ok {
		return ErrNotFound
	}
	if msg.Read {
		return nil
	}
	msg.Read = true

	s.notifyLocked(msg)
	return nil
}

// Query 一次性查询
func (s *Memory) Query(ctx context.Context, q MessageQuery) ([]model.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.snapshotLocked(q), nil
}

// Subscribe 建立订阅
func (s *Memory) Subscribe(ctx context.Context, q MessageQuery) (*feed.Feed[[]model.Message], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	s.watcherSeq++
	id := s.watcherSeq
	f := feed.New[[]model.Message]()
	s.watchers[id] = &memoryWatcher{query: q, feed: f}
	f.Push(s.snapshotLocked(q))

	f.OnClose(func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	})
	closeOnDone(ctx, f)

	return f, nil
}

// Watchers 当前活跃订阅数
func (s *Memory) Watchers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.watchers)
}

// CreateSession 写入会话
func (s *Memory) CreateSession(ctx context.Context, session *model.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if _, ok := s.sessions[session.ID]; ok {
		return ErrAlreadyExists
	}

	now := s.now()
	stored := *session
	stored.CreatedAt = now
	stored.LastActivity = now
	s.sessions[stored.ID] = &stored

	session.CreatedAt = now
	session.LastActivity = now
	return nil
}

// GetSession 读取会话
func (s *Memory) GetSession(ctx context.Context, id string) (*model.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *session
	return &copied, nil
}

// UpdateSession 部分更新会话
func (s *Memory) UpdateSession(ctx context.Context, id string, patch model.SessionPatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	session, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if patch.Email != nil {
		session.Email = *patch.Email
	}
	if patch.TouchActivity {
		session.LastActivity = s.now()
	}
	return nil
}

// FindSessionsByShortCode 按恢复码查找会话，最近活跃的在前
func (s *Memory) FindSessionsByShortCode(ctx context.Context, shortCode string) ([]model.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var found []model.Session
	for _, session := range s.sessions {
		if session.ShortCode == shortCode {
			found = append(found, *session)
		}
	}
	sortSessionsByActivity(found)
	return found, nil
}

// Close 关闭存储并取消所有订阅
func (s *Memory) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	feeds := make([]*feed.Feed[[]model.Message], 0, len(s.watchers))
	for _, w := range s.watchers {
		feeds = append(feeds, w.feed)
	}
	s.mu.Unlock()

	for _, f := range feeds {
		f.Close()
	}
	return nil
}

// notifyLocked 向过滤条件匹配 changed 的订阅推送新快照
func (s *Memory) notifyLocked(changed *model.Message) {
	for _, w := range s.watchers {
		if !w.query.matchesChange(changed) {
			continue
		}
		w.feed.Push(s.snapshotLocked(w.query))
	}
}

func (s *Memory) snapshotLocked(q MessageQuery) []model.Message {
	result := make([]model.Message, 0)
	for _, msg := range s.messages {
		if q.Match(msg) {
			result = append(result, *msg)
		}
	}
	SortMessages(result, q.Order)
	return result
}

// matchesChange 变更是否可能影响该订阅的结果集
// 已读状态变化会让消息离开 UnreadOnly 结果集，所以不比较 Read
func (q MessageQuery) matchesChange(m *model.Message) bool {
	if q.SessionID != "" && m.SessionID != q.SessionID {
		return false
	}
	if q.Sender != "" && m.Sender != q.Sender {
		return false
	}
	return true
}
