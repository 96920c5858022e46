package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"sudooom.portfolio.chat/internal/feed"
	"sudooom.portfolio.chat/internal/model"
	"sudooom.portfolio.chat/internal/notify"
	"sudooom.portfolio.chat/pkg/snowflake"
)

// schema 建表语句
// 时间戳使用 clock_timestamp()，同一事务内的多次写入也能区分先后
const schema = `
CREATE TABLE IF NOT EXISTS chat_sessions (
	id            TEXT PRIMARY KEY,
	short_code    TEXT NOT NULL,
	user_name     TEXT NOT NULL DEFAULT '',
	email         TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
	last_activity TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
);
CREATE INDEX IF NOT EXISTS idx_chat_sessions_short_code ON chat_sessions (short_code);

CREATE TABLE IF NOT EXISTS chat_messages (
	seq        BIGSERIAL PRIMARY KEY,
	id         TEXT NOT NULL UNIQUE,
	text       TEXT NOT NULL,
	sender     TEXT NOT NULL CHECK (sender IN ('visitor', 'admin')),
	session_id TEXT NOT NULL,
	user_name  TEXT NOT NULL DEFAULT '',
	timestamp  TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
	read       BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages (session_id, timestamp, seq);
CREATE INDEX IF NOT EXISTS idx_chat_messages_timestamp ON chat_messages (timestamp, seq);
`

const messageColumns = `id, text, sender, session_id, user_name, timestamp, read, seq`

// Postgres 基于 PostgreSQL 的文档存储
// 写入后通过 Notifier 广播变更，所有实例的订阅重新查询并推送快照
type Postgres struct {
	db       *pgxpool.Pool
	notifier notify.Notifier
	ids      *snowflake.Node
	logger   *slog.Logger

	mu          sync.Mutex
	watcherSeq  int64
	watchers    map[int64]*pgWatcher
	unsubscribe func()
	refresh     chan struct{}
	stop        chan struct{}
	wg          sync.WaitGroup
	closed      bool
}

type pgWatcher struct {
	query MessageQuery
	feed  *feed.Feed[[]model.Message]
}

// NewPostgres 创建 PostgreSQL 存储
// nodeID 区分多个实例生成的消息ID
func NewPostgres(db *pgxpool.Pool, notifier notify.Notifier, nodeID int64) (*Postgres, error) {
	s := &Postgres{
		db:       db,
		notifier: notifier,
		ids:      snowflake.NewNode(nodeID),
		logger:   slog.Default(),
		watchers: make(map[int64]*pgWatcher),
		refresh:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}

	unsubscribe, err := notifier.Subscribe(func(collection string) {
		if collection == CollectionMessages {
			s.scheduleRefresh()
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to changes: %w", err)
	}
	s.unsubscribe = unsubscribe

	s.wg.Add(1)
	go s.refreshLoop()

	return s, nil
}

// Migrate 创建表结构
func (s *Postgres) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schema)
	return err
}

// Append 写入消息
func (s *Postgres) Append(ctx context.Context, msg *model.Message) (string, error) {
	query := `
		INSERT INTO chat_messages (id, text, sender, session_id, user_name, read)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING timestamp, seq
	`

	id := s.ids.Generate().String()
	err := s.db.QueryRow(ctx, query,
		id,
		msg.Text,
		string(msg.Sender),
		msg.SessionID,
		msg.UserName,
		msg.Read,
	).Scan(&msg.Timestamp, &msg.Seq)
	if err != nil {
		return "", err
	}
	msg.ID = id

	s.publish(ctx)
	return id, nil
}

// Get 读取消息
func (s *Postgres) Get(ctx context.Context, id string) (*model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM chat_messages WHERE id = $1`

	msg, err := scanMessage(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return msg, nil
}

// MarkRead 标记已读
// 条件更新保证 read 只会从 false 变为 true
func (s *Postgres) MarkRead(ctx context.Context, id string) error {
	result, err := s.db.Exec(ctx, `UPDATE chat_messages SET read = TRUE WHERE id = $1 AND read = FALSE`, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		// 已读或不存在
		var exists bool
		if err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM chat_messages WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return nil
	}

	s.publish(ctx)
	return nil
}

// Query 一次性查询
func (s *Postgres) Query(ctx context.Context, q MessageQuery) ([]model.Message, error) {
	sql, args := buildMessageQuery(q)

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]model.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

// Subscribe 建立订阅
func (s *Postgres) Subscribe(ctx context.Context, q MessageQuery) (*feed.Feed[[]model.Message], error) {
	initial, err := s.Query(ctx, q)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.watcherSeq++
	id := s.watcherSeq
	f := feed.New[[]model.Message]()
	s.watchers[id] = &pgWatcher{query: q, feed: f}
	s.mu.Unlock()

	f.Push(initial)
	f.OnClose(func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	})
	closeOnDone(ctx, f)

	// 查询与注册之间可能有写入
	s.scheduleRefresh()
	return f, nil
}

// CreateSession 写入会话
func (s *Postgres) CreateSession(ctx context.Context, session *model.Session) error {
	query := `
		INSERT INTO chat_sessions (id, short_code, user_name, email)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, last_activity
	`
	err := s.db.QueryRow(ctx, query,
		session.ID,
		session.ShortCode,
		session.UserName,
		session.Email,
	).Scan(&session.CreatedAt, &session.LastActivity)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

// GetSession 读取会话
func (s *Postgres) GetSession(ctx context.Context, id string) (*model.Session, error) {
	query := `
		SELECT id, short_code, user_name, email, created_at, last_activity
		FROM chat_sessions WHERE id = $1
	`
	session := &model.Session{}
	err := s.db.QueryRow(ctx, query, id).Scan(
		&session.ID,
		&session.ShortCode,
		&session.UserName,
		&session.Email,
		&session.CreatedAt,
		&session.LastActivity,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return session, nil
}

// UpdateSession 部分更新会话
func (s *Postgres) UpdateSession(ctx context.Context, id string, patch model.SessionPatch) error {
	sets := make([]string, 0, 2)
	args := []interface{}{id}
	if patch.Email != nil {
		args = append(args, *patch.Email)
		sets = append(sets, fmt.Sprintf("email = $%d", len(args)))
	}
	if patch.TouchActivity {
		sets = append(sets, "last_activity = clock_timestamp()")
	}
	if len(sets) == 0 {
		return nil
	}

	query := `UPDATE chat_sessions SET ` + strings.Join(sets, ", ") + ` WHERE id = $1`
	result, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FindSessionsByShortCode 按恢复码查找会话
func (s *Postgres) FindSessionsByShortCode(ctx context.Context, shortCode string) ([]model.Session, error) {
	query := `
		SELECT id, short_code, user_name, email, created_at, last_activity
		FROM chat_sessions WHERE short_code = $1
		ORDER BY last_activity DESC
	`
	rows, err := s.db.Query(ctx, query, shortCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		var session model.Session
		if err := rows.Scan(
			&session.ID,
			&session.ShortCode,
			&session.UserName,
			&session.Email,
			&session.CreatedAt,
			&session.LastActivity,
		); err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// Close 取消所有订阅，停止刷新协程
// 连接池由调用方关闭
func (s *Postgres) Close() error {
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

	s.unsubscribe()
	close(s.stop)
	s.wg.Wait()

	for _, f := range feeds {
		f.Close()
	}
	return nil
}

// publish 广播消息集合变更，失败只记录日志，订阅会在下一次变更时追上
func (s *Postgres) publish(ctx context.Context) {
	if err := s.notifier.Publish(ctx, CollectionMessages); err != nil {
		s.logger.Warn("Failed to publish change", "collection", CollectionMessages, "error", err)
	}
}

// scheduleRefresh 合并多次变更为一次刷新
func (s *Postgres) scheduleRefresh() {
	select {
	case s.refresh <- struct{}{}:
	default:
	}
}

// refreshLoop 刷新协程：重新查询所有订阅并推送快照
func (s *Postgres) refreshLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.stop:
			return
		case <-s.refresh:
			s.refreshWatchers()
		}
	}
}

func (s *Postgres) refreshWatchers() {
	s.mu.Lock()
	watchers := make([]*pgWatcher, 0, len(s.watchers))
	for _, w := range s.watchers {
		watchers = append(watchers, w)
	}
	s.mu.Unlock()

	for _, w := range watchers {
		if w.feed.Closed() {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		messages, err := s.Query(ctx, w.query)
		cancel()
		if err != nil {
			s.logger.Error("Failed to refresh subscription", "session_id", w.query.SessionID, "error", err)
			continue
		}
		w.feed.Push(messages)
	}
}

// buildMessageQuery 构建消息查询语句
func buildMessageQuery(q MessageQuery) (string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)
	if q.SessionID != "" {
		args = append(args, q.SessionID)
		where = append(where, fmt.Sprintf("session_id = $%d", len(args)))
	}
	if q.Sender != "" {
		args = append(args, string(q.Sender))
		where = append(where, fmt.Sprintf("sender = $%d", len(args)))
	}
	if q.UnreadOnly {
		where = append(where, "read = FALSE")
	}

	sql := `SELECT ` + messageColumns + ` FROM chat_messages`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	if q.Order == Descending {
		sql += ` ORDER BY timestamp DESC, seq DESC`
	} else {
		sql += ` ORDER BY timestamp ASC, seq ASC`
	}
	return sql, args
}

func scanMessage(row pgx.Row) (*model.Message, error) {
	var (
		msg    model.Message
		sender string
	)
	err := row.Scan(
		&msg.ID,
		&msg.Text,
		&sender,
		&msg.SessionID,
		&msg.UserName,
		&msg.Timestamp,
		&msg.Read,
		&msg.Seq,
	)
	if err != nil {
		return nil, err
	}
	msg.Sender = model.Sender(sender)
	return &msg, nil
}
