package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.portfolio.chat/internal/model"
	"sudooom.portfolio.chat/internal/notify"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func TestBuildMessageQuery(t *testing.T) {
	tests := []struct {
		name     string
		query    MessageQuery
		wantSQL  string
		wantArgs int
	}{
		{
			name:    "all descending",
			query:   MessageQuery{Order: Descending},
			wantSQL: `SELECT ` + messageColumns + ` FROM chat_messages ORDER BY timestamp DESC, seq DESC`,
		},
		{
			name:     "session ascending",
			query:    MessageQuery{SessionID: "s1"},
			wantSQL:  `SELECT ` + messageColumns + ` FROM chat_messages WHERE session_id = $1 ORDER BY timestamp ASC, seq ASC`,
			wantArgs: 1,
		},
		{
			name:     "unread visitor",
			query:    UnreadVisitorQuery("s1"),
			wantSQL:  `SELECT ` + messageColumns + ` FROM chat_messages WHERE session_id = $1 AND sender = $2 AND read = FALSE ORDER BY timestamp ASC, seq ASC`,
			wantArgs: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := buildMessageQuery(tt.query)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Len(t, args, tt.wantArgs)
		})
	}
}

// setupPostgres 连接测试数据库，不可用时跳过
func setupPostgres(t *testing.T) *Postgres {
	t.Helper()
	ctx := context.Background()

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		getEnv("POSTGRES_USER", "postgres"),
		getEnv("POSTGRES_PASSWORD", "password"),
		getEnv("POSTGRES_HOST", "localhost"),
		getEnv("POSTGRES_PORT", "5432"),
		getEnv("POSTGRES_DB", "chat_test"),
	)

	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Skipf("跳过集成测试: 无法连接数据库: %v", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		t.Skipf("跳过集成测试: 数据库 ping 失败: %v", err)
	}

	s, err := NewPostgres(db, notify.NewLocal(), 2)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))

	_, err = db.Exec(ctx, `TRUNCATE chat_messages, chat_sessions`)
	require.NoError(t, err)

	t.Cleanup(func() {
		s.Close()
		db.Close()
	})
	return s
}

func TestPostgres_MessagesAndSubscription(t *testing.T) {
	s := setupPostgres(t)
	ctx := context.Background()

	f, err := s.Subscribe(ctx, MessageQuery{SessionID: "s1"})
	require.NoError(t, err)
	defer f.Close()
	assert.Empty(t, recv(t, f))

	msg := model.NewVisitorMessage("s1", "Ana", "Hola")
	_, err = s.Append(ctx, msg)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		select {
		case snapshot := <-f.C():
			return len(snapshot) == 1 && snapshot[0].ID == msg.ID
		default:
			return false
		}
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, s.MarkRead(ctx, msg.ID))
	require.NoError(t, s.MarkRead(ctx, msg.ID))

	unread, err := s.Query(ctx, UnreadVisitorQuery("s1"))
	require.NoError(t, err)
	assert.Empty(t, unread)
}

func TestPostgres_Sessions(t *testing.T) {
	s := setupPostgres(t)
	ctx := context.Background()

	session := &model.Session{ID: "session_pg", ShortCode: "ZX-0001", UserName: "Ana"}
	require.NoError(t, s.CreateSession(ctx, session))
	assert.ErrorIs(t, s.CreateSession(ctx, session), ErrAlreadyExists)

	email := "ana@example.com"
	require.NoError(t, s.UpdateSession(ctx, session.ID, model.SessionPatch{Email: &email}))

	found, err := s.FindSessionsByShortCode(ctx, "ZX-0001")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "ana@example.com", found[0].Email)
}
