package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectChanges 集合变更事件 Subject
// 完整格式: chat.changes.{collection}
const (
	SubjectChangesPrefix = "chat.changes."
	SubjectChangesAll    = SubjectChangesPrefix + ">"
)

// BuildChangesSubject 构建集合变更 Subject
func BuildChangesSubject(collection string) string {
	return SubjectChangesPrefix + collection
}

// Config NATS 连接配置
type Config struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
}

// changeEvent 变更事件载荷
type changeEvent struct {
	Collection string `json:"collection"`
	At         int64  `json:"at"`
}

// NATS 基于 NATS 的跨实例变更通知
type NATS struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// Connect 连接 NATS
func Connect(cfg Config) (*NATS, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("Disconnected from NATS", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("Reconnected to NATS", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			slog.Info("NATS connection closed")
		}),
		nats.Timeout(10 * time.Second),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, err
	}

	return NewNATS(conn), nil
}

// NewNATS 使用已有连接
func NewNATS(conn *nats.Conn) *NATS {
	return &NATS{
		conn:   conn,
		logger: slog.Default(),
	}
}

// Conn 返回底层 NATS 连接
func (n *NATS) Conn() *nats.Conn {
	return n.conn
}

// IsConnected 检查连接状态
func (n *NATS) IsConnected() bool {
	return n.conn != nil && n.conn.IsConnected()
}

// Publish 发布变更事件
func (n *NATS) Publish(ctx context.Context, collection string) error {
	data, err := json.Marshal(changeEvent{
		Collection: collection,
		At:         time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	return n.conn.Publish(BuildChangesSubject(collection), data)
}

// Subscribe 订阅所有集合的变更事件
// 每个实例都要收到事件，所以不使用队列组
func (n *NATS) Subscribe(handler Handler) (func(), error) {
	sub, err := n.conn.Subscribe(SubjectChangesAll, func(msg *nats.Msg) {
		var event changeEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			n.logger.Warn("Invalid change event", "subject", msg.Subject, "error", err)
			return
		}
		handler(event.Collection)
	})
	if err != nil {
		return nil, err
	}

	n.logger.Info("NATS change subscriber started", "subject", SubjectChangesAll)
	return func() {
		if err := sub.Unsubscribe(); err != nil {
			n.logger.Warn("Failed to unsubscribe", "subject", SubjectChangesAll, "error", err)
		}
	}, nil
}

// Close 关闭连接
func (n *NATS) Close() {
	if n.conn != nil {
		n.conn.Close()
	}
}
