// Package realtime 通过 websocket 向浏览器推送快照。
//
// 服务端只写不读：客户端发来的帧被丢弃，读循环只用来
// 处理 pong 和发现断开。每个连接只有一个写协程。
package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"sudooom.portfolio.chat/internal/feed"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxReadBytes = 4096
)

// Envelope 推送帧
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// NewUpgrader 创建 websocket 升级器
// allowedOrigins 为空或包含 "*" 时不检查来源
func NewUpgrader(allowedOrigins []string) *websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = struct{}{}
	}

	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			_, ok := allowed[origin]
			return ok
		},
	}
}

// Connection 一个 websocket 连接
type Connection struct {
	ID string

	ws     *websocket.Conn
	once   sync.Once
	closed chan struct{}
	logger *slog.Logger
}

// NewConnection 包装已升级的连接
func NewConnection(ws *websocket.Conn) *Connection {
	id := uuid.NewString()
	return &Connection{
		ID:     id,
		ws:     ws,
		closed: make(chan struct{}),
		logger: slog.Default().With("conn_id", id),
	}
}

// Done 连接关闭后关闭
func (c *Connection) Done() <-chan struct{} {
	return c.closed
}

// Close 发送关闭帧并断开，可重复调用
func (c *Connection) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.closed)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = c.ws.Close()
	})
}

// Serve 把 src 的每个快照以 typ 类型写给客户端，阻塞直到连接或订阅关闭
// 返回时两者都已关闭
func Serve[T any](c *Connection, typ string, src *feed.Feed[T]) {
	defer src.Close()

	go c.readLoop()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case v, ok := <-src.C():
			if !ok {
				c.Close(websocket.CloseNormalClosure, "subscription closed")
				return
			}
			if err := c.writeJSON(Envelope{Type: typ, Data: v}); err != nil {
				c.logger.Debug("Websocket write failed", "error", err)
				c.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.writePing(); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

// readLoop 丢弃客户端消息，读失败即视为断开
func (c *Connection) readLoop() {
	c.ws.SetReadLimit(maxReadBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			c.Close(websocket.CloseNormalClosure, "client gone")
			return
		}
	}
}

func (c *Connection) writeJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *Connection) writePing() error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.PingMessage, nil)
}
