package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

const (
	StateConnected    = "connected"
	StateDisconnected = "disconnected"
	StateDisabled     = "disabled"
)

// Status 健康状态，未启用的依赖为 disabled
type Status struct {
	Store    string `json:"store"`
	NATS     string `json:"nats"`
	Redis    string `json:"redis"`
	Database string `json:"database"`
	Widgets  int    `json:"widgets"`
}

// Healthy 所有启用的依赖都已连接
func (s *Status) Healthy() bool {
	for _, state := range []string{s.NATS, s.Redis, s.Database} {
		if state == StateDisconnected {
			return false
		}
	}
	return true
}

// Checker 健康检查器
type Checker struct {
	storeDriver string
	nc          *nats.Conn
	redisClient *redis.Client
	db          *pgxpool.Pool
	widgets     func() int
}

// NewChecker 创建健康检查器，nc/redisClient/db 可以为空
func NewChecker(storeDriver string, nc *nats.Conn, redisClient *redis.Client, db *pgxpool.Pool, widgets func() int) *Checker {
	return &Checker{
		storeDriver: storeDriver,
		nc:          nc,
		redisClient: redisClient,
		db:          db,
		widgets:     widgets,
	}
}

// Check 执行健康检查
func (h *Checker) Check(ctx context.Context) *Status {
	status := &Status{
		Store:    h.storeDriver,
		NATS:     StateDisabled,
		Redis:    StateDisabled,
		Database: StateDisabled,
	}
	if h.widgets != nil {
		status.Widgets = h.widgets()
	}

	// 检查 NATS
	if h.nc != nil {
		status.NATS = connected(h.nc.IsConnected())
	}

	// 检查 Redis
	if h.redisClient != nil {
		redisCtx, redisCancel := context.WithTimeout(ctx, 2*time.Second)
		defer redisCancel()
		status.Redis = connected(h.redisClient.Ping(redisCtx).Err() == nil)
	}

	// 检查 PostgreSQL
	if h.db != nil {
		dbCtx, dbCancel := context.WithTimeout(ctx, 2*time.Second)
		defer dbCancel()
		status.Database = connected(h.db.Ping(dbCtx) == nil)
	}

	return status
}

// ServeHTTP HTTP 健康检查端点
func (h *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := h.Check(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if status.Healthy() {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}

func connected(ok bool) string {
	if ok {
		return StateConnected
	}
	return StateDisconnected
}
