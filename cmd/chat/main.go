package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"sudooom.portfolio.chat/internal/config"
	"sudooom.portfolio.chat/internal/handler"
	"sudooom.portfolio.chat/internal/health"
	"sudooom.portfolio.chat/internal/inbox"
	"sudooom.portfolio.chat/internal/localstore"
	"sudooom.portfolio.chat/internal/magiclink"
	"sudooom.portfolio.chat/internal/notify"
	"sudooom.portfolio.chat/internal/realtime"
	"sudooom.portfolio.chat/internal/router"
	"sudooom.portfolio.chat/internal/session"
	"sudooom.portfolio.chat/internal/store"
	"sudooom.portfolio.chat/internal/widget"
	"sudooom.portfolio.chat/internal/workerpool"
	"sudooom.portfolio.chat/pkg/jwt"
)

func main() {
	// 加载配置
	cfg, err := config.Load(config.GetEnv("CHAT_CONFIG", "configs/config.yaml"))
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.App.LogLevel),
	}))
	slog.SetDefault(logger)

	if cfg.Admin.Password == "" {
		logger.Warn("ADMIN_PASSWORD is not set, admin login is disabled")
	}

	// 创建上下文
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 连接 NATS
	var natsConn *nats.Conn
	var notifier notify.Notifier = notify.NewLocal()
	if cfg.NATS.Enabled {
		n, err := notify.Connect(notify.Config{
			URL:           cfg.NATS.URL,
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
		})
		if err != nil {
			logger.Error("Failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer n.Close()
		natsConn = n.Conn()
		notifier = n
		logger.Info("Connected to NATS", "url", cfg.NATS.URL)
	}

	// 消息存储
	var db *pgxpool.Pool
	var docs store.Store
	switch cfg.Store.Driver {
	case "postgres":
		db, err = connectDatabase(ctx, cfg.Database)
		if err != nil {
			logger.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		logger.Info("Connected to PostgreSQL", "host", cfg.Database.Host)

		pg, err := store.NewPostgres(db, notifier, cfg.App.NodeID)
		if err != nil {
			logger.Error("Failed to create postgres store", "error", err)
			os.Exit(1)
		}
		if err := pg.Migrate(ctx); err != nil {
			logger.Error("Failed to migrate database", "error", err)
			os.Exit(1)
		}
		docs = pg
	default:
		docs = store.NewMemory()
		logger.Info("Using in-memory store")
	}
	defer docs.Close()

	// 设备本地存储
	var redisClient *redis.Client
	var locals localstore.Provider = localstore.NewMemory()
	if cfg.Redis.Enabled {
		redisClient = connectRedis(cfg.Redis)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		locals = localstore.NewRedis(redisClient, cfg.Redis.StorageTTL)
		logger.Info("Connected to Redis", "addr", cfg.Redis.Addr())
	}

	// 魔法链接发送
	var dispatcher magiclink.Dispatcher = magiclink.NewLogDispatcher(cfg.Site.BaseURL)
	if cfg.Site.MagicLinkEndpoint != "" {
		dispatcher = magiclink.NewHTTPDispatcher(cfg.Site.MagicLinkEndpoint, cfg.Site.MagicLinkTimeout)
	}

	// 标记已读写入池
	pool := workerpool.New(cfg.Inbox.MarkReadWorkers, cfg.Inbox.MarkReadQueue, logger)

	// 初始化业务组件
	jwtService := jwt.NewService(cfg.Device.Secret, cfg.Device.TokenExpire)
	sessions := session.NewManager(docs)
	registry := widget.NewRegistry(sessions, docs, dispatcher, locals)
	adminInbox := inbox.New(docs, inbox.NewAuthenticator(cfg.Admin.Password), pool, cfg.Admin.DisplayName)
	go registry.Run(ctx, cfg.Widget.SweepInterval, cfg.Widget.IdleTimeout)

	// 初始化 Handler
	upgrader := realtime.NewUpgrader(cfg.CORS.AllowedOrigins)
	r := router.SetupRouter(cfg, router.Deps{
		JWT:              jwtService,
		Inbox:            adminInbox,
		Locals:           locals,
		WidgetHandler:    handler.NewWidgetHandler(registry, upgrader),
		AdminHandler:     handler.NewAdminHandler(adminInbox, locals, upgrader),
		MagicLinkHandler: handler.NewMagicLinkHandler(dispatcher),
		Health:           health.NewChecker(cfg.Store.Driver, natsConn, redisClient, db, registry.Len),
	})

	// 启动服务器
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Chat server started", "addr", srv.Addr, "mode", cfg.App.Mode, "store", cfg.Store.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	cancel()
	registry.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server shutdown incomplete", "error", err)
	}
	pool.Shutdown(shutdownCtx)
	logger.Info("Server stopped")
}

// connectDatabase 连接 PostgreSQL
func connectDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	poolConfig.MaxConnIdleTime = 10 * time.Minute

	db, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// connectRedis 连接 Redis
func connectRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
