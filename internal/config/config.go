package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Site     SiteConfig     `mapstructure:"site"`
	Store    StoreConfig    `mapstructure:"store"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Device   DeviceConfig   `mapstructure:"device"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Inbox    InboxConfig    `mapstructure:"inbox"`
	Widget   WidgetConfig   `mapstructure:"widget"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	Port     int    `mapstructure:"port"`
	Mode     string `mapstructure:"mode"`
	LogLevel string `mapstructure:"log_level"`
	NodeID   int64  `mapstructure:"node_id"`
}

// AdminConfig 管理后台口令和回复时的显示名
type AdminConfig struct {
	Password    string `mapstructure:"password"`
	DisplayName string `mapstructure:"display_name"`
}

// SiteConfig 魔法链接的站点地址，MagicLinkEndpoint 非空时改为调用远程发送服务
type SiteConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	MagicLinkEndpoint string        `mapstructure:"magic_link_endpoint"`
	MagicLinkTimeout  time.Duration `mapstructure:"magic_link_timeout"`
}

// StoreConfig 存储驱动：memory 或 postgres
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN 连接串
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Name)
}

type RedisConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	Password   string        `mapstructure:"password"`
	DB         int           `mapstructure:"db"`
	PoolSize   int           `mapstructure:"pool_size"`
	StorageTTL time.Duration `mapstructure:"storage_ttl"`
}

// Addr 地址
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type NATSConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	URL           string        `mapstructure:"url"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

// DeviceConfig 设备令牌
type DeviceConfig struct {
	Secret      string        `mapstructure:"secret"`
	TokenExpire time.Duration `mapstructure:"token_expire"`
	CookieName  string        `mapstructure:"cookie_name"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

// InboxConfig 标记已读的后台写入池
type InboxConfig struct {
	MarkReadWorkers int `mapstructure:"mark_read_workers"`
	MarkReadQueue   int `mapstructure:"mark_read_queue"`
}

// WidgetConfig 空闲窗口清理
type WidgetConfig struct {
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// Load 加载配置，工作目录下的 .env 先写入环境变量（不覆盖已有变量）
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// 从环境变量覆盖配置
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "portfolio-chat")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.mode", "release")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.node_id", 1)
	v.SetDefault("admin.display_name", "Sudooom")
	v.SetDefault("site.base_url", "http://localhost:3000")
	v.SetDefault("site.magic_link_timeout", 10*time.Second)
	v.SetDefault("store.driver", "memory")
	v.SetDefault("redis.storage_ttl", 365*24*time.Hour)
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("device.cookie_name", "chat_device")
	v.SetDefault("inbox.mark_read_workers", 4)
	v.SetDefault("inbox.mark_read_queue", 256)
	v.SetDefault("widget.idle_timeout", 30*time.Minute)
	v.SetDefault("widget.sweep_interval", time.Minute)
}

// applyEnv 从环境变量覆盖配置
func (c *Config) applyEnv() {
	// App
	c.App.Port = GetEnvInt("CHAT_PORT", c.App.Port)
	c.App.Mode = GetEnv("GIN_MODE", c.App.Mode)
	c.App.LogLevel = GetEnv("LOG_LEVEL", c.App.LogLevel)

	// Admin / Site
	c.Admin.Password = GetEnv("ADMIN_PASSWORD", c.Admin.Password)
	c.Admin.DisplayName = GetEnv("ADMIN_DISPLAY_NAME", c.Admin.DisplayName)
	c.Site.BaseURL = GetEnv("BASE_URL", c.Site.BaseURL)
	c.Site.MagicLinkEndpoint = GetEnv("MAGIC_LINK_ENDPOINT", c.Site.MagicLinkEndpoint)

	// Store
	c.Store.Driver = GetEnv("STORE_DRIVER", c.Store.Driver)

	// Database
	c.Database.Host = GetEnv("POSTGRES_HOST", c.Database.Host)
	c.Database.Port = GetEnvInt("POSTGRES_PORT", c.Database.Port)
	c.Database.User = GetEnv("POSTGRES_USER", c.Database.User)
	c.Database.Password = GetEnv("POSTGRES_PASSWORD", c.Database.Password)
	c.Database.Name = GetEnv("POSTGRES_DB", c.Database.Name)
	c.Database.MaxOpenConns = GetEnvInt("POSTGRES_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = GetEnvInt("POSTGRES_MAX_IDLE_CONNS", c.Database.MaxIdleConns)

	// Redis
	c.Redis.Enabled = GetEnvBool("REDIS_ENABLED", c.Redis.Enabled)
	c.Redis.Host = GetEnv("REDIS_HOST", c.Redis.Host)
	c.Redis.Port = GetEnvInt("REDIS_PORT", c.Redis.Port)
	c.Redis.Password = GetEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = GetEnvInt("REDIS_DB", c.Redis.DB)
	c.Redis.PoolSize = GetEnvInt("REDIS_POOL_SIZE", c.Redis.PoolSize)

	// NATS
	c.NATS.Enabled = GetEnvBool("NATS_ENABLED", c.NATS.Enabled)
	c.NATS.URL = GetEnv("NATS_URL", c.NATS.URL)

	// Device
	c.Device.Secret = GetEnv("DEVICE_SECRET", c.Device.Secret)
	c.Device.TokenExpire = GetEnvDuration("DEVICE_TOKEN_EXPIRE", c.Device.TokenExpire)
}

// Validate 检查必填项
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "postgres":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Device.Secret == "" {
		return errors.New("device.secret is required")
	}
	if strings.TrimSpace(c.Site.BaseURL) == "" {
		return errors.New("site.base_url is required")
	}
	return nil
}
