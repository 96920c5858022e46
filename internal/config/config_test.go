package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
app:
  port: 9000
  mode: debug
admin:
  password: from-file
site:
  base_url: https://sudooom.dev
store:
  driver: memory
device:
  secret: file-secret
redis:
  host: cache
  port: 6380
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_FileAndDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.App.Port)
	assert.Equal(t, "from-file", cfg.Admin.Password)
	assert.Equal(t, "https://sudooom.dev", cfg.Site.BaseURL)
	assert.Equal(t, "cache:6380", cfg.Redis.Addr())

	// 未配置的项使用默认值
	assert.Equal(t, "Sudooom", cfg.Admin.DisplayName)
	assert.Equal(t, "chat_device", cfg.Device.CookieName)
	assert.Equal(t, 4, cfg.Inbox.MarkReadWorkers)
	assert.Equal(t, 30*time.Minute, cfg.Widget.IdleTimeout)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ADMIN_PASSWORD", "from-env")
	t.Setenv("BASE_URL", "https://example.dev")
	t.Setenv("CHAT_PORT", "7070")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("DEVICE_TOKEN_EXPIRE", "720h")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Admin.Password)
	assert.Equal(t, "https://example.dev", cfg.Site.BaseURL)
	assert.Equal(t, 7070, cfg.App.Port)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 720*time.Hour, cfg.Device.TokenExpire)
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "store:\n  driver: mongo\ndevice:\n  secret: x\n"))
	assert.ErrorContains(t, err, "unknown store driver")

	_, err = Load(writeConfig(t, "store:\n  driver: memory\n"))
	assert.ErrorContains(t, err, "device.secret")
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("CFG_TEST_INT", "not-a-number")
	assert.Equal(t, 5, GetEnvInt("CFG_TEST_INT", 5))

	t.Setenv("CFG_TEST_BOOL", "1")
	assert.True(t, GetEnvBool("CFG_TEST_BOOL", false))

	t.Setenv("CFG_TEST_DUR", "90s")
	assert.Equal(t, 90*time.Second, GetEnvDuration("CFG_TEST_DUR", time.Second))

	assert.Equal(t, "fallback", GetEnv("CFG_TEST_UNSET", "fallback"))
}

func TestDatabaseDSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "chat"}
	assert.Equal(t, "postgres://u:p@db:5432/chat?sslmode=disable", c.DSN())
}
