package inbox

import (
	"context"
	"crypto/subtle"

	"sudooom.portfolio.chat/internal/localstore"
	appErrors "sudooom.portfolio.chat/pkg/errors"
)

// Authenticator 单一共享口令，明文比较
// 没有过期、锁定和限流，只作为后续加固的接口
type Authenticator struct {
	secret string
}

// NewAuthenticator 创建口令校验
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: secret}
}

// Authenticate 口令是否匹配，未配置口令时总是失败
func (a *Authenticator) Authenticate(secret string) bool {
	if a.secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a.secret), []byte(secret)) == 1
}

// Login 校验口令并在设备本地存储中写入管理员标记
func (i *Inbox) Login(ctx context.Context, local localstore.Storage, secret string) error {
	if !i.auth.Authenticate(secret) {
		i.logger.Warn("Admin login rejected")
		return appErrors.ErrInvalidPassword
	}
	if err := local.Set(ctx, localstore.KeyAdminAuth, localstore.AdminAuthValue); err != nil {
		i.logger.Error("Failed to save admin flag", "error", err)
		return appErrors.ErrStore.Wrap(err)
	}
	i.logger.Info("Admin logged in")
	return nil
}

// Logout 清除管理员标记
func (i *Inbox) Logout(ctx context.Context, local localstore.Storage) error {
	if err := local.Remove(ctx, localstore.KeyAdminAuth); err != nil {
		i.logger.Error("Failed to clear admin flag", "error", err)
		return appErrors.ErrStore.Wrap(err)
	}
	return nil
}

// IsAuthenticated 设备是否带有管理员标记
func (i *Inbox) IsAuthenticated(ctx context.Context, local localstore.Storage) (bool, error) {
	v, ok, err := local.Get(ctx, localstore.KeyAdminAuth)
	if err != nil {
		return false, appErrors.ErrStore.Wrap(err)
	}
	return ok && v == localstore.AdminAuthValue, nil
}
