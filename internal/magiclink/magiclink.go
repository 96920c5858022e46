// Package magiclink 通知访客如何找回会话。
package magiclink

import (
	"context"
	"errors"
	"log/slog"

	"sudooom.portfolio.chat/internal/session"
)

var ErrMissingField = errors.New("email, sessionId and shortCode are required")

// Request 发送请求
type Request struct {
	Email     string `json:"email"`
	SessionID string `json:"sessionId"`
	ShortCode string `json:"shortCode"`
}

// Validate 所有字段都必须提供
func (r Request) Validate() error {
	if r.Email == "" || r.SessionID == "" || r.ShortCode == "" {
		return ErrMissingField
	}
	return nil
}

// Dispatcher 发送魔法链接
// 返回错误表示发送失败，与输入校验失败区分
type Dispatcher interface {
	Dispatch(ctx context.Context, req Request) error
}

// LogDispatcher 只把链接和恢复码写入日志
// 替换为真实的邮件服务时保持相同的成功/失败语义
type LogDispatcher struct {
	baseURL string
	logger  *slog.Logger
}

// NewLogDispatcher 创建日志发送器
func NewLogDispatcher(baseURL string) *LogDispatcher {
	return &LogDispatcher{
		baseURL: baseURL,
		logger:  slog.Default(),
	}
}

// Dispatch 记录魔法链接
func (d *LogDispatcher) Dispatch(ctx context.Context, req Request) error {
	if err := req.Validate(); err != nil {
		return err
	}

	d.logger.Info("Magic link email",
		"to", req.Email,
		"magic_link", session.MagicLink(d.baseURL, req.SessionID),
		"short_code", req.ShortCode,
	)
	return nil
}
