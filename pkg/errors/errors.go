package errors

import (
	"errors"
	"fmt"
)

// AppError 应用错误类型
// 每个错误只作用于触发它的那一次交互，不会导致进程退出
type AppError struct {
	Code    int    // 错误码
	Message string // 用户可见的提示
	Err     error  // 原始错误（可选，用于日志）
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 支持 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewError 创建新错误
func NewError(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包装原始错误，保留错误码和提示
func (e *AppError) Wrap(err error) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     err,
	}
}

// Is 判断是否为指定错误（按错误码比较）
func Is(err error, target *AppError) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == target.Code
	}
	return false
}

// GetCode 获取错误码，如果不是 AppError 返回服务器错误
func GetCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeServerError
}

// GetMessage 获取用户可见的错误提示
func GetMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "服务器内部错误"
}

// KindOf 返回错误所属的类别
func KindOf(err error) Kind {
	code := GetCode(err)
	switch {
	case code == CodeSuccess:
		return KindNone
	case code >= 10000 && code < 11000:
		return KindAuthentication
	case code >= 11000 && code < 12000:
		return KindValidation
	case code >= 12000 && code < 13000:
		return KindNotFound
	default:
		return KindTransport
	}
}

// Kind 错误类别
type Kind string

const (
	KindNone           Kind = ""
	KindValidation     Kind = "validation"
	KindNotFound       Kind = "not_found"
	KindTransport      Kind = "transport"
	KindAuthentication Kind = "authentication"
)

// ============== 错误码定义 ==============

const (
	CodeSuccess = 0

	// 认证相关 10000-10999
	CodeInvalidPassword = 10001
	CodeUnauthorized    = 10002
	CodeTokenInvalid    = 10003

	// 校验相关 11000-11999（本地检测，不做任何 I/O）
	CodeInvalidParams    = 11001
	CodeInvalidShortCode = 11002
	CodeInvalidEmail     = 11003
	CodeEmptyMessage     = 11004
	CodeEmptyName        = 11005
	CodeSendInFlight     = 11006
	CodeInvalidState     = 11007

	// 查找相关 12000-12999
	CodeSessionNotFound = 12001
	CodeWidgetNotOpen   = 12002

	// 系统错误 50000-50999
	CodeServerError    = 50001
	CodeStoreError     = 50002
	CodeDispatchFailed = 50003
)

// ============== 预定义错误 ==============

// 认证相关
var (
	ErrInvalidPassword = NewError(CodeInvalidPassword, "密码错误")
	ErrUnauthorized    = NewError(CodeUnauthorized, "需要管理员登录")
	ErrTokenInvalid    = NewError(CodeTokenInvalid, "设备令牌无效")
)

// 校验相关
var (
	ErrInvalidParams    = NewError(CodeInvalidParams, "参数校验失败")
	ErrInvalidShortCode = NewError(CodeInvalidShortCode, "恢复码格式无效，应为 AB-1234")
	ErrInvalidEmail     = NewError(CodeInvalidEmail, "邮箱格式无效")
	ErrEmptyMessage     = NewError(CodeEmptyMessage, "消息不能为空")
	ErrEmptyName        = NewError(CodeEmptyName, "名字不能为空")
	ErrSendInFlight     = NewError(CodeSendInFlight, "上一条消息仍在发送中")
	ErrInvalidState     = NewError(CodeInvalidState, "当前状态不允许该操作")
)

// 查找相关
var (
	ErrSessionNotFound = NewError(CodeSessionNotFound, "未找到对应的会话")
	ErrWidgetNotOpen   = NewError(CodeWidgetNotOpen, "聊天窗口未打开")
)

// 系统相关
var (
	ErrServerError    = NewError(CodeServerError, "服务器内部错误")
	ErrStore          = NewError(CodeStoreError, "暂时无法连接消息服务，请稍后重试")
	ErrDispatchFailed = NewError(CodeDispatchFailed, "恢复链接发送失败")
)
