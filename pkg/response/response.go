package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	appErrors "sudooom.portfolio.chat/pkg/errors"
)

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Kind    string      `json:"kind,omitempty"`
	Data    interface{} `json:"data"`
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    appErrors.CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// ErrorWithMsg 自定义错误消息
func ErrorWithMsg(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
		Kind:    string(appErrors.KindOf(appErrors.NewError(code, message))),
	})
}

// ErrorFromAppError 从 AppError 生成错误响应
// 业务错误统一返回 200，由 code/kind 区分
func ErrorFromAppError(c *gin.Context, err error) {
	ErrorWithData(c, err, nil)
}

// ErrorWithData 错误响应，同时携带当前视图等数据
func ErrorWithData(c *gin.Context, err error, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    appErrors.GetCode(err),
		Message: appErrors.GetMessage(err),
		Kind:    string(appErrors.KindOf(err)),
		Data:    data,
	})
}

// Unauthorized 未认证
func Unauthorized(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, Response{
		Code:    appErrors.CodeUnauthorized,
		Message: appErrors.ErrUnauthorized.Message,
		Kind:    string(appErrors.KindAuthentication),
	})
}
