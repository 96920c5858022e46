package handler

import (
	"github.com/gin-gonic/gin"

	appErrors "sudooom.portfolio.chat/pkg/errors"
	"sudooom.portfolio.chat/pkg/response"
)

// invalidParams 请求体无法解析
func invalidParams(c *gin.Context, err error) {
	response.ErrorWithMsg(c, appErrors.CodeInvalidParams, err.Error())
}
