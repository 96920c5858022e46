package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"sudooom.portfolio.chat/internal/magiclink"
)

// MagicLinkHandler 魔法链接发送接口
// 该接口不走统一响应结构，状态码本身就是契约：400 缺字段，500 发送失败
type MagicLinkHandler struct {
	dispatcher magiclink.Dispatcher
	logger     *slog.Logger
}

// NewMagicLinkHandler 创建魔法链接处理器
func NewMagicLinkHandler(dispatcher magiclink.Dispatcher) *MagicLinkHandler {
	return &MagicLinkHandler{
		dispatcher: dispatcher,
		logger:     slog.Default().With("component", "magic_link"),
	}
}

// Send POST /api/send-magic-link
func (h *MagicLinkHandler) Send(c *gin.Context) {
	var req magiclink.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, magiclink.Result{Error: "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, magiclink.Result{Error: err.Error()})
		return
	}

	if err := h.dispatcher.Dispatch(c.Request.Context(), req); err != nil {
		if errors.Is(err, magiclink.ErrMissingField) {
			c.JSON(http.StatusBadRequest, magiclink.Result{Error: err.Error()})
			return
		}
		h.logger.Error("Failed to send magic link", "error", err)
		c.JSON(http.StatusInternalServerError, magiclink.Result{Error: "failed to send magic link"})
		return
	}

	c.JSON(http.StatusOK, magiclink.Result{
		Success: true,
		Message: "Magic link sent",
	})
}
