package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"sudooom.portfolio.chat/internal/middleware"
	"sudooom.portfolio.chat/internal/realtime"
	"sudooom.portfolio.chat/internal/session"
	"sudooom.portfolio.chat/internal/widget"
	"sudooom.portfolio.chat/pkg/response"
)

// WidgetHandler 访客聊天窗口
type WidgetHandler struct {
	registry *widget.Registry
	upgrader *websocket.Upgrader
}

// NewWidgetHandler 创建访客聊天窗口处理器
func NewWidgetHandler(registry *widget.Registry, upgrader *websocket.Upgrader) *WidgetHandler {
	return &WidgetHandler{registry: registry, upgrader: upgrader}
}

// OpenRequest 打开窗口，session 为页面地址中的魔法链接参数
type OpenRequest struct {
	Session string `json:"session"`
}

// NameRequest 提交名字
type NameRequest struct {
	Name string `json:"name"`
}

// EmailRequest 提交邮箱
type EmailRequest struct {
	Email string `json:"email"`
}

// RecoverRequest 提交恢复码
type RecoverRequest struct {
	Code string `json:"code"`
}

// SendRequest 发送消息
type SendRequest struct {
	Text string `json:"text"`
}

// Open 挂载窗口并解析会话
// POST /api/v1/widget/open
func (h *WidgetHandler) Open(c *gin.Context) {
	var req OpenRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			invalidParams(c, err)
			return
		}
	}
	if req.Session == "" {
		req.Session = c.Query(session.URLParam)
	}

	w, err := h.registry.Open(c.Request.Context(), middleware.GetDeviceID(c), req.Session)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, w.View())
}

// View 当前视图
// GET /api/v1/widget
func (h *WidgetHandler) View(c *gin.Context) {
	w, ok := h.widget(c)
	if !ok {
		return
	}
	response.Success(c, w.View())
}

// Close 卸载窗口
// DELETE /api/v1/widget
func (h *WidgetHandler) Close(c *gin.Context) {
	h.registry.Close(middleware.GetDeviceID(c))
	response.Success(c, nil)
}

// SubmitName POST /api/v1/widget/name
func (h *WidgetHandler) SubmitName(c *gin.Context) {
	var req NameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidParams(c, err)
		return
	}
	h.act(c, func(w *widget.Widget) error {
		return w.SubmitName(c.Request.Context(), req.Name)
	})
}

// SubmitEmail POST /api/v1/widget/email
func (h *WidgetHandler) SubmitEmail(c *gin.Context) {
	var req EmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidParams(c, err)
		return
	}
	h.act(c, func(w *widget.Widget) error {
		return w.SubmitEmail(c.Request.Context(), req.Email)
	})
}

// SkipEmail POST /api/v1/widget/email/skip
func (h *WidgetHandler) SkipEmail(c *gin.Context) {
	h.act(c, func(w *widget.Widget) error {
		return w.SkipEmail(c.Request.Context())
	})
}

// Continue POST /api/v1/widget/continue
func (h *WidgetHandler) Continue(c *gin.Context) {
	h.act(c, func(w *widget.Widget) error {
		return w.Continue(c.Request.Context())
	})
}

// StartRecovery POST /api/v1/widget/recover/start
func (h *WidgetHandler) StartRecovery(c *gin.Context) {
	h.act(c, func(w *widget.Widget) error {
		return w.StartRecovery()
	})
}

// CancelRecovery POST /api/v1/widget/recover/cancel
func (h *WidgetHandler) CancelRecovery(c *gin.Context) {
	h.act(c, func(w *widget.Widget) error {
		return w.CancelRecovery()
	})
}

// Recover POST /api/v1/widget/recover
func (h *WidgetHandler) Recover(c *gin.Context) {
	var req RecoverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidParams(c, err)
		return
	}
	h.act(c, func(w *widget.Widget) error {
		return w.Recover(c.Request.Context(), req.Code)
	})
}

// Send POST /api/v1/widget/messages
func (h *WidgetHandler) Send(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidParams(c, err)
		return
	}
	h.act(c, func(w *widget.Widget) error {
		_, err := w.Send(c.Request.Context(), req.Text)
		return err
	})
}

// Stream 推送窗口视图
// GET /api/v1/widget/ws
func (h *WidgetHandler) Stream(c *gin.Context) {
	w, ok := h.widget(c)
	if !ok {
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已经写入响应
		return
	}
	realtime.Serve(realtime.NewConnection(ws), "widget", w.Updates())
}

// act 执行一次窗口操作，失败时同时返回当前视图
func (h *WidgetHandler) act(c *gin.Context, fn func(w *widget.Widget) error) {
	w, ok := h.widget(c)
	if !ok {
		return
	}
	if err := fn(w); err != nil {
		response.ErrorWithData(c, err, w.View())
		return
	}
	response.Success(c, w.View())
}

func (h *WidgetHandler) widget(c *gin.Context) (*widget.Widget, bool) {
	w, err := h.registry.Get(middleware.GetDeviceID(c))
	if err != nil {
		response.ErrorFromAppError(c, err)
		return nil, false
	}
	return w, true
}
