package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"sudooom.portfolio.chat/internal/feed"
	"sudooom.portfolio.chat/internal/inbox"
	"sudooom.portfolio.chat/internal/localstore"
	"sudooom.portfolio.chat/internal/middleware"
	"sudooom.portfolio.chat/internal/model"
	"sudooom.portfolio.chat/internal/realtime"
	"sudooom.portfolio.chat/pkg/response"
)

// AdminHandler 管理后台
type AdminHandler struct {
	inbox    *inbox.Inbox
	locals   localstore.Provider
	upgrader *websocket.Upgrader
	now      func() time.Time
}

// NewAdminHandler 创建管理后台处理器
func NewAdminHandler(in *inbox.Inbox, locals localstore.Provider, upgrader *websocket.Upgrader) *AdminHandler {
	return &AdminHandler{
		inbox:    in,
		locals:   locals,
		upgrader: upgrader,
		now:      time.Now,
	}
}

// LoginRequest 管理员登录
type LoginRequest struct {
	Password string `json:"password"`
}

// Login POST /api/v1/admin/login
func (h *AdminHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidParams(c, err)
		return
	}

	local := h.locals.ForDevice(middleware.GetDeviceID(c))
	if err := h.inbox.Login(c.Request.Context(), local, req.Password); err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, gin.H{"authenticated": true})
}

// Logout POST /api/v1/admin/logout
func (h *AdminHandler) Logout(c *gin.Context) {
	local := h.locals.ForDevice(middleware.GetDeviceID(c))
	if err := h.inbox.Logout(c.Request.Context(), local); err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, gin.H{"authenticated": false})
}

// Conversations 会话列表
// GET /api/v1/admin/conversations
func (h *AdminHandler) Conversations(c *gin.Context) {
	convs, err := h.inbox.Conversations(c.Request.Context())
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, inbox.Present(convs, h.now()))
}

// StreamConversations 推送会话列表
// GET /api/v1/admin/conversations/ws
func (h *AdminHandler) StreamConversations(c *gin.Context) {
	src, err := h.inbox.WatchConversations(c.Request.Context())
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		src.Close()
		return
	}
	realtime.Serve(realtime.NewConnection(ws), "conversations", presentFeed(src, h.now))
}

// Thread 会话消息，同时标记已读
// GET /api/v1/admin/conversations/:sessionId/messages
func (h *AdminHandler) Thread(c *gin.Context) {
	msgs, err := h.inbox.Thread(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, msgs)
}

// StreamThread 推送会话消息，连接期间新到的访客消息都会被标记为已读
// GET /api/v1/admin/conversations/:sessionId/messages/ws
func (h *AdminHandler) StreamThread(c *gin.Context) {
	src, err := h.inbox.OpenThread(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		src.Close()
		return
	}
	realtime.Serve(realtime.NewConnection(ws), "thread", src)
}

// Send 管理员回复
// POST /api/v1/admin/conversations/:sessionId/messages
func (h *AdminHandler) Send(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidParams(c, err)
		return
	}

	msg, err := h.inbox.Send(c.Request.Context(), c.Param("sessionId"), req.Text)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, msg)
}

// presentFeed 为推送的会话列表附加相对时间
func presentFeed(src *feed.Feed[[]model.Conversation], now func() time.Time) *feed.Feed[[]inbox.ConversationItem] {
	out := feed.New[[]inbox.ConversationItem]()
	out.OnClose(src.Close)

	go func() {
		defer out.Close()
		for convs := range src.C() {
			if !out.Push(inbox.Present(convs, now())) {
				return
			}
		}
	}()
	return out
}
