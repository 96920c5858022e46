package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"sudooom.portfolio.chat/internal/config"
	"sudooom.portfolio.chat/internal/handler"
	"sudooom.portfolio.chat/internal/inbox"
	"sudooom.portfolio.chat/internal/localstore"
	"sudooom.portfolio.chat/internal/middleware"
	"sudooom.portfolio.chat/pkg/jwt"
)

// Deps 路由依赖
type Deps struct {
	JWT              *jwt.Service
	Inbox            *inbox.Inbox
	Locals           localstore.Provider
	WidgetHandler    *handler.WidgetHandler
	AdminHandler     *handler.AdminHandler
	MagicLinkHandler *handler.MagicLinkHandler
	Health           http.Handler
}

// SetupRouter 设置路由
func SetupRouter(cfg *config.Config, d Deps) *gin.Engine {
	// 设置 Gin 模式
	gin.SetMode(cfg.App.Mode)

	r := gin.New()

	// 全局中间件
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS(
		cfg.CORS.AllowedOrigins,
		cfg.CORS.AllowedMethods,
		cfg.CORS.AllowCredentials,
	))

	if d.Health != nil {
		r.GET("/health", gin.WrapH(d.Health))
	}

	// 魔法链接发送接口，不需要设备身份
	r.POST("/api/send-magic-link", d.MagicLinkHandler.Send)

	v1 := r.Group("/api/v1")
	v1.Use(middleware.DeviceIdentity(d.JWT, cfg.Device.CookieName))
	{
		w := v1.Group("/widget")
		{
			w.POST("/open", d.WidgetHandler.Open)
			w.GET("", d.WidgetHandler.View)
			w.DELETE("", d.WidgetHandler.Close)
			w.GET("/ws", d.WidgetHandler.Stream)
			w.POST("/name", d.WidgetHandler.SubmitName)
			w.POST("/email", d.WidgetHandler.SubmitEmail)
			w.POST("/email/skip", d.WidgetHandler.SkipEmail)
			w.POST("/continue", d.WidgetHandler.Continue)
			w.POST("/recover/start", d.WidgetHandler.StartRecovery)
			w.POST("/recover/cancel", d.WidgetHandler.CancelRecovery)
			w.POST("/recover", d.WidgetHandler.Recover)
			w.POST("/messages", d.WidgetHandler.Send)
		}

		admin := v1.Group("/admin")
		{
			admin.POST("/login", d.AdminHandler.Login)
			admin.POST("/logout", d.AdminHandler.Logout)

			guarded := admin.Group("")
			guarded.Use(middleware.AdminAuth(d.Inbox, d.Locals))
			{
				guarded.GET("/conversations", d.AdminHandler.Conversations)
				guarded.GET("/conversations/ws", d.AdminHandler.StreamConversations)
				guarded.GET("/conversations/:sessionId/messages", d.AdminHandler.Thread)
				guarded.GET("/conversations/:sessionId/messages/ws", d.AdminHandler.StreamThread)
				guarded.POST("/conversations/:sessionId/messages", d.AdminHandler.Send)
			}
		}
	}

	return r
}
