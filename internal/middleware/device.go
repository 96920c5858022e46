package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"sudooom.portfolio.chat/internal/inbox"
	"sudooom.portfolio.chat/internal/localstore"
	"sudooom.portfolio.chat/pkg/jwt"
	"sudooom.portfolio.chat/pkg/response"
)

const (
	// DeviceTokenHeader 设备令牌请求头，响应中返回新签发的令牌
	DeviceTokenHeader = "X-Device-Token"
	// DeviceTokenQuery websocket 无法自定义请求头时使用的查询参数
	DeviceTokenQuery = "device_token"

	deviceIDKey     = "device_id"
	cookieMaxAgeSec = 365 * 24 * 60 * 60
)

// DeviceIdentity 识别浏览器
// 令牌缺失或无效时签发新设备令牌，相当于一个全新的本地存储
func DeviceIdentity(jwtService *jwt.Service, cookieName string) gin.HandlerFunc {
	logger := slog.Default().With("component", "device")

	return func(c *gin.Context) {
		token := extractDeviceToken(c, cookieName)

		deviceID, err := jwtService.ValidateDeviceToken(token)
		if token == "" || err != nil {
			if token != "" && !errors.Is(err, jwt.ErrTokenExpired) {
				logger.Debug("Invalid device token, issuing new one", "error", err)
			}

			deviceID = uuid.NewString()
			token, err = jwtService.GenerateDeviceToken(deviceID)
			if err != nil {
				logger.Error("Failed to issue device token", "error", err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, response.Response{
					Code:    http.StatusInternalServerError,
					Message: "failed to issue device token",
				})
				return
			}
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(cookieName, token, cookieMaxAgeSec, "/", "", false, true)
		}

		c.Header(DeviceTokenHeader, token)
		c.Set(deviceIDKey, deviceID)
		c.Next()
	}
}

func extractDeviceToken(c *gin.Context, cookieName string) string {
	if token := c.GetHeader(DeviceTokenHeader); token != "" {
		return token
	}
	if token := c.Query(DeviceTokenQuery); token != "" {
		return token
	}
	if token, err := c.Cookie(cookieName); err == nil {
		return token
	}
	return ""
}

// GetDeviceID 从 context 获取 device_id
func GetDeviceID(c *gin.Context) string {
	deviceID, exists := c.Get(deviceIDKey)
	if !exists {
		return ""
	}
	return deviceID.(string)
}

// AdminAuth 管理后台守卫，要求设备本地存储中带有管理员标记
func AdminAuth(in *inbox.Inbox, locals localstore.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		deviceID := GetDeviceID(c)
		if deviceID == "" {
			response.Unauthorized(c)
			c.Abort()
			return
		}

		ok, err := in.IsAuthenticated(c.Request.Context(), locals.ForDevice(deviceID))
		if err != nil {
			response.ErrorFromAppError(c, err)
			c.Abort()
			return
		}
		if !ok {
			response.Unauthorized(c)
			c.Abort()
			return
		}
		c.Next()
	}
}
