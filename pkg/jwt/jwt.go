package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenInvalid = errors.New("token is invalid")
	ErrTokenExpired = errors.New("token has expired")
)

// TokenType Token 类型
type TokenType string

const (
	// DeviceToken 标识一台浏览器的本地存储命名空间
	DeviceToken TokenType = "device"
)

// Claims JWT 声明
type Claims struct {
	DeviceID  string    `json:"device_id"`
	TokenType TokenType `json:"token_type"`
	jwt.RegisteredClaims
}

// Service JWT 服务
type Service struct {
	secretKey []byte
	expire    time.Duration
	issuer    string
}

// NewService 创建 JWT 服务
// expire 为 0 表示设备令牌永不过期
func NewService(secretKey string, expire time.Duration) *Service {
	return &Service{
		secretKey: []byte(secretKey),
		expire:    expire,
		issuer:    "portfolio-chat",
	}
}

// GenerateDeviceToken 为设备签发令牌
func (s *Service) GenerateDeviceToken(deviceID string) (string, error) {
	if deviceID == "" {
		return "", ErrTokenInvalid
	}

	now := time.Now()
	claims := &Claims{
		DeviceID:  deviceID,
		TokenType: DeviceToken,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
			Issuer:   s.issuer,
		},
	}
	if s.expire > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.expire))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secretKey)
}

// ValidateDeviceToken 验证设备令牌，返回设备ID
func (s *Service) ValidateDeviceToken(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalid
		}
		return s.secretKey, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", ErrTokenInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", ErrTokenInvalid
	}

	if claims.TokenType != DeviceToken || claims.DeviceID == "" {
		return "", ErrTokenInvalid
	}

	return claims.DeviceID, nil
}
