package session

import (
	"crypto/rand"
	"math/big"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// URLParam 魔法链接中携带会话ID的查询参数
const URLParam = "session"

const (
	sessionIDPrefix = "session_"
	base36Alphabet  = "0123456789abcdefghijklmnopqrstuvwxyz"
	letters         = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digits          = "0123456789"
)

var (
	shortCodePattern = regexp.MustCompile(`^[A-Z]{2}-[0-9]{4}$`)
	emailPattern     = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// GenerateSessionID 生成会话ID，格式 session_<毫秒时间戳>_<9位base36随机串>
func GenerateSessionID(now time.Time) string {
	return sessionIDPrefix + strconv.FormatInt(now.UnixMilli(), 10) + "_" + randomString(base36Alphabet, 9)
}

// GenerateShortCode 生成恢复码，格式 AB-1234
func GenerateShortCode() string {
	return randomString(letters, 2) + "-" + randomString(digits, 4)
}

// NormalizeShortCode 去掉首尾空白并转为大写
func NormalizeShortCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidShortCode 恢复码格式校验（需先 NormalizeShortCode）
func ValidShortCode(code string) bool {
	return shortCodePattern.MatchString(code)
}

// ValidEmail 简单的 local@domain.tld 校验
func ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// MagicLink 构建恢复会话的链接
func MagicLink(baseURL, sessionID string) string {
	return strings.TrimRight(baseURL, "/") + "/?" + URLParam + "=" + url.QueryEscape(sessionID)
}

// StripSessionParam 从页面地址中去掉会话参数，其他参数保持不变
func StripSessionParam(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	if !q.Has(URLParam) {
		return rawURL
	}
	q.Del(URLParam)
	u.RawQuery = q.Encode()
	return u.String()
}

func randomString(alphabet string, n int) string {
	var b strings.Builder
	b.Grow(n)
	max := big.NewInt(int64(len(alphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand 读取失败时系统已不可用
			panic(err)
		}
		b.WriteByte(alphabet[idx.Int64()])
	}
	return b.String()
}
