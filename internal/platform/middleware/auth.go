package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
)

// ErrInvalidToken token 格式錯誤或簽名不符
var ErrInvalidToken = errors.New("invalid token")

const (
	// UserIDKey context 中存放已認證用戶 ID 的 key
	UserIDKey = "user_id"

	// DevUserIDHeader 開發環境下直接指定用戶身份的 Header
	DevUserIDHeader = "X-User-ID"
)

// AuthMiddleware 認證中間件
// Token 格式: "<userID>.<signature>"，signature 為 HMAC-SHA256(userID, secret) 的
// base64url 編碼。完整的 JWT 驗證待 user 服務實現後替換。
type AuthMiddleware struct {
	secretKey string
	enabled   bool
}

// NewAuthMiddleware 創建認證中間件
func NewAuthMiddleware(secretKey string, enabled bool) *AuthMiddleware {
	return &AuthMiddleware{
		secretKey: secretKey,
		enabled:   enabled,
	}
}

// GinMiddleware Gin HTTP 中間件
// 使用方式：router.Use(authMiddleware.GinMiddleware())
func (m *AuthMiddleware) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 如果未啟用，允許用 Header 指定身份（僅開發環境）
		if !m.enabled {
			if userID := c.GetHeader(DevUserIDHeader); userID != "" {
				c.Set(UserIDKey, userID)
			}
			c.Next()
			return
		}

		// 從 Header 獲取 token
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(401, gin.H{"error": "未提供認證 token"})
			c.Abort()
			return
		}

		// 解析 Bearer token
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(401, gin.H{"error": "無效的認證格式"})
			c.Abort()
			return
		}

		userID, err := m.validateToken(parts[1])
		if err != nil {
			c.JSON(401, gin.H{"error": "認證失敗"})
			c.Abort()
			return
		}

		// 將用戶 ID 存入 context
		c.Set(UserIDKey, userID)

		c.Next()
	}
}

// validateToken 驗證 token 並返回用戶 ID
func (m *AuthMiddleware) validateToken(token string) (string, error) {
	idx := strings.LastIndex(token, ".")
	if idx <= 0 || idx == len(token)-1 {
		return "", ErrInvalidToken
	}

	userID := token[:idx]
	signature := token[idx+1:]

	mac := hmac.New(sha256.New, []byte(m.secretKey))
	mac.Write([]byte(userID))
	expected := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

	// 常數時間比較，避免時序攻擊
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return "", ErrInvalidToken
	}

	return userID, nil
}

// SignToken 為指定用戶簽發 token（供測試工具使用）
func (m *AuthMiddleware) SignToken(userID string) string {
	mac := hmac.New(sha256.New, []byte(m.secretKey))
	mac.Write([]byte(userID))
	return userID + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// GetUserID 從 gin.Context 獲取已認證的用戶 ID
// 未認證時回退到 query 參數（向後兼容舊客戶端）
func GetUserID(c *gin.Context) string {
	if userID, exists := c.Get(UserIDKey); exists {
		if id, ok := userID.(string); ok && id != "" {
			return id
		}
	}
	return c.Query("user_id")
}
