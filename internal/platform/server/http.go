package server

import (
	"time"

	"messenger-gateway/internal/call"
	"messenger-gateway/internal/platform/config"
	"messenger-gateway/internal/platform/health"
	"messenger-gateway/internal/platform/middleware"
	"messenger-gateway/internal/presence"
	"messenger-gateway/internal/security/audit"
	"messenger-gateway/internal/storage/database"

	"github.com/gin-gonic/gin"
)

// securityHeadersMiddleware 添加安全標頭
func securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 防止點擊劫持
		c.Header("X-Frame-Options", "DENY")

		// 防止 MIME 類型嗅探
		c.Header("X-Content-Type-Options", "nosniff")

		// 啟用 XSS 保護
		c.Header("X-XSS-Protection", "1; mode=block")

		// 內容安全策略
		c.Header("Content-Security-Policy", "default-src 'self'; script-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data: https:; font-src 'self'; connect-src 'self'; frame-ancestors 'none';")

		// 推薦政策
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// 通話功能需要麥克風與攝影機權限
		c.Header("Permissions-Policy", "geolocation=(), microphone=(self), camera=(self)")

		c.Next()
	}
}

// corsMiddleware 只允許特定的來源（生產環境應該從配置文件讀取）
func corsMiddleware() gin.HandlerFunc {
	allowedOrigins := map[string]bool{
		"http://localhost:3000":  true, // 開發環境前端
		"http://localhost:8080":  true, // 本地測試
		"http://127.0.0.1:5500":  true, // Live Server
		"http://127.0.0.1:8080":  true, // 本地測試 (127.0.0.1)
		"http://localhost:5500":  true, // Live Server (localhost)
		"https://yourdomain.com": true, // 生產環境（請修改為實際域名）
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if allowedOrigins[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-User-ID")
		c.Header("Access-Control-Max-Age", "86400") // 預檢請求緩存 24 小時

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// Router 設定路由
func Router(repos *database.Repositories, coordinator *call.Coordinator, tracker *presence.Tracker) *gin.Engine {
	r := gin.Default()

	r.Use(corsMiddleware())

	// 添加請求 ID 中間件（最優先）
	r.Use(middleware.RequestIDMiddleware())

	// 添加安全標頭中間件
	r.Use(securityHeadersMiddleware())

	// 添加請求元數據中間件（提取 IP、User-Agent）
	r.Use(middleware.RequestMetadataMiddleware())

	// 從配置讀取限制參數
	cfg := config.Get()

	// 添加請求大小限制（防止大文件攻擊）
	maxBodySize := int64(1 << 20) // 默認 1MB，信令與密鑰請求都很小
	if cfg != nil && cfg.Limits.Request.MaxBodySize > 0 {
		maxBodySize = cfg.Limits.Request.MaxBodySize
	}
	r.Use(middleware.RequestSizeLimiter(maxBodySize))

	// 創建 Rate Limiter
	defaultLimit := 100
	if cfg != nil && cfg.Limits.RateLimiting.DefaultPerMinute > 0 {
		defaultLimit = cfg.Limits.RateLimiting.DefaultPerMinute
	}
	rateLimiter := middleware.NewPerEndpointRateLimiter(defaultLimit, time.Minute)

	// 為不同端點設置不同的速率限制
	keysPerMin := 0
	if cfg != nil && cfg.Limits.RateLimiting.Enabled {
		if cfg.Limits.RateLimiting.CallsPerMin > 0 {
			callPaths := []string{
				"/api/v1/calls/initiate",
				"/api/v1/calls/accept",
				"/api/v1/calls/reject",
				"/api/v1/calls/end",
				"/api/v1/calls/ice-candidate",
			}
			for _, path := range callPaths {
				rateLimiter.SetLimit(path, cfg.Limits.RateLimiting.CallsPerMin, time.Minute)
			}
		}
		if cfg.Limits.RateLimiting.MessagesPerMin > 0 {
			rateLimiter.SetLimit("/api/v1/messages", cfg.Limits.RateLimiting.MessagesPerMin, time.Minute)
		}
		keysPerMin = cfg.Limits.RateLimiting.KeysPerMin
	}

	// 應用 Rate Limiting 中間件
	r.Use(rateLimiter.Middleware())

	// 密鑰端點路徑帶參數，無法用端點級限制器做精確匹配，單獨掛一個限制器
	keysLimiter := gin.HandlerFunc(func(c *gin.Context) { c.Next() })
	if keysPerMin > 0 {
		keysLimiter = middleware.NewRateLimiter(keysPerMin, time.Minute).Middleware()
	}

	// 認證中間件（只掛在 API 路由群組上，health check 不需要認證）
	authEnabled := false
	authSecret := ""
	if cfg != nil {
		authEnabled = cfg.Security.Authentication.Enabled
		authSecret = cfg.Security.Authentication.Secret
	}
	auth := middleware.NewAuthMiddleware(authSecret, authEnabled)

	// 審計服務
	auditEnabled := cfg != nil && cfg.Security.Audit.Enabled
	auditService := audit.NewAuditService(auditEnabled)

	// 創建處理器
	healthHandler := health.NewHealthHandler()
	calls := newCallHandler(coordinator, auditService)
	keys := newKeyHandler(repos, auditService)
	convs := newConversationHandler(repos)
	pres := newPresenceHandler(tracker)

	// health check
	r.GET("/health", healthHandler.HealthCheck)

	api := r.Group("/api/v1", auth.GinMiddleware())

	// 對話密鑰交換 API
	api.GET("/conversations/:conversation_id/keys", keysLimiter, keys.getKeyStatus)
	api.POST("/conversations/:conversation_id/keys", keysLimiter, keys.uploadKey)
	api.POST("/conversations/:conversation_id/keys/rotate", keysLimiter, keys.rotateKeys)

	// 對話與訊息 API
	api.POST("/conversations", convs.createConversation)
	api.GET("/conversations", convs.listConversations)
	api.POST("/messages", convs.sendMessage)
	api.GET("/messages", convs.getMessages)

	// 通話信令 API
	api.POST("/calls/initiate", calls.initiate)
	api.POST("/calls/accept", calls.accept)
	api.POST("/calls/reject", calls.reject)
	api.POST("/calls/end", calls.end)
	api.GET("/calls/incoming", calls.incoming)
	api.GET("/calls/status/:call_id", calls.status)
	api.POST("/calls/ice-candidate", calls.pushCandidate)
	api.GET("/calls/ice-candidates/:call_id", calls.drainCandidates)

	// 在線狀態 API
	api.POST("/presence/heartbeat", pres.heartbeat)
	api.GET("/presence/online", pres.online)

	return r
}
