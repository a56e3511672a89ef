package constants

import "time"

// HTTP 請求相關常數
const (
	// 默認值（可被配置覆蓋）
	DefaultMaxRequestBodySize = 10 << 20 // 10MB
	DefaultMaxMultipartMemory = 10 << 20 // 10MB
	DefaultRequestTimeout     = 30       // 秒
)

// 分頁相關常數
const (
	DefaultPageSize    = 20
	DefaultMaxPageSize = 100
	MinPageSize        = 1
)

// 對話相關常數
const (
	DefaultMaxParticipants  = 100
	DefaultMaxMessageLength = 10000
	ConversationIDLength    = 24 // MongoDB ObjectID hex
)

// 通話信令相關常數
const (
	// 響鈴超時：超過此時間仍未接聽的通話會自動從註冊表移除
	DefaultCallRingTimeout = 60 * time.Second

	// 客戶端輪詢間隔（來電輪詢 / 通話狀態輪詢）
	DefaultIncomingPollInterval = 2 * time.Second
	DefaultStatusPollInterval   = 1 * time.Second

	// 每通電話最多暫存的 ICE candidate 數量
	MaxPendingICECandidates = 64
)

// 在線狀態相關常數
const (
	DefaultPresenceTTL       = 30 * time.Second
	DefaultHeartbeatInterval = 10 * time.Second
	PresenceCleanupInterval  = 1 * time.Minute
)

// Rate Limiting 默認值
const (
	DefaultRateLimitPerMinute   = 100
	DefaultCallRateLimit        = 30 // 通話信令端點
	DefaultKeyExchangeRateLimit = 20 // 密鑰交換端點
	DefaultMessageRateLimit     = 30
	RateLimitCleanupIntervalMin = 10 // 分鐘
)

// 密鑰相關常數
const (
	ConversationKeyLength = 32 // 256 bits
	GCMNonceLength        = 12 // 96 bits，AES-GCM 標準 nonce 長度
	WrapSaltLength        = 16
	PBKDF2Iterations      = 100000
)

// 用戶 ID 相關常數
const (
	MaxUserIDLength = 100
)
