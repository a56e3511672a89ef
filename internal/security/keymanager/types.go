package keymanager

import (
	"errors"
	"time"
)

// 哨兵錯誤
var (
	// ErrKeyNotFound 本地存儲中沒有該對話的密鑰
	ErrKeyNotFound = errors.New("conversation key not found")

	// ErrUnwrapFailed 包裝密鑰解開失敗（口令錯誤或數據損壞）
	ErrUnwrapFailed = errors.New("failed to unwrap key")
)

// 密鑰包裝方式
const (
	// MethodPassword 以口令派生密鑰包裝（PBKDF2 + AES-GCM）
	MethodPassword = "password"

	// MethodPublicKey 以對方公鑰包裝（X25519 + HKDF + AES-GCM）
	MethodPublicKey = "publicKey"
)

// WrappedKey 已包裝的對話密鑰（可安全上傳到服務端）
type WrappedKey struct {
	EncryptedKey     string `json:"encryptedKey"`
	EncryptionMethod string `json:"encryptionMethod"`
}

// KeyStatusResponse 密鑰交換端點回報的對話密鑰狀態
type KeyStatusResponse struct {
	HasKey           bool   `json:"hasKey"`
	ConversationID   string `json:"conversationId"`
	EncryptedKey     string `json:"encryptedKey,omitempty"`
	EncryptionMethod string `json:"encryptionMethod,omitempty"`
}

// KeySource 密鑰的取得途徑
type KeySource string

const (
	KeySourceLocal     KeySource = "local"     // 本地生成
	KeySourceExchange  KeySource = "exchange"  // 從交換端點解包取得
	KeySourceGenerated KeySource = "generated" // 新生成並已上傳
)

// KeyInfo 密鑰信息（用於調試）
type KeyInfo struct {
	ConversationID string
	Source         KeySource
	CreatedAt      time.Time
}
