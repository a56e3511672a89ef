package encryption

import (
	"context"
	"fmt"
	"log"

	"messenger-gateway/internal/security/keymanager"
)

// DecryptionFallback 解密失敗時顯示給用戶的替代內容
const DecryptionFallback = "[Encrypted message]"

// MessageEncryption 消息加密服務
// 使用 AES-256-GCM 加密模式 + 密鑰管理器
type MessageEncryption struct {
	enabled    bool
	keyManager *keymanager.KeyManager
}

// NewMessageEncryption 創建消息加密服務
func NewMessageEncryption(enabled bool, km *keymanager.KeyManager) *MessageEncryption {
	if km == nil {
		log.Println("[WARNING] KeyManager is nil. Encryption will be disabled.")
		enabled = false
	}

	return &MessageEncryption{
		enabled:    enabled,
		keyManager: km,
	}
}

// Enabled 回報加密是否啟用
func (m *MessageEncryption) Enabled() bool {
	return m.enabled
}

// EncryptMessage 加密消息
// 返回密文和是否加密的標記，加密停用時原樣返回明文
func (m *MessageEncryption) EncryptMessage(ctx context.Context, content string, conversationID string) (string, bool, error) {
	if !m.enabled {
		log.Println("[WARNING] Message encryption is DISABLED. Messages are stored in PLAIN TEXT!")
		return content, false, nil
	}

	// 獲取或建立對話密鑰
	key, err := m.keyManager.EnsureConversationKey(ctx, conversationID)
	if err != nil {
		return "", false, fmt.Errorf("failed to get conversation key: %w", err)
	}

	aesGCM, err := NewAESGCMEncryption(key)
	if err != nil {
		return "", false, fmt.Errorf("failed to create encryptor: %w", err)
	}

	encrypted, err := aesGCM.Encrypt(content)
	if err != nil {
		return "", false, fmt.Errorf("encryption failed: %w", err)
	}

	return encrypted, true, nil
}

// DecryptMessage 解密單條消息
func (m *MessageEncryption) DecryptMessage(ctx context.Context, encryptedContent string, conversationID string) (string, error) {
	if !m.enabled {
		return encryptedContent, nil
	}

	key, err := m.keyManager.EnsureConversationKey(ctx, conversationID)
	if err != nil {
		return "", fmt.Errorf("failed to get conversation key: %w", err)
	}

	aesGCM, err := NewAESGCMEncryption(key)
	if err != nil {
		return "", fmt.Errorf("failed to create decryptor: %w", err)
	}

	decrypted, err := aesGCM.Decrypt(encryptedContent)
	if err != nil {
		return "", fmt.Errorf("decryption failed: %w", err)
	}

	return decrypted, nil
}

// DecryptResult 批量解密中單條消息的結果
type DecryptResult struct {
	Content          string
	DecryptionFailed bool
}

// DecryptMessages 批量解密消息
// 個別消息解密失敗不會中斷整批，失敗的條目標記 DecryptionFailed
// 並以替代內容返回
func (m *MessageEncryption) DecryptMessages(ctx context.Context, conversationID string, contents []string) []DecryptResult {
	results := make([]DecryptResult, len(contents))

	if !m.enabled {
		for i, content := range contents {
			results[i] = DecryptResult{Content: content}
		}
		return results
	}

	// 整批共用一把密鑰，只取一次
	key, err := m.keyManager.EnsureConversationKey(ctx, conversationID)
	if err != nil {
		log.Printf("[WARNING] Failed to get key for conversation %s: %v", conversationID, err)
		for i := range contents {
			results[i] = DecryptResult{Content: DecryptionFallback, DecryptionFailed: true}
		}
		return results
	}

	aesGCM, err := NewAESGCMEncryption(key)
	if err != nil {
		for i := range contents {
			results[i] = DecryptResult{Content: DecryptionFallback, DecryptionFailed: true}
		}
		return results
	}

	for i, content := range contents {
		decrypted, err := aesGCM.Decrypt(content)
		if err != nil {
			results[i] = DecryptResult{Content: DecryptionFallback, DecryptionFailed: true}
			continue
		}
		results[i] = DecryptResult{Content: decrypted}
	}

	return results
}
