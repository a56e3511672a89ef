package keymanager

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"messenger-gateway/internal/constants"
	"messenger-gateway/internal/platform/logger"
)

// KeyManager 對話密鑰管理器（客戶端角色）
// 負責取得、生成、輪換對話密鑰，並與密鑰交換端點同步包裝後的密鑰。
// 同一對話的並發取得會合併成一次流程，所有調用方拿到同一把密鑰。
type KeyManager struct {
	exchange   KeyExchange
	store      KeyStore
	passphrase string
	keyPair    *KeyPair

	mu       sync.Mutex
	inflight map[string]*inflightAcquire
	info     map[string]*KeyInfo
}

// KeyManagerOption KeyManager 配置選項
type KeyManagerOption func(*KeyManager)

// WithKeyPair 設定 X25519 密鑰對
// 沒有口令時密鑰會用自己的公鑰包裝後上傳（encryptionMethod = "publicKey"），
// 下次登入用私鑰解回來
func WithKeyPair(pair *KeyPair) KeyManagerOption {
	return func(km *KeyManager) {
		km.keyPair = pair
	}
}

// inflightAcquire 進行中的密鑰取得流程
type inflightAcquire struct {
	done chan struct{}
	key  []byte
	err  error
}

// NewKeyManager 創建密鑰管理器
// exchange 可為 nil（純離線模式，密鑰只在本地生成）
func NewKeyManager(exchange KeyExchange, store KeyStore, passphrase string, opts ...KeyManagerOption) (*KeyManager, error) {
	if store == nil {
		return nil, fmt.Errorf("key store cannot be nil")
	}

	km := &KeyManager{
		exchange:   exchange,
		store:      store,
		passphrase: passphrase,
		inflight:   make(map[string]*inflightAcquire),
		info:       make(map[string]*KeyInfo),
	}

	for _, opt := range opts {
		opt(km)
	}

	return km, nil
}

// unwrap 按包裝方式解開交換端點返回的密鑰
func (km *KeyManager) unwrap(blob, method string) ([]byte, error) {
	switch method {
	case MethodPassword:
		return UnwrapKey(blob, km.passphrase)
	case MethodPublicKey:
		if km.keyPair == nil {
			return nil, fmt.Errorf("no key pair configured for %s wrapped key", MethodPublicKey)
		}
		return UnwrapKeyFromPeer(blob, km.keyPair.PrivateKey)
	default:
		return nil, fmt.Errorf("unsupported encryption method: %s", method)
	}
}

// wrapForUpload 生成要上傳的包裝形式
// 有口令時用口令包裝，持有相同口令的對方才能收斂到同一把密鑰；
// 沒有口令但有密鑰對時改用自己的公鑰包裝
func (km *KeyManager) wrapForUpload(key []byte) (*WrappedKey, error) {
	if km.passphrase == "" && km.keyPair != nil {
		blob, err := WrapKeyForPeer(key, km.keyPair.PublicKey)
		if err != nil {
			return nil, err
		}
		return &WrappedKey{EncryptedKey: blob, EncryptionMethod: MethodPublicKey}, nil
	}

	blob, err := WrapKey(key, km.passphrase)
	if err != nil {
		return nil, err
	}
	return &WrappedKey{EncryptedKey: blob, EncryptionMethod: MethodPassword}, nil
}

// generateKey 生成隨機 256-bit 對話密鑰
func generateKey() ([]byte, error) {
	key := make([]byte, constants.ConversationKeyLength)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// EnsureConversationKey 取得對話密鑰，不存在時建立
// 流程:
//  1. 本地已有密鑰 → 直接返回
//  2. 查詢交換端點的密鑰狀態
//  3. 端點已有包裝密鑰 → 用口令解開，雙方收斂到同一把密鑰
//  4. 端點沒有密鑰 → 生成新密鑰，包裝後上傳
//  5. 端點不可用 → 退回純本地密鑰
//
// 冪等，同一對話重複調用返回同一把密鑰。
func (km *KeyManager) EnsureConversationKey(ctx context.Context, conversationID string) ([]byte, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("conversationID cannot be empty")
	}

	// 快路徑：本地已有密鑰
	if key, exists := km.store.Get(conversationID); exists {
		return key, nil
	}

	km.mu.Lock()

	// 再檢查一次，避免在等鎖期間其他調用已寫入
	if key, exists := km.store.Get(conversationID); exists {
		km.mu.Unlock()
		return key, nil
	}

	// 已有進行中的取得流程 → 等它完成
	if f, exists := km.inflight[conversationID]; exists {
		km.mu.Unlock()

		select {
		case <-f.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		if f.err != nil {
			return nil, f.err
		}
		keyCopy := make([]byte, len(f.key))
		copy(keyCopy, f.key)
		return keyCopy, nil
	}

	f := &inflightAcquire{done: make(chan struct{})}
	km.inflight[conversationID] = f
	km.mu.Unlock()

	key, source, err := km.acquireKey(ctx, conversationID)
	if err == nil {
		if putErr := km.store.Put(conversationID, key); putErr != nil {
			err = fmt.Errorf("failed to store key: %w", putErr)
		}
	}

	f.key, f.err = key, err
	close(f.done)

	km.mu.Lock()
	delete(km.inflight, conversationID)
	if err == nil {
		km.info[conversationID] = &KeyInfo{
			ConversationID: conversationID,
			Source:         source,
			CreatedAt:      time.Now(),
		}
	}
	km.mu.Unlock()

	if err != nil {
		return nil, err
	}

	keyCopy := make([]byte, len(key))
	copy(keyCopy, key)
	return keyCopy, nil
}

// acquireKey 執行實際的密鑰取得流程（每個對話同時只會有一個在跑）
func (km *KeyManager) acquireKey(ctx context.Context, conversationID string) ([]byte, KeySource, error) {
	// 沒有配置交換端點 → 純本地
	if km.exchange == nil {
		key, err := generateKey()
		if err != nil {
			return nil, "", err
		}
		return key, KeySourceLocal, nil
	}

	status, err := km.exchange.FetchKeyStatus(ctx, conversationID)
	if err != nil {
		// 端點不可用時退回本地密鑰，加密不因此中斷
		logger.Warning(ctx, fmt.Sprintf("Key exchange unavailable, falling back to local key: %v", err),
			logger.WithConversationID(conversationID))

		key, genErr := generateKey()
		if genErr != nil {
			return nil, "", genErr
		}
		return key, KeySourceLocal, nil
	}

	// 端點已有包裝密鑰 → 解開它，與對方共用同一把密鑰
	if status.HasKey && status.EncryptedKey != "" {
		key, unwrapErr := km.unwrap(status.EncryptedKey, status.EncryptionMethod)
		if unwrapErr == nil {
			logger.Info(ctx, "Conversation key unwrapped from exchange",
				logger.WithConversationID(conversationID))
			return key, KeySourceExchange, nil
		}

		logger.Warning(ctx, fmt.Sprintf("Failed to unwrap exchanged key: %v", unwrapErr),
			logger.WithConversationID(conversationID))
	}

	// 端點沒有可用的密鑰 → 生成新密鑰並上傳包裝形式
	key, err := generateKey()
	if err != nil {
		return nil, "", err
	}

	wrapped, err := km.wrapForUpload(key)
	if err != nil {
		return nil, "", err
	}

	uploadErr := km.exchange.UploadKey(ctx, conversationID, wrapped)
	if uploadErr != nil {
		// 上傳失敗不阻斷加密，密鑰先留在本地
		logger.Warning(ctx, fmt.Sprintf("Failed to upload wrapped key: %v", uploadErr),
			logger.WithConversationID(conversationID))
		return key, KeySourceLocal, nil
	}

	return key, KeySourceGenerated, nil
}

// RotateConversationKey 輪換對話密鑰
// 生成新密鑰、重新上傳包裝形式、替換本地密鑰
func (km *KeyManager) RotateConversationKey(ctx context.Context, conversationID string) ([]byte, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("conversationID cannot be empty")
	}

	key, err := generateKey()
	if err != nil {
		return nil, err
	}

	if km.exchange != nil {
		wrapped, err := km.wrapForUpload(key)
		if err != nil {
			return nil, err
		}

		if err := km.exchange.UploadKey(ctx, conversationID, wrapped); err != nil {
			return nil, fmt.Errorf("failed to upload rotated key: %w", err)
		}
	}

	if err := km.store.Put(conversationID, key); err != nil {
		return nil, fmt.Errorf("failed to store rotated key: %w", err)
	}

	km.mu.Lock()
	km.info[conversationID] = &KeyInfo{
		ConversationID: conversationID,
		Source:         KeySourceGenerated,
		CreatedAt:      time.Now(),
	}
	km.mu.Unlock()

	logger.Info(ctx, "Conversation key rotated",
		logger.WithConversationID(conversationID))

	keyCopy := make([]byte, len(key))
	copy(keyCopy, key)
	return keyCopy, nil
}

// RemoveConversationKey 刪除本地對話密鑰
func (km *KeyManager) RemoveConversationKey(conversationID string) error {
	km.mu.Lock()
	delete(km.info, conversationID)
	km.mu.Unlock()

	return km.store.Remove(conversationID)
}

// GetKeyInfo 獲取密鑰信息（用於調試）
func (km *KeyManager) GetKeyInfo(conversationID string) (*KeyInfo, error) {
	km.mu.Lock()
	defer km.mu.Unlock()

	info, exists := km.info[conversationID]
	if !exists {
		return nil, ErrKeyNotFound
	}

	infoCopy := *info
	return &infoCopy, nil
}
