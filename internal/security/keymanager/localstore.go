package keymanager

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// KeyStore 本地密鑰存儲接口
// 保存的是對話的原始密鑰，實現必須自行保證並發安全
type KeyStore interface {
	// Get 取得對話密鑰，不存在時返回 false
	Get(conversationID string) ([]byte, bool)

	// Put 寫入對話密鑰，覆蓋舊值
	Put(conversationID string, key []byte) error

	// Remove 刪除對話密鑰，不存在時不報錯
	Remove(conversationID string) error
}

// MemoryKeyStore 內存密鑰存儲
// 進程結束即失效，適合測試和不需要持久化的場景
type MemoryKeyStore struct {
	mu   sync.RWMutex
	keys map[string][]byte
}

// NewMemoryKeyStore 創建內存密鑰存儲
func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{
		keys: make(map[string][]byte),
	}
}

// Get 取得對話密鑰
func (s *MemoryKeyStore) Get(conversationID string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, exists := s.keys[conversationID]
	if !exists {
		return nil, false
	}

	// 返回副本，避免調用方修改內部狀態
	keyCopy := make([]byte, len(key))
	copy(keyCopy, key)
	return keyCopy, true
}

// Put 寫入對話密鑰
func (s *MemoryKeyStore) Put(conversationID string, key []byte) error {
	keyCopy := make([]byte, len(key))
	copy(keyCopy, key)

	s.mu.Lock()
	defer s.mu.Unlock()

	// 覆蓋前清零舊密鑰
	if old, exists := s.keys[conversationID]; exists {
		for i := range old {
			old[i] = 0
		}
	}

	s.keys[conversationID] = keyCopy
	return nil
}

// Remove 刪除對話密鑰
func (s *MemoryKeyStore) Remove(conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, exists := s.keys[conversationID]; exists {
		for i := range old {
			old[i] = 0
		}
		delete(s.keys, conversationID)
	}
	return nil
}

// FileKeyStore 文件密鑰存儲
// JSON 格式，權限 0600，跨會話保留密鑰
type FileKeyStore struct {
	mu   sync.RWMutex
	path string
	keys map[string][]byte
}

// NewFileKeyStore 創建文件密鑰存儲並載入既有內容
func NewFileKeyStore(path string) (*FileKeyStore, error) {
	s := &FileKeyStore{
		path: path,
		keys: make(map[string][]byte),
	}

	if err := s.load(); err != nil {
		return nil, err
	}

	return s, nil
}

// load 從文件載入密鑰
func (s *FileKeyStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read key store file: %w", err)
	}

	encoded := make(map[string]string)
	if err := json.Unmarshal(data, &encoded); err != nil {
		return fmt.Errorf("failed to parse key store file: %w", err)
	}

	for conversationID, b64 := range encoded {
		key, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return fmt.Errorf("failed to decode key for conversation %s: %w", conversationID, err)
		}
		s.keys[conversationID] = key
	}

	return nil
}

// persist 將當前密鑰寫回文件（調用方須持有寫鎖）
func (s *FileKeyStore) persist() error {
	encoded := make(map[string]string, len(s.keys))
	for conversationID, key := range s.keys {
		encoded[conversationID] = base64.StdEncoding.EncodeToString(key)
	}

	data, err := json.MarshalIndent(encoded, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal key store: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create key store directory: %w", err)
		}
	}

	// 密鑰文件只允許擁有者讀寫
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write key store file: %w", err)
	}

	return nil
}

// Get 取得對話密鑰
func (s *FileKeyStore) Get(conversationID string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, exists := s.keys[conversationID]
	if !exists {
		return nil, false
	}

	keyCopy := make([]byte, len(key))
	copy(keyCopy, key)
	return keyCopy, true
}

// Put 寫入對話密鑰並持久化
func (s *FileKeyStore) Put(conversationID string, key []byte) error {
	keyCopy := make([]byte, len(key))
	copy(keyCopy, key)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.keys[conversationID] = keyCopy
	return s.persist()
}

// Remove 刪除對話密鑰並持久化
func (s *FileKeyStore) Remove(conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.keys[conversationID]; !exists {
		return nil
	}

	delete(s.keys, conversationID)
	return s.persist()
}
