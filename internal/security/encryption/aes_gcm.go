package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"messenger-gateway/internal/constants"
)

// 哨兵錯誤，調用方用 errors.Is 區分密鑰問題和密文問題
var (
	// ErrKeyFormat 密鑰不是合法的 base64 編碼 256-bit 密鑰
	ErrKeyFormat = errors.New("invalid key format")

	// ErrDecryption 密文解密失敗（格式錯誤、密鑰不符或被竄改）
	ErrDecryption = errors.New("decryption failed")
)

// AESGCMEncryption AES-256-GCM 加密實現
// GCM 模式特點：
// - 認證加密，密文被竄改時解密直接失敗
// - 12 bytes IV，16 bytes 認證標籤
// - 不需要填充
// 密文線格式: base64(IV + ciphertext + tag)，不帶任何前綴
type AESGCMEncryption struct {
	key []byte // 256-bit (32 bytes) key
}

// GenerateKey 生成隨機 256-bit 密鑰
func GenerateKey() ([]byte, error) {
	key := make([]byte, constants.ConversationKeyLength)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// ExportKey 將密鑰導出為 base64 字符串（用於存儲和傳輸）
func ExportKey(key []byte) (string, error) {
	if len(key) != constants.ConversationKeyLength {
		return "", fmt.Errorf("%w: key must be %d bytes, got %d",
			ErrKeyFormat, constants.ConversationKeyLength, len(key))
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// ImportKey 從 base64 字符串還原密鑰
func ImportKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyFormat, err)
	}
	if len(key) != constants.ConversationKeyLength {
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d",
			ErrKeyFormat, constants.ConversationKeyLength, len(key))
	}
	return key, nil
}

// NewAESGCMEncryption 創建 AES-256-GCM 加密實例
func NewAESGCMEncryption(key []byte) (*AESGCMEncryption, error) {
	// 驗證密鑰長度必須是 32 bytes (256 bits)
	if len(key) != constants.ConversationKeyLength {
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d",
			ErrKeyFormat, constants.ConversationKeyLength, len(key))
	}

	// 防禦性複製密鑰（安全增強）
	keyCopy := make([]byte, len(key))
	copy(keyCopy, key)

	return &AESGCMEncryption{
		key: keyCopy,
	}, nil
}

// Encrypt 加密文本
// 格式: base64(IV + ciphertext + tag)
func (e *AESGCMEncryption) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", fmt.Errorf("plaintext cannot be empty")
	}

	result, err := e.EncryptBytes([]byte(plaintext))
	if err != nil {
		return "", err
	}

	// 使用完後清零臨時緩衝區（安全增強）
	defer func() {
		for i := range result {
			result[i] = 0
		}
	}()

	return base64.StdEncoding.EncodeToString(result), nil
}

// Decrypt 解密文本
func (e *AESGCMEncryption) Decrypt(encryptedText string) (string, error) {
	if encryptedText == "" {
		return "", fmt.Errorf("%w: encrypted text cannot be empty", ErrDecryption)
	}

	data, err := base64.StdEncoding.DecodeString(encryptedText)
	if err != nil {
		return "", fmt.Errorf("%w: invalid base64", ErrDecryption)
	}

	// 使用完後清零（安全增強）
	defer func() {
		for i := range data {
			data[i] = 0
		}
	}()

	plaintext, err := e.DecryptBytes(data)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}

// EncryptBytes 加密字節數據（用於文件等）
// 返回 IV + ciphertext + tag 的原始字節
func (e *AESGCMEncryption) EncryptBytes(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("plaintext cannot be empty")
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	// 生成隨機 IV，GCM 標準 nonce 長度為 12 bytes
	iv := make([]byte, constants.GCMNonceLength)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	// Seal 將認證標籤附加在密文尾部
	// 將 IV 放在最前面，與密文一起存儲
	result := aead.Seal(iv, iv, plaintext, nil)

	return result, nil
}

// DecryptBytes 解密字節數據
func (e *AESGCMEncryption) DecryptBytes(encryptedData []byte) ([]byte, error) {
	// 至少要有 IV 和認證標籤
	if len(encryptedData) < constants.GCMNonceLength+16 {
		return nil, fmt.Errorf("%w: data too short", ErrDecryption)
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	iv := encryptedData[:constants.GCMNonceLength]
	ciphertext := encryptedData[constants.GCMNonceLength:]

	plaintext, err := aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		// 不透出底層錯誤，認證失敗的細節對調用方沒有意義
		return nil, ErrDecryption
	}

	return plaintext, nil
}

// IsEncrypted 檢查文本是否可能是本格式的密文
// 合法密文是 base64 編碼且解碼後至少有 IV + tag 的長度
func IsEncrypted(text string) bool {
	if text == "" {
		return false
	}
	data, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return false
	}
	return len(data) >= constants.GCMNonceLength+16
}
