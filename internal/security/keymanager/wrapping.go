package keymanager

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"messenger-gateway/internal/constants"

	"golang.org/x/crypto/pbkdf2"
)

// deriveWrappingKey 從口令派生 256-bit 包裝密鑰
// PBKDF2-SHA256，迭代次數固定，改動會讓既有包裝密鑰無法解開
func deriveWrappingKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, constants.PBKDF2Iterations, constants.ConversationKeyLength, sha256.New)
}

// WrapKey 用口令包裝對話密鑰
// 格式: base64(salt + IV + ciphertext + tag)
func WrapKey(key []byte, passphrase string) (string, error) {
	if len(key) != constants.ConversationKeyLength {
		return "", fmt.Errorf("key must be %d bytes, got %d", constants.ConversationKeyLength, len(key))
	}
	if passphrase == "" {
		return "", fmt.Errorf("passphrase cannot be empty")
	}

	salt := make([]byte, constants.WrapSaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	wrappingKey := deriveWrappingKey(passphrase, salt)
	defer func() {
		for i := range wrappingKey {
			wrappingKey[i] = 0
		}
	}()

	block, err := aes.NewCipher(wrappingKey)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	iv := make([]byte, constants.GCMNonceLength)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("failed to generate IV: %w", err)
	}

	// blob 佈局: salt + IV + ciphertext + tag
	blob := make([]byte, 0, len(salt)+len(iv)+len(key)+16)
	blob = append(blob, salt...)
	blob = append(blob, iv...)
	blob = aead.Seal(blob, iv, key, nil)

	return base64.StdEncoding.EncodeToString(blob), nil
}

// UnwrapKey 用口令解開包裝密鑰
func UnwrapKey(encoded string, passphrase string) ([]byte, error) {
	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64", ErrUnwrapFailed)
	}

	minLen := constants.WrapSaltLength + constants.GCMNonceLength + 16
	if len(blob) < minLen {
		return nil, fmt.Errorf("%w: blob too short", ErrUnwrapFailed)
	}

	salt := blob[:constants.WrapSaltLength]
	iv := blob[constants.WrapSaltLength : constants.WrapSaltLength+constants.GCMNonceLength]
	ciphertext := blob[constants.WrapSaltLength+constants.GCMNonceLength:]

	wrappingKey := deriveWrappingKey(passphrase, salt)
	defer func() {
		for i := range wrappingKey {
			wrappingKey[i] = 0
		}
	}()

	block, err := aes.NewCipher(wrappingKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	key, err := aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, ErrUnwrapFailed
	}

	if len(key) != constants.ConversationKeyLength {
		return nil, fmt.Errorf("%w: unexpected key length %d", ErrUnwrapFailed, len(key))
	}

	return key, nil
}
