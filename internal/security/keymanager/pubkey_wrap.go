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

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// KeyPair X25519 密鑰對
type KeyPair struct {
	PrivateKey []byte
	PublicKey  []byte
}

// GenerateKeyPair 生成 Curve25519 密鑰對
func GenerateKeyPair() (*KeyPair, error) {
	privateKey := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, privateKey); err != nil {
		return nil, err
	}

	publicKey, err := curve25519.X25519(privateKey, curve25519.Basepoint)
	if err != nil {
		return nil, err
	}

	return &KeyPair{
		PrivateKey: privateKey,
		PublicKey:  publicKey,
	}, nil
}

// deriveSharedWrappingKey 從 ECDH 共享密鑰導出包裝密鑰
func deriveSharedWrappingKey(shared []byte) ([]byte, error) {
	wrappingKey := make([]byte, constants.ConversationKeyLength)
	if _, err := hkdf.New(sha256.New, shared, nil, []byte("ConversationKeyWrap")).Read(wrappingKey); err != nil {
		return nil, fmt.Errorf("failed to derive wrapping key: %w", err)
	}
	return wrappingKey, nil
}

// WrapKeyForPeer 用對方公鑰包裝對話密鑰
// 每次包裝使用新的臨時密鑰對做 X25519 協商
// 格式: base64(ephemeralPub + IV + ciphertext + tag)
func WrapKeyForPeer(key []byte, peerPublicKey []byte) (string, error) {
	if len(key) != constants.ConversationKeyLength {
		return "", fmt.Errorf("key must be %d bytes, got %d", constants.ConversationKeyLength, len(key))
	}
	if len(peerPublicKey) != 32 {
		return "", fmt.Errorf("peer public key must be 32 bytes, got %d", len(peerPublicKey))
	}

	ephemeral, err := GenerateKeyPair()
	if err != nil {
		return "", fmt.Errorf("failed to generate ephemeral key pair: %w", err)
	}

	shared, err := curve25519.X25519(ephemeral.PrivateKey, peerPublicKey)
	if err != nil {
		return "", fmt.Errorf("failed to compute shared secret: %w", err)
	}

	wrappingKey, err := deriveSharedWrappingKey(shared)
	if err != nil {
		return "", err
	}
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

	// blob 佈局: ephemeralPub + IV + ciphertext + tag
	blob := make([]byte, 0, 32+len(iv)+len(key)+16)
	blob = append(blob, ephemeral.PublicKey...)
	blob = append(blob, iv...)
	blob = aead.Seal(blob, iv, key, nil)

	return base64.StdEncoding.EncodeToString(blob), nil
}

// UnwrapKeyFromPeer 用自己的私鑰解開對方包裝的對話密鑰
func UnwrapKeyFromPeer(encoded string, privateKey []byte) ([]byte, error) {
	if len(privateKey) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(privateKey))
	}

	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64", ErrUnwrapFailed)
	}

	minLen := 32 + constants.GCMNonceLength + 16
	if len(blob) < minLen {
		return nil, fmt.Errorf("%w: blob too short", ErrUnwrapFailed)
	}

	ephemeralPub := blob[:32]
	iv := blob[32 : 32+constants.GCMNonceLength]
	ciphertext := blob[32+constants.GCMNonceLength:]

	shared, err := curve25519.X25519(privateKey, ephemeralPub)
	if err != nil {
		return nil, fmt.Errorf("failed to compute shared secret: %w", err)
	}

	wrappingKey, err := deriveSharedWrappingKey(shared)
	if err != nil {
		return nil, err
	}
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
