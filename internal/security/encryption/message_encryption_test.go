package encryption

import (
	"context"
	"testing"

	"messenger-gateway/internal/security/keymanager"
)

func newTestMessageEncryption(t *testing.T) *MessageEncryption {
	t.Helper()

	km, err := keymanager.NewKeyManager(nil, keymanager.NewMemoryKeyStore(), "test-passphrase")
	if err != nil {
		t.Fatal(err)
	}
	return NewMessageEncryption(true, km)
}

func TestMessageEncryptionRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := newTestMessageEncryption(t)
	conversationID := "conv_roundtrip"

	ciphertext, encrypted, err := m.EncryptMessage(ctx, "hello", conversationID)
	if err != nil {
		t.Fatalf("EncryptMessage failed: %v", err)
	}
	if !encrypted {
		t.Fatal("Message should be marked as encrypted")
	}
	if ciphertext == "hello" {
		t.Fatal("Ciphertext should differ from plaintext")
	}

	decrypted, err := m.DecryptMessage(ctx, ciphertext, conversationID)
	if err != nil {
		t.Fatalf("DecryptMessage failed: %v", err)
	}
	if decrypted != "hello" {
		t.Errorf("Decryption mismatch: got %q", decrypted)
	}
}

func TestMessageEncryptionDisabled(t *testing.T) {
	ctx := context.Background()
	km, err := keymanager.NewKeyManager(nil, keymanager.NewMemoryKeyStore(), "")
	if err != nil {
		t.Fatal(err)
	}
	m := NewMessageEncryption(false, km)

	content, encrypted, err := m.EncryptMessage(ctx, "plain", "conv_disabled")
	if err != nil {
		t.Fatal(err)
	}
	if encrypted || content != "plain" {
		t.Error("Disabled encryption should return plaintext unchanged")
	}
}

// nil KeyManager 必須自動停用加密而不是 panic
func TestMessageEncryptionNilKeyManager(t *testing.T) {
	m := NewMessageEncryption(true, nil)
	if m.Enabled() {
		t.Error("Encryption should be disabled when KeyManager is nil")
	}
}

func TestDecryptMessagesBatch(t *testing.T) {
	ctx := context.Background()
	m := newTestMessageEncryption(t)
	conversationID := "conv_batch"

	// 兩條正常密文夾一條壞的
	good1, _, err := m.EncryptMessage(ctx, "first", conversationID)
	if err != nil {
		t.Fatal(err)
	}
	good2, _, err := m.EncryptMessage(ctx, "second", conversationID)
	if err != nil {
		t.Fatal(err)
	}

	results := m.DecryptMessages(ctx, conversationID, []string{good1, "corrupted-data", good2})
	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}

	if results[0].DecryptionFailed || results[0].Content != "first" {
		t.Errorf("First message should decrypt: %+v", results[0])
	}
	if !results[1].DecryptionFailed || results[1].Content != DecryptionFallback {
		t.Errorf("Corrupted message should fall back: %+v", results[1])
	}
	if results[2].DecryptionFailed || results[2].Content != "second" {
		t.Errorf("Third message should decrypt: %+v", results[2])
	}
}
