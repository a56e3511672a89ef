package keymanager

import (
	"bytes"
	"errors"
	"testing"
)

func TestWrapUnwrapKey(t *testing.T) {
	key, err := generateKey()
	if err != nil {
		t.Fatal(err)
	}

	wrapped, err := WrapKey(key, "correct horse battery staple")
	if err != nil {
		t.Fatalf("WrapKey failed: %v", err)
	}

	unwrapped, err := UnwrapKey(wrapped, "correct horse battery staple")
	if err != nil {
		t.Fatalf("UnwrapKey failed: %v", err)
	}

	if !bytes.Equal(key, unwrapped) {
		t.Error("Unwrapped key does not match original")
	}
}

func TestUnwrapKeyWrongPassphrase(t *testing.T) {
	key, _ := generateKey()
	wrapped, err := WrapKey(key, "right passphrase")
	if err != nil {
		t.Fatal(err)
	}

	_, err = UnwrapKey(wrapped, "wrong passphrase")
	if !errors.Is(err, ErrUnwrapFailed) {
		t.Errorf("Expected ErrUnwrapFailed, got %v", err)
	}
}

func TestUnwrapKeyInvalidInput(t *testing.T) {
	testCases := []struct {
		name  string
		input string
	}{
		{"Empty", ""},
		{"Not base64", "!!!not-base64!!!"},
		{"Too short", "YWJjZGVm"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := UnwrapKey(tc.input, "any"); !errors.Is(err, ErrUnwrapFailed) {
				t.Errorf("Expected ErrUnwrapFailed, got %v", err)
			}
		})
	}
}

// 每次包裝使用隨機 salt 和 IV，相同輸入必須得到不同的包裝結果
func TestWrapKeyNonDeterministic(t *testing.T) {
	key, _ := generateKey()

	first, err := WrapKey(key, "passphrase")
	if err != nil {
		t.Fatal(err)
	}
	second, err := WrapKey(key, "passphrase")
	if err != nil {
		t.Fatal(err)
	}

	if first == second {
		t.Error("Two wraps of the same key should produce different blobs")
	}
}

func TestWrapUnwrapKeyForPeer(t *testing.T) {
	peer, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	key, _ := generateKey()

	wrapped, err := WrapKeyForPeer(key, peer.PublicKey)
	if err != nil {
		t.Fatalf("WrapKeyForPeer failed: %v", err)
	}

	unwrapped, err := UnwrapKeyFromPeer(wrapped, peer.PrivateKey)
	if err != nil {
		t.Fatalf("UnwrapKeyFromPeer failed: %v", err)
	}

	if !bytes.Equal(key, unwrapped) {
		t.Error("Unwrapped key does not match original")
	}
}

func TestUnwrapKeyFromPeerWrongPrivateKey(t *testing.T) {
	peer, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	other, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	key, _ := generateKey()
	wrapped, err := WrapKeyForPeer(key, peer.PublicKey)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := UnwrapKeyFromPeer(wrapped, other.PrivateKey); !errors.Is(err, ErrUnwrapFailed) {
		t.Errorf("Expected ErrUnwrapFailed, got %v", err)
	}
}
