package keymanager

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestMemoryKeyStore(t *testing.T) {
	store := NewMemoryKeyStore()

	if _, exists := store.Get("missing"); exists {
		t.Error("Get on empty store should return false")
	}

	key, _ := generateKey()
	if err := store.Put("conv_1", key); err != nil {
		t.Fatal(err)
	}

	got, exists := store.Get("conv_1")
	if !exists || !bytes.Equal(got, key) {
		t.Error("Stored key does not round-trip")
	}

	// 返回的是副本，改動它不影響內部狀態
	got[0] ^= 0xff
	again, _ := store.Get("conv_1")
	if !bytes.Equal(again, key) {
		t.Error("Mutating a returned key must not affect the store")
	}

	if err := store.Remove("conv_1"); err != nil {
		t.Fatal(err)
	}
	if _, exists := store.Get("conv_1"); exists {
		t.Error("Key should be gone after Remove")
	}

	// 刪除不存在的密鑰不報錯
	if err := store.Remove("conv_1"); err != nil {
		t.Errorf("Removing a missing key should not fail: %v", err)
	}
}

func TestFileKeyStorePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.json")

	store, err := NewFileKeyStore(path)
	if err != nil {
		t.Fatal(err)
	}

	key, _ := generateKey()
	if err := store.Put("conv_persist", key); err != nil {
		t.Fatal(err)
	}

	// 重新打開，密鑰應該還在
	reopened, err := NewFileKeyStore(path)
	if err != nil {
		t.Fatal(err)
	}

	got, exists := reopened.Get("conv_persist")
	if !exists || !bytes.Equal(got, key) {
		t.Error("Key should survive a reopen")
	}
}

func TestFileKeyStorePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.json")

	store, err := NewFileKeyStore(path)
	if err != nil {
		t.Fatal(err)
	}

	key, _ := generateKey()
	if err := store.Put("conv_perm", key); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("Key store file should be 0600, got %o", info.Mode().Perm())
	}
}

func TestFileKeyStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.json")
	if err := os.WriteFile(path, []byte("not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := NewFileKeyStore(path); err == nil {
		t.Error("Opening a corrupt key store should fail")
	}
}
