package keymanager

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
)

// fakeKeyServer 測試用的密鑰交換服務端
// 按對話、按參與者各存一份包裝密鑰，和真實端點的語義一致：
// 查詢者沒有自己的條目時，回其他參與者的口令包裝條目
type fakeKeyServer struct {
	mu          sync.Mutex
	entries     map[string][]fakeKeyEntry
	fetchCalls  int
	uploadCalls int
	fetchErr    error
	uploadErr   error
}

type fakeKeyEntry struct {
	userID  string
	wrapped WrappedKey
}

func newFakeKeyServer() *fakeKeyServer {
	return &fakeKeyServer{entries: make(map[string][]fakeKeyEntry)}
}

// client 以特定用戶身份訪問服務端
func (s *fakeKeyServer) client(userID string) *fakeExchange {
	return &fakeExchange{server: s, userID: userID}
}

func (s *fakeKeyServer) entryCount(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries[conversationID])
}

type fakeExchange struct {
	server *fakeKeyServer
	userID string
}

func (f *fakeExchange) FetchKeyStatus(ctx context.Context, conversationID string) (*KeyStatusResponse, error) {
	s := f.server
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fetchCalls++
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}

	entries := s.entries[conversationID]
	for _, e := range entries {
		if e.userID == f.userID {
			return &KeyStatusResponse{
				HasKey:           true,
				ConversationID:   conversationID,
				EncryptedKey:     e.wrapped.EncryptedKey,
				EncryptionMethod: e.wrapped.EncryptionMethod,
			}, nil
		}
	}
	for _, e := range entries {
		if e.wrapped.EncryptionMethod == MethodPassword {
			return &KeyStatusResponse{
				HasKey:           true,
				ConversationID:   conversationID,
				EncryptedKey:     e.wrapped.EncryptedKey,
				EncryptionMethod: e.wrapped.EncryptionMethod,
			}, nil
		}
	}
	return &KeyStatusResponse{HasKey: false, ConversationID: conversationID}, nil
}

func (f *fakeExchange) UploadKey(ctx context.Context, conversationID string, wrapped *WrappedKey) error {
	s := f.server
	s.mu.Lock()
	defer s.mu.Unlock()

	s.uploadCalls++
	if s.uploadErr != nil {
		return s.uploadErr
	}

	entries := s.entries[conversationID]
	for i := range entries {
		if entries[i].userID == f.userID {
			entries[i].wrapped = *wrapped
			return nil
		}
	}
	s.entries[conversationID] = append(entries, fakeKeyEntry{userID: f.userID, wrapped: *wrapped})
	return nil
}

func TestEnsureConversationKeyGeneratesAndUploads(t *testing.T) {
	ctx := context.Background()
	server := newFakeKeyServer()

	km, err := NewKeyManager(server.client("alice"), NewMemoryKeyStore(), "passphrase")
	if err != nil {
		t.Fatal(err)
	}

	key, err := km.EnsureConversationKey(ctx, "conv_1")
	if err != nil {
		t.Fatalf("EnsureConversationKey failed: %v", err)
	}
	if len(key) != 32 {
		t.Fatalf("Expected 32-byte key, got %d", len(key))
	}

	// 包裝密鑰應已上傳
	if server.uploadCalls != 1 {
		t.Errorf("Expected 1 upload, got %d", server.uploadCalls)
	}

	info, err := km.GetKeyInfo("conv_1")
	if err != nil {
		t.Fatal(err)
	}
	if info.Source != KeySourceGenerated {
		t.Errorf("Expected source %s, got %s", KeySourceGenerated, info.Source)
	}
}

// 冪等性：重複調用返回同一把密鑰，且不再訪問交換端點
func TestEnsureConversationKeyIdempotent(t *testing.T) {
	ctx := context.Background()
	server := newFakeKeyServer()

	km, err := NewKeyManager(server.client("alice"), NewMemoryKeyStore(), "passphrase")
	if err != nil {
		t.Fatal(err)
	}

	first, err := km.EnsureConversationKey(ctx, "conv_idem")
	if err != nil {
		t.Fatal(err)
	}
	second, err := km.EnsureConversationKey(ctx, "conv_idem")
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(first, second) {
		t.Error("Repeated calls should return the same key")
	}
	if server.fetchCalls != 1 {
		t.Errorf("Expected 1 fetch, got %d", server.fetchCalls)
	}
}

// 雙方各自以自己的身份走完整流程，仍然收斂到同一把密鑰
// 服務端沒有請求者自己的條目時回對方的口令包裝條目，這是收斂的關鍵
func TestEnsureConversationKeyConvergence(t *testing.T) {
	ctx := context.Background()
	server := newFakeKeyServer()

	alice, err := NewKeyManager(server.client("alice"), NewMemoryKeyStore(), "shared secret")
	if err != nil {
		t.Fatal(err)
	}
	bob, err := NewKeyManager(server.client("bob"), NewMemoryKeyStore(), "shared secret")
	if err != nil {
		t.Fatal(err)
	}

	aliceKey, err := alice.EnsureConversationKey(ctx, "conv_shared")
	if err != nil {
		t.Fatal(err)
	}
	bobKey, err := bob.EnsureConversationKey(ctx, "conv_shared")
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(aliceKey, bobKey) {
		t.Error("Both parties should converge to the same key")
	}

	info, err := bob.GetKeyInfo("conv_shared")
	if err != nil {
		t.Fatal(err)
	}
	if info.Source != KeySourceExchange {
		t.Errorf("Bob's key should come from the exchange, got %s", info.Source)
	}
}

// 口令不同時解不開對方的包裝密鑰，退回生成新密鑰並上傳自己的條目
func TestEnsureConversationKeyWrongPassphrase(t *testing.T) {
	ctx := context.Background()
	server := newFakeKeyServer()

	alice, _ := NewKeyManager(server.client("alice"), NewMemoryKeyStore(), "alice secret")
	bob, _ := NewKeyManager(server.client("bob"), NewMemoryKeyStore(), "bob secret")

	aliceKey, err := alice.EnsureConversationKey(ctx, "conv_mismatch")
	if err != nil {
		t.Fatal(err)
	}
	bobKey, err := bob.EnsureConversationKey(ctx, "conv_mismatch")
	if err != nil {
		t.Fatal(err)
	}

	if bytes.Equal(aliceKey, bobKey) {
		t.Error("Different passphrases must not converge to the same key")
	}
	if server.uploadCalls != 2 {
		t.Errorf("Expected 2 uploads, got %d", server.uploadCalls)
	}
	// bob 上傳自己的條目，不能覆蓋 alice 的
	if got := server.entryCount("conv_mismatch"); got != 2 {
		t.Errorf("Expected 2 participant entries, got %d", got)
	}
}

// 沒有口令但有密鑰對時用公鑰包裝，重新登入後用私鑰解回同一把密鑰
func TestEnsureConversationKeyPublicKeyMethod(t *testing.T) {
	ctx := context.Background()
	server := newFakeKeyServer()

	pair, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	first, err := NewKeyManager(server.client("alice"), NewMemoryKeyStore(), "", WithKeyPair(pair))
	if err != nil {
		t.Fatal(err)
	}
	firstKey, err := first.EnsureConversationKey(ctx, "conv_pub")
	if err != nil {
		t.Fatal(err)
	}

	server.mu.Lock()
	method := server.entries["conv_pub"][0].wrapped.EncryptionMethod
	server.mu.Unlock()
	if method != MethodPublicKey {
		t.Fatalf("Expected %s upload, got %s", MethodPublicKey, method)
	}

	// 模擬重新登入：本地密鑰丟了，密鑰對還在
	second, err := NewKeyManager(server.client("alice"), NewMemoryKeyStore(), "", WithKeyPair(pair))
	if err != nil {
		t.Fatal(err)
	}
	secondKey, err := second.EnsureConversationKey(ctx, "conv_pub")
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(firstKey, secondKey) {
		t.Error("Private key should recover the same conversation key")
	}
	if server.uploadCalls != 1 {
		t.Errorf("Expected 1 upload, got %d", server.uploadCalls)
	}

	info, err := second.GetKeyInfo("conv_pub")
	if err != nil {
		t.Fatal(err)
	}
	if info.Source != KeySourceExchange {
		t.Errorf("Recovered key should come from the exchange, got %s", info.Source)
	}
}

// 交換端點不可用時退回本地密鑰，加密不中斷
func TestEnsureConversationKeyExchangeUnavailable(t *testing.T) {
	ctx := context.Background()
	server := newFakeKeyServer()
	server.fetchErr = errors.New("connection refused")

	km, _ := NewKeyManager(server.client("alice"), NewMemoryKeyStore(), "passphrase")

	key, err := km.EnsureConversationKey(ctx, "conv_offline")
	if err != nil {
		t.Fatalf("Should fall back to local key, got error: %v", err)
	}
	if len(key) != 32 {
		t.Fatalf("Expected 32-byte key, got %d", len(key))
	}

	info, err := km.GetKeyInfo("conv_offline")
	if err != nil {
		t.Fatal(err)
	}
	if info.Source != KeySourceLocal {
		t.Errorf("Expected local source, got %s", info.Source)
	}
}

// 並發取同一對話的密鑰只會跑一次取得流程
func TestEnsureConversationKeyCoalescing(t *testing.T) {
	ctx := context.Background()
	server := newFakeKeyServer()

	km, _ := NewKeyManager(server.client("alice"), NewMemoryKeyStore(), "passphrase")

	const workers = 20
	keys := make([][]byte, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			keys[idx], errs[idx] = km.EnsureConversationKey(ctx, "conv_race")
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("Worker %d failed: %v", i, errs[i])
		}
		if !bytes.Equal(keys[0], keys[i]) {
			t.Fatalf("Worker %d got a different key", i)
		}
	}

	// 最多上傳一次（並發的取得流程應被合併）
	if server.uploadCalls > 1 {
		t.Errorf("Expected at most 1 upload, got %d", server.uploadCalls)
	}
}

func TestRotateConversationKey(t *testing.T) {
	ctx := context.Background()
	server := newFakeKeyServer()

	km, _ := NewKeyManager(server.client("alice"), NewMemoryKeyStore(), "passphrase")

	oldKey, err := km.EnsureConversationKey(ctx, "conv_rotate")
	if err != nil {
		t.Fatal(err)
	}

	newKey, err := km.RotateConversationKey(ctx, "conv_rotate")
	if err != nil {
		t.Fatalf("RotateConversationKey failed: %v", err)
	}

	if bytes.Equal(oldKey, newKey) {
		t.Error("Rotated key must differ from the old key")
	}

	// 之後取得的必須是新密鑰
	current, err := km.EnsureConversationKey(ctx, "conv_rotate")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(current, newKey) {
		t.Error("EnsureConversationKey should return the rotated key")
	}
}

// 輪換時上傳失敗必須報錯，否則雙方密鑰會分叉
func TestRotateConversationKeyUploadFailure(t *testing.T) {
	ctx := context.Background()
	server := newFakeKeyServer()

	km, _ := NewKeyManager(server.client("alice"), NewMemoryKeyStore(), "passphrase")
	if _, err := km.EnsureConversationKey(ctx, "conv_rotate_fail"); err != nil {
		t.Fatal(err)
	}

	server.uploadErr = errors.New("server unavailable")
	if _, err := km.RotateConversationKey(ctx, "conv_rotate_fail"); err == nil {
		t.Error("Rotation with failed upload should return an error")
	}
}

func TestRemoveConversationKey(t *testing.T) {
	ctx := context.Background()
	km, _ := NewKeyManager(nil, NewMemoryKeyStore(), "")

	if _, err := km.EnsureConversationKey(ctx, "conv_remove"); err != nil {
		t.Fatal(err)
	}
	if err := km.RemoveConversationKey("conv_remove"); err != nil {
		t.Fatal(err)
	}

	if _, err := km.GetKeyInfo("conv_remove"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Expected ErrKeyNotFound after removal, got %v", err)
	}
}

func TestNewKeyManagerRequiresStore(t *testing.T) {
	if _, err := NewKeyManager(nil, nil, ""); err == nil {
		t.Error("NewKeyManager with nil store should fail")
	}
}
