package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"messenger-gateway/internal/platform/middleware"
	"messenger-gateway/internal/security/encryption"
	"messenger-gateway/internal/security/keymanager"
)

// 端到端冒煙測試工具
// 對運行中的 gateway 走一遍完整的客戶端流程：
// 建對話、密鑰協商、加密發送、解密接收、通話信令
func main() {
	fmt.Println("Messenger Gateway Smoke Test")

	baseURL := os.Getenv("GATEWAY_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	apiURL := baseURL + "/api/v1"

	secret := os.Getenv("AUTH_SECRET")

	alice := newTestClient(apiURL, "smoke_alice", secret)
	bob := newTestClient(apiURL, "smoke_bob", secret)

	conversationID := testConversation(alice)
	testEncryptedMessaging(alice, bob, conversationID)
	testCallSignaling(alice, bob)

	fmt.Println("\nAll smoke tests passed")
}

// testClient 模擬一個客戶端身份
type testClient struct {
	apiURL string
	userID string
	token  string
	http   *http.Client
}

func newTestClient(apiURL, userID, secret string) *testClient {
	token := ""
	if secret != "" {
		auth := middleware.NewAuthMiddleware(secret, true)
		token = auth.SignToken(userID)
	}
	return &testClient{
		apiURL: apiURL,
		userID: userID,
		token:  token,
		http:   &http.Client{Timeout: 10 * time.Second},
	}
}

// call 發送 JSON 請求，非 2xx 時直接終止
func (c *testClient) call(method, path string, body interface{}, out interface{}) {
	var reqBody bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&reqBody).Encode(body); err != nil {
			log.Fatalf("encode request: %v", err)
		}
	}

	req, err := http.NewRequest(method, c.apiURL+path, &reqBody)
	if err != nil {
		log.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	} else {
		req.Header.Set("X-User-ID", c.userID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Fatalf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			log.Fatalf("decode response: %v", err)
		}
	}
}

// keyManager 創建該身份的客戶端密鑰管理器
func (c *testClient) keyManager(passphrase string) *keymanager.KeyManager {
	exchange := keymanager.NewHTTPKeyExchange(c.apiURL, c.token)
	km, err := keymanager.NewKeyManager(exchange, keymanager.NewMemoryKeyStore(), passphrase)
	if err != nil {
		log.Fatalf("key manager: %v", err)
	}
	return km
}

func testConversation(alice *testClient) string {
	fmt.Println("\n=== Testing Conversation ===")

	var resp struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	alice.call("POST", "/conversations", map[string]interface{}{
		"type":         "direct",
		"participants": []string{"smoke_alice", "smoke_bob"},
		"is_encrypted": true,
	}, &resp)

	if resp.Data.ID == "" {
		log.Fatal("conversation id missing in response")
	}
	fmt.Printf("[OK] Conversation created: %s\n", resp.Data.ID)
	return resp.Data.ID
}

func testEncryptedMessaging(alice, bob *testClient, conversationID string) {
	fmt.Println("\n=== Testing Encrypted Messaging ===")

	ctx := context.Background()

	// 雙方用同一個口令協商出同一把對話密鑰
	const passphrase = "smoke-test-passphrase"
	aliceKM := alice.keyManager(passphrase)
	bobKM := bob.keyManager(passphrase)

	aliceKey, err := aliceKM.EnsureConversationKey(ctx, conversationID)
	if err != nil {
		log.Fatalf("alice key: %v", err)
	}
	fmt.Println("[OK] Alice acquired conversation key")

	// 加密並發送
	enc, err := encryption.NewAESGCMEncryption(aliceKey)
	if err != nil {
		log.Fatalf("cipher: %v", err)
	}
	plaintext := "hello from the smoke test"
	ciphertext, err := enc.Encrypt(plaintext)
	if err != nil {
		log.Fatalf("encrypt: %v", err)
	}

	alice.call("POST", "/messages", map[string]interface{}{
		"conversation_id":   conversationID,
		"encrypted_content": ciphertext,
		"type":              "text",
	}, nil)
	fmt.Println("[OK] Encrypted message sent")

	// Bob 走密鑰交換拿到同一把密鑰並解密
	bobKey, err := bobKM.EnsureConversationKey(ctx, conversationID)
	if err != nil {
		log.Fatalf("bob key: %v", err)
	}

	var msgResp struct {
		Data []struct {
			EncryptedContent string `json:"encrypted_content"`
		} `json:"data"`
	}
	bob.call("GET", "/messages?conversation_id="+conversationID, nil, &msgResp)
	if len(msgResp.Data) == 0 {
		log.Fatal("no messages returned")
	}

	bobCipher, err := encryption.NewAESGCMEncryption(bobKey)
	if err != nil {
		log.Fatalf("cipher: %v", err)
	}
	decrypted, err := bobCipher.Decrypt(msgResp.Data[0].EncryptedContent)
	if err != nil {
		log.Fatalf("decrypt: %v", err)
	}
	if decrypted != plaintext {
		log.Fatalf("decrypted text mismatch: %q", decrypted)
	}
	fmt.Println("[OK] Bob decrypted the message")
}

func testCallSignaling(alice, bob *testClient) {
	fmt.Println("\n=== Testing Call Signaling ===")

	// Alice 發起通話
	var initResp struct {
		Data struct {
			CallID string `json:"call_id"`
			Status string `json:"status"`
		} `json:"data"`
	}
	alice.call("POST", "/calls/initiate", map[string]interface{}{
		"receiver_id": "smoke_bob",
		"call_type":   "audio",
	}, &initResp)
	callID := initResp.Data.CallID
	fmt.Printf("[OK] Call initiated: %s\n", callID)

	// Bob 輪詢來電
	var incomingResp struct {
		Calls []struct {
			CallID string `json:"call_id"`
		} `json:"calls"`
	}
	bob.call("GET", "/calls/incoming", nil, &incomingResp)
	if len(incomingResp.Calls) == 0 {
		log.Fatal("no incoming calls for bob")
	}
	fmt.Println("[OK] Bob sees the incoming call")

	// Bob 接聽
	bob.call("POST", "/calls/accept", map[string]interface{}{"call_id": callID}, nil)
	fmt.Println("[OK] Call accepted")

	// 交換 ICE candidates
	alice.call("POST", "/calls/ice-candidate", map[string]interface{}{
		"call_id": callID,
		"candidate": map[string]interface{}{
			"candidate": "candidate:0 1 UDP 2122252543 192.0.2.1 54321 typ host",
		},
	}, nil)

	var drainResp struct {
		Candidates []struct {
			Candidate string `json:"candidate"`
		} `json:"candidates"`
	}
	bob.call("GET", "/calls/ice-candidates/"+callID, nil, &drainResp)
	if len(drainResp.Candidates) != 1 {
		log.Fatalf("expected 1 candidate, got %d", len(drainResp.Candidates))
	}
	fmt.Println("[OK] ICE candidate relayed")

	// 結束通話
	alice.call("POST", "/calls/end", map[string]interface{}{"call_id": callID}, nil)
	bob.call("POST", "/calls/end", map[string]interface{}{"call_id": callID}, nil)
	fmt.Println("[OK] Call ended (idempotent)")
}
