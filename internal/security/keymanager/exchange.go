package keymanager

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// KeyExchange 密鑰交換端點接口
// 查詢對話是否已有密鑰，並上傳自己包裝後的密鑰
type KeyExchange interface {
	// FetchKeyStatus 查詢對話密鑰狀態，首次查詢會讓服務端懶建立記錄
	FetchKeyStatus(ctx context.Context, conversationID string) (*KeyStatusResponse, error)

	// UploadKey 上傳包裝後的密鑰
	UploadKey(ctx context.Context, conversationID string, wrapped *WrappedKey) error
}

// HTTPKeyExchange 走 HTTP 的密鑰交換客戶端
type HTTPKeyExchange struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// NewHTTPKeyExchange 創建密鑰交換客戶端
// baseURL 例如 "https://gateway.example.com/api/v1"
func NewHTTPKeyExchange(baseURL string, authToken string) *HTTPKeyExchange {
	return &HTTPKeyExchange{
		baseURL:   baseURL,
		authToken: authToken,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// FetchKeyStatus 查詢對話密鑰狀態
func (e *HTTPKeyExchange) FetchKeyStatus(ctx context.Context, conversationID string) (*KeyStatusResponse, error) {
	endpoint := fmt.Sprintf("%s/conversations/%s/keys", e.baseURL, url.PathEscape(conversationID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	e.setHeaders(req)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("key status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("key status request returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var status KeyStatusResponse
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("failed to parse key status: %w", err)
	}

	return &status, nil
}

// UploadKey 上傳包裝後的密鑰
func (e *HTTPKeyExchange) UploadKey(ctx context.Context, conversationID string, wrapped *WrappedKey) error {
	endpoint := fmt.Sprintf("%s/conversations/%s/keys", e.baseURL, url.PathEscape(conversationID))

	payload, err := json.Marshal(wrapped)
	if err != nil {
		return fmt.Errorf("failed to marshal wrapped key: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	e.setHeaders(req)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("key upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("key upload request returned %d", resp.StatusCode)
	}

	return nil
}

// setHeaders 設置認證 Header
func (e *HTTPKeyExchange) setHeaders(req *http.Request) {
	if e.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+e.authToken)
	}
}
