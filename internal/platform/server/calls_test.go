package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"messenger-gateway/internal/call"
	"messenger-gateway/internal/security/audit"

	"github.com/gin-gonic/gin"
)

func newTestCallRouter() (*gin.Engine, *call.Coordinator) {
	gin.SetMode(gin.TestMode)

	coordinator := call.NewCoordinator(nil, call.WithRingTimeout(0))
	h := newCallHandler(coordinator, audit.NewAuditService(false))

	r := gin.New()
	// 測試直接用 query 參數帶身份，GetUserID 會回退到它
	r.POST("/calls/initiate", h.initiate)
	r.POST("/calls/accept", h.accept)
	r.POST("/calls/reject", h.reject)
	r.POST("/calls/end", h.end)
	r.GET("/calls/incoming", h.incoming)
	r.GET("/calls/status/:call_id", h.status)
	r.POST("/calls/ice-candidate", h.pushCandidate)
	r.GET("/calls/ice-candidates/:call_id", h.drainCandidates)

	return r, coordinator
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestInitiateEndpoint(t *testing.T) {
	r, _ := newTestCallRouter()

	w := doJSON(t, r, http.MethodPost, "/calls/initiate?user_id=alice", map[string]string{
		"receiver_id": "bob",
		"call_type":   "video",
	})
	if w.Code != 200 {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Data struct {
			CallID string `json:"call_id"`
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Data.CallID == "" || resp.Data.Status != "ringing" {
		t.Errorf("Unexpected response: %s", w.Body.String())
	}
}

func TestInitiateEndpointValidation(t *testing.T) {
	r, _ := newTestCallRouter()

	testCases := []struct {
		name       string
		query      string
		body       map[string]string
		wantStatus int
	}{
		{"Invalid call type", "?user_id=alice", map[string]string{"receiver_id": "bob", "call_type": "screen"}, 400},
		{"Missing identity", "", map[string]string{"receiver_id": "bob", "call_type": "audio"}, 401},
		{"Self call", "?user_id=alice", map[string]string{"receiver_id": "alice", "call_type": "audio"}, 400},
		{"Missing receiver", "?user_id=alice", map[string]string{"call_type": "audio"}, 400},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := doJSON(t, r, http.MethodPost, "/calls/initiate"+tc.query, tc.body)
			if w.Code != tc.wantStatus {
				t.Errorf("Expected %d, got %d: %s", tc.wantStatus, w.Code, w.Body.String())
			}
		})
	}
}

func TestAcceptEndpoint(t *testing.T) {
	r, coordinator := newTestCallRouter()

	created, err := coordinator.Initiate(nil, "alice", "bob", call.CallTypeAudio)
	if err != nil {
		t.Fatal(err)
	}

	// 非被叫方接聽 → 403
	w := doJSON(t, r, http.MethodPost, "/calls/accept?user_id=alice", map[string]string{"call_id": created.CallID})
	if w.Code != 403 {
		t.Errorf("Caller accept: expected 403, got %d", w.Code)
	}

	// 被叫方接聽 → 200
	w = doJSON(t, r, http.MethodPost, "/calls/accept?user_id=bob", map[string]string{"call_id": created.CallID})
	if w.Code != 200 {
		t.Errorf("Receiver accept: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// 再接一次 → 404
	w = doJSON(t, r, http.MethodPost, "/calls/accept?user_id=bob", map[string]string{"call_id": created.CallID})
	if w.Code != 404 {
		t.Errorf("Second accept: expected 404, got %d", w.Code)
	}
}

func TestRejectAndEndEndpointsIdempotent(t *testing.T) {
	r, _ := newTestCallRouter()

	// 不存在的通話也回 200
	w := doJSON(t, r, http.MethodPost, "/calls/reject?user_id=bob", map[string]string{"call_id": "no-such-call"})
	if w.Code != 200 {
		t.Errorf("Reject unknown call: expected 200, got %d", w.Code)
	}
	w = doJSON(t, r, http.MethodPost, "/calls/end?user_id=bob", map[string]string{"call_id": "no-such-call"})
	if w.Code != 200 {
		t.Errorf("End unknown call: expected 200, got %d", w.Code)
	}
}

func TestStatusEndpointHidesCallsFromOutsiders(t *testing.T) {
	r, coordinator := newTestCallRouter()

	created, err := coordinator.Initiate(nil, "alice", "bob", call.CallTypeAudio)
	if err != nil {
		t.Fatal(err)
	}

	// 參與者查得到
	w := doJSON(t, r, http.MethodGet, "/calls/status/"+created.CallID+"?user_id=alice", nil)
	if w.Code != 200 {
		t.Errorf("Participant status: expected 200, got %d", w.Code)
	}

	// 外人查不到（404 而不是 403，不洩漏存在性）
	w = doJSON(t, r, http.MethodGet, "/calls/status/"+created.CallID+"?user_id=mallory", nil)
	if w.Code != 404 {
		t.Errorf("Outsider status: expected 404, got %d", w.Code)
	}
}

func TestICECandidateEndpoints(t *testing.T) {
	r, coordinator := newTestCallRouter()

	created, err := coordinator.Initiate(nil, "alice", "bob", call.CallTypeAudio)
	if err != nil {
		t.Fatal(err)
	}

	w := doJSON(t, r, http.MethodPost, "/calls/ice-candidate?user_id=alice", map[string]interface{}{
		"call_id": created.CallID,
		"candidate": map[string]interface{}{
			"candidate": "candidate:0 1 UDP 2122252543 192.0.2.1 54321 typ host",
		},
	})
	if w.Code != 200 {
		t.Fatalf("Push candidate: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodGet, "/calls/ice-candidates/"+created.CallID+"?user_id=bob", nil)
	if w.Code != 200 {
		t.Fatalf("Drain candidates: expected 200, got %d", w.Code)
	}

	var resp struct {
		Candidates []struct {
			Candidate string `json:"candidate"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Candidates) != 1 {
		t.Errorf("Expected 1 candidate, got %d", len(resp.Candidates))
	}

	// 再取一次是空列表而不是 null
	w = doJSON(t, r, http.MethodGet, "/calls/ice-candidates/"+created.CallID+"?user_id=bob", nil)
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Candidates == nil || len(resp.Candidates) != 0 {
		t.Errorf("Second drain should be an empty list, got %v", resp.Candidates)
	}
}
