package audit

import (
	"context"
	"encoding/json"
	"log"
	"time"
)

// AuditService 審計服務
// 記錄密鑰操作與通話信令等安全敏感事件
type AuditService struct {
	enabled bool
	logger  *log.Logger
}

// NewAuditService 創建審計服務
func NewAuditService(enabled bool) *AuditService {
	return &AuditService{
		enabled: enabled,
		logger:  log.Default(),
	}
}

// AuditEvent 審計事件
type AuditEvent struct {
	Timestamp      time.Time              `json:"timestamp"`
	EventType      string                 `json:"event_type"`
	UserID         string                 `json:"user_id"`
	ConversationID string                 `json:"conversation_id,omitempty"`
	CallID         string                 `json:"call_id,omitempty"`
	Action         string                 `json:"action"`
	Result         string                 `json:"result"` // success, failure, denied
	Details        map[string]interface{} `json:"details,omitempty"`
	IPAddress      string                 `json:"ip_address,omitempty"`
}

// LogKeyUpload 記錄包裝密鑰上傳
func (a *AuditService) LogKeyUpload(ctx context.Context, userID, conversationID, method string) {
	if !a.enabled {
		return
	}

	event := AuditEvent{
		Timestamp:      time.Now(),
		EventType:      "key_upload",
		UserID:         userID,
		ConversationID: conversationID,
		Action:         "upload_wrapped_key",
		Result:         "success",
		Details: map[string]interface{}{
			"encryption_method": method,
		},
	}

	a.log(event)
}

// LogKeyRotation 記錄密鑰輪換
func (a *AuditService) LogKeyRotation(ctx context.Context, userID, conversationID string) {
	if !a.enabled {
		return
	}

	event := AuditEvent{
		Timestamp:      time.Now(),
		EventType:      "key_rotation",
		UserID:         userID,
		ConversationID: conversationID,
		Action:         "rotate_keys",
		Result:         "success",
	}

	a.log(event)
}

// LogKeyAccessDenied 記錄密鑰訪問被拒絕
// 非參與者嘗試讀取或寫入對話密鑰時觸發
func (a *AuditService) LogKeyAccessDenied(ctx context.Context, userID, conversationID, reason string) {
	if !a.enabled {
		return
	}

	event := AuditEvent{
		Timestamp:      time.Now(),
		EventType:      "key_access_denied",
		UserID:         userID,
		ConversationID: conversationID,
		Action:         "access_key",
		Result:         "denied",
		Details: map[string]interface{}{
			"reason": reason,
		},
	}

	a.log(event)
}

// LogCallInitiated 記錄通話發起
func (a *AuditService) LogCallInitiated(ctx context.Context, callerID, receiverID, callID, callType string) {
	if !a.enabled {
		return
	}

	event := AuditEvent{
		Timestamp: time.Now(),
		EventType: "call_initiated",
		UserID:    callerID,
		CallID:    callID,
		Action:    "initiate_call",
		Result:    "success",
		Details: map[string]interface{}{
			"receiver_id": receiverID,
			"call_type":   callType,
		},
	}

	a.log(event)
}

// LogCallAnswered 記錄通話接聽
func (a *AuditService) LogCallAnswered(ctx context.Context, userID, callID string) {
	if !a.enabled {
		return
	}

	event := AuditEvent{
		Timestamp: time.Now(),
		EventType: "call_answered",
		UserID:    userID,
		CallID:    callID,
		Action:    "accept_call",
		Result:    "success",
	}

	a.log(event)
}

// LogCallTerminated 記錄通話結束（拒接或掛斷）
func (a *AuditService) LogCallTerminated(ctx context.Context, userID, callID, how string) {
	if !a.enabled {
		return
	}

	event := AuditEvent{
		Timestamp: time.Now(),
		EventType: "call_terminated",
		UserID:    userID,
		CallID:    callID,
		Action:    how,
		Result:    "success",
	}

	a.log(event)
}

// LogAuthenticationFailure 記錄認證失敗
func (a *AuditService) LogAuthenticationFailure(ctx context.Context, userID, reason string) {
	if !a.enabled {
		return
	}

	event := AuditEvent{
		Timestamp: time.Now(),
		EventType: "authentication",
		UserID:    userID,
		Action:    "authenticate",
		Result:    "failure",
		Details: map[string]interface{}{
			"reason": reason,
		},
	}

	a.log(event)
}

// LogSuspiciousActivity 記錄可疑活動
func (a *AuditService) LogSuspiciousActivity(ctx context.Context, userID, ipAddress, activityType, description string) {
	if !a.enabled {
		return
	}

	event := AuditEvent{
		Timestamp: time.Now(),
		EventType: "suspicious_activity",
		UserID:    userID,
		Action:    activityType,
		Result:    "flagged",
		IPAddress: ipAddress,
		Details: map[string]interface{}{
			"description": description,
		},
	}

	a.log(event)
}

// log 記錄審計事件
func (a *AuditService) log(event AuditEvent) {
	// 轉換為 JSON
	jsonData, err := json.Marshal(event)
	if err != nil {
		a.logger.Printf("[AUDIT-ERROR] Failed to marshal event: %v", err)
		return
	}

	// 記錄到日誌
	a.logger.Printf("[AUDIT] %s", string(jsonData))

	// TODO: 同時寫入 MongoDB 審計集合，供合規查詢
}

// IsEnabled 檢查審計是否啟用
func (a *AuditService) IsEnabled() bool {
	return a.enabled
}
