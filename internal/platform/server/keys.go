package server

import (
	"encoding/base64"

	"messenger-gateway/internal/httputil"
	"messenger-gateway/internal/platform/middleware"
	"messenger-gateway/internal/security/audit"
	"messenger-gateway/internal/security/keymanager"
	"messenger-gateway/internal/storage/database"
	"messenger-gateway/internal/storage/database/conversation"

	"github.com/gin-gonic/gin"
)

// keyHandler 對話密鑰交換 API 處理器
// 服務端只保存包裝後的密鑰，明文密鑰永遠不經過這裡
type keyHandler struct {
	repos *database.Repositories
	audit *audit.AuditService
}

func newKeyHandler(repos *database.Repositories, auditService *audit.AuditService) *keyHandler {
	return &keyHandler{repos: repos, audit: auditService}
}

// requireParticipant 驗證請求者是對話參與者，回傳已驗證的 userID
func (h *keyHandler) requireParticipant(c *gin.Context) (conversationID, userID string, ok bool) {
	conversationID = c.Param("conversation_id")
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		httputil.BadRequest(c, err.Error())
		return "", "", false
	}

	userID = middleware.GetUserID(c)
	if err := middleware.ValidateUserID(userID); err != nil {
		httputil.Unauthorized(c, "缺少用戶身份")
		return "", "", false
	}

	isMember, err := h.repos.Conversation.IsParticipant(c.Request.Context(), conversationID, userID)
	if err != nil {
		httputil.InternalServerError(c, err)
		return "", "", false
	}
	if !isMember {
		h.audit.LogKeyAccessDenied(c.Request.Context(), userID, conversationID, "not a participant")
		httputil.Forbidden(c, "不是對話參與者")
		return "", "", false
	}

	return conversationID, userID, true
}

// selectWrappedKey 挑選可回應給請求者的包裝密鑰
// 優先回請求者自己的條目；沒有時回其他參與者的口令包裝條目，
// 持有相同口令的客戶端解開後就和對方共用同一把密鑰。
// publicKey 條目只對其持有者本人有用，不會回給別人。
func selectWrappedKey(keys []conversation.ParticipantKey, userID string) (*conversation.ParticipantKey, bool) {
	for i := range keys {
		if keys[i].UserID == userID {
			return &keys[i], true
		}
	}
	for i := range keys {
		if keys[i].EncryptionMethod == keymanager.MethodPassword {
			return &keys[i], true
		}
	}
	return nil, false
}

// 查詢密鑰狀態
// 回應格式與 keymanager 的交換端點約定一致
// 請求者還沒有條目時回其他參與者的口令包裝密鑰，讓雙方收斂
func (h *keyHandler) getKeyStatus(c *gin.Context) {
	conversationID, userID, ok := h.requireParticipant(c)
	if !ok {
		return
	}

	record, err := h.repos.Key.GetOrCreate(c.Request.Context(), conversationID)
	if err != nil {
		httputil.InternalServerError(c, err)
		return
	}

	pk, found := selectWrappedKey(record.ParticipantKeys, userID)
	if !found {
		c.JSON(200, keymanager.KeyStatusResponse{
			HasKey:         false,
			ConversationID: conversationID,
		})
		return
	}

	c.JSON(200, keymanager.KeyStatusResponse{
		HasKey:           true,
		ConversationID:   conversationID,
		EncryptedKey:     pk.EncryptedKey,
		EncryptionMethod: pk.EncryptionMethod,
	})
}

// 上傳包裝後的密鑰
// 同一用戶重複上傳會覆蓋舊條目
func (h *keyHandler) uploadKey(c *gin.Context) {
	conversationID, userID, ok := h.requireParticipant(c)
	if !ok {
		return
	}

	var req keymanager.WrappedKey
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "無效的請求格式"})
		return
	}

	if req.EncryptionMethod != keymanager.MethodPassword && req.EncryptionMethod != keymanager.MethodPublicKey {
		c.JSON(400, httputil.ErrorWithCode(httputil.ErrorCodeInvalidParameter, "不支持的密鑰包裝方式"))
		return
	}

	if _, err := base64.StdEncoding.DecodeString(req.EncryptedKey); err != nil || req.EncryptedKey == "" {
		c.JSON(400, httputil.ErrorWithCode(httputil.ErrorCodeInvalidKeyFormat, "encryptedKey 必須是 base64 編碼"))
		return
	}

	err := h.repos.Key.SetParticipantKey(c.Request.Context(), conversationID, userID, req.EncryptedKey, req.EncryptionMethod)
	if err != nil {
		httputil.InternalServerError(c, err)
		return
	}

	h.audit.LogKeyUpload(c.Request.Context(), userID, conversationID, req.EncryptionMethod)
	c.JSON(201, httputil.Success(httputil.KeyStoredSuccess))
}

// 輪換對話密鑰
// 清空所有參與者的包裝密鑰，各客戶端下次取密鑰時重新協商
func (h *keyHandler) rotateKeys(c *gin.Context) {
	conversationID, userID, ok := h.requireParticipant(c)
	if !ok {
		return
	}

	if err := h.repos.Key.RotateKeys(c.Request.Context(), conversationID); err != nil {
		httputil.InternalServerError(c, err)
		return
	}

	h.audit.LogKeyRotation(c.Request.Context(), userID, conversationID)
	c.JSON(200, httputil.Success(httputil.KeyRotatedSuccess))
}
