package server

import (
	"strconv"

	"messenger-gateway/internal/httputil"
	"messenger-gateway/internal/platform/config"
	"messenger-gateway/internal/platform/middleware"
	"messenger-gateway/internal/security/encryption"
	"messenger-gateway/internal/storage/database"
	"messenger-gateway/internal/storage/database/conversation"

	"github.com/gin-gonic/gin"
)

// conversationHandler 對話與訊息 API 處理器
type conversationHandler struct {
	repos *database.Repositories
}

func newConversationHandler(repos *database.Repositories) *conversationHandler {
	return &conversationHandler{repos: repos}
}

// 創建對話
func (h *conversationHandler) createConversation(c *gin.Context) {
	var req struct {
		Type         string   `json:"type"`
		Participants []string `json:"participants"`
		IsEncrypted  bool     `json:"is_encrypted"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "無效的請求格式"})
		return
	}

	userID := middleware.GetUserID(c)
	if err := middleware.ValidateUserID(userID); err != nil {
		httputil.Unauthorized(c, "缺少用戶身份")
		return
	}

	if req.Type != "direct" && req.Type != "group" {
		httputil.BadRequest(c, "type 必須是 direct 或 group")
		return
	}

	// 創建者一定是參與者
	participants := req.Participants
	found := false
	for _, p := range participants {
		if err := middleware.ValidateUserID(p); err != nil {
			c.JSON(400, gin.H{"error": "參與者 ID 格式錯誤"})
			return
		}
		if p == userID {
			found = true
		}
	}
	if !found {
		participants = append(participants, userID)
	}

	cfg := config.Get()
	maxParticipants := 100 // 默認
	if cfg != nil && cfg.Limits.Conversation.MaxParticipants > 0 {
		maxParticipants = cfg.Limits.Conversation.MaxParticipants
	}
	if len(participants) < 2 {
		httputil.BadRequest(c, "對話至少需要兩個參與者")
		return
	}
	if len(participants) > maxParticipants {
		c.JSON(400, gin.H{"error": "參與者數量超過限制"})
		return
	}
	if req.Type == "direct" && len(participants) != 2 {
		httputil.BadRequest(c, "一對一對話只能有兩個參與者")
		return
	}

	conv := conversation.NewConversation()
	conv.Type = req.Type
	conv.Participants = participants
	conv.IsEncrypted = req.IsEncrypted

	if err := h.repos.Conversation.Create(c.Request.Context(), &conv); err != nil {
		httputil.InternalServerError(c, err)
		return
	}

	c.JSON(201, gin.H{
		"message": httputil.DataCreated,
		"data": gin.H{
			"id":           conv.ID,
			"type":         conv.Type,
			"participants": conv.Participants,
			"is_encrypted": conv.IsEncrypted,
			"created_at":   conv.CreatedAt,
		},
	})
}

// 列出用戶的對話
func (h *conversationHandler) listConversations(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if err := middleware.ValidateUserID(userID); err != nil {
		httputil.Unauthorized(c, "缺少用戶身份")
		return
	}

	limit := h.parseLimit(c.Query("limit"))
	cursor := c.Query("cursor")

	convs, nextCursor, hasMore, err := h.repos.Conversation.ListUserConversations(c.Request.Context(), userID, limit, cursor)
	if err != nil {
		httputil.InternalServerError(c, err)
		return
	}

	c.JSON(200, gin.H{
		"message":     httputil.DataRetrieved,
		"data":        convs,
		"next_cursor": nextCursor,
		"has_more":    hasMore,
	})
}

// 發送訊息
// 加密對話只收密文，服務端不碰明文
func (h *conversationHandler) sendMessage(c *gin.Context) {
	var req struct {
		ConversationID   string `json:"conversation_id"`
		Content          string `json:"content,omitempty"`
		EncryptedContent string `json:"encrypted_content,omitempty"`
		Type             string `json:"type"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "無效的請求格式"})
		return
	}

	userID := middleware.GetUserID(c)
	if err := middleware.ValidateUserID(userID); err != nil {
		httputil.Unauthorized(c, "缺少用戶身份")
		return
	}

	if err := middleware.ValidateConversationID(req.ConversationID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}

	isMember, err := h.repos.Conversation.IsParticipant(c.Request.Context(), req.ConversationID, userID)
	if err != nil {
		httputil.InternalServerError(c, err)
		return
	}
	if !isMember {
		httputil.Forbidden(c, "不是對話參與者")
		return
	}

	msg := conversation.NewMessage()
	msg.ConversationID = req.ConversationID
	msg.SenderID = userID
	msg.Type = req.Type

	preview := ""
	switch {
	case req.EncryptedContent != "":
		if !encryption.IsEncrypted(req.EncryptedContent) {
			c.JSON(400, httputil.ErrorWithCode(httputil.ErrorCodeInvalidParameter, "encrypted_content 格式錯誤"))
			return
		}
		msg.EncryptedContent = req.EncryptedContent
		msg.IsEncrypted = true
		preview = encryption.DecryptionFallback
	case req.Content != "":
		if err := middleware.ValidateMessageContent(req.Content); err != nil {
			httputil.BadRequest(c, err.Error())
			return
		}
		msg.Content = middleware.SanitizeInput(req.Content)
		preview = msg.Content
	default:
		httputil.BadRequest(c, "content 與 encrypted_content 至少要有一個")
		return
	}

	if err := h.repos.Message.Create(c.Request.Context(), &msg); err != nil {
		httputil.InternalServerError(c, err)
		return
	}

	if err := h.repos.Conversation.TouchLastMessage(c.Request.Context(), req.ConversationID, preview); err != nil {
		httputil.InternalServerError(c, err)
		return
	}

	c.JSON(200, gin.H{
		"message": httputil.DataCreated,
		"data":    msg,
	})
}

// 獲取訊息（游標分頁，由新到舊）
func (h *conversationHandler) getMessages(c *gin.Context) {
	conversationID := c.Query("conversation_id")
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}

	userID := middleware.GetUserID(c)
	if err := middleware.ValidateUserID(userID); err != nil {
		httputil.Unauthorized(c, "缺少用戶身份")
		return
	}

	isMember, err := h.repos.Conversation.IsParticipant(c.Request.Context(), conversationID, userID)
	if err != nil {
		httputil.InternalServerError(c, err)
		return
	}
	if !isMember {
		httputil.Forbidden(c, "不是對話參與者")
		return
	}

	limit := h.parseLimit(c.Query("limit"))
	cursor := c.Query("cursor")

	messages, nextCursor, hasMore, err := h.repos.Message.GetByConversationID(c.Request.Context(), conversationID, limit, cursor)
	if err != nil {
		httputil.InternalServerError(c, err)
		return
	}

	c.JSON(200, gin.H{
		"message":     httputil.DataRetrieved,
		"data":        messages,
		"next_cursor": nextCursor,
		"has_more":    hasMore,
	})
}

// parseLimit 解析分頁大小，超出上限時截斷
func (h *conversationHandler) parseLimit(limitStr string) int {
	cfg := config.Get()
	limit := 20
	maxLimit := 100
	if cfg != nil {
		if cfg.Limits.Pagination.DefaultPageSize > 0 {
			limit = cfg.Limits.Pagination.DefaultPageSize
		}
		if cfg.Limits.Pagination.MaxPageSize > 0 {
			maxLimit = cfg.Limits.Pagination.MaxPageSize
		}
	}

	if limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	return limit
}
