package server

import (
	"errors"

	"messenger-gateway/internal/call"
	"messenger-gateway/internal/httputil"
	"messenger-gateway/internal/platform/middleware"
	"messenger-gateway/internal/security/audit"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
)

// callHandler 通話信令 API 處理器
type callHandler struct {
	coordinator *call.Coordinator
	audit       *audit.AuditService
}

func newCallHandler(coordinator *call.Coordinator, auditService *audit.AuditService) *callHandler {
	return &callHandler{coordinator: coordinator, audit: auditService}
}

// callPayload 通話回應資料
func callPayload(c *call.Call) gin.H {
	return gin.H{
		"call_id":     c.CallID,
		"caller_id":   c.CallerID,
		"receiver_id": c.ReceiverID,
		"call_type":   c.CallType,
		"status":      c.Status,
		"created_at":  c.CreatedAt,
	}
}

// 發起通話
func (h *callHandler) initiate(c *gin.Context) {
	var req struct {
		ReceiverID string `json:"receiver_id"`
		// 舊版客戶端用 other_user_id
		OtherUserID string `json:"other_user_id"`
		CallType    string `json:"call_type"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "無效的請求格式"})
		return
	}
	if req.ReceiverID == "" {
		req.ReceiverID = req.OtherUserID
	}

	callerID := middleware.GetUserID(c)
	if err := middleware.ValidateUserID(callerID); err != nil {
		httputil.Unauthorized(c, "缺少用戶身份")
		return
	}

	if err := middleware.ValidateUserID(req.ReceiverID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}

	if callerID == req.ReceiverID {
		httputil.BadRequest(c, "不能撥打給自己")
		return
	}

	newCall, err := h.coordinator.Initiate(c.Request.Context(), callerID, req.ReceiverID, call.CallType(req.CallType))
	if err != nil {
		if errors.Is(err, call.ErrInvalidCallType) {
			c.JSON(400, httputil.ErrorWithCode(httputil.ErrorCodeInvalidCallType, "call_type 必須是 audio 或 video"))
			return
		}
		httputil.InternalServerError(c, err)
		return
	}

	h.audit.LogCallInitiated(c.Request.Context(), callerID, req.ReceiverID, newCall.CallID, string(newCall.CallType))

	c.JSON(200, gin.H{
		"message": "Call initiated",
		"data":    callPayload(newCall),
	})
}

// 接聽通話
// 只有被叫方可以接聽，且通話必須還在響鈴中
func (h *callHandler) accept(c *gin.Context) {
	var req struct {
		CallID string `json:"call_id"`
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

	accepted, err := h.coordinator.Accept(c.Request.Context(), req.CallID, userID)
	if err != nil {
		switch {
		case errors.Is(err, call.ErrCallNotFound):
			c.JSON(404, httputil.ErrorWithCode(httputil.ErrorCodeCallNotFound, httputil.CallNotFound))
		case errors.Is(err, call.ErrNotCallReceiver):
			c.JSON(403, httputil.ErrorWithCode(httputil.ErrorCodeNotCallReceiver, "只有被叫方可以接聽"))
		default:
			httputil.InternalServerError(c, err)
		}
		return
	}

	h.audit.LogCallAnswered(c.Request.Context(), userID, accepted.CallID)

	c.JSON(200, gin.H{
		"message": "Call accepted",
		"data":    callPayload(accepted),
	})
}

// 拒接通話
// 冪等操作，通話不存在時同樣回應成功
func (h *callHandler) reject(c *gin.Context) {
	var req struct {
		CallID string `json:"call_id"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "無效的請求格式"})
		return
	}

	h.coordinator.Reject(c.Request.Context(), req.CallID)
	h.audit.LogCallTerminated(c.Request.Context(), middleware.GetUserID(c), req.CallID, "reject_call")
	c.JSON(200, httputil.Success(httputil.CallRejectSuccess))
}

// 結束通話
// 冪等操作，任一方結束後再次呼叫同樣回應成功
func (h *callHandler) end(c *gin.Context) {
	var req struct {
		CallID string `json:"call_id"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "無效的請求格式"})
		return
	}

	h.coordinator.End(c.Request.Context(), req.CallID)
	h.audit.LogCallTerminated(c.Request.Context(), middleware.GetUserID(c), req.CallID, "end_call")
	c.JSON(200, httputil.Success(httputil.CallEndedSuccess))
}

// 查詢來電（被叫方輪詢）
func (h *callHandler) incoming(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if err := middleware.ValidateUserID(userID); err != nil {
		httputil.Unauthorized(c, "缺少用戶身份")
		return
	}

	incoming := h.coordinator.ListIncoming(userID)
	calls := make([]gin.H, 0, len(incoming))
	for _, ic := range incoming {
		calls = append(calls, callPayload(ic))
	}

	c.JSON(200, gin.H{
		"message": httputil.DataRetrieved,
		"calls":   calls,
	})
}

// 查詢通話狀態（主叫方輪詢等待接聽）
func (h *callHandler) status(c *gin.Context) {
	callID := c.Param("call_id")

	userID := middleware.GetUserID(c)
	if err := middleware.ValidateUserID(userID); err != nil {
		httputil.Unauthorized(c, "缺少用戶身份")
		return
	}

	current, err := h.coordinator.Status(callID)
	if err != nil {
		c.JSON(404, httputil.ErrorWithCode(httputil.ErrorCodeCallNotFound, httputil.CallNotFound))
		return
	}

	// 非參與者一律回 404，不洩漏通話存在與否
	if userID != current.CallerID && userID != current.ReceiverID {
		c.JSON(404, httputil.ErrorWithCode(httputil.ErrorCodeCallNotFound, httputil.CallNotFound))
		return
	}

	c.JSON(200, gin.H{
		"message": httputil.DataRetrieved,
		"data":    callPayload(current),
	})
}

// 提交 ICE candidate
func (h *callHandler) pushCandidate(c *gin.Context) {
	var req struct {
		CallID    string                  `json:"call_id"`
		Candidate webrtc.ICECandidateInit `json:"candidate"`
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

	if req.Candidate.Candidate == "" {
		httputil.BadRequest(c, "缺少 candidate 內容")
		return
	}

	if err := h.coordinator.PushCandidate(c.Request.Context(), req.CallID, userID, req.Candidate); err != nil {
		c.JSON(404, httputil.ErrorWithCode(httputil.ErrorCodeCallNotFound, httputil.CallNotFound))
		return
	}

	c.JSON(200, httputil.Success(httputil.CandidateQueuedMsg))
}

// 取出對方提交的 ICE candidates（取出後即從隊列移除）
func (h *callHandler) drainCandidates(c *gin.Context) {
	callID := c.Param("call_id")

	userID := middleware.GetUserID(c)
	if err := middleware.ValidateUserID(userID); err != nil {
		httputil.Unauthorized(c, "缺少用戶身份")
		return
	}

	candidates, err := h.coordinator.DrainCandidates(c.Request.Context(), callID, userID)
	if err != nil {
		c.JSON(404, httputil.ErrorWithCode(httputil.ErrorCodeCallNotFound, httputil.CallNotFound))
		return
	}

	if candidates == nil {
		candidates = []webrtc.ICECandidateInit{}
	}

	c.JSON(200, gin.H{
		"message":    httputil.DataRetrieved,
		"candidates": candidates,
	})
}
