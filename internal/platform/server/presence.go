package server

import (
	"messenger-gateway/internal/httputil"
	"messenger-gateway/internal/platform/middleware"
	"messenger-gateway/internal/presence"

	"github.com/gin-gonic/gin"
)

// presenceHandler 在線狀態 API 處理器
type presenceHandler struct {
	tracker *presence.Tracker
}

func newPresenceHandler(tracker *presence.Tracker) *presenceHandler {
	return &presenceHandler{tracker: tracker}
}

// 心跳上報
// 客戶端按 heartbeat_seconds 週期呼叫，超過 TTL 未上報即視為離線
func (h *presenceHandler) heartbeat(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if err := middleware.ValidateUserID(userID); err != nil {
		httputil.Unauthorized(c, "缺少用戶身份")
		return
	}

	h.tracker.Heartbeat(userID)
	c.JSON(200, httputil.Success("Heartbeat recorded"))
}

// 查詢在線狀態
// 帶 user_id 參數時查單一用戶，否則回傳所有在線用戶
func (h *presenceHandler) online(c *gin.Context) {
	requester := middleware.GetUserID(c)
	if err := middleware.ValidateUserID(requester); err != nil {
		httputil.Unauthorized(c, "缺少用戶身份")
		return
	}

	if target := c.Query("user_id"); target != "" {
		if err := middleware.ValidateUserID(target); err != nil {
			httputil.BadRequest(c, err.Error())
			return
		}
		c.JSON(200, gin.H{
			"message": httputil.DataRetrieved,
			"user_id": target,
			"online":  h.tracker.IsOnline(target),
		})
		return
	}

	users := h.tracker.OnlineUsers()
	c.JSON(200, gin.H{
		"message": httputil.DataRetrieved,
		"users":   users,
		"count":   len(users),
	})
}
