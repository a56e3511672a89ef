package call

import (
	"fmt"
	"time"
)

// CallType 通話類型
type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

// Valid 檢查通話類型是否合法
func (t CallType) Valid() bool {
	return t == CallTypeAudio || t == CallTypeVideo
}

// Status 通話狀態
type Status string

const (
	// StatusRinging 響鈴中，等待接聽
	StatusRinging Status = "ringing"

	// StatusAccepted 已接聽，通話進行中
	StatusAccepted Status = "accepted"
)

// Call 一通進行中的通話
type Call struct {
	CallID     string    `json:"call_id"`
	CallerID   string    `json:"caller_id"`
	ReceiverID string    `json:"receiver_id"`
	CallType   CallType  `json:"call_type"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewCallID 生成通話 ID
// 格式: callerID-receiverID-毫秒時間戳
func NewCallID(callerID, receiverID string, now time.Time) string {
	return fmt.Sprintf("%s-%s-%d", callerID, receiverID, now.UnixMilli())
}

// Clone 複製通話資料，避免外部修改內部狀態
func (c *Call) Clone() *Call {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}
