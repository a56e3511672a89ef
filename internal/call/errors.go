package call

import "errors"

// 哨兵錯誤，handler 層用 errors.Is 映射成 HTTP 狀態碼
var (
	// ErrInvalidCallType 通話類型不是 audio 或 video
	ErrInvalidCallType = errors.New("invalid call type")

	// ErrCallNotFound 通話不存在或已結束
	ErrCallNotFound = errors.New("call not found")

	// ErrNotCallReceiver 只有被叫方可以接聽
	ErrNotCallReceiver = errors.New("user is not the call receiver")
)
