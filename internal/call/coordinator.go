package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"messenger-gateway/internal/constants"
	"messenger-gateway/internal/platform/logger"
)

// Coordinator 通話信令協調器
// 管理通話的完整生命週期：發起、接聽、拒接、結束、響鈴超時。
// 單一互斥鎖串行化所有狀態轉換，超時和接聽的競爭只會有一方生效。
type Coordinator struct {
	mu          sync.Mutex
	registry    Registry
	relay       *candidateRelay
	ringTimeout time.Duration
	timers      map[string]*time.Timer
	seq         uint64

	// 測試時替換，控制通話 ID 裡的時間戳
	now func() time.Time
}

// CoordinatorOption Coordinator 配置選項
type CoordinatorOption func(*Coordinator)

// WithRingTimeout 設定響鈴超時時間
func WithRingTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.ringTimeout = d
	}
}

// WithClock 設定時間來源（測試用）
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		c.now = now
	}
}

// WithMaxPendingCandidates 設定每個方向的 ICE candidate 隊列上限
func WithMaxPendingCandidates(n int) CoordinatorOption {
	return func(c *Coordinator) {
		c.relay.maxPending = n
	}
}

// NewCoordinator 創建通話協調器
func NewCoordinator(registry Registry, opts ...CoordinatorOption) *Coordinator {
	if registry == nil {
		registry = NewMemoryRegistry()
	}

	c := &Coordinator{
		registry:    registry,
		relay:       newCandidateRelay(constants.MaxPendingICECandidates),
		ringTimeout: constants.DefaultCallRingTimeout,
		timers:      make(map[string]*time.Timer),
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Initiate 發起通話
// 向 receiverID 發起 RINGING 狀態的通話，超過響鈴時間未接聽自動清除
func (c *Coordinator) Initiate(ctx context.Context, callerID, receiverID string, callType CallType) (*Call, error) {
	if callerID == "" || receiverID == "" {
		return nil, fmt.Errorf("caller and receiver are required")
	}
	if !callType.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCallType, callType)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	callID := NewCallID(callerID, receiverID, now)
	// 同一毫秒重複發起時避免 ID 撞車
	if _, exists := c.registry.Get(callID); exists {
		c.seq++
		callID = fmt.Sprintf("%s-%d", callID, c.seq)
	}

	newCall := &Call{
		CallID:     callID,
		CallerID:   callerID,
		ReceiverID: receiverID,
		CallType:   callType,
		Status:     StatusRinging,
		CreatedAt:  now,
	}

	c.registry.Set(newCall)

	// 響鈴超時後若仍未接聽，自動清除通話
	if c.ringTimeout > 0 {
		callID := newCall.CallID
		c.timers[callID] = time.AfterFunc(c.ringTimeout, func() {
			c.expire(callID)
		})
	}

	logger.Info(ctx, "Call initiated",
		logger.WithCallID(newCall.CallID),
		logger.WithUserID(callerID),
		logger.WithDetails(map[string]interface{}{
			"receiver_id": receiverID,
			"call_type":   string(callType),
		}))

	return newCall.Clone(), nil
}

// expire 響鈴超時回調
func (c *Coordinator) expire(callID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, exists := c.registry.Get(callID)
	if !exists || existing.Status != StatusRinging {
		// 已被接聽或清除，超時不生效
		return
	}

	c.removeLocked(callID)

	logger.Info(context.Background(), "Call expired without answer",
		logger.WithCallID(callID))
}

// Accept 接聽通話
// 只有被叫方可以接聽，且通話必須仍在響鈴中
func (c *Coordinator) Accept(ctx context.Context, callID, userID string) (*Call, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, exists := c.registry.Get(callID)
	if !exists || existing.Status != StatusRinging {
		return nil, ErrCallNotFound
	}

	if existing.ReceiverID != userID {
		return nil, ErrNotCallReceiver
	}

	existing.Status = StatusAccepted
	c.registry.Set(existing)

	// 已接聽，響鈴超時作廢
	c.stopTimerLocked(callID)

	logger.Info(ctx, "Call accepted",
		logger.WithCallID(callID),
		logger.WithUserID(userID))

	return existing.Clone(), nil
}

// Reject 拒接通話
// 冪等，通話不存在時也返回成功
func (c *Coordinator) Reject(ctx context.Context, callID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.registry.Get(callID); exists {
		c.removeLocked(callID)
		logger.Info(ctx, "Call rejected", logger.WithCallID(callID))
	}
}

// End 結束通話
// 冪等，通話不存在時也返回成功
func (c *Coordinator) End(ctx context.Context, callID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.registry.Get(callID); exists {
		c.removeLocked(callID)
		logger.Info(ctx, "Call ended", logger.WithCallID(callID))
	}
}

// removeLocked 清除通話及其附屬資源（調用方須持有 c.mu）
func (c *Coordinator) removeLocked(callID string) {
	c.registry.Delete(callID)
	c.relay.drop(callID)
	c.stopTimerLocked(callID)
}

// stopTimerLocked 停止並移除響鈴計時器（調用方須持有 c.mu）
func (c *Coordinator) stopTimerLocked(callID string) {
	if timer, exists := c.timers[callID]; exists {
		timer.Stop()
		delete(c.timers, callID)
	}
}

// ListIncoming 列出用戶的響鈴中來電
func (c *Coordinator) ListIncoming(userID string) []*Call {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.registry.List(func(call *Call) bool {
		return call.ReceiverID == userID && call.Status == StatusRinging
	})
}

// Status 查詢通話狀態
func (c *Coordinator) Status(callID string) (*Call, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, exists := c.registry.Get(callID)
	if !exists {
		return nil, ErrCallNotFound
	}
	return existing.Clone(), nil
}
