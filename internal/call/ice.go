package call

import (
	"context"
	"sync"

	"messenger-gateway/internal/platform/logger"

	"github.com/pion/webrtc/v4"
)

// candidateRelay ICE candidate 中繼
// 每通電話按發送方維護一個 FIFO 隊列，對方輪詢時一次取走並清空。
// 隊列有上限，滿了丟最舊的，ICE 協商對丟失的 candidate 本來就有容忍度。
type candidateRelay struct {
	mu         sync.Mutex
	queues     map[string]map[string][]webrtc.ICECandidateInit // callID -> senderID -> candidates
	maxPending int
}

// newCandidateRelay 創建 candidate 中繼
func newCandidateRelay(maxPending int) *candidateRelay {
	return &candidateRelay{
		queues:     make(map[string]map[string][]webrtc.ICECandidateInit),
		maxPending: maxPending,
	}
}

// push 按發送方入隊
func (r *candidateRelay) push(callID, senderID string, candidate webrtc.ICECandidateInit) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byCall, exists := r.queues[callID]
	if !exists {
		byCall = make(map[string][]webrtc.ICECandidateInit)
		r.queues[callID] = byCall
	}

	queue := append(byCall[senderID], candidate)
	if r.maxPending > 0 && len(queue) > r.maxPending {
		queue = queue[len(queue)-r.maxPending:]
	}
	byCall[senderID] = queue
}

// drain 取走並清空所有不是 forUser 發送的 candidate
func (r *candidateRelay) drain(callID, forUser string) []webrtc.ICECandidateInit {
	r.mu.Lock()
	defer r.mu.Unlock()

	byCall, exists := r.queues[callID]
	if !exists {
		return nil
	}

	var result []webrtc.ICECandidateInit
	for senderID, queue := range byCall {
		if senderID == forUser {
			continue
		}
		result = append(result, queue...)
		delete(byCall, senderID)
	}
	return result
}

// drop 清除整通電話的隊列
func (r *candidateRelay) drop(callID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.queues, callID)
}

// isParticipant 檢查用戶是否為通話參與方
func isParticipant(c *Call, userID string) bool {
	return c.CallerID == userID || c.ReceiverID == userID
}

// PushCandidate 為對方暫存一條 ICE candidate
// 通話不存在或用戶不是參與方時返回 ErrCallNotFound
func (c *Coordinator) PushCandidate(ctx context.Context, callID, senderID string, candidate webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, exists := c.registry.Get(callID)
	if !exists || !isParticipant(existing, senderID) {
		return ErrCallNotFound
	}

	c.relay.push(callID, senderID, candidate)

	logger.Debug(ctx, "ICE candidate queued",
		logger.WithCallID(callID),
		logger.WithUserID(senderID))

	return nil
}

// DrainCandidates 取走對方暫存的所有 ICE candidate
// 取走即清空，重複輪詢不會拿到重複的 candidate
func (c *Coordinator) DrainCandidates(ctx context.Context, callID, userID string) ([]webrtc.ICECandidateInit, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, exists := c.registry.Get(callID)
	if !exists || !isParticipant(existing, userID) {
		return nil, ErrCallNotFound
	}

	return c.relay.drain(callID, userID), nil
}
